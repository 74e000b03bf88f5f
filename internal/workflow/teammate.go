package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callagent/internal/llm"
	"github.com/lexiqai/callagent/internal/session"
)

// TeammateStep is one node of the teammate-side delay-reporting flow (§4.J).
type TeammateStep string

const (
	stepSelectAppointment TeammateStep = "select_appointment"
	stepParseTime         TeammateStep = "parse_time"
	stepConfirmTime       TeammateStep = "confirm_time"
	stepAskMore           TeammateStep = "ask_more"
	stepDone              TeammateStep = "done"
)

type teammateCheckpoint struct {
	step        TeammateStep
	appointments []session.Appointment
	selected    *session.Appointment
	parsedTime  time.Time
}

// Adjudicator resolves the three points in the teammate flow where natural
// language needs an LLM's judgment rather than a regex (§4.J). LLMAdjudicator
// is the only implementation; a fake is used in tests.
type Adjudicator interface {
	SelectAppointment(ctx context.Context, transcript string, appts []session.Appointment) (index int, unclear bool, err error)
	ParseNewTime(ctx context.Context, transcript string, now time.Time) (t time.Time, unclear bool, err error)
	ClassifyYesNo(ctx context.Context, transcript string) (yes bool, err error)
}

// TeammateTurnResult is what one Handle call produces for the turn driver.
type TeammateTurnResult struct {
	Reply     string
	Done      bool
	DelayData *session.DelayData
}

// TeammateFlow drives the nine-step teammate-side delay report: enumerate
// upcoming appointments, pick one, collect and confirm a new time, update
// the calendar, audit the change, then loop or end (§4.J).
type TeammateFlow struct {
	calendar    CalendarStore
	audit       AuditLog
	adjudicator Adjudicator
	logger      zerolog.Logger
	now         func() time.Time

	mu          sync.Mutex
	checkpoints map[string]*teammateCheckpoint
}

func NewTeammateFlow(calendar CalendarStore, audit AuditLog, adjudicator Adjudicator, logger zerolog.Logger) *TeammateFlow {
	return &TeammateFlow{
		calendar:    calendar,
		audit:       audit,
		adjudicator: adjudicator,
		logger:      logger,
		now:         time.Now,
		checkpoints: make(map[string]*teammateCheckpoint),
	}
}

// Start begins the flow for threadID, listing the teammate's upcoming
// appointments.
func (f *TeammateFlow) Start(ctx context.Context, threadID string) (string, error) {
	appts, err := f.calendar.ListUpcoming(ctx, 10)
	if err != nil {
		return "", fmt.Errorf("teammate flow: list upcoming: %w", err)
	}

	f.mu.Lock()
	f.checkpoints[threadID] = &teammateCheckpoint{step: stepSelectAppointment, appointments: appts}
	f.mu.Unlock()

	if len(appts) == 0 {
		return "I don't see any upcoming appointments on the calendar right now. Is there anything else I can help with?", nil
	}
	return formatAppointmentList(appts), nil
}

// Handle runs one turn of the flow for an in-progress thread.
func (f *TeammateFlow) Handle(ctx context.Context, threadID, transcript string, caller session.CallerInfo) (TeammateTurnResult, error) {
	f.mu.Lock()
	cp, ok := f.checkpoints[threadID]
	f.mu.Unlock()
	if !ok {
		return TeammateTurnResult{}, fmt.Errorf("teammate flow: no checkpoint for thread %s", threadID)
	}

	switch cp.step {
	case stepSelectAppointment:
		idx, unclear, err := f.adjudicator.SelectAppointment(ctx, transcript, cp.appointments)
		if err != nil {
			return TeammateTurnResult{}, err
		}
		if unclear {
			return TeammateTurnResult{Reply: "Sorry, which appointment did you mean? You can say the number or describe it."}, nil
		}
		cp.selected = &cp.appointments[idx]
		cp.step = stepParseTime
		return TeammateTurnResult{Reply: fmt.Sprintf("What time would you like to move %q to?", cp.selected.Summary)}, nil

	case stepParseTime:
		t, unclear, err := f.adjudicator.ParseNewTime(ctx, transcript, f.now())
		if err != nil {
			return TeammateTurnResult{}, err
		}
		if unclear {
			return TeammateTurnResult{Reply: "I didn't catch a time. Could you say it again, like '3:30 PM'?"}, nil
		}
		now := f.now()
		if t.Before(now.Add(-1*time.Hour)) || t.After(now.AddDate(1, 0, 0)) {
			return TeammateTurnResult{Reply: "That time doesn't work — it needs to be within the next year and not more than an hour in the past. What time instead?"}, nil
		}
		cp.parsedTime = t
		cp.step = stepConfirmTime
		return TeammateTurnResult{Reply: fmt.Sprintf("Just to confirm, move it to %s — is that right?", t.Format("3:04 PM on Jan 2"))}, nil

	case stepConfirmTime:
		yes, err := f.adjudicator.ClassifyYesNo(ctx, transcript)
		if err != nil {
			return TeammateTurnResult{}, err
		}
		if !yes {
			cp.step = stepParseTime
			return TeammateTurnResult{Reply: "No problem, what time would you like instead?"}, nil
		}
		return f.commitReschedule(ctx, cp, caller)

	case stepAskMore:
		yes, err := f.adjudicator.ClassifyYesNo(ctx, transcript)
		if err != nil {
			return TeammateTurnResult{}, err
		}
		if yes {
			appts, err := f.calendar.ListUpcoming(ctx, 10)
			if err != nil {
				return TeammateTurnResult{}, fmt.Errorf("teammate flow: list upcoming: %w", err)
			}
			cp.step = stepSelectAppointment
			cp.appointments = appts
			cp.selected = nil
			return TeammateTurnResult{Reply: formatAppointmentList(appts)}, nil
		}
		cp.step = stepDone
		return TeammateTurnResult{Reply: "Thanks, have a great day!", Done: true}, nil
	}

	return TeammateTurnResult{Reply: "Thanks, have a great day!", Done: true}, nil
}

// commitReschedule updates the calendar, audits the change, and computes
// the wait/alternative options the customer-side flow will offer.
func (f *TeammateFlow) commitReschedule(ctx context.Context, cp *teammateCheckpoint, caller session.CallerInfo) (TeammateTurnResult, error) {
	dur := cp.selected.End.Sub(cp.selected.Start)
	newEnd := cp.parsedTime.Add(dur)

	if err := f.calendar.UpdateTime(ctx, cp.selected.ID, cp.parsedTime, newEnd); err != nil {
		f.logger.Error().Err(err).Str("appointment_id", cp.selected.ID).Msg("teammate flow: calendar update failed")
		_ = f.audit.LogDelay(ctx, DelayAuditEntry{
			AppointmentID: cp.selected.ID,
			OldTime:       cp.selected.Start,
			NewTime:       cp.parsedTime,
			Caller:        caller.Phone,
			Reason:        "delay",
			Status:        "failed",
		})
		cp.step = stepAskMore
		return TeammateTurnResult{Reply: "Sorry, I wasn't able to update the calendar, but let's continue — do you have any other delays to report?"}, nil
	}

	if err := f.audit.LogDelay(ctx, DelayAuditEntry{
		AppointmentID: cp.selected.ID,
		OldTime:       cp.selected.Start,
		NewTime:       cp.parsedTime,
		Caller:        caller.Phone,
		Reason:        "delay",
		Status:        "updated",
	}); err != nil {
		f.logger.Warn().Err(err).Msg("teammate flow: audit log failed")
	}

	var delayData *session.DelayData
	if cp.selected.CustomerPhone == "" {
		f.logger.Error().Str("appointment_id", cp.selected.ID).Msg("teammate flow: appointment has no customer phone, skipping outbound notification")
	} else {
		altStart := cp.parsedTime.Add(dur + 30*time.Minute)
		delayData = &session.DelayData{
			CustomerName:          cp.selected.CustomerName,
			CustomerPhone:         cp.selected.CustomerPhone,
			TeammatePhone:         caller.Phone,
			AppointmentID:         cp.selected.ID,
			AppointmentSummary:    cp.selected.Summary,
			DelayMinutes:          int(cp.parsedTime.Sub(cp.selected.Start).Minutes()),
			WaitOptionText:        cp.parsedTime.Format("3:04 PM"),
			WaitOptionISO:         cp.parsedTime.Format(time.RFC3339),
			AlternativeOptionText: altStart.Format("3:04 PM"),
			AlternativeOptionISO:  altStart.Format(time.RFC3339),
			OriginalStart:         cp.selected.Start,
			OriginalEnd:           cp.selected.End,
		}
	}

	cp.step = stepAskMore
	return TeammateTurnResult{
		Reply:     "Got it, I've updated the calendar and we'll let the customer know. Do you have any other delays to report?",
		DelayData: delayData,
	}, nil
}

func formatAppointmentList(appts []session.Appointment) string {
	var b strings.Builder
	b.WriteString("Here are your upcoming appointments. Which one is running late? ")
	for i, ap := range appts {
		fmt.Fprintf(&b, "%d: %s at %s. ", i+1, ap.Summary, ap.Start.Format("Mon Jan 2 3:04 PM"))
	}
	return strings.TrimSpace(b.String())
}

// LLMAdjudicator implements Adjudicator with single-shot LLM completions
// constrained to a strict output contract (a number, an ISO timestamp, or
// yes/no), so the caller never has to parse free-form prose.
type LLMAdjudicator struct {
	client *llm.Client
}

func NewLLMAdjudicator(client *llm.Client) *LLMAdjudicator {
	return &LLMAdjudicator{client: client}
}

func (a *LLMAdjudicator) SelectAppointment(ctx context.Context, transcript string, appts []session.Appointment) (int, bool, error) {
	if len(appts) == 0 {
		return 0, true, nil
	}

	var list strings.Builder
	for i, ap := range appts {
		fmt.Fprintf(&list, "%d. %s at %s\n", i+1, ap.Summary, ap.Start.Format("Mon Jan 2 3:04 PM"))
	}
	prompt := fmt.Sprintf("Appointments:\n%s\nCaller said: %q\nReply with ONLY the number of the appointment referenced, or the word unclear if it cannot be determined.", list.String(), transcript)

	out, err := a.client.Complete(ctx, "You adjudicate which appointment a caller means. Reply with only a number or the word unclear.", prompt)
	if err != nil {
		return 0, true, err
	}
	out = strings.ToLower(strings.TrimSpace(out))
	if out == "unclear" {
		return 0, true, nil
	}
	n, convErr := strconv.Atoi(out)
	if convErr != nil || n < 1 || n > len(appts) {
		return 0, true, nil
	}
	return n - 1, false, nil
}

func (a *LLMAdjudicator) ParseNewTime(ctx context.Context, transcript string, now time.Time) (time.Time, bool, error) {
	prompt := fmt.Sprintf("Current time: %s\nCaller said: %q\nReply with ONLY an ISO-8601 timestamp for the new start time, or the word unclear.", now.Format(time.RFC3339), transcript)

	out, err := a.client.Complete(ctx, "You extract a new appointment start time from natural language. Reply with only an ISO-8601 timestamp or the word unclear.", prompt)
	if err != nil {
		return time.Time{}, true, err
	}
	out = strings.TrimSpace(out)
	if strings.EqualFold(out, "unclear") {
		return time.Time{}, true, nil
	}
	t, parseErr := time.Parse(time.RFC3339, out)
	if parseErr != nil {
		return time.Time{}, true, nil
	}
	return t, false, nil
}

func (a *LLMAdjudicator) ClassifyYesNo(ctx context.Context, transcript string) (bool, error) {
	out, err := a.client.Complete(ctx, "Classify the caller's reply as yes or no. Reply with only yes or no.", transcript)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out), "yes"), nil
}
