package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/lexiqai/callagent/internal/session"
)

// CalendarStore is the appointment read/update contract the teammate and
// customer flows need (§4.J). Kept as an interface so both flows can be unit
// tested against a fake instead of a live calendar.
type CalendarStore interface {
	ListUpcoming(ctx context.Context, limit int) ([]session.Appointment, error)
	Get(ctx context.Context, id string) (session.Appointment, error)
	UpdateTime(ctx context.Context, id string, start, end time.Time) error
}

// GoogleCalendar implements CalendarStore against Google Calendar.
type GoogleCalendar struct {
	svc        *calendar.Service
	calendarID string
}

// NewGoogleCalendar builds a calendar client from a service-account key
// file, or application-default credentials when credentialsFile is empty.
func NewGoogleCalendar(ctx context.Context, credentialsFile, calendarID string) (*GoogleCalendar, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: failed to build client: %w", err)
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID}, nil
}

func (g *GoogleCalendar) ListUpcoming(ctx context.Context, limit int) ([]session.Appointment, error) {
	events, err := g.svc.Events.List(g.calendarID).
		TimeMin(time.Now().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list upcoming: %w", err)
	}

	out := make([]session.Appointment, 0, len(events.Items))
	for _, ev := range events.Items {
		out = append(out, eventToAppointment(ev))
	}
	return out, nil
}

func (g *GoogleCalendar) Get(ctx context.Context, id string) (session.Appointment, error) {
	ev, err := g.svc.Events.Get(g.calendarID, id).Context(ctx).Do()
	if err != nil {
		return session.Appointment{}, fmt.Errorf("calendar: get %s: %w", id, err)
	}
	return eventToAppointment(ev), nil
}

func (g *GoogleCalendar) UpdateTime(ctx context.Context, id string, start, end time.Time) error {
	ev, err := g.svc.Events.Get(g.calendarID, id).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("calendar: get %s before update: %w", id, err)
	}
	ev.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)}
	ev.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)}
	if _, err := g.svc.Events.Update(g.calendarID, id, ev).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar: update %s: %w", id, err)
	}
	return nil
}

var phoneRe = regexp.MustCompile(`\+?[0-9][0-9\-\s]{7,}[0-9]`)

// eventToAppointment extracts the customer contact from the event body by
// convention: "<service> with <name>" in the summary, a phone number
// anywhere in the description.
func eventToAppointment(ev *calendar.Event) session.Appointment {
	appt := session.Appointment{ID: ev.Id, Summary: ev.Summary}
	if ev.Start != nil {
		appt.Start, _ = time.Parse(time.RFC3339, ev.Start.DateTime)
	}
	if ev.End != nil {
		appt.End, _ = time.Parse(time.RFC3339, ev.End.DateTime)
	}
	if m := phoneRe.FindString(ev.Description); m != "" {
		appt.CustomerPhone = strings.TrimSpace(m)
	}
	if idx := strings.Index(ev.Summary, " with "); idx >= 0 {
		appt.CustomerName = strings.TrimSpace(ev.Summary[idx+len(" with "):])
	}
	return appt
}
