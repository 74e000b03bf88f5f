package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callagent/internal/llm"
	"github.com/lexiqai/callagent/internal/session"
)

// fakeToolCaller replays a scripted sequence of responses, one per call to
// StreamChat, so a test can script a tool call followed by a closing turn.
type fakeToolCaller struct {
	turns [][]*llm.Response
	calls int
}

func (f *fakeToolCaller) StreamChat(ctx context.Context, conversationID, systemPrompt, userText string, tools []llm.Tool) (<-chan *llm.Response, error) {
	turn := f.turns[f.calls]
	f.calls++
	ch := make(chan *llm.Response, len(turn))
	for _, r := range turn {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func testDelayData() *session.DelayData {
	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	return &session.DelayData{
		CustomerName:          "Jane Doe",
		CustomerPhone:         "+15550001111",
		TeammatePhone:         "+15559990000",
		AppointmentID:         "appt-1",
		AppointmentSummary:    "Oil change",
		DelayMinutes:          45,
		WaitOptionText:        "11:00 AM",
		WaitOptionISO:         start.Add(1 * time.Hour).Format(time.RFC3339),
		AlternativeOptionText: "1:00 PM",
		AlternativeOptionISO:  start.Add(3 * time.Hour).Format(time.RFC3339),
		OriginalStart:         start,
		OriginalEnd:           start.Add(1 * time.Hour),
	}
}

func TestCustomerFlow_WaitOptionUpdatesCalendarAndNotifies(t *testing.T) {
	caller := &fakeToolCaller{
		turns: [][]*llm.Response{
			{{ToolCall: &llm.ToolCall{ToolName: "select_wait_option"}}},
			{{TextChunk: "Great, see you then. Have a great day!"}},
		},
	}
	cal := &fakeCalendar{}
	sms := &fakeSMS{}
	audit := &fakeAudit{}
	flow := NewCustomerFlow(caller, cal, sms, audit, zerolog.Nop())

	reply, ended, err := flow.HandleTurn(context.Background(), "stream-1", testDelayData(), "I'll wait")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !ended {
		t.Error("expected the turn to end once the closing reply came back")
	}
	if reply == "" {
		t.Error("expected a non-empty closing reply")
	}
	if cal.updatedID != "appt-1" {
		t.Errorf("expected calendar update for appt-1, got %q", cal.updatedID)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("expected one sms notification, got %d", len(sms.sent))
	}
	if len(audit.responses) != 1 || audit.responses[0].Status != "updated" {
		t.Fatalf("expected one 'updated' response audit entry, got %+v", audit.responses)
	}
}

func TestCustomerFlow_DeclineBothSkipsCalendarUpdate(t *testing.T) {
	caller := &fakeToolCaller{
		turns: [][]*llm.Response{
			{{ToolCall: &llm.ToolCall{ToolName: "decline_both_options"}}},
			{{TextChunk: "Understood, we'll follow up. Have a great day!"}},
		},
	}
	cal := &fakeCalendar{}
	sms := &fakeSMS{}
	audit := &fakeAudit{}
	flow := NewCustomerFlow(caller, cal, sms, audit, zerolog.Nop())

	_, ended, err := flow.HandleTurn(context.Background(), "stream-1", testDelayData(), "neither works for me")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !ended {
		t.Error("expected the turn to end")
	}
	if cal.updatedID != "" {
		t.Errorf("expected no calendar update on decline, got update for %q", cal.updatedID)
	}
	if len(audit.responses) != 1 || audit.responses[0].Status != "declined" {
		t.Fatalf("expected one 'declined' response audit entry, got %+v", audit.responses)
	}
}

func TestCustomerFlow_NoToolCallContinuesConversation(t *testing.T) {
	caller := &fakeToolCaller{
		turns: [][]*llm.Response{
			{{TextChunk: "Could you say that again?"}},
		},
	}
	flow := NewCustomerFlow(caller, &fakeCalendar{}, &fakeSMS{}, &fakeAudit{}, zerolog.Nop())

	reply, ended, err := flow.HandleTurn(context.Background(), "stream-1", testDelayData(), "mumble mumble")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if ended {
		t.Error("expected the conversation to continue without a tool call or closing phrase")
	}
	if reply != "Could you say that again?" {
		t.Errorf("unexpected reply: %q", reply)
	}
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) Send(ctx context.Context, to, body string) error {
	f.sent = append(f.sent, to+":"+body)
	return nil
}
