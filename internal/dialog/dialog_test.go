package dialog

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// S1 — Greeting.
func TestGreeting_EmptyTranscript(t *testing.T) {
	g := NewGraph()
	result := g.Invoke("thread-1", "")
	if result.Reply != "How can I assist you today?" {
		t.Errorf("unexpected greeting reply: %q", result.Reply)
	}
	if result.Checkpoint.Step != StepGreeting {
		t.Errorf("expected step to remain greeting, got %q", result.Checkpoint.Step)
	}
}

// S2 — Booking happy path.
func TestBookingHappyPath(t *testing.T) {
	now := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	g := NewGraphWithClock(fixedClock(now))
	thread := "thread-s2"

	r := g.Invoke(thread, "Hi, I want to book a meeting")
	if !strings.Contains(r.Reply, "What date") {
		t.Fatalf("expected reply to contain 'What date', got %q", r.Reply)
	}

	r = g.Invoke(thread, "tomorrow")
	if !strings.HasPrefix(r.Reply, "Great! I have tomorrow") {
		t.Fatalf("expected reply to start with 'Great! I have tomorrow', got %q", r.Reply)
	}

	r = g.Invoke(thread, "11 AM")
	if !strings.Contains(r.Reply, "Perfect! 11 AM on tomorrow") {
		t.Fatalf("expected reply to contain 'Perfect! 11 AM on tomorrow', got %q", r.Reply)
	}

	r = g.Invoke(thread, "one hour")
	if !strings.Contains(r.Reply, "scheduled from 11 AM for 1 hour") {
		t.Fatalf("expected reply to contain schedule confirmation, got %q", r.Reply)
	}
	if r.Checkpoint.Step != StepAppointmentComplete {
		t.Fatalf("expected step appointment_complete, got %q", r.Checkpoint.Step)
	}

	r = g.Invoke(thread, "no")
	if r.Reply != "Perfect! Have a great day. Goodbye!" {
		t.Fatalf("unexpected farewell reply: %q", r.Reply)
	}
	if r.Checkpoint.Step != StepEnd {
		t.Fatalf("expected step end, got %q", r.Checkpoint.Step)
	}
}

// S3 — Spoken-number date.
func TestSpokenNumberDate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGraphWithClock(fixedClock(now))
	thread := "thread-s3"

	g.Invoke(thread, "book an appointment")
	r := g.Invoke(thread, "twenty five august")
	if r.Checkpoint.Date != "25 august" {
		t.Errorf("expected parsed date '25 august', got %q", r.Checkpoint.Date)
	}
	if r.Checkpoint.Step != StepCollectTime {
		t.Errorf("expected step collect_time, got %q", r.Checkpoint.Step)
	}
}

// S4 — Past-date rejection.
func TestPastDateRejected(t *testing.T) {
	now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	g := NewGraphWithClock(fixedClock(now))
	thread := "thread-s4"

	g.Invoke(thread, "schedule a meeting")
	r := g.Invoke(thread, "15 august")
	if r.Reply != "Please provide a future date." {
		t.Errorf("expected rejection reply, got %q", r.Reply)
	}
	if r.Checkpoint.Step != StepCollectDate {
		t.Errorf("expected step to stay at collect_date, got %q", r.Checkpoint.Step)
	}
}

func TestConversationHistoryBounded(t *testing.T) {
	g := NewGraph()
	thread := "thread-history"

	for i := 0; i < historyBound+10; i++ {
		g.Invoke(thread, "hello")
	}

	r := g.Invoke(thread, "final")
	if len(r.Checkpoint.ConversationHistory) > historyBound {
		t.Errorf("expected history capped at %d, got %d", historyBound, len(r.Checkpoint.ConversationHistory))
	}
}

// Property 6: the graph is deterministic.
func TestTransitionIsDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cp := Checkpoint{Step: StepCollectDate}

	cp1, reply1 := transition(cp, "tomorrow", now)
	cp2, reply2 := transition(cp, "tomorrow", now)

	if reply1 != reply2 {
		t.Errorf("expected identical replies, got %q and %q", reply1, reply2)
	}
	if cp1 != cp2 {
		t.Errorf("expected identical checkpoints, got %+v and %+v", cp1, cp2)
	}
}

// Property 1: concurrent invocations on independent threads never leak state.
func TestConcurrentThreadsAreIsolated(t *testing.T) {
	g := NewGraph()
	done := make(chan Result, 2)

	go func() { done <- g.Invoke("thread-a", "book a meeting") }()
	go func() { done <- g.Invoke("thread-b", "hello there") }()

	r1 := <-done
	r2 := <-done

	for _, r := range []Result{r1, r2} {
		if r.Checkpoint.Step != StepCollectDate && r.Checkpoint.Step != StepGreeting {
			t.Errorf("unexpected step in isolation test: %q", r.Checkpoint.Step)
		}
	}
}
