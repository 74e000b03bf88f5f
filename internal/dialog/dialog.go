// Package dialog implements the appointment-booking state machine: a plain
// transition table keyed by step, with per-thread-id checkpointing. There is
// no graph library underneath — the "checkpointer" is a map from thread id to
// a Checkpoint value, and the transition function is pure.
package dialog

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Step is one node of the booking graph.
type Step string

const (
	StepGreeting           Step = "greeting"
	StepCollectDate        Step = "collect_date"
	StepConfirmDate        Step = "confirm_date"
	StepCollectTime        Step = "collect_time"
	StepConfirmTime        Step = "confirm_time"
	StepCollectDuration    Step = "collect_duration"
	StepCollectAdditional  Step = "collect_additional_details"
	StepFinalConfirmation  Step = "final_confirmation"
	StepCollectDetails     Step = "collect_details"
	StepAppointmentComplete Step = "appointment_complete"
	StepEnd                Step = "end"
)

const historyBound = 20

// Checkpoint is the serializable per-thread record the graph reads and
// writes. Only the graph's transition function may mutate it.
type Checkpoint struct {
	ConversationHistory []string
	Step                Step
	Date                string
	Time                string
	DurationOrEnd       string
	AdditionalDetails   string
	MeetingRequested    bool
	Confirmed           bool
	AppointmentComplete bool
}

// Result is what a single graph invocation produces.
type Result struct {
	Reply      string
	Checkpoint Checkpoint
}

// Graph is the booking dialog's transition table plus its checkpoint store.
// Concurrent invocations on the same thread id serialize; invocations on
// different thread ids run independently (property 1).
type Graph struct {
	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
	threadLocks map[string]*sync.Mutex
	now         func() time.Time
}

// NewGraph constructs an empty checkpoint store.
func NewGraph() *Graph {
	return &Graph{
		checkpoints: make(map[string]*Checkpoint),
		threadLocks: make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// NewGraphWithClock is NewGraph with an injectable clock, for deterministic
// past-date rejection tests (spec scenario S4).
func NewGraphWithClock(now func() time.Time) *Graph {
	g := NewGraph()
	g.now = now
	return g
}

func (g *Graph) lockFor(threadID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		g.threadLocks[threadID] = l
	}
	return l
}

func (g *Graph) checkpointFor(threadID string) *Checkpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp, ok := g.checkpoints[threadID]
	if !ok {
		cp = &Checkpoint{Step: StepGreeting}
		g.checkpoints[threadID] = cp
	}
	return cp
}

// Invoke runs one turn of the booking graph for threadID given the inbound
// transcript (empty for the initial greeting). It serializes with any other
// concurrent invocation on the same thread id, but never blocks a different
// thread's invocation.
func (g *Graph) Invoke(threadID, transcript string) Result {
	lock := g.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	cp := g.checkpointFor(threadID)

	current := *cp
	if transcript != "" {
		current.ConversationHistory = appendHistory(current.ConversationHistory, transcript)
	}

	next, reply := transition(current, transcript, g.now())
	*cp = next

	return Result{Reply: reply, Checkpoint: next}
}

// appendHistory implements the conversation_history reducer: append, then
// truncate to the N most recent entries (property 2).
func appendHistory(history []string, entry string) []string {
	history = append(history, entry)
	if len(history) > historyBound {
		history = history[len(history)-historyBound:]
	}
	return history
}

var bookingIntentRe = regexp.MustCompile(`(?i)\b(book|schedule|appointment|meeting|reserve|set up|arrange)\b`)
var timeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(:(\d{2}))?\s*(am|pm)\b`)
var durationRe = regexp.MustCompile(`(?i)\b(\d+)\s*hours?\b`)
var spokenDurationRe = regexp.MustCompile(`(?i)\b(` +
	`one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve` +
	`)\s*hours?\b`)

// spokenDurationWords maps the spelled-out hour-count forms §4.F's
// collect_duration accepts ("one hour", "two hours", …) to their numeral.
var spokenDurationWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"six": "6", "seven": "7", "eight": "8", "nine": "9", "ten": "10",
	"eleven": "11", "twelve": "12",
}
var yesRe = regexp.MustCompile(`(?i)^\s*(yes|sure|yeah|yep)\b`)
var noRe = regexp.MustCompile(`(?i)^\s*(no|nope)\b`)
var farewellRe = regexp.MustCompile(`(?i)\b(no|nope|goodbye|bye)\b`)
var againRe = regexp.MustCompile(`(?i)\b(yes|schedule|another)\b`)

// transition is the pure (checkpoint, transcript, now) -> (checkpoint, reply)
// function (property 6): given the same three inputs it always produces the
// same outputs. now is supplied by the caller rather than read from the
// clock so the function has no hidden inputs.
func transition(cp Checkpoint, transcript string, now time.Time) (Checkpoint, string) {
	text := strings.TrimSpace(transcript)

	switch cp.Step {
	case StepGreeting:
		if text == "" {
			return cp, "How can I assist you today?"
		}
		if bookingIntentRe.MatchString(text) {
			cp.Step = StepCollectDate
			cp.MeetingRequested = true
			return cp, "I'll help you schedule an appointment. What date would you like?"
		}
		return cp, "I'm here to help. Let me know if you'd like to schedule an appointment."

	case StepCollectDate:
		date, parsed, ok := ParseDate(text, now)
		if !ok {
			return cp, "Sorry, I didn't catch a valid date. Could you repeat that?"
		}
		if isPast(parsed, now) {
			return cp, "Please provide a future date."
		}
		cp.Date = date
		cp.Step = StepCollectTime
		return cp, fmt.Sprintf("Great! I have %s. What time works for you?", date)

	case StepConfirmDate:
		// Permitted variant per the spec's open question; not entered by
		// this graph's transitions (collect_date advances immediately).
		if yesRe.MatchString(text) {
			cp.Step = StepCollectTime
			return cp, "Got it, what time works for you?"
		}
		cp.Step = StepCollectDate
		return cp, "No problem, what date would you like instead?"

	case StepCollectTime:
		m := timeRe.FindStringSubmatch(text)
		if m == nil {
			return cp, "I didn't catch a time. Could you say it like '11 AM'?"
		}
		cp.Time = strings.TrimSpace(m[0])
		cp.Step = StepCollectDuration
		return cp, fmt.Sprintf("Perfect! %s on %s. How long should I schedule it for?", cp.Time, cp.Date)

	case StepConfirmTime:
		if yesRe.MatchString(text) {
			cp.Step = StepCollectDuration
			return cp, "How long should I schedule it for?"
		}
		cp.Step = StepCollectTime
		return cp, "No problem, what time would you like instead?"

	case StepCollectDuration:
		if m := durationRe.FindStringSubmatch(text); m != nil {
			cp.DurationOrEnd = m[1] + " hour"
			if m[1] != "1" {
				cp.DurationOrEnd += "s"
			}
			cp.Step = StepAppointmentComplete
			cp.AppointmentComplete = true
			return cp, fmt.Sprintf("You're all set, scheduled from %s for %s. Do you need any other help?", cp.Time, cp.DurationOrEnd)
		}
		if m := spokenDurationRe.FindStringSubmatch(text); m != nil {
			n := spokenDurationWords[strings.ToLower(m[1])]
			cp.DurationOrEnd = n + " hour"
			if n != "1" {
				cp.DurationOrEnd += "s"
			}
			cp.Step = StepAppointmentComplete
			cp.AppointmentComplete = true
			return cp, fmt.Sprintf("You're all set, scheduled from %s for %s. Do you need any other help?", cp.Time, cp.DurationOrEnd)
		}
		if m := timeRe.FindStringSubmatch(text); m != nil {
			cp.DurationOrEnd = strings.TrimSpace(m[0])
			cp.Step = StepAppointmentComplete
			cp.AppointmentComplete = true
			return cp, fmt.Sprintf("You're all set, scheduled from %s until %s. Do you need any other help?", cp.Time, cp.DurationOrEnd)
		}
		return cp, "Could you tell me the duration, like '1 hour', or an end time?"

	case StepFinalConfirmation:
		if yesRe.MatchString(text) {
			cp.Step = StepCollectDetails
			return cp, "Sure, what additional details should I note?"
		}
		if noRe.MatchString(text) {
			cp.Step = StepAppointmentComplete
			cp.AppointmentComplete = true
			return cp, "All set. Do you need any other help?"
		}
		return cp, "Sorry, could you say yes or no?"

	case StepCollectDetails:
		cp.AdditionalDetails = text
		cp.Step = StepAppointmentComplete
		cp.AppointmentComplete = true
		return cp, "Got it, I've noted that. Do you need any other help?"

	case StepAppointmentComplete:
		if againRe.MatchString(text) {
			cp.Date, cp.Time, cp.DurationOrEnd, cp.AdditionalDetails = "", "", "", ""
			cp.MeetingRequested, cp.Confirmed, cp.AppointmentComplete = false, false, false
			cp.Step = StepGreeting
			return cp, "Sure, let's schedule another one. What date would you like?"
		}
		if farewellRe.MatchString(text) {
			cp.Step = StepEnd
			return cp, "Perfect! Have a great day. Goodbye!"
		}
		return cp, "Would you like to schedule another appointment, or are we all set?"

	case StepEnd:
		return cp, "Goodbye!"
	}

	return cp, "Sorry, something went wrong on my end. Let's start over. How can I assist you today?"
}

// isPast reports whether parsed's calendar day is strictly before now's.
// Today is allowed.
func isPast(parsed, now time.Time) bool {
	py, pm, pd := parsed.Date()
	ny, nm, nd := now.Date()
	p := time.Date(py, pm, pd, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return p.Before(n)
}
