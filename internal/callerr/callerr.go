// Package callerr classifies failures the way the orchestrator needs to react to them.
//
// Every component that talks to an external collaborator (STT, TTS, the LLM, the
// calendar, SMS) translates whatever it gets back into one of these kinds before
// handing it to a caller. Nothing upstream ever sees a raw provider error.
package callerr

import "errors"

// Kind is the category of failure, used to decide whether to retry, degrade, or
// surface the error as fatal for that provider.
type Kind int

const (
	// KindInternal is an unexpected failure with no better classification.
	KindInternal Kind = iota
	// KindTransientIO covers dropped sockets, provider 5xx, timeouts. Retry with backoff.
	KindTransientIO
	// KindRateLimit means the provider asked us to back off; do not retry immediately.
	KindRateLimit
	// KindAuth means credentials are missing or rejected; do not retry.
	KindAuth
	// KindParse means the input was malformed (bad JSON, unparseable date/time).
	KindParse
	// KindPolicy means a configuration choice was rejected by the provider (bad voice id, ...).
	KindPolicy
	// KindTool means a calendar/SMS side effect failed; the conversation continues.
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient-io"
	case KindRateLimit:
		return "rate-limit"
	case KindAuth:
		return "auth"
	case KindParse:
		return "parse"
	case KindPolicy:
		return "policy"
	case KindTool:
		return "tool"
	default:
		return "internal"
	}
}

// Error wraps an underlying error with a Kind so callers can switch on it without
// parsing strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err does not
// carry one.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}
