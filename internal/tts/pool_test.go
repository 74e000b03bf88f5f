package tts

import "testing"

type fakeTTSClient struct {
	cancelCount int
}

func (f *fakeTTSClient) SendText(string) error { return nil }
func (f *fakeTTSClient) Flush() error           { return nil }
func (f *fakeTTSClient) Cancel() error {
	f.cancelCount++
	return nil
}
func (f *fakeTTSClient) Events() <-chan *Event { return nil }
func (f *fakeTTSClient) State() ConnState      { return StateOpen }
func (f *fakeTTSClient) VoiceID() string       { return "test-voice" }
func (f *fakeTTSClient) Close() error           { return nil }

func TestPool_AcquireIsIdempotentForSameSink(t *testing.T) {
	fc := &fakeTTSClient{}
	p := NewPool(fc)

	p.Acquire("stream-1")
	p.Acquire("stream-1")

	if fc.cancelCount != 0 {
		t.Errorf("expected no cancel when the same sink re-acquires, got %d", fc.cancelCount)
	}
	if p.CurrentSink() != "stream-1" {
		t.Errorf("expected sink stream-1, got %q", p.CurrentSink())
	}
}

func TestPool_AcquireCancelsPreviousSink(t *testing.T) {
	fc := &fakeTTSClient{}
	p := NewPool(fc)

	p.Acquire("stream-1")
	p.Acquire("stream-2")

	if fc.cancelCount != 1 {
		t.Errorf("expected exactly one cancel on sink switch, got %d", fc.cancelCount)
	}
	if p.CurrentSink() != "stream-2" {
		t.Errorf("expected sink stream-2, got %q", p.CurrentSink())
	}
}

func TestPool_OnSwitchCallbackReceivesPreviousSink(t *testing.T) {
	fc := &fakeTTSClient{}
	p := NewPool(fc)

	var notified string
	p.SetOnSwitch(func(previous string) { notified = previous })

	p.Acquire("stream-1")
	p.Acquire("stream-2")

	if notified != "stream-1" {
		t.Errorf("expected onSwitch to report stream-1, got %q", notified)
	}
}

func TestPool_ReleaseOnlyClearsOwnSink(t *testing.T) {
	fc := &fakeTTSClient{}
	p := NewPool(fc)

	p.Acquire("stream-1")
	p.Release("stream-2") // not the current sink, should be a no-op
	if p.CurrentSink() != "stream-1" {
		t.Errorf("release from a non-owning id must not clear the sink, got %q", p.CurrentSink())
	}

	p.Release("stream-1")
	if p.CurrentSink() != "" {
		t.Errorf("expected sink to be cleared, got %q", p.CurrentSink())
	}
}

func TestPool_IsSink(t *testing.T) {
	fc := &fakeTTSClient{}
	p := NewPool(fc)

	p.Acquire("stream-1")
	if !p.IsSink("stream-1") {
		t.Error("expected stream-1 to be reported as the current sink")
	}
	if p.IsSink("stream-2") {
		t.Error("expected stream-2 to not be reported as the current sink")
	}
}
