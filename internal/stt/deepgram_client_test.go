package stt

import (
	"testing"
	"time"

	"github.com/lexiqai/callagent/internal/config"
)

func TestClassifyDeepgramError(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want dgErrKind
	}{
		{"unauthorized", "Code: 401, Msg: Unauthorized", errKindAuth},
		{"forbidden", "status 403 forbidden", errKindAuth},
		{"rate limited", "429 Too Many Requests: rate limit exceeded", errKindRateLimit},
		{"transient network", "connection reset by peer", errKindTransient},
		{"unknown shape", "&{Type:Error Description:something broke}", errKindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyDeepgramError(tc.msg); got != tc.want {
				t.Errorf("classifyDeepgramError(%q) = %v, want %v", tc.msg, got, tc.want)
			}
		})
	}
}

func TestReconnectConfigFor_DefaultsMatchSpecSchedule(t *testing.T) {
	rc := reconnectConfigFor(nil)

	if rc.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", rc.MaxAttempts)
	}
	if rc.Backoff != 2*time.Second {
		t.Errorf("expected initial backoff 2s, got %v", rc.Backoff)
	}
	if rc.MaxBackoff != 10*time.Second {
		t.Errorf("expected backoff cap 10s, got %v", rc.MaxBackoff)
	}

	backoff := rc.Backoff
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := 0; i < rc.MaxAttempts; i++ {
		if backoff != want[i] {
			t.Errorf("step %d: expected backoff %v, got %v", i, want[i], backoff)
		}
		backoff = time.Duration(float64(backoff) * rc.Multiplier)
		if backoff > rc.MaxBackoff {
			backoff = rc.MaxBackoff
		}
	}
}

func TestReconnectConfigFor_HonorsConfigOverrides(t *testing.T) {
	cfg := &config.Config{ReconnectMaxAttempts: 5, ReconnectBackoff: 1000}
	rc := reconnectConfigFor(cfg)

	if rc.MaxAttempts != 5 {
		t.Errorf("expected 5 max attempts, got %d", rc.MaxAttempts)
	}
	if rc.Backoff != 1*time.Second {
		t.Errorf("expected initial backoff 1s, got %v", rc.Backoff)
	}
}

func TestNewDeepgramClient_StartsInactive(t *testing.T) {
	c := NewDeepgramClient(nil)
	if c.IsActive() {
		t.Error("expected a freshly constructed client to be inactive")
	}
}
