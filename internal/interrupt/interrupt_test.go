package interrupt

import "testing"

// S5 — Acknowledgment does not interrupt.
func TestClassify_AcknowledgmentDoesNotInterrupt(t *testing.T) {
	d := Classify("ok", "en", 0.9)
	if d.Interrupt {
		t.Error("expected shouldInterrupt=false for acknowledgment")
	}
	if d.Reason != "acknowledgment" {
		t.Errorf("expected reason 'acknowledgment', got %q", d.Reason)
	}
}

func TestClassify_HindiAcknowledgmentDoesNotInterrupt(t *testing.T) {
	d := Classify("haan bilkul", "hi", 0.95)
	if d.Interrupt {
		t.Error("expected shouldInterrupt=false for 'haan bilkul'")
	}
}

func TestClassify_GermanAcknowledgmentDoesNotInterrupt(t *testing.T) {
	d := Classify("ja genau", "de", 0.95)
	if d.Interrupt {
		t.Error("expected shouldInterrupt=false for 'ja genau'")
	}
}

// S6 — Emergency interrupts regardless of confidence/length.
func TestClassify_EmergencyAlwaysInterrupts(t *testing.T) {
	d := Classify("stop", "en", 0.4)
	if !d.Interrupt || d.Level != LevelImmediate {
		t.Errorf("expected immediate interrupt for emergency token, got %+v", d)
	}
}

func TestClassify_EmptyTranscript(t *testing.T) {
	d := Classify("", "en", 0.9)
	if d.Interrupt || d.Reason != "empty" {
		t.Errorf("expected no interrupt for empty transcript, got %+v", d)
	}
}

func TestClassify_IntentChangeIsModerate(t *testing.T) {
	d := Classify("actually, I want something different", "en", 0.9)
	if !d.Interrupt || d.Level != LevelModerate {
		t.Errorf("expected moderate interrupt for intent change, got %+v", d)
	}
}

func TestClassify_BelowThresholdDoesNotInterrupt(t *testing.T) {
	d := Classify("um", "en", 0.9)
	if d.Interrupt {
		t.Errorf("expected no interrupt for short filler-only text, got %+v", d)
	}
}

func TestClassify_StandardThresholdGentleInterrupt(t *testing.T) {
	d := Classify("please change my appointment time today", "en", 0.9)
	if !d.Interrupt || d.Level != LevelGentle {
		t.Errorf("expected gentle interrupt, got %+v", d)
	}
}

func TestClassify_LowConfidenceBelowThresholdDoesNotInterrupt(t *testing.T) {
	d := Classify("please change my appointment time today", "en", 0.5)
	if d.Interrupt {
		t.Errorf("expected no interrupt below the confidence gate, got %+v", d)
	}
}

func TestClassify_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	d := Classify("ok", "fr", 0.9)
	if d.Interrupt || d.Language != "en" {
		t.Errorf("expected fallback to english patterns, got %+v", d)
	}
}

func TestExecuteDelay_Ordering(t *testing.T) {
	if ExecuteDelay(LevelGentle) <= ExecuteDelay(LevelModerate) {
		t.Error("expected gentle delay to be longer than moderate delay")
	}
	if ExecuteDelay(LevelImmediate) != 0 {
		t.Error("expected immediate to have zero scheduling delay")
	}
}
