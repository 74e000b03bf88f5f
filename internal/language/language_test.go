package language

import (
	"context"
	"errors"
	"testing"
)

// S8 — Roman-Hindi detection.
func TestDetectInputLanguage_RomanHindi(t *testing.T) {
	lang := DetectInputLanguage("mujhe kal appointment book karna hai")
	if lang != "hi" {
		t.Errorf("expected 'hi', got %q", lang)
	}
}

func TestDetectInputLanguage_Devanagari(t *testing.T) {
	if lang := DetectInputLanguage("मुझे कल अपॉइंटमेंट चाहिए"); lang != "hi" {
		t.Errorf("expected 'hi', got %q", lang)
	}
}

func TestDetectInputLanguage_English(t *testing.T) {
	if lang := DetectInputLanguage("I want to book a meeting tomorrow"); lang != "en" {
		t.Errorf("expected 'en', got %q", lang)
	}
}

func TestDetectInputLanguage_SingleHindiTokenDoesNotTag(t *testing.T) {
	if lang := DetectInputLanguage("I said kal we should meet"); lang != "en" {
		t.Errorf("expected single token hit to stay 'en', got %q", lang)
	}
}

type fakeTranslator struct {
	out string
	err error
}

func (f fakeTranslator) TranslateToHindi(ctx context.Context, text string) (string, error) {
	return f.out, f.err
}

func TestTranslateIfNeeded_SkipsWhenTargetNotHindi(t *testing.T) {
	out := TranslateIfNeeded(context.Background(), fakeTranslator{out: "translated"}, "hello", "en", "hi")
	if out != "hello" {
		t.Errorf("expected no translation, got %q", out)
	}
}

func TestTranslateIfNeeded_SkipsWhenInputNotHindi(t *testing.T) {
	out := TranslateIfNeeded(context.Background(), fakeTranslator{out: "translated"}, "hello", "hi", "en")
	if out != "hello" {
		t.Errorf("expected no translation, got %q", out)
	}
}

func TestTranslateIfNeeded_SkipsWhenAlreadyDevanagari(t *testing.T) {
	text := "नमस्ते"
	out := TranslateIfNeeded(context.Background(), fakeTranslator{out: "other"}, text, "hi", "hi")
	if out != text {
		t.Errorf("expected original Devanagari text unchanged, got %q", out)
	}
}

func TestTranslateIfNeeded_TranslatesWhenNeeded(t *testing.T) {
	out := TranslateIfNeeded(context.Background(), fakeTranslator{out: "translated text"}, "hello", "hi", "hi")
	if out != "translated text" {
		t.Errorf("expected translated text, got %q", out)
	}
}

func TestTranslateIfNeeded_FallsBackOnError(t *testing.T) {
	out := TranslateIfNeeded(context.Background(), fakeTranslator{err: errors.New("provider down")}, "hello", "hi", "hi")
	if out != "hello" {
		t.Errorf("expected fallback to original text on error, got %q", out)
	}
}

func TestTranslateIfNeeded_NilTranslator(t *testing.T) {
	out := TranslateIfNeeded(context.Background(), nil, "hello", "hi", "hi")
	if out != "hello" {
		t.Errorf("expected fallback to original text with nil translator, got %q", out)
	}
}
