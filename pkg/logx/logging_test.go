package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"Warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for raw, want := range cases {
		if got := parseLevel(raw, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value must report IsZero")
	}
	l.Info("no sink, no panic", String("k", "v"))
	l.With(Int("n", 1)).Error("still safe")
}

func TestNopLoggerIsNotZero(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatalf("Nop() must not be the zero value, callers use IsZero to detect missing loggers")
	}
	l.Warn("discarded")
}
