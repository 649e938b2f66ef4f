package sysutil

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v; want %v", tc.in, got, tc.want)
		}
	}
}

func restoreLogging(t *testing.T) {
	t.Helper()
	prevLogger, prevLevel, prevDefault := log.Logger, zerolog.GlobalLevel(), zerolog.DefaultContextLogger
	prevTS, prevTFF := zerolog.TimestampFunc, zerolog.TimeFieldFormat
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
		zerolog.DefaultContextLogger = prevDefault
		zerolog.TimestampFunc = prevTS
		zerolog.TimeFieldFormat = prevTFF
	})
}

func TestSetupLogger_JSONAndContextFallback(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer
	SetupLogger(&buf, "warn", false)

	log.Info().Msg("dropped")
	log.Ctx(context.Background()).Warn().Msg("from background job")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"from background job"`) || !strings.Contains(out, `"service":"visitproof"`) {
		t.Fatalf("context fallback did not use the global logger: %s", out)
	}
}

func TestSetupLogger_Pretty(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer
	SetupLogger(&buf, "info", true)
	log.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") || !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t", "\n"}, ""},
		{[]string{"", "KA011234", "A123"}, "KA011234"},
		{[]string{"A123"}, "A123"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Fatalf("FirstNonEmpty(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}
