package main

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSanitizeTelegramErr(t *testing.T) {
	token := "123456:secret-token"
	err := errors.New(`Post "https://api.telegram.org/bot123456:secret-token/getUpdates": timeout`)
	got := sanitizeTelegramErr(err, token)
	if got != `Post "https://api.telegram.org/bot<redacted-token>/getUpdates": timeout` {
		t.Fatalf("unexpected sanitized message: %s", got)
	}
	if sanitizeTelegramErr(nil, token) != "" {
		t.Fatalf("expected empty string for nil error")
	}
}
