package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WarnLevel)

	l.Infof("should not appear %d", 1)
	l.Warnf("visible %s", "warn")
	l.Error("failed", GetError(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("info message leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("error field missing: %q", out)
	}
}

func TestReplaceDefaultAndSetLevel(t *testing.T) {
	old := Default()
	defer ReplaceDefault(old)

	var buf bytes.Buffer
	ReplaceDefault(New(&buf, InfoLevel))

	Debugf("hidden")
	SetLevel(DebugLevel)
	Debugf("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message emitted before level change: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("debug message missing after level change: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DebugLevel,
		"info":  InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
		"":      InfoLevel,
		"bogus": InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, InfoLevel).With(String("session", "abc"))
	l.Info("hello")
	if !strings.Contains(buf.String(), "abc") {
		t.Errorf("bound field missing: %q", buf.String())
	}
}
