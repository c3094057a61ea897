package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		level string
		dev   bool
		want  zapcore.Level
	}{
		{"", false, zapcore.InfoLevel},
		{"debug", true, zapcore.DebugLevel},
		{" WARN ", false, zapcore.WarnLevel},
	} {
		log, err := New(tc.level, tc.dev)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.level, err)
		}
		if !log.Core().Enabled(tc.want) {
			t.Fatalf("New(%q): level %s not enabled", tc.level, tc.want)
		}
		if tc.want > zapcore.DebugLevel && log.Core().Enabled(tc.want-1) {
			t.Fatalf("New(%q): level below %s enabled", tc.level, tc.want)
		}
	}
}

func TestNew_BadLevel(t *testing.T) {
	t.Parallel()

	if _, err := New("loud", false); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
