package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("session %d", 3)
	if got != "session 3" {
		t.Errorf("expected custom logger output, got %q", got)
	}

	// nil installs a no-op logger
	got = ""
	SetLogger(nil)
	Logf("dropped")
	if got != "" {
		t.Errorf("no-op logger should not have reached the previous logger, got %q", got)
	}
}

func TestDebugf(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetVerbose(false)
	}()

	calls := 0
	SetLogger(func(string, ...interface{}) { calls++ })

	SetVerbose(false)
	Debugf("quiet")
	if calls != 0 {
		t.Errorf("Debugf logged while verbose was off")
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose should report true")
	}
	Debugf("loud %s", "line")
	if calls != 1 {
		t.Errorf("expected one Debugf line, got %d", calls)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}
