package cli

import (
	"testing"

	"trainbank/internal/config"
)

func TestSessionLifecycle(t *testing.T) {
	t.Setenv(config.CLIHomeEnv, t.TempDir())

	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected an error without a session")
	}
	if err := SaveSession(Session{GameID: 3, GameName: "1830"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := LoadSession()
	if err != nil || s.GameID != 3 || s.GameName != "1830" {
		t.Fatalf("unexpected session %+v err=%v", s, err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clearing twice should be a no-op: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected an error after clearing")
	}
}
