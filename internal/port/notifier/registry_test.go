package notifier

import (
	"context"
	"errors"
	"testing"
)

type stub struct{ name string }

func (s stub) Name() string                             { return s.name }
func (s stub) Capabilities() Capabilities               { return Capabilities{} }
func (s stub) Send(context.Context, Notification) error { return nil }

func TestBuildSkipsUnconfigured(t *testing.T) {
	Register("test-on", func(map[string]string) (Notifier, error) { return stub{name: "test-on"}, nil })
	Register("test-off", func(map[string]string) (Notifier, error) { return nil, ErrNotConfigured })
	Register("test-bad", func(map[string]string) (Notifier, error) { return nil, errors.New("broken") })

	got, err := Build(map[string]map[string]string{"test-on": nil, "test-off": nil})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "test-on" {
		t.Fatalf("unexpected notifiers %v", got)
	}

	if _, err := Build(map[string]map[string]string{"test-bad": nil}); err == nil {
		t.Fatal("expected factory error to surface")
	}
	if _, err := Build(map[string]map[string]string{"nope": nil}); err == nil {
		t.Fatal("expected unknown notifier error")
	}
}

func TestLevelOrdering(t *testing.T) {
	if !LevelCritical.AtLeast(LevelWarning) || LevelInfo.AtLeast(LevelWarning) {
		t.Fatal("unexpected ordering")
	}
	if Level("bogus").Rank() != LevelInfo.Rank() {
		t.Fatal("unknown level should rank as info")
	}
}
