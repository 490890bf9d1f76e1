package digest

import (
	"strings"
	"testing"
	"time"

	"slotwatch/internal/watch"
	"slotwatch/pkg/logx"
)

func TestRenderWithoutTask(t *testing.T) {
	t.Parallel()
	state := watch.NewState(0)
	state.Record("2027-02-01", time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	manager := watch.NewManager(watch.Config{}, nil, nil, nil, state, logx.Nop())

	s := New(Config{Enabled: true}, state, manager, nil, logx.Nop())
	got := s.render()

	for _, want := range []string{"Daily summary", "2027-02-01", "No active watch task"} {
		if !strings.Contains(got, want) {
			t.Fatalf("render missing %q:\n%s", want, got)
		}
	}
}

func TestRenderEmptyState(t *testing.T) {
	t.Parallel()
	state := watch.NewState(0)
	manager := watch.NewManager(watch.Config{}, nil, nil, nil, state, logx.Nop())

	s := New(Config{Enabled: true}, state, manager, nil, logx.Nop())
	if got := s.render(); !strings.Contains(got, "No appointments seen") {
		t.Fatalf("render = %q", got)
	}
}

func TestNewDefaultsSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, watch.NewState(0), nil, nil, logx.Nop())
	if s.cfg.Spec != DefaultSpec {
		t.Fatalf("Spec = %q, want %q", s.cfg.Spec, DefaultSpec)
	}
}
