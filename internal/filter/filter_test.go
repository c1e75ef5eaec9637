package filter

import (
	"context"
	"testing"
)

type stubFilter struct {
	name    string
	enabled bool
	action  Action
	calls   int
}

func (s *stubFilter) Name() string  { return s.name }
func (s *stubFilter) Enabled() bool { return s.enabled }
func (s *stubFilter) ScanRequest(context.Context, *Input) Result {
	s.calls++
	return Result{Action: s.action, FilterName: s.name}
}

func TestChain_StopsOnBlock(t *testing.T) {
	first := &stubFilter{name: "a", enabled: true, action: ActionFlag}
	second := &stubFilter{name: "b", enabled: true, action: ActionBlock}
	third := &stubFilter{name: "c", enabled: true, action: ActionPass}

	results, blocked := NewChain(first, second, third).Run(context.Background(), &Input{Message: "hi"})
	if blocked == nil || blocked.FilterName != "b" {
		t.Fatalf("expected block from b, got %+v", blocked)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
	if third.calls != 0 {
		t.Error("filter after a block should not run")
	}
}

func TestChain_SkipsDisabled(t *testing.T) {
	off := &stubFilter{name: "off", enabled: false, action: ActionBlock}
	on := &stubFilter{name: "on", enabled: true, action: ActionPass}

	results, blocked := NewChain(off, on).Run(context.Background(), &Input{})
	if blocked != nil {
		t.Fatalf("disabled filter blocked: %+v", blocked)
	}
	if len(results) != 1 || results[0].FilterName != "on" {
		t.Errorf("unexpected results %+v", results)
	}
	if off.calls != 0 {
		t.Error("disabled filter was called")
	}
}
