package vm

import "testing"

func TestHeadBoxRoundTrips(t *testing.T) {
	h := &headBox{v: 0x1000}
	if got := h.Head(); got != 0x1000 {
		t.Fatalf("expected 0x1000, got %#x", got)
	}
	h.SetHead(0x2000)
	if got := h.Head(); got != 0x2000 {
		t.Fatalf("expected SetHead to stick, got %#x", got)
	}
}

func TestRunRejectsConcurrentUse(t *testing.T) {
	current = &Runtime{}
	defer func() { current = nil }()

	if _, err := Run(nil, IOConfig{}, Options{}); err == nil {
		t.Fatalf("expected Run to refuse a second concurrent run")
	}
}
