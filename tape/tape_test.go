package tape

import "testing"

func TestNewLaysOutGuardPages(t *testing.T) {
	tp, err := New(0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	if got := tp.Size(); got != uintptr(tp.PageSize()) {
		t.Fatalf("expected one page of writable space, got %d", got)
	}
	if !tp.RightGuard(tp.Base() + tp.Size()) {
		t.Fatalf("expected the byte past the writable region to be the right guard")
	}
	if !tp.LeftGuard(tp.Base() - 1) {
		t.Fatalf("expected the byte before the writable region to be the left guard")
	}
	if tp.LeftGuard(tp.Base()) {
		t.Fatalf("the first writable byte must not read as the left guard")
	}
}

func TestGrowPreservesContentsAndOffset(t *testing.T) {
	tp, err := New(0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	tp.Data()[0] = 42
	oldSize := tp.Size()

	head, err := tp.Grow(0)
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if head != 0 {
		t.Fatalf("expected head offset to stay 0, got %d", head)
	}
	if tp.Size() <= oldSize {
		t.Fatalf("expected the tape to have grown, old=%d new=%d", oldSize, tp.Size())
	}
	if tp.Data()[0] != 42 {
		t.Fatalf("expected contents to survive growth")
	}
}

func TestGrowRespectsMemoryLimit(t *testing.T) {
	tp, err := New(0, uintptr(unixPageSize(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()

	if _, err := tp.Grow(0); err == nil {
		t.Fatalf("expected growth past the memory limit to fail")
	} else if _, ok := err.(*ErrMemoryLimit); !ok {
		t.Fatalf("expected *ErrMemoryLimit, got %T: %v", err, err)
	}
}

func unixPageSize(t *testing.T) int {
	t.Helper()
	tp, err := New(0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tp.Close()
	return tp.PageSize()
}
