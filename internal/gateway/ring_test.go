package gateway

import (
	"fmt"
	"testing"
)

func TestRingKeepsOrder(t *testing.T) {
	r := newRing(4)
	for i := 0; i < 3; i++ {
		r.Append([]byte(fmt.Sprintf("c%d", i)))
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(snap))
	}
	for i, c := range snap {
		if string(c) != fmt.Sprintf("c%d", i) {
			t.Errorf("chunk %d = %q", i, c)
		}
	}
}

func TestRingEvictsOldestFirst(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 5; i++ {
		r.Append([]byte(fmt.Sprintf("c%d", i)))
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected capacity chunks, got %d", len(snap))
	}
	want := []string{"c2", "c3", "c4"}
	for i, c := range snap {
		if string(c) != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, c, want[i])
		}
	}
}

func TestRingCopiesChunks(t *testing.T) {
	r := newRing(2)
	buf := []byte("abc")
	r.Append(buf)
	buf[0] = 'X'
	if string(r.Snapshot()[0]) != "abc" {
		t.Error("ring aliased the caller's buffer")
	}
}
