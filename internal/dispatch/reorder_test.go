package dispatch

import (
	"errors"
	"math/rand"
	"testing"
)

type item struct {
	seq   uint64
	label string
}

func (i item) Sequence() uint64 { return i.seq }

func seqs(items []item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.seq
	}
	return out
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReorderBufferInOrder(t *testing.T) {
	b := NewReorderBuffer[item]()

	for i := uint64(0); i < 5; i++ {
		released, err := b.Accept(item{seq: i})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !equalSeqs(seqs(released), []uint64{i}) {
			t.Errorf("Expected release of [%d], got %v", i, seqs(released))
		}
	}

	if b.Next() != 5 {
		t.Errorf("Expected next 5, got %d", b.Next())
	}
	if b.Released() != 5 {
		t.Errorf("Expected 5 released, got %d", b.Released())
	}
}

func TestReorderBufferCascade(t *testing.T) {
	tests := []struct {
		name     string
		order    []uint64
		releases [][]uint64
	}{
		{
			name:     "2 before 0 and 1",
			order:    []uint64{2, 0, 1},
			releases: [][]uint64{nil, {0}, {1, 2}},
		},
		{
			name:     "reverse",
			order:    []uint64{3, 2, 1, 0},
			releases: [][]uint64{nil, nil, nil, {0, 1, 2, 3}},
		},
		{
			name:     "gap filled late",
			order:    []uint64{0, 2, 3, 1, 4},
			releases: [][]uint64{{0}, nil, nil, {1, 2, 3}, {4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewReorderBuffer[item]()
			for i, seq := range tt.order {
				released, err := b.Accept(item{seq: seq})
				if err != nil {
					t.Fatalf("Accept(%d) failed: %v", seq, err)
				}
				if !equalSeqs(seqs(released), tt.releases[i]) {
					t.Errorf("Accept(%d): expected release %v, got %v", seq, tt.releases[i], seqs(released))
				}
			}
			if b.Pending() != 0 {
				t.Errorf("Expected no pending items, got %d", b.Pending())
			}
		})
	}
}

func TestReorderBufferPermutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(40)
		order := rng.Perm(n)

		b := NewReorderBuffer[item]()
		var out []uint64
		for _, seq := range order {
			released, err := b.Accept(item{seq: uint64(seq)})
			if err != nil {
				t.Fatalf("Round %d: Accept(%d) failed: %v", round, seq, err)
			}
			out = append(out, seqs(released)...)
		}

		if len(out) != n {
			t.Fatalf("Round %d: expected %d released, got %d", round, n, len(out))
		}
		for i, seq := range out {
			if seq != uint64(i) {
				t.Fatalf("Round %d: expected index %d at position %d, got %d", round, i, i, seq)
			}
		}
	}
}

func TestReorderBufferViolations(t *testing.T) {
	b := NewReorderBuffer[item]()

	if _, err := b.Accept(item{seq: 0}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := b.Accept(item{seq: 2, label: "first"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		seq     uint64
		pending bool
	}{
		{name: "already released", seq: 0, pending: false},
		{name: "already pending", seq: 2, pending: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			released, err := b.Accept(item{seq: tt.seq, label: "dup"})
			var violation *OrderingViolation
			if !errors.As(err, &violation) {
				t.Fatalf("Expected OrderingViolation, got %v", err)
			}
			if violation.Pending != tt.pending {
				t.Errorf("Expected pending=%v, got %v", tt.pending, violation.Pending)
			}
			if released != nil {
				t.Errorf("Expected nothing released, got %v", seqs(released))
			}
		})
	}

	// State untouched: the original pending item is released, not the duplicate
	released, err := b.Accept(item{seq: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !equalSeqs(seqs(released), []uint64{1, 2}) {
		t.Fatalf("Expected [1 2], got %v", seqs(released))
	}
	if released[1].label != "first" {
		t.Errorf("Expected original pending item, got %q", released[1].label)
	}
}
