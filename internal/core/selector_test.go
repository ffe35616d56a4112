package core

import (
	"testing"
	"time"
)

func TestDecideMethod(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	deltaTarget := func(count int, span time.Duration) *Target {
		return &Target{
			Name:                "docs",
			Kind:                KindIncrementalDelta,
			MaxIncrementalCount: count,
			MaxIncrementalSpan:  span,
		}
	}
	fullAt := func(age time.Duration) *Version {
		return &Version{TargetName: "docs", Method: MethodFull, CreatedAt: now.Add(-age)}
	}

	tests := []struct {
		name   string
		target *Target
		chain  *ChainState
		want   Method
	}{
		{
			name:   "archive target always full",
			target: &Target{Name: "dump", Kind: KindArchive},
			chain:  &ChainState{LastFull: fullAt(time.Minute), IncrementalsSinceFull: 0},
			want:   MethodFull,
		},
		{
			name:   "no prior full",
			target: deltaTarget(10, 24*time.Hour),
			chain:  &ChainState{},
			want:   MethodFull,
		},
		{
			name:   "nil chain",
			target: deltaTarget(10, 24*time.Hour),
			chain:  nil,
			want:   MethodFull,
		},
		{
			name:   "fresh chain extends incrementally",
			target: deltaTarget(10, 24*time.Hour),
			chain:  &ChainState{LastFull: fullAt(time.Hour), IncrementalsSinceFull: 3},
			want:   MethodIncremental,
		},
		{
			name:   "count limit reached",
			target: deltaTarget(10, 24*time.Hour),
			chain:  &ChainState{LastFull: fullAt(time.Hour), IncrementalsSinceFull: 10},
			want:   MethodFull,
		},
		{
			name:   "span limit reached",
			target: deltaTarget(10, 24*time.Hour),
			chain:  &ChainState{LastFull: fullAt(24 * time.Hour), IncrementalsSinceFull: 1},
			want:   MethodFull,
		},
		{
			name:   "span just under limit",
			target: deltaTarget(10, 24*time.Hour),
			chain:  &ChainState{LastFull: fullAt(24*time.Hour - time.Second), IncrementalsSinceFull: 1},
			want:   MethodIncremental,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecideMethod(tt.target, tt.chain, now); got != tt.want {
				t.Errorf("DecideMethod() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestDecideMethod_CountTwoSequence walks a chain with MaxIncrementalCount=2
// through five changed runs: full, incremental, incremental, full,
// incremental.
func TestDecideMethod_CountTwoSequence(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	target := &Target{
		Name:                "docs",
		Kind:                KindIncrementalDelta,
		MaxIncrementalCount: 2,
		MaxIncrementalSpan:  240 * time.Hour,
	}

	chain := &ChainState{}
	want := []Method{MethodFull, MethodIncremental, MethodIncremental, MethodFull, MethodIncremental}

	for i, expected := range want {
		got := DecideMethod(target, chain, now)
		if got != expected {
			t.Fatalf("run %d: DecideMethod() = %v, want %v", i+1, got, expected)
		}

		// Advance the chain the way the catalog would after a commit.
		if got == MethodFull {
			chain.LastFull = &Version{TargetName: target.Name, Method: MethodFull, CreatedAt: now}
			chain.IncrementalsSinceFull = 0
		} else {
			chain.IncrementalsSinceFull++
		}
		now = now.Add(time.Hour)
	}
}
