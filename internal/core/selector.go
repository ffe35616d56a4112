package core

import "time"

// DecideMethod chooses full or incremental for the next version of a target.
// It is evaluated only after Classify returned Changed: an unchanged
// snapshot never advances or resets the chain.
//
// Rules, in order:
//  1. Archive targets are always full; their artifacts are self-contained.
//  2. No prior full version exists: full.
//  3. Incrementals since the last full reached MaxIncrementalCount: full.
//  4. Elapsed time since the last full reached MaxIncrementalSpan: full.
//  5. Otherwise: incremental.
func DecideMethod(target *Target, chain *ChainState, now time.Time) Method {
	if target.Kind == KindArchive {
		return MethodFull
	}
	if chain == nil || chain.LastFull == nil {
		return MethodFull
	}
	if chain.IncrementalsSinceFull >= target.MaxIncrementalCount {
		return MethodFull
	}
	if now.Sub(chain.LastFull.CreatedAt) >= target.MaxIncrementalSpan {
		return MethodFull
	}
	return MethodIncremental
}
