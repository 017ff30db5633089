package session

import (
	"context"
	"sort"
	"time"
)

// PinGate decides whether PIN verification may be attempted for a session
// and records the outcome of each attempt. Implementations typically back
// onto an audit trail of failed attempts.
type PinGate interface {
	// Blocked reports whether the session is currently locked out and, if
	// so, for how long the caller should back off.
	Blocked(ctx context.Context, sessionID string, now time.Time) (bool, time.Duration, error)

	// RecordFailure notes a failed PIN attempt against the session.
	RecordFailure(ctx context.Context, sessionID string, now time.Time) error

	// Reset clears the session's failure history after a successful attempt.
	Reset(ctx context.Context, sessionID string, now time.Time) error
}

// NoopPinGate never blocks. It is the default when lockout is disabled.
type NoopPinGate struct{}

func (NoopPinGate) Blocked(context.Context, string, time.Time) (bool, time.Duration, error) {
	return false, 0, nil
}

func (NoopPinGate) RecordFailure(context.Context, string, time.Time) error { return nil }

func (NoopPinGate) Reset(context.Context, string, time.Time) error { return nil }

// EvaluateLockout applies the configured tiers to a failure history.
// A disabled config never blocks.
func EvaluateLockout(now time.Time, failures []time.Time, cfg LockoutConfig) (bool, time.Duration) {
	if !cfg.Enabled {
		return false, 0
	}
	return evaluateProgressiveLockout(now, failures, cfg.Tiers())
}

// LongestLockoutWindow reports how far back failure history is relevant.
func LongestLockoutWindow(cfg LockoutConfig) time.Duration {
	var max time.Duration
	for _, t := range cfg.Tiers() {
		if t.Duration > max {
			max = t.Duration
		}
	}
	return max
}

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateProgressiveLockout checks failure timestamps against escalating
// tiers. Tiers must be ordered most severe first; the first tier whose
// threshold is met within its window wins. The lock clears once the most
// recent failure is older than the tier duration.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 {
			continue
		}
		cut := now.Add(-tier.Duration)
		count := 0
		var newest time.Time
		for _, ts := range failures {
			if ts.Before(cut) {
				continue
			}
			count++
			if ts.After(newest) {
				newest = ts
			}
		}
		if count < tier.Threshold {
			continue
		}
		retry := newest.Add(tier.Duration).Sub(now)
		if retry <= 0 {
			continue
		}
		return true, retry
	}
	return false, 0
}

// EvaluateWindowThrottle blocks once max failures land inside the window.
// The retry duration is the time until enough failures age out for the
// count to drop below max again. The login throttles build on it.
func EvaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	inWindow := make([]time.Time, 0, len(failures))
	for _, ts := range failures {
		if !ts.Before(cut) {
			inWindow = append(inWindow, ts)
		}
	}
	if len(inWindow) < max {
		return false, 0
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
	exit := inWindow[len(inWindow)-max]
	return true, exit.Add(window).Sub(now)
}
