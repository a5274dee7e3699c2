// Package playback computes the shared playback clock of a room.
package playback

import (
	"math"
	"time"

	"github.com/npezzotti/go-watchparty/internal/types"
)

type Action string

const (
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
	ActionSeek  Action = "seek"
)

// ValidTimestamp reports whether ts is a finite, non-negative position in
// seconds.
func ValidTimestamp(ts float64) bool {
	return !math.IsNaN(ts) && !math.IsInf(ts, 0) && ts >= 0
}

// Position returns the live playback position of state at now. A playing
// clock advances with wall time since the last stored event.
func Position(state types.PlaybackState, now time.Time) float64 {
	if !state.IsPlaying || state.LastUpdated.IsZero() {
		return state.Timestamp
	}

	elapsed := now.Sub(state.LastUpdated).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return state.Timestamp + elapsed
}

// Snapshot returns state as seen at now, for a joining client.
func Snapshot(state types.PlaybackState, now time.Time) types.PlaybackState {
	return types.PlaybackState{
		IsPlaying:   state.IsPlaying,
		Timestamp:   Position(state, now),
		LastUpdated: now,
	}
}

// Apply returns the state after action. Seek keeps the current play state.
func Apply(state types.PlaybackState, action Action, ts float64, now time.Time) types.PlaybackState {
	next := types.PlaybackState{
		IsPlaying:   state.IsPlaying,
		Timestamp:   ts,
		LastUpdated: now,
	}

	switch action {
	case ActionPlay:
		next.IsPlaying = true
	case ActionPause:
		next.IsPlaying = false
	}

	return next
}

// Reset is the state of a freshly loaded video.
func Reset(now time.Time) types.PlaybackState {
	return types.PlaybackState{IsPlaying: false, Timestamp: 0, LastUpdated: now}
}
