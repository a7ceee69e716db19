// PositionEstimator: runs a virtual 1 Hz tick while playing, advances
// position between polls, and yields to fresh HTTP/UPnP values within a
// settling window (spec §4.6). Embedded in Synchronizer rather than exposed
// standalone, since every position observation must flow through the same
// merge arbitration as every other field.
package state

import "time"

type estimator struct {
	hasBase  bool
	base     int
	baseAt   time.Time
	lastObs  int
	lastAt   time.Time
	playing  bool
	duration int
	hasDur   bool

	settlingWindow time.Duration
	driftTolerance time.Duration
}

func newEstimator(settling, drift time.Duration) *estimator {
	return &estimator{settlingWindow: settling, driftTolerance: drift}
}

// observe records a fresh HTTP/UPnP position reading at t, applying drift
// tolerance: disagreement beyond driftTolerance rebases immediately;
// disagreement within tolerance keeps the existing trajectory (the fix for
// visible 2-4s jumps every poll cycle).
func (e *estimator) observe(pos int, t time.Time) {
	e.lastObs = pos
	e.lastAt = t

	if !e.hasBase {
		e.base = pos
		e.baseAt = t
		e.hasBase = true
		return
	}

	predicted := e.estimateAt(t)
	diff := pos - predicted
	if diff < 0 {
		diff = -diff
	}
	if time.Duration(diff)*time.Second > e.driftTolerance {
		e.base = pos
		e.baseAt = t
	}
}

// setDuration records the current track duration for clamping.
func (e *estimator) setDuration(seconds int, has bool) {
	e.duration = seconds
	e.hasDur = has
}

// setPlaying toggles the running state; a transition away from playing
// resets the estimator per spec §4.6.
func (e *estimator) setPlaying(playing bool) {
	if e.playing && !playing {
		e.reset()
	}
	e.playing = playing
}

// reset clears accumulated state: used on seek, track change, and the
// playing -> not-playing transition.
func (e *estimator) reset() {
	e.hasBase = false
	e.base = 0
	e.lastObs = 0
}

// inSettlingWindow reports whether t is still within the settling period
// after the last raw observation, in which case that observation must be
// returned verbatim rather than an estimated value.
func (e *estimator) inSettlingWindow(t time.Time) bool {
	return !e.lastAt.IsZero() && t.Sub(e.lastAt) < e.settlingWindow
}

// estimateAt computes the position the estimator would report at t without
// consulting the settling window (used internally for drift comparison).
func (e *estimator) estimateAt(t time.Time) int {
	if !e.hasBase {
		return 0
	}
	if !e.playing {
		return e.base
	}
	elapsed := int(t.Sub(e.baseAt).Seconds())
	pos := e.base + elapsed
	if e.hasDur && pos > e.duration {
		pos = e.duration
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// value returns the position to report at t, honoring the settling window.
func (e *estimator) value(t time.Time) (int, bool) {
	if !e.hasBase {
		return 0, false
	}
	if e.inSettlingWindow(t) {
		return e.lastObs, true
	}
	return e.estimateAt(t), true
}
