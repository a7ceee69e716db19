package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEstimator_Value_NoObservationYieldsNotOK(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	_, ok := e.value(time.Now())
	require.False(t, ok)
}

func TestEstimator_Value_AdvancesWhilePlaying(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	now := time.Now()
	e.observe(10, now)
	e.setPlaying(true)
	e.setDuration(300, true)

	val, ok := e.value(now.Add(5 * time.Second))
	require.True(t, ok)
	require.Equal(t, 15, val)
}

func TestEstimator_Value_FreezesWhenPaused(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	now := time.Now()
	e.observe(10, now)
	e.setPlaying(false)

	val, ok := e.value(now.Add(5 * time.Second))
	require.True(t, ok)
	require.Equal(t, 10, val)
}

func TestEstimator_Value_ClampsAtDuration(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	now := time.Now()
	e.observe(295, now)
	e.setPlaying(true)
	e.setDuration(300, true)

	val, ok := e.value(now.Add(20 * time.Second))
	require.True(t, ok)
	require.Equal(t, 300, val)
}

func TestEstimator_Observe_SmallDriftKeepsTrajectory(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	now := time.Now()
	e.observe(10, now)
	e.setPlaying(true)

	// Predicted position at +5s is 15; observe 16 (1s drift, within 3s tolerance)
	// so the original base (10 @ now) is kept rather than rebasing to 16.
	e.observe(16, now.Add(5*time.Second))

	// Past the settling window of the second observation: the trajectory from
	// the original (unrebased) base should be visible, not a rebase to 16.
	val, ok := e.value(now.Add(7 * time.Second))
	require.True(t, ok)
	require.Equal(t, 17, val) // base 10 + elapsed 7s from `now`
}

func TestEstimator_Observe_LargeDriftRebasesImmediately(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	now := time.Now()
	e.observe(10, now)
	e.setPlaying(true)

	// Predicted position at +5s is 15; observe 50 (large drift, exceeds tolerance)
	// so the estimator rebases onto the new observation immediately.
	e.observe(50, now.Add(5*time.Second))

	val, ok := e.value(now.Add(7 * time.Second)) // past the settling window of the rebase
	require.True(t, ok)
	require.Equal(t, 52, val) // rebased base 50 @ (now+5s) + elapsed 2s
}

func TestEstimator_SetPlaying_TransitionToStoppedResets(t *testing.T) {
	e := newEstimator(time.Second, 3*time.Second)
	now := time.Now()
	e.observe(10, now)
	e.setPlaying(true)
	e.setPlaying(false)

	_, ok := e.value(now.Add(time.Second))
	require.False(t, ok, "reset clears hasBase, so value should report not-ok until the next observation")
}

func TestEstimator_InSettlingWindow(t *testing.T) {
	e := newEstimator(2*time.Second, 3*time.Second)
	now := time.Now()
	e.observe(10, now)

	require.True(t, e.inSettlingWindow(now.Add(time.Second)))
	require.False(t, e.inSettlingWindow(now.Add(3*time.Second)))
}
