package duet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndTask(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)
	require.NotEqual(t, task.ID.String(), "")

	got, ok := mgr.Task(task.ID)
	require.True(t, ok)
	require.Same(t, task, got)
}

func TestDeregisterRemovesTask(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)
	mgr.Deregister(task.ID)

	_, ok := mgr.Task(task.ID)
	require.False(t, ok)
}

func TestMarkAddThenCheck(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(100, 200)
	task.MarkDone(100, 200)

	seen, relevant, done, err := task.Check(150)
	require.NoError(t, err)
	require.False(t, seen)
	require.True(t, relevant)
	require.True(t, done)
}

func TestUnmarkClearsState(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(0, 10)
	task.MarkDone(0, 10)
	task.Unmark(0, 10)

	_, relevant, done, err := task.Check(5)
	require.NoError(t, err)
	require.False(t, relevant)
	require.False(t, done)
}

func TestFetchReturnsOnlyRelevantNotDone(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(0, 10)   // relevant, not done: should be fetched
	task.MarkRelevant(20, 30)
	task.MarkDone(20, 30) // relevant and done: should not be fetched

	items := task.Fetch(0, 100, 10)
	require.Len(t, items, 1)
	require.Equal(t, uint64(0), items[0].Start)
	require.Equal(t, uint64(10), items[0].End)
}

func TestFetchRespectsMax(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(0, 10)
	task.MarkRelevant(10, 20)
	task.MarkRelevant(20, 30)

	items := task.Fetch(0, 100, 2)
	require.Len(t, items, 2)
}

func TestCheckUnknownRangeErrors(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	_, _, _, err := task.Check(5)
	require.Error(t, err)
}

func TestOverlappingMarkSubdividesRanges(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(0, 100)
	task.MarkDone(40, 60)

	// the middle sub-range is done, the edges are only relevant
	_, relevant, done, err := task.Check(50)
	require.NoError(t, err)
	require.True(t, relevant)
	require.True(t, done)

	_, relevant, done, err = task.Check(10)
	require.NoError(t, err)
	require.True(t, relevant)
	require.False(t, done)
}

func TestCheckRangeWholeRangeRelevantAndDone(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(100, 200)
	task.MarkDone(100, 200)

	relevant, done, err := task.CheckRange(120, 180)
	require.NoError(t, err)
	require.True(t, relevant)
	require.True(t, done)
}

func TestCheckRangeFalseOnPartialCoverage(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(0, 100)
	task.MarkDone(40, 60)

	// [10,90) spans the done middle and the relevant-only edges, so it is
	// not entirely done.
	relevant, done, err := task.CheckRange(10, 90)
	require.NoError(t, err)
	require.True(t, relevant)
	require.False(t, done)
}

func TestCheckRangeFalseOnGap(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	task.MarkRelevant(0, 50)
	task.MarkDone(0, 50)

	// [40,60) runs past the tracked range into untracked space.
	relevant, done, err := task.CheckRange(40, 60)
	require.NoError(t, err)
	require.False(t, relevant)
	require.False(t, done)
}

func TestCheckRangeUnknownRangeErrors(t *testing.T) {
	mgr := NewManager()
	task := mgr.Register("scrubber", 0xFFFF)

	_, _, err := task.CheckRange(5, 10)
	require.Error(t, err)
}
