package jobqueue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/conversation"
)

type fakeMerger struct {
	calls  int
	report conversation.MergeReport
	err    error
}

func (f *fakeMerger) MergeDuplicates(ctx context.Context) (conversation.MergeReport, error) {
	f.calls++
	return f.report, f.err
}

func job(id int64) *river.Job[MergeDuplicatesJobArgs] {
	return &river.Job[MergeDuplicatesJobArgs]{
		JobRow: &rivertype.JobRow{ID: id},
		Args:   MergeDuplicatesJobArgs{RequestedBy: "admin@example.com"},
	}
}

func testConfig(t *testing.T) *QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.LogDir = t.TempDir()
	return cfg
}

func TestWorkRunsMergeAndWritesRunLog(t *testing.T) {
	m := &fakeMerger{report: conversation.MergeReport{
		Scanned: 3,
		Groups: []conversation.GroupReport{
			{Customer: "phone:+15551230000", RepPhone: "+15559998888", SurvivorID: "c1", DeletedIDs: []string{"c2"}, MessagesMoved: 4},
		},
	}}
	cfg := testConfig(t)
	w := NewMergeDuplicatesWorker(m, NewLocalLocker(), cfg)

	require.NoError(t, w.Work(context.Background(), job(11)))
	assert.Equal(t, 1, m.calls)

	entries, err := os.ReadDir(cfg.LogDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "merge_11_")
}

func TestWorkSnoozesWhileLocked(t *testing.T) {
	m := &fakeMerger{}
	locker := NewLocalLocker()
	release, err := locker.Obtain(context.Background(), mergeLockKey, time.Minute)
	require.NoError(t, err)

	w := NewMergeDuplicatesWorker(m, locker, testConfig(t))
	assert.Error(t, w.Work(context.Background(), job(12)))
	assert.Zero(t, m.calls)

	require.NoError(t, release(context.Background()))
	require.NoError(t, w.Work(context.Background(), job(13)))
	assert.Equal(t, 1, m.calls)
}

func TestWorkReleasesLockOnFailure(t *testing.T) {
	m := &fakeMerger{err: context.Canceled}
	locker := NewLocalLocker()
	w := NewMergeDuplicatesWorker(m, locker, testConfig(t))

	err := w.Work(context.Background(), job(14))
	assert.True(t, errors.Is(err, context.Canceled))

	release, err := locker.Obtain(context.Background(), mergeLockKey, time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))
}

func TestQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig().WithMaxWorkers(5)
	assert.Equal(t, 5, cfg.RiverQueueConfig()[river.QueueDefault].MaxWorkers)
	assert.Equal(t, 2, DefaultQueueConfig().WithMaxWorkers(0).MaxWorkers)
	assert.Greater(t, cfg.LockTTL, cfg.JobTimeout)
}
