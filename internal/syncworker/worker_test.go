package syncworker

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/outpost/internal/db"
	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/profile"
	"github.com/hpungsan/outpost/internal/timeline"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls []string
	push  func(ctx context.Context, item *timeline.Item) (string, error)
}

func (f *fakeRemote) Push(ctx context.Context, item *timeline.Item) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, item.ID)
	push := f.push
	f.mu.Unlock()
	if push != nil {
		return push(ctx, item)
	}
	return "srv_" + uuid.NewString(), nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store  *db.Store
	coord  *profile.Coordinator
	remote *fakeRemote
	worker *Worker
	now    time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		store:  db.NewStore(database, zerolog.Nop()),
		coord:  profile.NewCoordinator(zerolog.Nop()),
		remote: &fakeRemote{},
		now:    time.UnixMilli(1700000000000),
	}
	f.coord.Initialize(context.Background(), profile.Context{ProfileID: "p1", EntityID: "e1"})
	t.Cleanup(f.coord.Dispose)

	opts.Store = f.store
	opts.Remote = f.remote
	opts.Coordinator = f.coord
	opts.Now = func() time.Time { return f.now }
	opts.Log = zerolog.Nop()
	f.worker = New(opts)
	t.Cleanup(f.worker.Dispose)
	return f
}

func (f *fixture) addMessage(t *testing.T, profileID, content string) string {
	t.Helper()
	id, err := timeline.NewID(timeline.TypeMessage, f.now)
	require.NoError(t, err)
	ms := f.now.UnixMilli()
	require.NoError(t, f.store.AddItem(context.Background(), &timeline.Item{
		ID:            id,
		InteractionID: "i1",
		ProfileID:     profileID,
		FromEntityID:  "e1",
		SyncStatus:    timeline.SyncPending,
		LocalStatus:   timeline.LocalPending,
		CreatedAt:     ms,
		UpdatedAt:     ms,
		Body:          &timeline.Message{Content: content, MessageType: "text"},
	}))
	return id
}

func (f *fixture) get(t *testing.T, id string) *timeline.Item {
	t.Helper()
	item, err := f.store.GetItemByID(context.Background(), id)
	require.NoError(t, err)
	return item
}

func TestDrainOnce_Success(t *testing.T) {
	f := newFixture(t, Options{})
	f.remote.push = func(context.Context, *timeline.Item) (string, error) { return "srv_1", nil }
	id := f.addMessage(t, "p1", "hello")

	n, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	item := f.get(t, id)
	require.Equal(t, timeline.SyncSynced, item.SyncStatus)
	require.Equal(t, timeline.LocalSent, item.LocalStatus)
	require.NotNil(t, item.ServerID)
	require.Equal(t, "srv_1", *item.ServerID)
	require.Equal(t, uint64(1), f.worker.Stats().Synced)

	// Nothing left to do
	n, err = f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDrainOnce_RetryableFailureReschedules(t *testing.T) {
	f := newFixture(t, Options{BaseBackoff: 2 * time.Second, MaxBackoff: time.Minute})
	f.remote.push = func(context.Context, *timeline.Item) (string, error) {
		return "", errors.NewSync(stderrors.New("503 unavailable"), true)
	}
	id := f.addMessage(t, "p1", "hello")

	_, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)

	item := f.get(t, id)
	require.Equal(t, timeline.SyncPending, item.SyncStatus)
	require.Equal(t, timeline.LocalPending, item.LocalStatus)
	require.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.LastError)
	require.Contains(t, *item.LastError, "503")
	require.NotNil(t, item.NextAttemptAt)
	require.Equal(t, f.now.Add(2*time.Second).UnixMilli(), *item.NextAttemptAt)
	require.Equal(t, uint64(1), f.worker.Stats().Rescheduled)

	// Not due yet
	n, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)

	f.now = f.now.Add(2 * time.Second)
	n, err = f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, f.get(t, id).RetryCount)
}

func TestDrainOnce_ExhaustedMarksFailedButKeepsPending(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 2, BaseBackoff: time.Second})
	f.remote.push = func(context.Context, *timeline.Item) (string, error) {
		return "", stderrors.New("connection reset")
	}
	id := f.addMessage(t, "p1", "hello")

	_, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour)
	_, err = f.worker.DrainOnce(context.Background())
	require.NoError(t, err)

	item := f.get(t, id)
	require.Equal(t, timeline.SyncPending, item.SyncStatus)
	require.Equal(t, timeline.LocalFailed, item.LocalStatus)
	require.Equal(t, 2, item.RetryCount)
	require.Nil(t, item.NextAttemptAt)

	failed, err := f.store.GetFailedItems(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, uint64(1), f.worker.Stats().Failed)

	// Failed items are not drained again until the user retries
	calls := f.remote.callCount()
	f.now = f.now.Add(time.Hour)
	_, err = f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, calls, f.remote.callCount())
}

func TestDrainOnce_NonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 5})
	f.remote.push = func(context.Context, *timeline.Item) (string, error) {
		return "", errors.NewSync(stderrors.New("422 invalid wallet"), false)
	}
	id := f.addMessage(t, "p1", "hello")

	_, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)

	item := f.get(t, id)
	require.Equal(t, timeline.LocalFailed, item.LocalStatus)
	require.Equal(t, 1, item.RetryCount)
}

func TestDrainOnce_OnlyActiveProfile(t *testing.T) {
	f := newFixture(t, Options{})
	mine := f.addMessage(t, "p1", "mine")
	other := f.addMessage(t, "p2", "other")

	_, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, timeline.SyncSynced, f.get(t, mine).SyncStatus)
	require.Equal(t, timeline.SyncPending, f.get(t, other).SyncStatus)
}

func TestDrainOnce_PausedDuringSwitch(t *testing.T) {
	f := newFixture(t, Options{})
	f.addMessage(t, "p1", "hello")

	f.coord.OnProfileSwitchStart("p2", "e2")
	require.True(t, f.worker.Paused())

	n, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 0, f.remote.callCount())

	f.coord.OnProfileSwitchFailed()
	require.False(t, f.worker.Paused())

	n, err = f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDrainOnce_InFlightResultDiscardedAfterSwitch(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.addMessage(t, "p1", "first")
	f.addMessage(t, "p1", "second")

	var ctxErr error
	f.remote.push = func(ctx context.Context, item *timeline.Item) (string, error) {
		f.coord.OnProfileSwitchStart("p2", "e2")
		ctxErr = ctx.Err()
		return "srv_late", nil
	}

	n, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n, "drain stops after the token is invalidated")
	require.Error(t, ctxErr, "remote call observes the cancelled token")

	item := f.get(t, id)
	require.Equal(t, timeline.SyncPending, item.SyncStatus)
	require.Nil(t, item.ServerID)
	require.Equal(t, 0, item.RetryCount)
	require.Equal(t, uint64(1), f.worker.Stats().Discarded)
	require.Equal(t, 1, f.remote.callCount())
}

func TestDrainOnce_CancelledWhileInFlight(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.addMessage(t, "p1", "hello")

	f.remote.push = func(context.Context, *timeline.Item) (string, error) {
		require.NoError(t, f.store.CancelPending(context.Background(), id, "p1"))
		return "srv_1", nil
	}

	_, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)

	item := f.get(t, id)
	require.Equal(t, timeline.SyncSynced, item.SyncStatus)
	require.Equal(t, timeline.LocalCancelled, item.LocalStatus)
	require.Equal(t, uint64(0), f.worker.Stats().Synced)
}

func TestDrainOnce_CancelledWhileFailing(t *testing.T) {
	f := newFixture(t, Options{})
	var logs bytes.Buffer
	f.worker.log = zerolog.New(&logs)
	id := f.addMessage(t, "p1", "hello")

	f.remote.push = func(context.Context, *timeline.Item) (string, error) {
		require.NoError(t, f.store.CancelPending(context.Background(), id, "p1"))
		return "", errors.NewSync(stderrors.New("503 unavailable"), true)
	}

	_, err := f.worker.DrainOnce(context.Background())
	require.NoError(t, err)

	item := f.get(t, id)
	require.Equal(t, timeline.SyncSynced, item.SyncStatus)
	require.Equal(t, timeline.LocalCancelled, item.LocalStatus)
	require.Equal(t, 0, item.RetryCount)
	require.Equal(t, Stats{}, f.worker.Stats())
	require.NotContains(t, logs.String(), `"level":"error"`)
	require.Contains(t, logs.String(), `"level":"info"`)
}

func TestRun_Trigger(t *testing.T) {
	f := newFixture(t, Options{Interval: time.Hour})
	id := f.addMessage(t, "p1", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	f.worker.Trigger()
	f.worker.Trigger()

	require.Eventually(t, func() bool {
		return f.worker.Stats().Synced == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, timeline.SyncSynced, f.get(t, id).SyncStatus)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestBackoff(t *testing.T) {
	base, max := 2*time.Second, 30*time.Second
	require.Equal(t, 2*time.Second, Backoff(0, base, max))
	require.Equal(t, 2*time.Second, Backoff(1, base, max))
	require.Equal(t, 4*time.Second, Backoff(2, base, max))
	require.Equal(t, 8*time.Second, Backoff(3, base, max))
	require.Equal(t, 16*time.Second, Backoff(4, base, max))
	require.Equal(t, 30*time.Second, Backoff(5, base, max))
	require.Equal(t, 30*time.Second, Backoff(50, base, max))
	require.Equal(t, time.Second, Backoff(1, 2*time.Second, time.Second))
}
