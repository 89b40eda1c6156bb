package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/outpost/internal/cache"
	"github.com/hpungsan/outpost/internal/config"
	"github.com/hpungsan/outpost/internal/db"
	"github.com/hpungsan/outpost/internal/ops"
	"github.com/hpungsan/outpost/internal/poller"
	"github.com/hpungsan/outpost/internal/profile"
	"github.com/hpungsan/outpost/internal/timeline"
)

type fakeRemote struct {
	mu     sync.Mutex
	pushed []string
	fail   error
}

func (f *fakeRemote) Push(ctx context.Context, item *timeline.Item) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.fail != nil {
		return "", f.fail
	}
	f.pushed = append(f.pushed, item.ID)
	return "srv_" + uuid.NewString(), nil
}

type harness struct {
	eng    *Engine
	remote *fakeRemote
	sched  *poller.FakeScheduler
}

func newHarness(t *testing.T, withRemote bool) *harness {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	h := &harness{remote: &fakeRemote{}, sched: poller.NewFakeScheduler()}
	opts := Options{
		Config:    config.DefaultConfig(),
		DB:        database,
		Scheduler: h.sched,
		Log:       zerolog.Nop(),
	}
	if withRemote {
		opts.Remote = h.remote
	}
	h.eng = New(opts)
	h.eng.Initialize(context.Background(), profile.Context{ProfileID: "p1", EntityID: "e1", ProfileType: profile.TypePersonal})
	t.Cleanup(h.eng.Dispose)
	return h
}

func sendTx(t *testing.T, eng *Engine, profileID string) string {
	t.Helper()
	out := eng.Writer.SendTransaction(context.Background(), ops.SendTransactionInput{
		Amount:        10,
		FromWalletID:  "w1",
		ToEntityID:    "e2",
		FromEntityID:  "e1",
		InteractionID: "i1",
		ProfileID:     profileID,
		CurrencyCode:  "USD",
	})
	require.True(t, out.Success, out.ErrorMessage())
	return out.LocalID
}

func TestEngine_SendSyncPoll(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	var keys []string
	h.eng.Cache.Subscribe(nil, func(k cache.QueryKey) { keys = append(keys, k.String()) })

	id := sendTx(t, h.eng, "p1")
	require.Equal(t, Counts{ProfileID: "p1", Pending: 1}, h.eng.Counts(ctx, "p1"))

	n, err := h.eng.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	item, err := h.eng.Writer.Fetch(ctx, id, "p1")
	require.NoError(t, err)
	require.Equal(t, timeline.SyncSynced, item.SyncStatus)
	require.NotNil(t, item.ServerID)

	// Acknowledged transactions start a confirmation burst keyed by server id
	require.True(t, h.eng.Poller.IsPolling(*item.ServerID))
	require.Equal(t, []string{"timeline/i1"}, keys)

	h.sched.Advance(time.Minute)
	require.Equal(t, 0, h.eng.Poller.ActivePollsCount())
	require.Len(t, keys, 1+3*2)
}

func TestEngine_BurstAtSubmissionIsCallerArmed(t *testing.T) {
	h := newHarness(t, false)

	id := sendTx(t, h.eng, "p1")
	require.Equal(t, 0, h.eng.Poller.ActivePollsCount(), "no burst before acknowledgement")

	h.eng.Poller.StartPolling(id, "i1")
	require.True(t, h.eng.Poller.IsPolling(id))

	h.sched.Advance(time.Minute)
	require.False(t, h.eng.Poller.IsPolling(id))
	require.Equal(t, 1, h.eng.Counts(context.Background(), "p1").Pending)
}

func TestEngine_SwitchStartStopsPollsAndWork(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.eng.Poller.StartPolling("tx1", "i1")
	h.eng.Poller.StartPolling("tx2", "")
	sendTx(t, h.eng, "p1")

	h.eng.Coordinator.OnProfileSwitchStart("p2", "e2")
	require.Equal(t, 0, h.eng.Poller.ActivePollsCount())
	require.True(t, h.eng.Worker.Paused())

	n, err := h.eng.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// Writes for the old profile are refused while switching
	out := h.eng.Writer.SendMessage(ctx, ops.SendMessageInput{
		InteractionID: "i1", ProfileID: "p1", FromEntityID: "e1", Content: "late",
	})
	require.False(t, out.Success)

	h.eng.Coordinator.OnProfileSwitchComplete("p2", "e2", profile.TypeBusiness)

	// p1's item is not pushed under p2
	n, err = h.eng.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 1, h.eng.Counts(ctx, "p1").Pending)
}

func TestEngine_SwitchProfileHelper(t *testing.T) {
	h := newHarness(t, true)

	err := h.eng.SwitchProfile(profile.Context{ProfileID: "p2", EntityID: "e2"}, func(context.Context) error {
		return stderrors.New("denied")
	})
	require.Error(t, err)
	require.Equal(t, "p1", h.eng.Coordinator.Current().Context.ProfileID)

	require.NoError(t, h.eng.SwitchProfile(profile.Context{ProfileID: "p2", EntityID: "e2"}, nil))
	require.Equal(t, "p2", h.eng.Coordinator.Current().Context.ProfileID)
	require.False(t, h.eng.Coordinator.IsProfileStale("p2"))
}

func TestEngine_SyncDisabledWithoutRemote(t *testing.T) {
	h := newHarness(t, false)

	require.False(t, h.eng.SyncEnabled())
	sendTx(t, h.eng, "p1")

	_, err := h.eng.Sync(context.Background())
	require.ErrorIs(t, err, ErrSyncDisabled)

	// Start is a no-op; the item stays pending rather than failing
	h.eng.Start(context.Background())
	require.Equal(t, 1, h.eng.Counts(context.Background(), "p1").Pending)
}

func TestEngine_BackgroundWorker(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	h.eng.Start(ctx)
	h.eng.Start(ctx)
	id := sendTx(t, h.eng, "p1")

	require.Eventually(t, func() bool {
		item, err := h.eng.Writer.Fetch(ctx, id, "p1")
		return err == nil && item.SyncStatus == timeline.SyncSynced
	}, 5*time.Second, 10*time.Millisecond)

	h.eng.Dispose()
	require.True(t, h.eng.Coordinator.Token().Cancelled())
}

func TestEngine_IsolatedInstances(t *testing.T) {
	a := newHarness(t, true)
	b := newHarness(t, true)

	a.eng.Poller.StartPolling("tx1", "")
	b.eng.Coordinator.OnProfileSwitchStart("p2", "e2")

	require.Equal(t, 1, a.eng.Poller.ActivePollsCount())
	require.False(t, a.eng.Coordinator.IsSwitching())
	require.True(t, b.eng.Coordinator.IsSwitching())
}
