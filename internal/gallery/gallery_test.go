package gallery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/generation"
)

func rec(id int64, status generation.Status, created time.Time) generation.Record {
	return generation.Record{ID: id, Status: status, CreatedAt: generation.Timestamp{Time: created}}
}

func TestSort_ActiveFirstThenNewest(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []generation.Record{
		rec(1, generation.StatusCompleted, base),
		rec(2, generation.StatusFailed, base.Add(time.Hour)),
		rec(3, generation.StatusRunning, base),
		rec(4, generation.StatusPending, base.Add(-time.Hour)),
		rec(5, generation.StatusCompleted, base.Add(2*time.Hour)),
	}

	out := Sort(in)
	ids := make([]int64, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{4, 3, 5, 2, 1}, ids)
	assert.Equal(t, int64(1), in[0].ID, "input is not reordered")
}

func TestHash_TracksVisibleFields(t *testing.T) {
	a := []generation.Record{{ID: 1, Status: generation.StatusPending}}
	b := []generation.Record{{ID: 1, Status: generation.StatusPending, Prompt: "other prompt"}}
	c := []generation.Record{{ID: 1, Status: generation.StatusCompleted, ResultURL: "/r/1.png"}}

	assert.Equal(t, Hash(a), Hash(b))
	assert.NotEqual(t, Hash(a), Hash(c))
	assert.NotEqual(t, Hash(nil), Hash(a))
}

func TestDeduper_ShouldRedraw(t *testing.T) {
	var d Deduper
	list := []generation.Record{{ID: 1, Status: generation.StatusRunning}}

	assert.True(t, d.ShouldRedraw(list), "first render always draws")
	assert.False(t, d.ShouldRedraw(list))

	changed := []generation.Record{{ID: 1, Status: generation.StatusCompleted}}
	assert.True(t, d.ShouldRedraw(changed))
	assert.False(t, d.ShouldRedraw(changed))

	d.Invalidate()
	assert.True(t, d.ShouldRedraw(changed))
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	total, shown := 30, 2
	meta := &api.Meta{Total: &total, Shown: &shown, StorageInfo: &api.StorageInfo{RetentionDays: 14}}
	records := []generation.Record{
		rec(1, generation.StatusCompleted, now.AddDate(0, 0, -3)),
		rec(2, generation.StatusCompleted, now.AddDate(0, 0, -10).Add(-time.Hour)),
	}

	st := ComputeStats(records, meta, now)
	assert.Equal(t, 2, st.Shown)
	assert.Equal(t, 30, st.Total)
	assert.Equal(t, 14, st.RetentionDays)
	require.True(t, st.HasOldest)
	assert.Equal(t, 4, st.CleanupInDays)

	st = ComputeStats(records[:1], nil, now)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, DefaultRetentionDays, st.RetentionDays)
	assert.Equal(t, 4, st.CleanupInDays)

	st = ComputeStats([]generation.Record{rec(3, generation.StatusCompleted, now.AddDate(0, 0, -30))}, nil, now)
	assert.Equal(t, 0, st.CleanupInDays)

	st = ComputeStats(nil, nil, now)
	assert.False(t, st.HasOldest)
}

func TestDaysLeft(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	days, ok := DaysLeft(rec(1, generation.StatusCompleted, now.Add(-36*time.Hour)), 7, now)
	require.True(t, ok)
	assert.Equal(t, 6, days)

	_, ok = DaysLeft(rec(2, generation.StatusRunning, now), 7, now)
	assert.False(t, ok)
}

type fakeBackend struct {
	mu      sync.Mutex
	lists   [][]generation.Record
	calls   int
	renders int
	err     error
}

func (f *fakeBackend) fetch(context.Context) (api.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return api.ListResult{}, f.err
	}
	if len(f.lists) == 0 {
		return api.ListResult{}, nil
	}
	list := f.lists[0]
	if len(f.lists) > 1 {
		f.lists = f.lists[1:]
	}
	return api.ListResult{Generations: list}, nil
}

func (f *fakeBackend) render(context.Context, Snapshot) error {
	f.mu.Lock()
	f.renders++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.renders
}

func TestPoller_RefreshSkipsUnchanged(t *testing.T) {
	fb := &fakeBackend{lists: [][]generation.Record{{{ID: 1, Status: generation.StatusCompleted}}}}
	p := NewPoller(Options{Fetch: fb.fetch, Render: fb.render})

	drawn, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, drawn)

	drawn, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, drawn)

	_, renders := fb.counts()
	assert.Equal(t, 1, renders)
}

func TestPoller_RefreshFetchError(t *testing.T) {
	fb := &fakeBackend{err: api.ErrNetwork}
	p := NewPoller(Options{Fetch: fb.fetch, Render: fb.render})

	_, err := p.Refresh(context.Background())
	assert.ErrorIs(t, err, api.ErrNetwork)
}

func TestPoller_RefreshSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	p := NewPoller(Options{
		Fetch: func(ctx context.Context) (api.ListResult, error) {
			once.Do(func() { close(entered) })
			<-release
			return api.ListResult{}, nil
		},
	})

	errs := make(chan error, 1)
	go func() {
		_, err := p.Refresh(context.Background())
		errs <- err
	}()
	<-entered

	_, err := p.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-errs)
}

func TestPoller_FastStopsEarlyWithFinalRefresh(t *testing.T) {
	active := []generation.Record{{ID: 1, Status: generation.StatusRunning}}
	done := []generation.Record{{ID: 1, Status: generation.StatusCompleted, ResultURL: "/r/1.png"}}
	fb := &fakeBackend{lists: [][]generation.Record{active, active, active, done}}

	p := NewPoller(Options{
		Fetch:        fb.fetch,
		Render:       fb.render,
		FastDelay:    time.Millisecond,
		FastInterval: 5 * time.Millisecond,
		FastMaxTicks: 1000,
	})
	p.Kick(context.Background())
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool { return !p.FastActive() }, 2*time.Second, 5*time.Millisecond)

	_, renders := fb.counts()
	assert.Equal(t, 2, renders, "one draw while running, one once completed")
}

func TestPoller_FastBoundedByMaxTicks(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(Options{
		Fetch: func(context.Context) (api.ListResult, error) {
			ticks.Add(1)
			return api.ListResult{Generations: []generation.Record{{ID: 9, Status: generation.StatusPending}}}, nil
		},
		FastDelay:    time.Hour,
		FastInterval: 2 * time.Millisecond,
		FastMaxTicks: 3,
	})
	p.Kick(context.Background())
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool { return !p.FastActive() }, 2*time.Second, 2*time.Millisecond)
	// each tick refreshes and then checks for active records
	assert.Equal(t, int32(6), ticks.Load())
}

func TestPoller_BackgroundOnlyRendersWhileActive(t *testing.T) {
	idle := []generation.Record{{ID: 1, Status: generation.StatusCompleted}}
	busy := []generation.Record{{ID: 2, Status: generation.StatusPending}, {ID: 1, Status: generation.StatusCompleted}}
	fb := &fakeBackend{lists: [][]generation.Record{idle, idle, busy}}

	p := NewPoller(Options{
		Fetch:              fb.fetch,
		Render:             fb.render,
		BackgroundInterval: 3 * time.Millisecond,
	})
	p.StartBackground(context.Background())
	t.Cleanup(p.Stop)

	require.Eventually(t, func() bool {
		calls, renders := fb.counts()
		return calls >= 4 && renders == 1
	}, 2*time.Second, 3*time.Millisecond)
	assert.True(t, p.BackgroundActive())

	p.Stop()
	assert.False(t, p.BackgroundActive())
}

func TestTask_StopsOnFalseAndContext(t *testing.T) {
	var runs atomic.Int32
	task := NewTask(TaskOptions{
		Interval: time.Millisecond,
		Run: func(ctx context.Context, tick int) bool {
			return runs.Add(1) < 3
		},
	})
	task.Start(context.Background())
	require.Eventually(t, func() bool { return !task.Active() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), runs.Load())

	ctx, cancel := context.WithCancel(context.Background())
	task = NewTask(TaskOptions{Interval: time.Hour, Run: func(context.Context, int) bool { return true }})
	task.Start(ctx)
	assert.True(t, task.Active())
	cancel()
	require.Eventually(t, func() bool { return !task.Active() }, time.Second, time.Millisecond)

	task.Stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestTask_ConcurrentStartsLeaveOneLoop(t *testing.T) {
	var runs atomic.Int32
	task := NewTask(TaskOptions{
		Interval: time.Millisecond,
		Run: func(context.Context, int) bool {
			runs.Add(1)
			return true
		},
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Start(context.Background())
		}()
	}
	wg.Wait()

	task.Stop()
	assert.False(t, task.Active())
	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "a loop survived Stop")
}
