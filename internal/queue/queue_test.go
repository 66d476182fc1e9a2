package queue

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/scriptsrunner/internal/state"
)

func TestQueueAdmitsUpToCeilingThenQueues(t *testing.T) {
	t.Parallel()

	q := New(2)
	a := q.Request("/a.sh", state.ModeBackground)
	b := q.Request("/b.sh", state.ModeBackground)
	c := q.Request("/c.sh", state.ModeBackground)

	assert.Equal(t, DecisionStarted, a.Kind)
	assert.Equal(t, DecisionStarted, b.Kind)
	assert.NotEqual(t, a.Start.Token, b.Start.Token)
	require.Equal(t, DecisionQueued, c.Kind)
	assert.Equal(t, 1, c.Position)
	assert.Equal(t, 2, q.RunningCount())
	assert.Equal(t, StatusQueued, q.Status("/c.sh"))
}

func TestQueueRequestIsNoopWhenRunningOrQueued(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Request("/a.sh", state.ModeBackground)
	q.Request("/b.sh", state.ModeBackground)

	assert.Equal(t, DecisionIgnored, q.Request("/a.sh", state.ModeBackground).Kind)
	assert.Equal(t, DecisionIgnored, q.Request("/b.sh", state.ModeBackground).Kind)
	assert.Equal(t, DecisionIgnored, q.Request("/a.sh", state.ModeTerminal).Kind)
	assert.Equal(t, 1, q.QueueLen())
}

func TestQueueTerminalBypassesCeiling(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Request("/a.sh", state.ModeBackground)
	d := q.Request("/t.sh", state.ModeTerminal)

	assert.Equal(t, DecisionTerminal, d.Kind)
	assert.Equal(t, 1, q.RunningCount())
	assert.Equal(t, 0, q.QueueLen())
	assert.Equal(t, StatusIdle, q.Status("/t.sh"))
}

func TestQueuePromotesInFIFOOrder(t *testing.T) {
	t.Parallel()

	q := New(1)
	first := q.Request("/a.sh", state.ModeBackground)
	for _, p := range []string{"/b.sh", "/c.sh", "/d.sh"} {
		q.Request(p, state.ModeBackground)
	}

	var order []string
	token, path := first.Start.Token, "/a.sh"
	for {
		next, attached := q.Complete(path, token)
		require.True(t, attached)
		if len(next) == 0 {
			break
		}
		require.Len(t, next, 1)
		assert.False(t, next[0].EnqueuedAt.IsZero())
		order = append(order, next[0].Path)
		token, path = next[0].Token, next[0].Path
	}
	assert.Equal(t, []string{"/b.sh", "/c.sh", "/d.sh"}, order)
}

func TestQueueForceResetQueuedLeavesRunningAlone(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Request("/a.sh", state.ModeBackground)
	q.Request("/b.sh", state.ModeBackground)

	prev, ok := q.ForceReset("/b.sh")
	assert.True(t, ok)
	assert.Equal(t, StatusQueued, prev)
	assert.Equal(t, 1, q.RunningCount())
	assert.Equal(t, 0, q.QueueLen())
	assert.Equal(t, StatusRunning, q.Status("/a.sh"))
}

func TestQueueForceResetRunningDetachesCompletion(t *testing.T) {
	t.Parallel()

	q := New(1)
	a := q.Request("/a.sh", state.ModeBackground)
	q.Request("/b.sh", state.ModeBackground)

	prev, ok := q.ForceReset("/a.sh")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, prev)
	assert.Equal(t, StatusIdle, q.Status("/a.sh"))
	// Reset does not promote.
	assert.Equal(t, StatusQueued, q.Status("/b.sh"))

	// Re-run a; the stale completion from the first run must not touch it.
	again := q.Request("/a.sh", state.ModeBackground)
	require.Equal(t, DecisionStarted, again.Kind)

	next, attached := q.Complete("/a.sh", a.Start.Token)
	assert.False(t, attached)
	assert.Empty(t, next)
	assert.Equal(t, StatusRunning, q.Status("/a.sh"))
	assert.Equal(t, StatusQueued, q.Status("/b.sh"))
}

func TestQueueForceResetIdle(t *testing.T) {
	t.Parallel()

	prev, ok := New(1).ForceReset("/x.sh")
	assert.False(t, ok)
	assert.Equal(t, StatusIdle, prev)
}

func TestQueueDequeue(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Request("/a.sh", state.ModeBackground)
	q.Request("/b.sh", state.ModeBackground)
	q.Request("/c.sh", state.ModeBackground)

	require.NoError(t, q.Dequeue("/b.sh"))
	assert.Equal(t, StatusIdle, q.Status("/b.sh"))

	err := q.Dequeue("/a.sh")
	assert.True(t, errors.Is(err, ErrNotQueued))

	snap := q.Snapshot()
	require.Len(t, snap.Queued, 1)
	assert.Equal(t, "/c.sh", snap.Queued[0].Path)
	assert.Equal(t, 1, snap.Queued[0].Position)
}

func TestQueueReconcileDropsVanishedQueuedOnly(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Request("/a.sh", state.ModeBackground)
	q.Request("/b.sh", state.ModeBackground)
	q.Request("/c.sh", state.ModeBackground)

	dropped := q.Reconcile(map[string]struct{}{"/c.sh": {}})
	assert.Equal(t, []string{"/b.sh"}, dropped)
	assert.Equal(t, StatusRunning, q.Status("/a.sh"), "running state survives a rescan")
	assert.Equal(t, StatusQueued, q.Status("/c.sh"))
}

func TestQueueSetMaxConcurrentPromotes(t *testing.T) {
	t.Parallel()

	q := New(1)
	q.Request("/a.sh", state.ModeBackground)
	q.Request("/b.sh", state.ModeBackground)
	q.Request("/c.sh", state.ModeBackground)

	started := q.SetMaxConcurrent(3)
	require.Len(t, started, 2)
	assert.Equal(t, "/b.sh", started[0].Path)
	assert.Equal(t, "/c.sh", started[1].Path)
	assert.Equal(t, 3, q.Snapshot().MaxConcurrent)

	assert.Empty(t, q.SetMaxConcurrent(0))
	assert.Equal(t, 1, q.Snapshot().MaxConcurrent)
}

func TestQueueRunToken(t *testing.T) {
	t.Parallel()

	q := New(1)
	d := q.Request("/a.sh", state.ModeBackground)

	tok, err := q.RunToken("/a.sh")
	require.NoError(t, err)
	assert.Equal(t, d.Start.Token, tok)

	_, err = q.RunToken("/b.sh")
	assert.True(t, errors.Is(err, ErrNotRunning))
}

func TestQueueNeverExceedsCeilingUnderConcurrency(t *testing.T) {
	t.Parallel()

	const ceiling = 3
	q := New(ceiling)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inFlight = map[string]string{}
	)
	check := func() {
		if n := q.RunningCount(); n > ceiling {
			t.Errorf("running count %d exceeds ceiling %d", n, ceiling)
		}
	}

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < 200; i++ {
				path := fmt.Sprintf("/s/%d.sh", r.Intn(12))
				if r.Intn(2) == 0 {
					d := q.Request(path, state.ModeBackground)
					if d.Kind == DecisionStarted {
						mu.Lock()
						inFlight[path] = d.Start.Token
						mu.Unlock()
					}
				} else {
					mu.Lock()
					tok, ok := inFlight[path]
					delete(inFlight, path)
					mu.Unlock()
					if ok {
						next, _ := q.Complete(path, tok)
						mu.Lock()
						for _, s := range next {
							inFlight[s.Path] = s.Token
						}
						mu.Unlock()
					}
				}
				check()
			}
		}(w)
	}
	wg.Wait()
	check()
}
