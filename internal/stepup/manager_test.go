package stepup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestManagerKeepsOneConfirmationPerKey(t *testing.T) {
	m := NewManager(Config{}, time.Minute)
	a := m.For("sess-a")
	require.Same(t, a, m.For("sess-a"))
	require.NotSame(t, a, m.For("sess-b"))
	require.Equal(t, 2, m.Len())
}

func TestManagerExpiresStaleRequests(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	calls, onConfirm := counter()
	m := NewManager(Config{Now: clk.Now}, 5*time.Minute)

	_, err := m.For("sess").Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	clk.Advance(4 * time.Minute)
	require.Equal(t, StateRequested, m.For("sess").Snapshot().State)

	clk.Advance(2 * time.Minute)
	conf := m.For("sess")
	require.Equal(t, StateIdle, conf.Snapshot().State)
	require.ErrorIs(t, conf.Submit(context.Background(), Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"}), ErrNoPendingRequest)
	require.Zero(t, atomic.LoadInt32(calls))
}

func TestManagerSweep(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	_, onConfirm := counter()
	m := NewManager(Config{Now: clk.Now}, time.Minute)

	m.For("idle")
	_, err := m.For("open").Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	require.Zero(t, m.Sweep(clk.Now()))
	require.Equal(t, 2, m.Len())

	clk.Advance(30 * time.Second)
	m.For("open")
	clk.Advance(45 * time.Second)
	// "idle" is unseen for a full ttl; "open" just expired but was seen recently.
	require.Equal(t, 1, m.Sweep(clk.Now()))
	require.Equal(t, 1, m.Len())
	require.Equal(t, StateIdle, m.For("open").Snapshot().State)

	clk.Advance(2 * time.Minute)
	require.Equal(t, 1, m.Sweep(clk.Now()))
	require.Zero(t, m.Len())
}

func TestManagerDrop(t *testing.T) {
	calls, onConfirm := counter()
	m := NewManager(Config{}, time.Minute)
	conf := m.For("sess")
	_, err := conf.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	m.Drop(context.Background(), "sess")
	require.Zero(t, m.Len())
	require.Equal(t, StateIdle, conf.Snapshot().State)
	require.ErrorIs(t, conf.Submit(context.Background(), Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"}), ErrNoPendingRequest)
	require.Zero(t, atomic.LoadInt32(calls))

	m.Drop(context.Background(), "unknown")
}

func TestManagerRunStopsWithContext(t *testing.T) {
	m := NewManager(Config{}, time.Millisecond)
	m.For("sess")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
