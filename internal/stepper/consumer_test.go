package stepper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ac3d-labs/motionplan/planner"
)

// fakeQueue hands out a fixed slice of blocks one at a time, mimicking
// planner.StepperQueue without needing a real ring buffer.
type fakeQueue struct {
	mu      sync.Mutex
	pending []*planner.Block
	released []*planner.Block
}

func (q *fakeQueue) ClaimNext() (*planner.Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	b := q.pending[0]
	q.pending = q.pending[1:]
	return b, true
}

func (q *fakeQueue) Release(b *planner.Block) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, b)
}

func TestConsumerDrainsQueueAndInvokesCallback(t *testing.T) {
	q := &fakeQueue{pending: []*planner.Block{
		{StepEventCount: 800, NominalRate: 4000, InitialRate: 400, FinalRate: 400},
		{StepEventCount: 800, NominalRate: 4000, InitialRate: 400, FinalRate: 400},
	}}

	c := New(q, nil, 100000) // large speed-up so the simulated sleep is negligible

	var mu sync.Mutex
	var done []*planner.Block
	c.OnBlockDone(func(b *planner.Block) {
		mu.Lock()
		defer mu.Unlock()
		done = append(done, b)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(done)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for both blocks to drain, got %d", n)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if len(q.released) != 2 {
		t.Errorf("released = %d, want 2", len(q.released))
	}
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	q := &fakeQueue{}
	c := New(q, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(doneCh)
	}()

	cancel()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestNewClampsNonPositiveSpeedUp(t *testing.T) {
	c := New(&fakeQueue{}, nil, 0)
	if c.speedUp != 1 {
		t.Errorf("speedUp = %v, want 1 for a non-positive input", c.speedUp)
	}
}
