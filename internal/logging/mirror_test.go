package logging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMirrorDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Entry
	done := make(chan struct{}, 10)

	m := NewMirror(func(_ context.Context, e Entry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	}, zap.NewNop())

	entries := []Entry{
		{Category: "act", Message: "step executed", Level: "info"},
		{Category: "act", Message: "action completed", Level: "info"},
		{Category: "extract", Message: "chunk merged", Level: "debug"},
	}
	for _, e := range entries {
		m.Send(context.Background(), e)
	}

	for range entries {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("mirror delivery timed out")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, entries, got)
}

func TestMirrorSingleFlight(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 10)
	var concurrent, peak int
	var mu sync.Mutex

	m := NewMirror(func(context.Context, Entry) {
		mu.Lock()
		concurrent++
		if concurrent > peak {
			peak = concurrent
		}
		mu.Unlock()
		started <- struct{}{}
		<-block
		mu.Lock()
		concurrent--
		mu.Unlock()
	}, zap.NewNop())

	for i := 0; i < 5; i++ {
		m.Send(context.Background(), Entry{Category: "act", Message: "m", Level: "info"})
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never started")
	}
	// While the first delivery blocks, the rest must sit in the queue.
	require.Equal(t, 4, m.Pending())
	close(block)

	deadline := time.After(2 * time.Second)
	for m.Pending() > 0 {
		select {
		case <-deadline:
			t.Fatal("queue never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak)
}

func TestMirrorPanickingSinkDropsEntry(t *testing.T) {
	calls := make(chan struct{}, 2)
	m := NewMirror(func(context.Context, Entry) {
		calls <- struct{}{}
		panic("sink exploded")
	}, zap.NewNop())

	m.Send(context.Background(), Entry{Category: "act", Message: "a", Level: "info"})
	m.Send(context.Background(), Entry{Category: "act", Message: "b", Level: "info"})

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("sink was not retried after panic")
		}
	}
}

func TestNilMirrorIsSafe(t *testing.T) {
	var m *Mirror
	assert.NotPanics(t, func() {
		m.Send(context.Background(), Entry{Category: "act", Message: "x"})
	})
}
