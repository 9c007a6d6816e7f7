package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesAndDrains(t *testing.T) {
	var handled atomic.Int32
	w := NewWorkerManager("sum", 100, 4, func(_ int, n int) {
		handled.Add(int32(n))
	})
	w.Start()
	w.Start()

	for i := 0; i < 10; i++ {
		require.True(t, w.Enqueue(1))
	}
	require.Eventually(t, func() bool { return handled.Load() == 10 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}

	assert.False(t, w.TryEnqueue(1))
	assert.False(t, w.Enqueue(1))
}

func TestWorkerManager_StopFinishesBufferedJobs(t *testing.T) {
	var handled atomic.Int32
	w := NewWorkerManager("buffered", 10, 1, func(_ int, _ string) {
		handled.Add(1)
	})

	for _, s := range []string{"a", "b", "c"} {
		require.True(t, w.TryEnqueue(s))
	}
	assert.Equal(t, 3, w.Pending())

	w.Start()
	w.Stop()
	assert.Equal(t, int32(3), handled.Load())
	assert.Equal(t, 0, w.Pending())
}

func TestWorkerManager_TryEnqueueFullBuffer(t *testing.T) {
	w := NewWorkerManager("full", 1, 1, func(int, string) {})

	assert.True(t, w.TryEnqueue("a"))
	assert.False(t, w.TryEnqueue("b"))
	assert.Equal(t, 1, w.Pending())
}

func TestWorkerManager_SurvivesPanickingJob(t *testing.T) {
	var handled atomic.Int32
	w := NewWorkerManager("panics", 10, 1, func(_ int, job string) {
		if job == "bad" {
			panic("boom")
		}
		handled.Add(1)
	})
	w.Start()

	w.Enqueue("bad")
	w.Enqueue("good")
	w.Stop()

	assert.Equal(t, int64(1), w.Panics())
	assert.Equal(t, int32(1), handled.Load())
}
