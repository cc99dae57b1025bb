package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainRunsEverything(t *testing.T) {
	p := New(4)

	var done int64
	for i := 0; i < 100; i++ {
		err := p.Submit(func() { atomic.AddInt64(&done, 1) })
		require.NoError(t, err)
	}
	p.Close()

	assert.EqualValues(t, 100, atomic.LoadInt64(&done))
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Close()

	err := p.Submit(func() { t.Fatal("must not run") })
	assert.Equal(t, ErrClosed, err)
}

func TestAtMostOnce(t *testing.T) {
	p := New(8)

	var mu sync.Mutex
	counts := make(map[int]int)

	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			counts[i]++
			mu.Unlock()
		}))
	}
	p.Close()

	for i := 0; i < 50; i++ {
		assert.Equal(t, 1, counts[i], "task %d", i)
	}
}

func TestZeroWorkersPanics(t *testing.T) {
	assert.Panics(t, func() { New(0) })
}
