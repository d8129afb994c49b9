package rpc

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleOutOfOrder(t *testing.T) {
	p := NewPending()
	const n = 16

	chans := make([]<-chan Reply, n)
	for i := 0; i < n; i++ {
		ch, err := p.Open(uint64(i))
		require.NoError(t, err)
		chans[i] = ch
	}

	for i := n - 1; i >= 0; i-- {
		require.True(t, p.Settle(uint64(i), Reply{Value: i * 10}))
	}

	for i, ch := range chans {
		r := <-ch
		assert.NoError(t, r.Err)
		assert.Equal(t, i*10, r.Value)
	}
	assert.Zero(t, p.Len())
}

func TestSettleUnknownOrTwice(t *testing.T) {
	p := NewPending()
	assert.False(t, p.Settle(42, Reply{}))

	_, err := p.Open(1)
	require.NoError(t, err)
	assert.True(t, p.Settle(1, Reply{}))
	assert.False(t, p.Settle(1, Reply{}))
}

func TestCloseRejectsEveryPendingCall(t *testing.T) {
	p := NewPending()
	errGone := errors.New("gone")

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		ch, err := p.Open(uint64(i))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- (<-ch).Err
		}()
	}

	assert.Equal(t, 8, p.Close(errGone))
	wg.Wait()
	close(results)

	for err := range results {
		assert.ErrorIs(t, err, errGone)
	}

	_, err := p.Open(99)
	assert.ErrorIs(t, err, errGone)
	assert.Zero(t, p.Close(errors.New("again")))
}

func TestCancel(t *testing.T) {
	p := NewPending()
	_, err := p.Open(7)
	require.NoError(t, err)
	p.Cancel(7)
	assert.False(t, p.Settle(7, Reply{}))
}
