package common_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jitsi/jicofo-go/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := common.StartPool(4)
	t.Cleanup(pool.Stop)

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			counter.Add(1)
			wg.Done()
		}))
	}

	wg.Wait()
	assert.Equal(t, int32(32), counter.Load())
}

func TestPoolRefusesAfterStop(t *testing.T) {
	pool := common.StartPool(1)
	pool.Stop()
	pool.Wait()

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, common.ErrPoolStopped)
}

func TestPoolRefusesWhenSaturated(t *testing.T) {
	pool := common.StartPool(1)
	t.Cleanup(pool.Stop)

	block := make(chan struct{})
	defer close(block)

	// One task occupies the single worker, the rest fill the queue.
	require.NoError(t, pool.Submit(func() { <-block }))
	for {
		if err := pool.Submit(func() { <-block }); err != nil {
			assert.ErrorIs(t, err, common.ErrPoolTooBusy)
			return
		}
	}
}

func TestChannelSendAfterClose(t *testing.T) {
	sender, receiver := common.NewChannel[int](4)

	assert.Nil(t, sender.Send(1))
	receiver.Close()

	rejected := sender.Send(2)
	require.NotNil(t, rejected)
	assert.Equal(t, 2, *rejected)
}

func TestChannelTrySendDoesNotBlock(t *testing.T) {
	sender, _ := common.NewChannel[int](1)

	assert.Nil(t, sender.TrySend(1))
	rejected := sender.TrySend(2)
	require.NotNil(t, rejected)
	assert.Equal(t, 2, *rejected)
}

func BenchmarkPoolSubmit(b *testing.B) {
	pool := common.StartPool(4)
	defer pool.Stop()

	for n := 0; n < b.N; n++ {
		_ = pool.Submit(func() {})
	}
}
