package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_EnqueueIsNonBlocking(t *testing.T) {
	q := NewJobQueue(2)

	require.NoError(t, q.Enqueue(&ProvisionJob{DeploymentID: "d1"}))
	require.NoError(t, q.Enqueue(&ProvisionJob{DeploymentID: "d2"}))
	assert.ErrorIs(t, q.Enqueue(&ProvisionJob{DeploymentID: "d3"}), ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Enqueue(&ProvisionJob{DeploymentID: "d4"}), ErrQueueClosed)
}

func TestWorkerPool_ProcessesJobs(t *testing.T) {
	q := NewJobQueue(10)
	pool := NewWorkerPool(q, 3)

	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	wg.Add(5)
	pool.Start(func(ctx context.Context, job *ProvisionJob) error {
		defer wg.Done()
		mu.Lock()
		seen = append(seen, job.DeploymentID)
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(&ProvisionJob{DeploymentID: id, Reason: ReasonCreate}))
	}
	wg.Wait()

	q.Close()
	pool.Wait()
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestWorkerPool_StopCancelsRunningJob(t *testing.T) {
	q := NewJobQueue(1)
	pool := NewWorkerPool(q, 1)

	started := make(chan struct{})
	observed := make(chan error, 1)
	pool.Start(func(ctx context.Context, job *ProvisionJob) error {
		close(started)
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	})

	require.NoError(t, q.Enqueue(&ProvisionJob{DeploymentID: "slow"}))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	pool.Stop()
	assert.ErrorIs(t, <-observed, context.Canceled)
}
