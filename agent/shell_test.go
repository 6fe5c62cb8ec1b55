package agent

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

func TestShellExecutesInAdmissionOrder(t *testing.T) {
	s := NewShell(8, logging.NoOpLogger{})
	defer s.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		commit, err := s.Reserve()
		require.NoError(t, err)
		i := i
		wg.Add(1)
		commit(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestShellRejectsWhenFull(t *testing.T) {
	s := NewShell(2, logging.NoOpLogger{})
	defer s.Close()

	release := make(chan struct{})
	var wg sync.WaitGroup

	// Fill both slots with blocking jobs.
	for i := 0; i < 2; i++ {
		commit, err := s.Reserve()
		require.NoError(t, err)
		wg.Add(1)
		commit(func() {
			defer wg.Done()
			<-release
		})
	}

	_, err := s.Reserve()
	assert.True(t, errors.Is(err, core.ErrAgentBusy))
	assert.Equal(t, 2, s.Pending())

	close(release)
	wg.Wait()

	// Slots free up once jobs finish.
	require.Eventually(t, func() bool {
		_, err := s.Reserve()
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestQueuedAgentAdmission(t *testing.T) {
	a := New("alpha", func(o *Options) { o.QueueCapacity = 1 })
	defer a.Close()

	release := make(chan struct{})
	done := make(chan struct{})

	commit, err := a.Admit()
	require.NoError(t, err)
	commit(func() { <-release; close(done) })

	_, err = a.Admit()
	assert.True(t, errors.Is(err, core.ErrAgentBusy))

	close(release)
	<-done
}
