package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/journald/server"
)

func TestSchedulerSyncsLoneCompletion(t *testing.T) {
	s := server.NewScheduler(time.Hour)
	assert.False(t, s.Due(0, 3))
	assert.Nil(t, s.C())
	assert.True(t, s.Due(1, 1))
	assert.Nil(t, s.C())
}

func TestSchedulerDebouncesBatch(t *testing.T) {
	s := server.NewScheduler(20 * time.Millisecond)
	assert.False(t, s.Due(1, 3))
	c := s.C()
	assert.NotNil(t, c)
	// later completions join the armed window
	assert.False(t, s.Due(2, 3))
	assert.Equal(t, c, s.C())

	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("debounce timer never fired")
	}
	s.Stop()
	assert.Nil(t, s.C())
}

func TestSchedulerFullBatchIsDue(t *testing.T) {
	s := server.NewScheduler(time.Hour)
	assert.False(t, s.Due(1, 2))
	assert.True(t, s.Due(2, 2))
	s.Stop()
	assert.Nil(t, s.C())
}

func TestSchedulerWithoutDebounce(t *testing.T) {
	s := server.NewScheduler(0)
	assert.True(t, s.Due(1, 5))
}
