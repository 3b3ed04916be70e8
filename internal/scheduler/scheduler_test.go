package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return "counting" }

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_AddJobInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("boom")}

	err := s.RunNow(job)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestScheduler_RunsScheduledJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("failures are logged, not fatal")}
	require.NoError(t, s.AddJob("* * * * * *", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}
