package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/scoutbatch-go/internal/batch/app/service"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSweeper is a mock implementation of Sweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) CheckAndFlushAllActive(ctx context.Context) (service.SweepReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(service.SweepReport), args.Error(1)
}

func setupScheduler(t *testing.T, sweeper Sweeper, spec string) (*SweepScheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewSweepScheduler(sweeper, client, Config{Spec: spec, LockKey: "SWEEP_LOCK", LockTTL: 10 * time.Second}, logger.NewNop())
	return s, mr
}

func TestRunOnce_SweepsAndReleasesLock(t *testing.T) {
	sweeper := new(MockSweeper)
	sweeper.On("CheckAndFlushAllActive", mock.Anything).Return(service.SweepReport{Visited: []string{"posts"}}, nil)
	s, mr := setupScheduler(t, sweeper, "")

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("SWEEP_LOCK"))
	sweeper.AssertNumberOfCalls(t, "CheckAndFlushAllActive", 1)
}

func TestRunOnce_SkipsWhileLocked(t *testing.T) {
	sweeper := new(MockSweeper)
	s, mr := setupScheduler(t, sweeper, "")
	require.NoError(t, mr.Set("SWEEP_LOCK", "other-replica"))

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	sweeper.AssertNotCalled(t, "CheckAndFlushAllActive", mock.Anything)

	got, _ := mr.Get("SWEEP_LOCK")
	assert.Equal(t, "other-replica", got)
}

func TestRunOnce_ReturnsSweepErrors(t *testing.T) {
	sweeper := new(MockSweeper)
	sweeper.On("CheckAndFlushAllActive", mock.Anything).Return(service.SweepReport{}, errors.New("cluster red"))
	s, mr := setupScheduler(t, sweeper, "")

	ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.EqualError(t, err, "cluster red")
	assert.False(t, mr.Exists("SWEEP_LOCK"))
}

func TestRunOnce_StoreUnavailable(t *testing.T) {
	s, mr := setupScheduler(t, new(MockSweeper), "")
	mr.Close()

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStart_RejectsInvalidSpec(t *testing.T) {
	s, _ := setupScheduler(t, new(MockSweeper), "not a cron line")
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_RunsOnSchedule(t *testing.T) {
	sweeper := new(MockSweeper)
	swept := make(chan struct{}, 1)
	sweeper.On("CheckAndFlushAllActive", mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return(service.SweepReport{}, nil)

	s, _ := setupScheduler(t, sweeper, "* * * * * *")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.False(t, s.Next().IsZero())

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep did not run")
	}
}
