package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type purgerStub struct {
	retention time.Duration
	calls     int
	err       error
}

func (p *purgerStub) PurgeRejected(ctx context.Context, retention time.Duration) (int64, error) {
	p.calls++
	p.retention = retention
	return 2, p.err
}

type cleanerStub struct {
	dir string
	ttl time.Duration
}

func (c *cleanerStub) CleanupOlderThan(dir string, ttl time.Duration) ([]string, error) {
	c.dir, c.ttl = dir, ttl
	return []string{"bundles/archive-1.zip"}, nil
}

func TestSweeperRunsJobsWithConfiguredRetention(t *testing.T) {
	purger := &purgerStub{}
	cleaner := &cleanerStub{}
	sweeper := NewRejectedSweeper(purger, cleaner, nil, nil, SweeperConfig{
		RejectedRetention: 48 * time.Hour,
		BundleRetention:   time.Hour,
	})

	sweeper.SweepRejected(context.Background())
	sweeper.ExpireBundles(context.Background())

	require.Equal(t, 1, purger.calls)
	require.Equal(t, 48*time.Hour, purger.retention)
	require.Equal(t, "bundles", cleaner.dir)
	require.Equal(t, time.Hour, cleaner.ttl)
}

func TestSweeperSurvivesPurgeFailure(t *testing.T) {
	purger := &purgerStub{err: errors.New("db down")}
	sweeper := NewRejectedSweeper(purger, nil, nil, nil, SweeperConfig{})
	sweeper.SweepRejected(context.Background())
	require.Equal(t, 1, purger.calls)
}

type signallingPurger struct {
	ran chan struct{}
}

func (p *signallingPurger) PurgeRejected(ctx context.Context, retention time.Duration) (int64, error) {
	select {
	case p.ran <- struct{}{}:
	default:
	}
	return 0, nil
}

func TestSweeperSchedulesPeriodicPurge(t *testing.T) {
	purger := &signallingPurger{ran: make(chan struct{}, 1)}
	sweeper := NewRejectedSweeper(purger, nil, nil, nil, SweeperConfig{
		RejectedRetention: time.Hour,
		RejectedInterval:  20 * time.Millisecond,
	})
	require.NoError(t, sweeper.Start(context.Background()))
	defer sweeper.Stop() //nolint:errcheck

	select {
	case <-purger.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("purge job did not run")
	}
}
