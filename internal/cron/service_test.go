package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/commonsportal-backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

type fakeLock struct {
	held       bool
	acquireErr error
	releases   int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func TestRunOnceRunsEveryJobAndCombinesErrors(t *testing.T) {
	ok := &countingJob{name: "ok"}
	broken := &countingJob{name: "broken", err: errors.New("db down")}
	after := &countingJob{name: "after"}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{
		Logger: quietLogger(),
		Lock:   lock,
		Jobs:   []Job{ok, nil, broken, after},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	err = service.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broken: db down") {
		t.Fatalf("expected combined job error, got %v", err)
	}
	for _, job := range []*countingJob{ok, broken, after} {
		if job.runs != 1 {
			t.Fatalf("job %s ran %d times", job.name, job.runs)
		}
	}
	if lock.releases != 1 || lock.held {
		t.Fatalf("lock should be released after the cycle")
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "ok"}
	service, err := NewService(ServiceParams{
		Logger: quietLogger(),
		Lock:   &fakeLock{held: true},
		Jobs:   []Job{job},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job must not run without the lock")
	}
}

func TestRunOnceReportsLockFailure(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger: quietLogger(),
		Lock:   &fakeLock{acquireErr: errors.New("redis unavailable")},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected lock error")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	job := &countingJob{name: "ok"}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Lock:     &fakeLock{},
		Interval: time.Hour,
		Jobs:     []Job{job},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected the initial cycle to run once, got %d", job.runs)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: quietLogger()}); err == nil {
		t.Fatalf("expected missing lock error")
	}
}
