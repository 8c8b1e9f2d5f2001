package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Stage names one background step of a run.
type Stage string

const (
	StageDetect     Stage = "detect"
	StageEmbed      Stage = "embed"
	StageVerify     Stage = "verify"
	StageAnnotate   Stage = "annotate"
	StageReassemble Stage = "reassemble"
	StagePersist    Stage = "persist"
)

// ErrStageBusy is returned by Launch while a task for the same stage is still running.
var ErrStageBusy = errors.New("stage already running")

// State is the lifecycle position of a Task.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Task is one stage running on its own goroutine.
type Task struct {
	stage Stage
	state atomic.Int32
	done  chan struct{}
	err   error // written once before done is closed
}

func newTask(stage Stage) *Task {
	return &Task{stage: stage, done: make(chan struct{})}
}

func (t *Task) Stage() Stage { return t.stage }

// Done is closed when the task has finished, successfully or not.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) State() State { return State(t.state.Load()) }

// Err is the task's error once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func (t *Task) run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panicked: %v", t.stage, r)
		}
	}()
	t.state.Store(int32(StateRunning))
	return fn(ctx)
}

func (t *Task) finish(err error) {
	t.err = err
	if err != nil {
		t.state.Store(int32(StateFailed))
	} else {
		t.state.Store(int32(StateSucceeded))
	}
	close(t.done)
}
