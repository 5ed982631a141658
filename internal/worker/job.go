package worker

import (
	"context"
	"errors"
	"fmt"
)

// ErrDispatcherBusy is returned when the pending queue is full.
var ErrDispatcherBusy = errors.New("dispatcher busy: too many pending jobs")

// ErrDispatcherStopped is returned for jobs submitted after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

// Job is one unit of work routed to a worker. Jobs sharing a Key are queued
// together and Keys take turns.
type Job struct {
	Type JobType
	Key  string

	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

func (j Job) execute() (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}
