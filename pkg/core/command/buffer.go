//
//  Copyright © Manetu Inc. All rights reserved.
//

package command

import (
	"context"
	"sync"
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
)

var logger = logging.GetLogger("acs.command")

// outcome is the completion of one buffered command.
type outcome struct {
	value any
	err   error
}

type task struct {
	cmd  Command
	done chan outcome
}

// DispatchFunc executes one command against the graph.
type DispatchFunc func(ctx context.Context, cmd Command) (any, error)

// Buffer serializes mutating commands onto a single writer goroutine.
//
// The queue is FIFO with a soft cap: past the cap, Submit fails fast
// with Backpressure instead of blocking the producer. Commands carrying
// a deadline are dropped with Timeout if still queued when it expires;
// a command already executing always runs to completion.
type Buffer struct {
	tasks    chan task
	dispatch DispatchFunc
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	drained  sync.WaitGroup
}

// NewBuffer creates a buffer with the given soft cap. The writer
// goroutine starts immediately.
func NewBuffer(softCap int, dispatch DispatchFunc) *Buffer {
	b := &Buffer{
		tasks:    make(chan task, softCap),
		dispatch: dispatch,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	b.drained.Add(1)
	go b.run()
	return b
}

// Submit enqueues a command and blocks until the writer completes it.
// The context only bounds the caller's wait: once dequeued, the command
// runs to completion and its effects are observable regardless.
func (b *Buffer) Submit(ctx context.Context, cmd Command) (any, error) {
	t := task{cmd: cmd, done: make(chan outcome, 1)}

	select {
	case <-b.stop:
		return nil, common.NewError(common.KindTimeout, "service is shutting down")
	default:
	}

	select {
	case b.tasks <- t:
	case <-b.stop:
		return nil, common.NewError(common.KindTimeout, "service is shutting down")
	default:
		logger.SysWarnf("command %s rejected, queue at soft cap", cmd.RequestID)
		return nil, common.NewError(common.KindBackpressure, "command queue at capacity")
	}

	select {
	case out := <-t.done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, common.Errorf(common.KindTimeout, "wait for command %s abandoned: %v", cmd.RequestID, ctx.Err())
	}
}

// run is the single writer loop. It is the only caller of dispatch for
// mutating commands, which is what serializes every graph mutation.
func (b *Buffer) run() {
	defer b.drained.Done()
	for {
		select {
		case <-b.stop:
			// drain what is already queued, then exit
			for {
				select {
				case t := <-b.tasks:
					b.execute(t)
				default:
					return
				}
			}
		case t := <-b.tasks:
			b.execute(t)
		}
	}
}

func (b *Buffer) execute(t task) {
	cmd := t.cmd
	if !cmd.Deadline.IsZero() && b.now().After(cmd.Deadline) {
		logger.SysWarnf("command %s expired before execution", cmd.RequestID)
		t.done <- outcome{err: common.Errorf(common.KindTimeout, "command %s deadline expired before execution", cmd.RequestID)}
		return
	}

	value, err := b.dispatch(context.Background(), cmd)
	if err != nil {
		logger.SysDebugf("command %s (%s) failed: %v", cmd.RequestID, cmd.Kind, err)
	}
	t.done <- outcome{value: value, err: err}
}

// Depth returns the number of queued commands.
func (b *Buffer) Depth() int {
	return len(b.tasks)
}

// Stop shuts the writer down after draining the queued commands.
func (b *Buffer) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })

	done := make(chan struct{})
	go func() {
		b.drained.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return common.Errorf(common.KindTimeout, "buffer drain abandoned: %v", ctx.Err())
	}
}
