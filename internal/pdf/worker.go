package pdf

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("pdf worker closed")

type request struct {
	fn   func(Document) error
	done chan error
}

// Worker owns a Document on a single locked OS thread and serves requests
// one at a time. Callers never touch the Document outside Do.
type Worker struct {
	reqs      chan request
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// StartWorker opens path with open on a dedicated goroutine and returns once
// the document is ready (or failed to open).
func StartWorker(path string, open Opener) (*Worker, error) {
	w := &Worker{
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	ready := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(w.stopped)

		doc, err := open(path)
		if err != nil {
			ready <- err
			return
		}
		ready <- nil

		for {
			select {
			case req := <-w.reqs:
				req.done <- runSafe(doc, req.fn)
			case <-w.quit:
				w.closeErr = doc.Close()
				return
			}
		}
	}()

	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

// Do runs fn against the document on the worker's thread and waits for it.
// Cancellation is observed before fn starts; a running fn completes.
func (w *Worker) Do(ctx context.Context, fn func(Document) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrWorkerClosed
	case w.reqs <- req:
	}
	return <-req.done
}

// Close stops the worker and closes the document.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		close(w.quit)
		<-w.stopped
	})
	return w.closeErr
}

func runSafe(doc Document, fn func(Document) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf worker panic: %v", r)
		}
	}()
	return fn(doc)
}
