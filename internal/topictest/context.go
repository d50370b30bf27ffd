// Package topictest contains helpers for testing the pipeline and its
// components.
package topictest

import (
	"context"
	"runtime"
	"testing"
	"time"
)

// CtxShort returns a Context for tests that are expected to complete quickly.
// The context is cancelled after 10 seconds or one second before the deadline
// of the test binary, whichever comes first.
func CtxShort(t *testing.T) context.Context {
	t.Helper()
	return ctxWithin(t, 10*time.Second)
}

func ctxWithin(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()

	// slow runners
	if runtime.GOOS == "windows" && runtime.GOARCH == "386" {
		timeout *= 6
	}
	goal := time.Now().Add(timeout)

	deadline, ok := t.Deadline()
	if !ok || deadline.Add(-time.Second).After(goal) {
		deadline = goal
	} else {
		deadline = deadline.Add(-time.Second)
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	t.Cleanup(cancel)
	return ctx
}
