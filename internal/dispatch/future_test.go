package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestResultFutureSetThenWait(t *testing.T) {
	f := NewResultFuture()
	f.Set(Result{ExecutionID: "t1", Status: "completed"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, ok := f.Wait(ctx)
	if !ok || r.Status != "completed" {
		t.Fatalf("expected completed result, got %+v ok=%v", r, ok)
	}
}

func TestResultFutureSecondSetIsNoOp(t *testing.T) {
	f := NewResultFuture()
	f.Set(Result{ExecutionID: "t1", Status: "completed"})
	f.Set(Result{ExecutionID: "t1", Status: "failed"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, ok := f.Wait(ctx)
	if !ok || r.Status != "completed" {
		t.Fatalf("expected first Set to win, got %+v", r)
	}
}

func TestResultFutureWaitTimesOutWithoutSet(t *testing.T) {
	f := NewResultFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := f.Wait(ctx)
	if ok {
		t.Fatal("expected Wait to time out when never Set")
	}
}
