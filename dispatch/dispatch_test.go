package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/habitat-sh/builder-sub000/ident"
)

func TestInProcessDispatcherDeliversOutcomes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := NewInProcessDispatcher(ctx, 2, func(_ context.Context, job Job) error {
		if job.JobID == "fail-me" {
			return errors.New("boom")
		}
		return nil
	})

	if err := d.Dispatch(ctx, Job{JobID: "ok", Ident: ident.MustParse("a/foo"), Target: "x86_64-linux"}); err != nil {
		t.Fatalf("Dispatch ok: %v", err)
	}
	if err := d.Dispatch(ctx, Job{JobID: "fail-me", Ident: ident.MustParse("a/bar"), Target: "x86_64-linux"}); err != nil {
		t.Fatalf("Dispatch fail-me: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.Wait() }()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e, ok := <-d.Events():
			if !ok {
				t.Fatalf("events closed early after %d events", i)
			}
			got[e.JobID] = e.Success
		case <-ctx.Done():
			t.Fatalf("timed out waiting for outcomes")
		}
	}
	if err := <-waitErr; err != nil {
		t.Errorf("Wait: %v", err)
	}

	if got["ok"] != true {
		t.Errorf("ok job outcome = %v, want success", got["ok"])
	}
	if got["fail-me"] != false {
		t.Errorf("fail-me job outcome = %v, want failure", got["fail-me"])
	}
}

func TestInProcessDispatcherCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := make(chan struct{})
	d := NewInProcessDispatcher(ctx, 1, func(jobCtx context.Context, _ Job) error {
		close(started)
		<-jobCtx.Done()
		return jobCtx.Err()
	})

	if err := d.Dispatch(ctx, Job{JobID: "long", Ident: ident.MustParse("a/foo"), Target: "x86_64-linux"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	<-started
	if err := d.Cancel(ctx, "long"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case e := <-d.Events():
		if e.Success {
			t.Errorf("canceled job reported success")
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for cancellation outcome")
	}
	_ = d.Wait()
}
