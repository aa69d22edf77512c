package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestRunCompletes(t *testing.T) {
	var order []string
	var progress bytes.Buffer
	job := New("train").
		Add("load", func(context.Context) error { order = append(order, "load"); return nil }).
		Add("fit", func(context.Context) error { order = append(order, "fit"); return nil })
	job.Progress = &progress

	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if job.Status() != JobCompleted {
		t.Errorf("status %s", job.Status())
	}
	if len(order) != 2 || order[0] != "load" || order[1] != "fit" {
		t.Errorf("steps ran as %v", order)
	}
	if len(job.Results()) != 2 || job.Elapsed() <= 0 {
		t.Errorf("results %v elapsed %v", job.Results(), job.Elapsed())
	}
	if progress.Len() == 0 {
		t.Error("no progress written")
	}

	if err := job.Run(context.Background()); err == nil {
		t.Error("a finished job should not run again")
	}
}

func TestRunStopsAtFailure(t *testing.T) {
	boom := errors.New("boom")
	ranLast := false
	job := New("train",
		Step{Name: "load", Run: func(context.Context) error { return nil }},
		Step{Name: "fit", Run: func(context.Context) error { return boom }},
		Step{Name: "save", Run: func(context.Context) error { ranLast = true; return nil }},
	)

	err := job.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped step error, got %v", err)
	}
	if ranLast || job.Status() != JobFailed {
		t.Errorf("ranLast=%v status=%s", ranLast, job.Status())
	}
	results := job.Results()
	if len(results) != 2 || results[1].Err != boom {
		t.Errorf("results %+v", results)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := New("featurize").
		Add("first", func(context.Context) error { cancel(); return nil }).
		Add("second", func(context.Context) error { t.Error("ran after cancel"); return nil })

	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if job.Status() != JobCancelled {
		t.Errorf("status %s", job.Status())
	}
}
