package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/enotvtapke/virtual-machines-cub/report"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(image string, started time.Time, status string) *report.Report {
	r := report.New(image, []int32{1, 2})
	r.StartedAt = started
	r.Status = status
	r.Output = []int32{3}
	r.Steps = 10
	if status == report.StatusFailed {
		r.Failure = &report.Failure{Kind: "match", Message: "boom", Offset: 12, Line: 3, Column: 4}
	}
	return r
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	r := sample("a.bc", time.Now().UTC(), report.StatusFailed)

	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, r.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Image != "a.bc" || got.Status != report.StatusFailed || got.Steps != 10 {
		t.Errorf("got %+v", got)
	}
	if got.Failure == nil || got.Failure.Line != 3 || got.Failure.Column != 4 {
		t.Errorf("Failure = %+v", got.Failure)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	r := sample("a.bc", time.Now().UTC(), report.StatusOK)
	if err := s.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Steps = 99
	if err := s.Save(ctx, r); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Steps != 99 {
		t.Errorf("List = %+v, want one run with 99 steps", list)
	}
}

func TestListOrderAndFilter(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := sample("a.bc", base, report.StatusOK)
	mid := sample("b.bc", base.Add(time.Minute), report.StatusOK)
	recent := sample("a.bc", base.Add(2*time.Minute), report.StatusFailed)
	for _, r := range []*report.Report{old, mid, recent} {
		if err := s.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		image string
		limit int
		want  []string
	}{
		{"all", "", 0, []string{recent.RunID, mid.RunID, old.RunID}},
		{"limited", "", 2, []string{recent.RunID, mid.RunID}},
		{"by image", "a.bc", 0, []string{recent.RunID, old.RunID}},
		{"unknown image", "z.bc", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.List(ctx, tt.image, tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != len(tt.want) {
				t.Fatalf("List = %+v, want %d runs", list, len(tt.want))
			}
			for i, id := range tt.want {
				if list[i].RunID != id {
					t.Errorf("list[%d] = %s, want %s", i, list[i].RunID, id)
				}
			}
		})
	}

	list, _ := s.List(ctx, "", 1)
	if !list[0].StartedAt.Equal(recent.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", list[0].StartedAt, recent.StartedAt)
	}
}
