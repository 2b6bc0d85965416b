package guard_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"foldguard/internal/guard"
	"foldguard/internal/testutil"
)

func seedActivity(t *testing.T, h *testutil.Harness, n int, clock *testutil.StubClock) {
	t.Helper()
	for i := 0; i < n; i++ {
		res := guard.ResolutionAllowed
		dir := "tmp"
		if i%2 == 0 {
			res = guard.ResolutionBlockedAndBackedUp
			dir = "docs"
		}
		_, err := h.Activity.Record(context.Background(), guard.ActivityRecord{
			OperationID: fmt.Sprintf("op-%d", i),
			Kind:        guard.KindDelete,
			Path:        filepath.Join("/home/u", dir, fmt.Sprintf("f%d", i)),
			Mode:        guard.ModePreventable,
			Resolution:  res,
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		clock.Advance(time.Second)
	}
}

func TestActivityLog_Query(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	start := clock.Now()
	h := testutil.NewHarness(t, testutil.HarnessOptions{Clock: clock})
	seedActivity(t, h, 250, clock)

	t.Run("pages through everything newest first", func(t *testing.T) {
		recs, err := h.Activity.Collect(ctx, guard.ActivityFilter{})
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if len(recs) != 250 {
			t.Fatalf("len = %d, want 250", len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i].Seq >= recs[i-1].Seq {
				t.Fatalf("records out of order at %d", i)
			}
		}
		if recs[0].OperationID != "op-249" {
			t.Errorf("newest = %s, want op-249", recs[0].OperationID)
		}
	})

	t.Run("sequence can be ranged twice", func(t *testing.T) {
		seq := h.Activity.Query(ctx, guard.ActivityFilter{Limit: 120})
		count := func() int {
			n := 0
			for _, err := range seq {
				if err != nil {
					t.Fatalf("Query() error = %v", err)
				}
				n++
			}
			return n
		}
		if first, second := count(), count(); first != 120 || second != 120 {
			t.Errorf("ranges yielded %d and %d, want 120 both times", first, second)
		}
	})

	t.Run("stops when the caller breaks", func(t *testing.T) {
		n := 0
		for range h.Activity.Query(ctx, guard.ActivityFilter{}) {
			n++
			if n == 3 {
				break
			}
		}
		if n != 3 {
			t.Errorf("n = %d, want 3", n)
		}
	})

	tests := []struct {
		name   string
		filter guard.ActivityFilter
		want   int
	}{
		{"resolution", guard.ActivityFilter{Resolution: guard.ResolutionBlockedAndBackedUp}, 125},
		{"path prefix", guard.ActivityFilter{PathPrefix: "/home/u/tmp"}, 125},
		{"since", guard.ActivityFilter{Since: start.Add(200 * time.Second)}, 50},
		{"until", guard.ActivityFilter{Until: start.Add(10 * time.Second)}, 10},
		{"kind", guard.ActivityFilter{Kind: guard.KindRename}, 0},
		{"limit and filter", guard.ActivityFilter{PathPrefix: "/home/u/docs", Limit: 7}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := h.Activity.Collect(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			if len(recs) != tt.want {
				t.Errorf("len = %d, want %d", len(recs), tt.want)
			}
		})
	}
}
