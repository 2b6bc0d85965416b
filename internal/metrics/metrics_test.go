package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"foldguard/internal/guard"
)

func TestPrometheus_Counters(t *testing.T) {
	p := New()

	p.ObserveResolution(guard.KindDelete, guard.ResolutionBlockedAndBackedUp)
	p.ObserveResolution(guard.KindDelete, guard.ResolutionBlockedAndBackedUp)
	p.ObserveResolution(guard.KindRename, guard.ResolutionAllowed)
	p.IncDropped()
	p.AddEvicted(3)
	p.SetQueueDepth(7)

	if got := testutil.ToFloat64(p.operations.WithLabelValues("delete", "blocked_backed_up")); got != 2 {
		t.Errorf("operations{delete,blocked_backed_up} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.evicted); got != 3 {
		t.Errorf("evicted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(p.queueDepth); got != 7 {
		t.Errorf("queueDepth = %v, want 7", got)
	}
}

func TestPrometheus_Handler(t *testing.T) {
	p := New()
	p.ObserveBackup(20*time.Millisecond, nil)
	p.ObserveBackup(time.Second, errors.New("disk full"))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`foldguard_backup_duration_seconds_count{status="ok"} 1`,
		`foldguard_backup_duration_seconds_count{status="error"} 1`,
		"foldguard_queue_depth",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
