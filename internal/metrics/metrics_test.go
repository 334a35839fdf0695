package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if bulletinRunsTotal == nil || bulletinCacheLookupsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCacheLookup(t *testing.T) {
	Init()
	hits := testutil.ToFloat64(bulletinCacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(bulletinCacheLookupsTotal.WithLabelValues("miss"))

	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)

	if got := testutil.ToFloat64(bulletinCacheLookupsTotal.WithLabelValues("hit")) - hits; got != 1 {
		t.Errorf("expected 1 hit, got %f", got)
	}
	if got := testutil.ToFloat64(bulletinCacheLookupsTotal.WithLabelValues("miss")) - misses; got != 2 {
		t.Errorf("expected 2 misses, got %f", got)
	}
}

func TestObserveRecordsSkipsZeroCounts(t *testing.T) {
	Init()
	fresh := testutil.ToFloat64(bulletinRecordsTotal.WithLabelValues("new"))
	seen := testutil.ToFloat64(bulletinRecordsTotal.WithLabelValues("seen"))

	ObserveRecords(3, 0)

	if got := testutil.ToFloat64(bulletinRecordsTotal.WithLabelValues("new")) - fresh; got != 3 {
		t.Errorf("expected 3 new records, got %f", got)
	}
	if got := testutil.ToFloat64(bulletinRecordsTotal.WithLabelValues("seen")) - seen; got != 0 {
		t.Errorf("expected no seen records, got %f", got)
	}
}

func TestObserveRunAndExtraction(t *testing.T) {
	Init()
	runs := testutil.ToFloat64(bulletinRunsTotal.WithLabelValues("success"))
	extractions := testutil.ToFloat64(bulletinExtractionsTotal.WithLabelValues("ai", "error"))

	ObserveRun("success")
	ObserveExtraction("ai", "error")

	if got := testutil.ToFloat64(bulletinRunsTotal.WithLabelValues("success")) - runs; got != 1 {
		t.Errorf("expected 1 run, got %f", got)
	}
	if got := testutil.ToFloat64(bulletinExtractionsTotal.WithLabelValues("ai", "error")) - extractions; got != 1 {
		t.Errorf("expected 1 extraction, got %f", got)
	}
}
