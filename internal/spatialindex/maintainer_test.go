package spatialindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"geoheat/internal/geohash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIndex struct {
	mu       sync.Mutex
	recs     map[string]*Record
	failSet  map[string]bool
	scanErr  error
	onSet    func(id string)
	visits   map[string]int
	setCalls int
}

func newMemIndex(recs ...Record) *memIndex {
	m := &memIndex{recs: map[string]*Record{}, failSet: map[string]bool{}, visits: map[string]int{}}
	for i := range recs {
		r := recs[i]
		m.recs[r.ID] = &r
	}
	return m
}

func (m *memIndex) ScanIndexBatch(_ context.Context, after string, missingOnly bool, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	ids := make([]string, 0, len(m.recs))
	for id, r := range m.recs {
		if id > after && (!missingOnly || r.Geohash == "") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		m.visits[id]++
		out = append(out, *m.recs[id])
	}
	return out, nil
}

func (m *memIndex) SetGeohash(_ context.Context, id, value string) error {
	m.mu.Lock()
	m.setCalls++
	fail := m.failSet[id]
	if !fail {
		m.recs[id].Geohash = value
	}
	hook := m.onSet
	m.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if fail {
		return errors.New("write conflict")
	}
	return nil
}

func (m *memIndex) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.recs))
	for id, r := range m.recs {
		out[id] = r.Geohash
	}
	return out
}

func seedRecords(n int, withHashEvery int) []Record {
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		r := Record{ID: fmt.Sprintf("p%04d", i), Lat: -60 + math.Mod(float64(i)*0.4, 120), Lng: -170 + math.Mod(float64(i)*1.3, 340)}
		if withHashEvery > 0 && i%withHashEvery == 0 {
			r.Geohash, _ = geohash.Encode(r.Lat, r.Lng, DefaultPrecision)
		}
		out = append(out, r)
	}
	return out
}

func TestBackfillFillsMissingAndIsIdempotent(t *testing.T) {
	recs := seedRecords(250, 5)
	recs = append(recs, Record{ID: "zbad", Lat: 95, Lng: 10})
	idx := newMemIndex(recs...)
	m := NewMaintainer(idx, DefaultPrecision, 0)

	rep, err := m.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, JobBackfill, rep.Job)
	assert.Equal(t, 201, rep.Processed)
	assert.Equal(t, 200, rep.Updated)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 3, rep.Batches)

	first := idx.snapshot()
	for _, r := range recs[:250] {
		want, err := geohash.Encode(r.Lat, r.Lng, DefaultPrecision)
		require.NoError(t, err)
		assert.Equal(t, want, first[r.ID])
	}

	rep, err = m.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Updated)
	assert.Equal(t, 1, rep.Failed, "only the unencodable record is still missing")
	assert.Equal(t, first, idx.snapshot())
}

func TestRegenerateOverwritesAtNewPrecision(t *testing.T) {
	idx := newMemIndex(seedRecords(130, 1)...)
	m := NewMaintainer(idx, DefaultPrecision, 50)

	rep, err := m.Regenerate(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Precision)
	assert.Equal(t, 130, rep.Processed)
	assert.Equal(t, 130, rep.Updated)
	assert.Equal(t, 3, rep.Batches)
	for _, g := range idx.snapshot() {
		assert.Len(t, g, 4)
	}

	rep, err = m.Regenerate(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 130, rep.Unchanged)
	assert.Equal(t, 0, rep.Updated)
}

func TestRecordFailuresDoNotAbortBatch(t *testing.T) {
	idx := newMemIndex(seedRecords(20, 0)...)
	idx.failSet["p0003"] = true
	idx.failSet["p0011"] = true
	rep, err := NewMaintainer(idx, 6, 8).Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, rep.Processed)
	assert.Equal(t, 18, rep.Updated)
	assert.Equal(t, 2, rep.Failed)
	assert.Empty(t, idx.snapshot()["p0003"])
}

func TestBatchFetchFailureIsFatal(t *testing.T) {
	idx := newMemIndex(seedRecords(5, 0)...)
	idx.scanErr = errors.New("relation posts does not exist")
	rep, err := NewMaintainer(idx, 0, 0).Backfill(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation posts does not exist")
	assert.Equal(t, 0, rep.Processed)
}

func TestCancellationStopsBetweenBatches(t *testing.T) {
	idx := newMemIndex(seedRecords(300, 0)...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idx.onSet = func(id string) {
		if id == "p0099" {
			cancel()
		}
	}
	rep, err := NewMaintainer(idx, 0, 100).Backfill(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 100, rep.Processed, "the batch in flight completes")
	assert.Equal(t, 1, rep.Batches)

	rep, err = NewMaintainer(idx, 0, 100).Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, rep.Updated, "a rerun picks up where the cancelled run stopped")
}

func TestCursorVisitsEachRecordOncePerPass(t *testing.T) {
	idx := newMemIndex(seedRecords(437, 3)...)
	rep, err := NewMaintainer(idx, 5, 100).Regenerate(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 437, rep.Processed)
	for id, n := range idx.visits {
		assert.Equal(t, 1, n, "record %s", id)
	}
	assert.Len(t, idx.visits, 437)
}

func TestNextDailyAt(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2024, 3, 10, 2, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 10, 3, 0, 0, 0, loc), nextDailyAt(now, loc, 3))
	now = time.Date(2024, 3, 10, 3, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 3, 11, 3, 0, 0, 0, loc), nextDailyAt(now, loc, 3))
	assert.Equal(t, time.Date(2024, 3, 11, 3, 0, 0, 0, loc), nextDailyAt(now.UTC(), loc, 3))
}

func TestStartNightlyBackfillStopsWithContext(t *testing.T) {
	idx := newMemIndex(seedRecords(3, 0)...)
	ctx, cancel := context.WithCancel(context.Background())
	StartNightlyBackfill(ctx, NewMaintainer(idx, 0, 0), time.UTC, 99)
	cancel()
	time.Sleep(10 * time.Millisecond)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	assert.Equal(t, 0, idx.setCalls)
}
