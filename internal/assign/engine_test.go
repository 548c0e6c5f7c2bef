package assign

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/metrics"
)

func randomRows(n int) *dists.Matrix {
	rng := rand.New(rand.NewSource(42))
	pairs := make([][2]float64, n)
	for i := range pairs {
		pairs[i] = [2]float64{rng.Float64(), rng.Float64()}
	}
	return dists.FromPairs(pairs)
}

func quadrant(c, a float64) int {
	l := 0
	if c > 0.5 {
		l++
	}
	if a > 0.5 {
		l += 2
	}
	return l
}

func TestEngine_LabelsIndependentOfThreads(t *testing.T) {
	X := randomRows(10007)

	single := &Engine{Name: "test", Threads: 1, BlockSize: 1000}
	want, err := single.Labels(context.Background(), X, quadrant)
	require.NoError(t, err)
	require.Len(t, want, X.Rows())

	for _, threads := range []int{2, 4, 16} {
		multi := &Engine{Name: "test", Threads: threads, BlockSize: 333}
		got, err := multi.Labels(context.Background(), X, quadrant)
		require.NoError(t, err)
		assert.Equal(t, want, got, "threads=%d", threads)
	}

	for i := 0; i < X.Rows(); i++ {
		c, a := X.Row(i)
		require.Equal(t, quadrant(c, a), want[i])
	}
}

func TestEngine_Values(t *testing.T) {
	X := randomRows(250)
	e := &Engine{Threads: 3, BlockSize: 64}
	got, err := e.Values(context.Background(), X, 2, func(dst []float64, c, a float64) {
		dst[0] = c + a
		dst[1] = c - a
	})
	require.NoError(t, err)
	require.Len(t, got, 500)
	c, a := X.Row(137)
	assert.Equal(t, c+a, got[274])
	assert.Equal(t, c-a, got[275])

	_, err = e.Values(context.Background(), X, 0, nil)
	require.Error(t, err)
}

func TestEngine_Empty(t *testing.T) {
	e := &Engine{Threads: 4, BlockSize: 10}
	got, err := e.Labels(context.Background(), dists.FromPairs(nil), quadrant)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, e.Chunks(0))
	assert.Equal(t, 3, e.Chunks(21))
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Engine{Threads: 2, BlockSize: 10}
	_, err := e.Labels(ctx, randomRows(100), quadrant)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ProgressAndMetrics(t *testing.T) {
	pr := NewProgressReporter()
	m := metrics.NewCollector("test")
	e := &Engine{Name: "bgmm", Threads: 2, BlockSize: 10, Progress: pr, Metrics: m}

	_, err := e.Labels(context.Background(), randomRows(35), quadrant)
	require.NoError(t, err)
	pr.Close()

	complete, maxRows := 0, 0
	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-pr.Subscribe():
			if !ok {
				assert.Equal(t, 4, complete)
				assert.Equal(t, 35, maxRows, "the last completion covers the batch")
				assert.Equal(t, 4.0, testutil.ToFloat64(m.ChunksProcessed.WithLabelValues("bgmm")))
				assert.Equal(t, 35.0, testutil.ToFloat64(m.RowsAssigned.WithLabelValues("bgmm")))
				return
			}
			if ev.Status == ChunkComplete {
				complete++
				assert.Equal(t, 35, ev.TotalRows)
				maxRows = max(maxRows, ev.DoneRows)
			}
		case <-timeout:
			t.Fatal("timed out draining progress events")
		}
	}
}

func TestProgressReporter_EmitWhenFull_DoesNotBlock(t *testing.T) {
	pr := NewProgressReporter()
	defer pr.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pr.Emit(ChunkEvent{Model: "bgmm", Chunk: i, Status: ChunkWorking})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked when the channel was full")
	}
}

func TestFormatProgress(t *testing.T) {
	ev := ChunkEvent{Model: "bgmm", Chunk: 1, Chunks: 4, Rows: 10, TotalRows: 35, Done: 2, DoneRows: 20, Status: ChunkComplete}
	assert.Equal(t, "bgmm 2/4 chunks, 20/35 rows", FormatProgress(ev))

	ev.Status = ChunkWorking
	assert.Equal(t, "bgmm 2/4 chunks, 20/35 rows; chunk 2 started, 10 rows", FormatProgress(ev))

	failed := ChunkEvent{Model: "dbscan", Chunks: 1, TotalRows: 5, Status: ChunkFailed, Message: "boom"}
	assert.Equal(t, "dbscan 0/1 chunks, 0/5 rows; chunk 1 failed: boom", FormatProgress(failed))
}
