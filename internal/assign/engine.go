// Package assign applies a fitted model to a large distance matrix in
// parallel, one fixed-size chunk of rows per task.
package assign

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/straincluster/internal/dists"
	"github.com/dusk-indust/straincluster/internal/logging"
	"github.com/dusk-indust/straincluster/internal/metrics"
)

// Default block sizes. Density prediction costs more per row than mixture
// evaluation, so it uses smaller chunks.
const (
	MixtureBlockSize = 100000
	DensityBlockSize = 5000
)

// LabelFunc labels one (core, accessory) row. It must be pure: the engine
// calls it from several goroutines at once.
type LabelFunc func(core, acc float64) int

// ValueFunc writes k values for one row into dst. Same purity rules as
// LabelFunc.
type ValueFunc func(dst []float64, core, acc float64)

// Engine partitions the rows of a matrix into chunks of BlockSize and
// assigns them on up to Threads goroutines. The output buffer is allocated
// once and every task writes only its own row range, so results do not
// depend on Threads.
type Engine struct {
	// Name labels progress events and metrics, usually the model kind.
	Name      string
	Threads   int
	BlockSize int

	Progress *ProgressReporter
	Metrics  *metrics.Collector
}

// Labels returns one label per row of X.
func (e *Engine) Labels(ctx context.Context, X *dists.Matrix, fn LabelFunc) ([]int, error) {
	out := make([]int, X.Rows())
	err := e.run(ctx, X, func(view *dists.Matrix, start, end int) {
		dst := out[start:end]
		for i := range dst {
			c, a := view.Row(i)
			dst[i] = fn(c, a)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Values returns k values per row of X, row-major.
func (e *Engine) Values(ctx context.Context, X *dists.Matrix, k int, fn ValueFunc) ([]float64, error) {
	if k < 1 {
		return nil, errors.Errorf("assign: need at least one value per row, got %d", k)
	}
	out := make([]float64, X.Rows()*k)
	err := e.run(ctx, X, func(view *dists.Matrix, start, end int) {
		dst := out[start*k : end*k]
		for i := 0; i < end-start; i++ {
			c, a := view.Row(i)
			fn(dst[i*k:(i+1)*k], c, a)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Chunks returns the number of chunks n rows split into.
func (e *Engine) Chunks(n int) int {
	bs := e.blockSize()
	return (n + bs - 1) / bs
}

func (e *Engine) blockSize() int {
	if e.BlockSize < 1 {
		return MixtureBlockSize
	}
	return e.BlockSize
}

func (e *Engine) threads() int {
	if e.Threads < 1 {
		return 1
	}
	return e.Threads
}

// run dispatches one task per chunk and waits for all of them. Cancellation
// is checked before each chunk starts; a chunk in flight always completes.
func (e *Engine) run(ctx context.Context, X *dists.Matrix, work func(view *dists.Matrix, start, end int)) error {
	n := X.Rows()
	bs := e.blockSize()
	chunks := e.Chunks(n)
	log := logging.Logger(ctx).WithFields(logrus.Fields{
		"model":   e.Name,
		"rows":    n,
		"chunks":  chunks,
		"threads": e.threads(),
	})
	log.Debug("assigning distances")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.threads())

	var doneChunks, doneRows atomic.Int64
	event := func(c, rows int, status ChunkStatus) ChunkEvent {
		return ChunkEvent{
			Model:     e.Name,
			Chunk:     c,
			Chunks:    chunks,
			Rows:      rows,
			TotalRows: n,
			Done:      int(doneChunks.Load()),
			DoneRows:  int(doneRows.Load()),
			Status:    status,
		}
	}

	for c := 0; c < chunks; c++ {
		start := c * bs
		end := min(start+bs, n)
		e.Progress.Emit(event(c, end-start, ChunkPending))

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				ev := event(c, end-start, ChunkFailed)
				ev.Message = err.Error()
				e.Progress.Emit(ev)
				return err
			}
			e.Progress.Emit(event(c, end-start, ChunkWorking))

			began := time.Now()
			work(X.Slice(start, end), start, end)
			e.Metrics.ObserveChunk(e.Name, end-start, time.Since(began))

			rows := doneRows.Add(int64(end - start))
			ev := event(c, end-start, ChunkComplete)
			ev.Done, ev.DoneRows = int(doneChunks.Add(1)), int(rows)
			e.Progress.Emit(ev)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "assign: batch aborted")
	}
	return nil
}
