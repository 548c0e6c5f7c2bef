package assign

import "fmt"

// ChunkStatus is the state of one chunk within an assignment batch.
type ChunkStatus string

const (
	ChunkPending  ChunkStatus = "pending"
	ChunkWorking  ChunkStatus = "working"
	ChunkComplete ChunkStatus = "complete"
	ChunkFailed   ChunkStatus = "failed"
)

// ChunkEvent reports progress on one chunk. Done and DoneRows count the
// chunks and rows of the batch finished when the event was sent, this chunk
// included.
type ChunkEvent struct {
	Model     string
	Chunk     int
	Chunks    int
	Rows      int
	TotalRows int
	Done      int
	DoneRows  int
	Status    ChunkStatus
	Message   string
}

// ProgressReporter emits chunk events through a buffered channel.
type ProgressReporter struct {
	ch chan ChunkEvent
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ChunkEvent, 64),
	}
}

// Emit sends an event without blocking. If the channel is full, the event is
// dropped.
func (pr *ProgressReporter) Emit(event ChunkEvent) {
	if pr == nil {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming events.
func (pr *ProgressReporter) Subscribe() <-chan ChunkEvent {
	return pr.ch
}

// Close closes the event channel.
func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// FormatProgress renders event as one log line, e.g.
//
//	bgmm 3/4 chunks, 30/35 rows
func FormatProgress(event ChunkEvent) string {
	batch := fmt.Sprintf("%s %d/%d chunks, %d/%d rows", event.Model, event.Done, event.Chunks, event.DoneRows, event.TotalRows)
	switch event.Status {
	case ChunkPending:
		return fmt.Sprintf("%s; chunk %d queued", batch, event.Chunk+1)
	case ChunkWorking:
		return fmt.Sprintf("%s; chunk %d started, %d rows", batch, event.Chunk+1, event.Rows)
	case ChunkComplete:
		return batch
	case ChunkFailed:
		return fmt.Sprintf("%s; chunk %d failed: %s", batch, event.Chunk+1, event.Message)
	default:
		return fmt.Sprintf("%s; chunk %d %s", batch, event.Chunk+1, event.Status)
	}
}
