package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oxy-hq/oxy-engine/oxyerr"
)

// DefaultDepth is the default bounded channel depth for a run's event
// writer, matching the "typical depth 100" concurrency contract.
const DefaultDepth = 100

// BufWriter multiplexes events from many emitters (parallel goroutines)
// into a single bounded channel that one consumer drains. Producers apply
// backpressure by blocking on Send when the channel is full.
type BufWriter struct {
	ch     chan Event
	once   sync.Once
	closed chan struct{}
}

// NewBufWriter constructs a BufWriter with the given channel depth. depth
// <= 0 uses DefaultDepth.
func NewBufWriter(depth int) *BufWriter {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &BufWriter{ch: make(chan Event, depth), closed: make(chan struct{})}
}

// Writer is the handle an emitter uses to send events. It is cheap to
// clone (it is a thin wrapper over the shared channel plus the emitter's
// own Source), matching the "emitter clones its sender cheaply" design
// note.
type Writer struct {
	buf            *BufWriter
	source         Source
	iterationIndex *int
}

// CreateWriter returns a Writer scoped to a new Source as a child of
// parentID (empty for a root emitter).
func (b *BufWriter) CreateWriter(kind, parentID string) Writer {
	return Writer{buf: b, source: Source{ID: uuid.NewString(), Kind: kind, ParentID: parentID}}
}

// Source returns the Source this writer stamps onto every event it sends.
func (w Writer) Source() Source { return w.source }

// WithChild returns a Writer for a new child emitter rooted at this
// writer's Source.
func (w Writer) WithChild(kind string) Writer {
	child := w.buf.CreateWriter(kind, w.source.ID)
	child.iterationIndex = w.iterationIndex
	return child
}

// WithIterationIndex returns a Writer that stamps every event it sends with
// idx as its Kind.IterationIndex, so a loop iteration's events (spec.md §5,
// scenario E2) can be reconstructed into per-iteration streams downstream.
func (w Writer) WithIterationIndex(idx int) Writer {
	w.iterationIndex = &idx
	return w
}

// Send stamps kind and attributes with this writer's Source and enqueues
// the event, blocking (applying backpressure) if the channel is full.
// Returns oxyerr.Cancelled if ctx is done first.
func (w Writer) Send(ctx context.Context, kind Kind, attributes map[string]any) error {
	if w.iterationIndex != nil && kind.IterationIndex == nil {
		kind.IterationIndex = w.iterationIndex
	}
	ev := Event{Source: w.source, Kind: kind, Attributes: attributes, Timestamp: time.Now()}
	select {
	case w.buf.ch <- ev:
		return nil
	case <-ctx.Done():
		return oxyerr.Wrap(oxyerr.Cancelled, ctx.Err(), "event send cancelled")
	case <-w.buf.closed:
		return oxyerr.New(oxyerr.RuntimeError, "event writer closed")
	}
}

// WriteToHandler drains the writer's channel until ctx is cancelled or
// Close is called, invoking handler.HandleEvent for each event. A handler
// error aborts draining and is returned, matching "exceptions from a
// handler abort draining".
func (b *BufWriter) WriteToHandler(ctx context.Context, handler Handler) error {
	for {
		select {
		case ev, ok := <-b.ch:
			if !ok {
				return nil
			}
			if err := handler.HandleEvent(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			// drain remaining buffered events before returning.
			for {
				select {
				case ev := <-b.ch:
					if err := handler.HandleEvent(ev); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

// Close stops WriteToHandler once the channel has been drained. Safe to
// call multiple times.
func (b *BufWriter) Close() {
	b.once.Do(func() { close(b.closed) })
}
