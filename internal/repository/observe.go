package repository

import (
	"context"

	"github.com/roomlens/roomlens/internal/scan"
	"github.com/roomlens/roomlens/internal/store"
	"go.uber.org/zap"
)

// ObserveScans returns a push-based live view over all scans. The first value
// is the current snapshot; every committed mutation, including sync-state
// write-backs, produces a fresh snapshot. Snapshots coalesce latest-wins for
// slow consumers, so the newest state is always the next receive. The stream
// ends when the context is cancelled or the returned stop function is called.
func (r *Repository) ObserveScans(ctx context.Context) (<-chan []scan.ScanRecord, func()) {
	observeCtx, stop := context.WithCancel(ctx)
	events, cleanup := r.dispatcher.Subscribe(observeCtx)
	out := make(chan []scan.ScanRecord, 1)

	go func() {
		defer cleanup()
		defer close(out)

		r.sendScanSnapshot(observeCtx, out)
		for {
			select {
			case <-observeCtx.Done():
				return
			case event := <-events:
				if event.Collection != store.CollectionScans {
					continue
				}
				r.sendScanSnapshot(observeCtx, out)
			}
		}
	}()

	return out, stop
}

func (r *Repository) sendScanSnapshot(ctx context.Context, out chan []scan.ScanRecord) {
	records, err := r.store.ListScans(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("observe snapshot failed", zap.Error(err))
		}
		return
	}
	select {
	case <-out:
	default:
	}
	out <- records
}

// ObserveNotes returns a push-based live view over the notes of one scan,
// with the same snapshot and coalescing semantics as ObserveScans.
func (r *Repository) ObserveNotes(ctx context.Context, scanID scan.ScanID) (<-chan []scan.NoteRecord, func()) {
	observeCtx, stop := context.WithCancel(ctx)
	events, cleanup := r.dispatcher.Subscribe(observeCtx)
	out := make(chan []scan.NoteRecord, 1)

	go func() {
		defer cleanup()
		defer close(out)

		r.sendNoteSnapshot(observeCtx, scanID, out)
		for {
			select {
			case <-observeCtx.Done():
				return
			case event := <-events:
				if event.Collection != store.CollectionNotes {
					continue
				}
				r.sendNoteSnapshot(observeCtx, scanID, out)
			}
		}
	}()

	return out, stop
}

func (r *Repository) sendNoteSnapshot(ctx context.Context, scanID scan.ScanID, out chan []scan.NoteRecord) {
	records, err := r.store.ListNotes(ctx, scanID.String())
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("observe snapshot failed", zap.Error(err))
		}
		return
	}
	select {
	case <-out:
	default:
	}
	out <- records
}
