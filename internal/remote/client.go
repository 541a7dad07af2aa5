// Package remote defines the boundary to the networked document store. The
// store is reachable only when connectivity allows; callers treat every
// failure as retryable up to their own bound.
package remote

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the remote store could not be reached or
	// answered with a server-side failure. Transient by assumption.
	ErrUnavailable = errors.New("remote: store unavailable")
	// ErrRejected indicates the remote store refused the payload. Permanent
	// for this content version, but still retried up to the caller's bound.
	ErrRejected = errors.New("remote: payload rejected")
)

// Client is the logical remote document store. Documents are flat field maps;
// findings and materials travel as nested structures, not opaque blobs.
type Client interface {
	// CreateDocument stores a new document and returns its remote identifier.
	CreateDocument(ctx context.Context, collection string, document map[string]any) (string, error)
	// UpsertDocument overwrites the document with the given remote identifier.
	// Safe to repeat: the identifier keys the write, so a retried push never
	// produces a duplicate.
	UpsertDocument(ctx context.Context, collection, remoteID string, document map[string]any) error
	// DeleteDocument removes the document with the given remote identifier.
	DeleteDocument(ctx context.Context, collection, remoteID string) error
}
