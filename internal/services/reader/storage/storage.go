// Package storage defines persistence contracts for the reader's draw
// provenance audit log.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/tarot.space/internal/services/reader/draw"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a record with the same id was already stored.
	ErrAlreadyExists = errors.New("record already exists")
)

// ProvenanceStore persists draw records keyed by provenance id.
type ProvenanceStore interface {
	RecordDraw(ctx context.Context, rec draw.Record) error
	GetDraw(ctx context.Context, id string) (draw.Record, error)
}
