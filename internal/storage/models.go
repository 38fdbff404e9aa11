package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is the bookkeeping record for one ingested source document.
// The document's text itself lives in the fragments table.
type Document struct {
	ID         string
	SectorID   string
	Title      string
	Format     string
	ByteSize   int
	PageCount  int
	ChunkCount int
	CreatedAt  time.Time
}
