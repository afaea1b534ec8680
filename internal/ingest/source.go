package ingest

import "context"

// Source is the ingestion contract shared by the stream and polling variants.
type Source interface {
	Start(ctx context.Context, symbols []string) error
	Stop() error
	IsRunning() bool
	Stats() Stats
}

var (
	_ Source = (*StreamIngestor)(nil)
	_ Source = (*RestPoller)(nil)
)
