package ingest

import (
	"fmt"
	"strings"
)

// Chunk partitions symbols into consecutive batches of at most size entries.
func Chunk(symbols []string, size int) [][]string {
	if size <= 0 || len(symbols) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}

// StreamURL builds the subscription URL for one chunk.
// Combined endpoints take ?streams=a@ticker/b@ticker and deliver envelopes;
// raw endpoints take the same list in the path and deliver bare payloads.
func StreamURL(baseURL string, symbols []string, suffix string, combined bool) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, fmt.Sprintf("%s@%s", strings.ToLower(s), suffix))
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if combined {
		return fmt.Sprintf("%s/stream?streams=%s", baseURL, strings.Join(streams, "/"))
	}
	return fmt.Sprintf("%s/ws/%s", baseURL, strings.Join(streams, "/"))
}
