package realtime

import "strings"

// StreamProgressPrefix prefixes per-operation progress streams.
const StreamProgressPrefix = "progress."

// Events published on progress streams.
const (
	EventTransfer = "transfer"
	EventBatch    = "batch"
	EventSync     = "sync"
	EventComplete = "complete"
)

// ProgressStream returns the stream name for a progress id, or "" for a blank id.
func ProgressStream(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return normalizeStream(StreamProgressPrefix + id)
}

func isProgressStream(stream string) bool {
	return strings.HasPrefix(stream, StreamProgressPrefix) && len(stream) > len(StreamProgressPrefix)
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	result := make([]string, 0, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, dup := seen[stream]; dup {
			continue
		}
		seen[stream] = struct{}{}
		result = append(result, stream)
	}
	return result
}
