package patient

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SummarySource produces an opaque text summary of a patient's recent
// data for the drafter. An empty string means nothing is on file.
type SummarySource interface {
	Summary(ctx context.Context, patientID string) (string, error)
}

// LogSummarizer renders the most recent log entries as a bullet list.
type LogSummarizer struct {
	store Store
	limit int
}

// NewLogSummarizer summarizes up to limit entries from store.
func NewLogSummarizer(store Store, limit int) *LogSummarizer {
	if limit <= 0 {
		limit = 10
	}
	return &LogSummarizer{store: store, limit: limit}
}

// Summary implements SummarySource.
func (s *LogSummarizer) Summary(ctx context.Context, patientID string) (string, error) {
	if patientID == "" {
		return "", nil
	}
	logs, err := s.store.List(ctx, patientID, s.limit)
	if err != nil {
		return "", fmt.Errorf("list logs for %s: %w", patientID, err)
	}
	if len(logs) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent data log entries for patient %s (newest first):\n", patientID)
	for _, l := range logs {
		fmt.Fprintf(&b, "- %s [%s] %s (source: %s)\n",
			l.Timestamp.Format("2006-01-02 15:04 MST"), l.DataType, FormatContent(l.Content), l.Source)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FormatContent renders log content as "key: value" pairs in key order.
func FormatContent(content map[string]any) string {
	if len(content) == 0 {
		return "(no content)"
	}
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, content[k]))
	}
	return strings.Join(parts, "; ")
}
