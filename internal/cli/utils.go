// Package cli provides output formatting and flag parsing for the kotae CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const separator = "─────────────────────────────────────────────────────────"

// ParseOutputFormat validates an --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// ParseFilters turns repeated key=value flags into a metadata filter.
func ParseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q (want key=value)", pair)
		}
		filters[key] = value
	}
	return filters, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and its citations to w in the given format.
func WriteAnswer(w io.Writer, resp *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(resp.Answer))
	if len(resp.Citations) == 0 {
		fmt.Fprintf(w, "(no passages retrieved, %dms)\n", resp.QueryTime)
		return nil
	}
	fmt.Fprintf(w, "Sources (%d passages, %dms):\n", len(resp.Citations), resp.QueryTime)
	for _, c := range resp.Citations {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "[%d] %s | Score: %.4f\n", c.ID, c.Source, c.Score)
		snippet := c.Snippet
		if snippet == "" {
			snippet = utils.Truncate(c.Text, 200)
		}
		fmt.Fprintf(w, "%s\n", snippet)
	}
	return nil
}

// WriteStatus writes the service status to w in the given format.
func WriteStatus(w io.Writer, status *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "State:          %s\n", status.State)
	fmt.Fprintf(w, "Documents:      %d\n", status.Documents)
	fmt.Fprintf(w, "Passages:       %d\n", status.Passages)
	fmt.Fprintf(w, "Dimensions:     %d\n", status.Dimensions)
	fmt.Fprintf(w, "Retrieval:      %s\n", status.RetrievalMode)
	fmt.Fprintf(w, "Embedding:      %s\n", status.Embedding)
	fmt.Fprintf(w, "LLM:            %s\n", status.LLM)
	fmt.Fprintf(w, "Chunking:       %d runes, %d overlap\n", status.ChunkSize, status.ChunkOverlap)
	if status.DatabasePath != "" {
		fmt.Fprintf(w, "Database:       %s (%s)\n", status.DatabasePath, FormatBytes(status.DiskUsageBytes))
	}
	return nil
}

// WriteIngestStats writes an ingestion summary to w in the given format.
func WriteIngestStats(w io.Writer, stats indexer.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Ingested %d documents (%d passages) from %d sources; %d already indexed\n",
		stats.Documents, stats.Passages, stats.Sources, stats.Skipped)
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
