// Package cli provides output formatting for the fastembed command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/fastembed/internal/artifact"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// PreviewComponents is how many vector components text output shows.
const PreviewComponents = 6

// EmbeddedText is one input and its vector.
type EmbeddedText struct {
	Index  int       `json:"index"`
	Source string    `json:"source,omitempty"`
	Text   string    `json:"text"`
	Vector []float32 `json:"embedding"`
}

// EmbeddingResult is the output of the embed command.
type EmbeddingResult struct {
	Model      string         `json:"model"`
	Dimensions int            `json:"dimensions"`
	TookMs     int64          `json:"took_ms"`
	Items      []EmbeddedText `json:"items"`
}

// WriteEmbeddings writes result to w in the given format.
func WriteEmbeddings(w io.Writer, result *EmbeddingResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "Embedded %d texts with %s (%d dimensions) in %dms\n\n",
		len(result.Items), result.Model, result.Dimensions, result.TookMs)
	for _, it := range result.Items {
		label := fmt.Sprintf("[%d]", it.Index)
		if it.Source != "" {
			label += " " + it.Source
		}
		fmt.Fprintf(w, "%s %q\n", label, utils.Truncate(strings.Join(strings.Fields(it.Text), " "), 60))
		fmt.Fprintf(w, "    norm=%.4f %s\n", utils.L2Norm(it.Vector), preview(it.Vector))
	}
	return nil
}

func preview(v []float32) string {
	n := min(len(v), PreviewComponents)
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%.4f", v[i])
	}
	if len(v) > n {
		parts = append(parts, fmt.Sprintf("... (%d more)", len(v)-n))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// SimilarityResult holds pairwise cosine similarities of the inputs.
type SimilarityResult struct {
	Model  string      `json:"model"`
	Texts  []string    `json:"texts"`
	Matrix [][]float64 `json:"matrix"`
}

// NewSimilarityResult computes the full cosine similarity matrix of vecs.
func NewSimilarityResult(model string, texts []string, vecs [][]float32) *SimilarityResult {
	m := make([][]float64, len(vecs))
	for i := range vecs {
		m[i] = make([]float64, len(vecs))
		for j := range vecs {
			m[i][j] = utils.CosineSimilarity(vecs[i], vecs[j])
		}
	}
	return &SimilarityResult{Model: model, Texts: texts, Matrix: m}
}

// WriteSimilarity writes the matrix as a table or JSON.
func WriteSimilarity(w io.Writer, result *SimilarityResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	for i, t := range result.Texts {
		fmt.Fprintf(w, "[%d] %s\n", i, utils.Truncate(t, 60))
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for j := range result.Texts {
		fmt.Fprintf(tw, "[%d]\t", j)
	}
	fmt.Fprintln(tw)
	for i, row := range result.Matrix {
		fmt.Fprintf(tw, "[%d]\t", i)
		for _, s := range row {
			fmt.Fprintf(tw, "%.4f\t", s)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

type modelRow struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	Dimensions   int    `json:"dimensions"`
	Pooling      string `json:"pooling"`
	Quantized    bool   `json:"quantized"`
	MaxSeqLength int    `json:"max_seq_length"`
	Description  string `json:"description"`
	Cached       bool   `json:"cached"`
}

// WriteModels lists the catalog. cached marks model ids present in the cache.
func WriteModels(w io.Writer, specs []models.ModelSpec, cached map[string]bool, format OutputFormat) error {
	if format == OutputJSON {
		rows := make([]modelRow, len(specs))
		for i, s := range specs {
			rows[i] = modelRow{
				Name:         s.Name,
				ID:           s.ID,
				Dimensions:   s.Dim,
				Pooling:      s.Pooling.String(),
				Quantized:    s.Quantized,
				MaxSeqLength: s.MaxSeqLength,
				Description:  s.Description,
				Cached:       cached[s.ID],
			}
		}
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tDIM\tPOOLING\tCACHED\tDESCRIPTION")
	for _, s := range specs {
		mark := ""
		if cached[s.ID] {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", s.Name, s.ID, s.Dim, s.Pooling, mark, s.Description)
	}
	return tw.Flush()
}

// WriteCacheEntries lists complete cache entries.
func WriteCacheEntries(w io.Writer, entries []artifact.Entry, format OutputFormat) error {
	if format == OutputJSON {
		if entries == nil {
			entries = []artifact.Entry{}
		}
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No cached models")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tSIZE\tDOWNLOADED\tPATH")
	var total int64
	for _, e := range entries {
		total += e.Bytes
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ModelID, FormatBytes(e.Bytes), e.CompletedAt.Local().Format(time.DateTime), e.Dir)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d models, %s\n", len(entries), FormatBytes(total))
	return nil
}

// FormatBytes renders n with a binary unit.
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

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
