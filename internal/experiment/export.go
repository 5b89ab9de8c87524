package experiment

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

type jsonExport struct {
	ExperimentID string   `json:"experimentId"`
	Results      []Result `json:"results"`
}

// Export writes the result log of one experiment in format.
func Export(w io.Writer, format, experimentID string, results []Result) error {
	switch format {
	case FormatCSV:
		return exportCSV(w, results)
	case FormatJSON:
		if results == nil {
			results = []Result{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonExport{ExperimentID: experimentID, Results: results})
	default:
		return fmt.Errorf("invalid format %q: must be 'csv' or 'json'", format)
	}
}

func exportCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"id", "timestamp", "variant_id", "subject_id", "converted", "goal", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range results {
		value := ""
		if r.Value != nil {
			value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}
		row := []string{
			r.ID,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.VariantID,
			r.SubjectID,
			strconv.FormatBool(r.Converted),
			r.Goal,
			value,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
