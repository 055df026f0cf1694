package handler

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/kevinmcaleer/page-count/pkg/core/domain"
)

// exportVisit is the wire shape for raw visit export. Timestamps are
// rendered in the canonical layout rather than RFC 3339.
type exportVisit struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Timestamp string `json:"timestamp"`
}

// writeExport renders the visit list in the requested format. The default is
// a JSON envelope with a comma-grouped total; jsonl streams one object per
// line; csv uses a fixed four-column header.
func writeExport(w http.ResponseWriter, format string, visits []domain.Visit) error {
	out := make([]exportVisit, 0, len(visits))
	for _, v := range visits {
		out = append(out, exportVisit{
			ID:        v.ID,
			URL:       v.URL,
			IP:        v.IP,
			UserAgent: v.UserAgent,
			Timestamp: v.TimestampString(),
		})
	}

	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{
			"visits":      out,
			"total_count": humanize.Comma(int64(len(out))),
		})
		return nil

	case "jsonl":
		w.Header().Set("Content-Type", "application/jsonl")
		enc := json.NewEncoder(w)
		for _, v := range out {
			if err := enc.Encode(v); err != nil {
				return fmt.Errorf("%w: encode jsonl: %v", domain.ErrStorage, err)
			}
		}
		return nil

	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"url", "ip", "user_agent", "timestamp"}); err != nil {
			return fmt.Errorf("%w: write csv: %v", domain.ErrStorage, err)
		}
		for _, v := range out {
			row := []string{v.URL, v.IP, v.UserAgent, v.Timestamp}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("%w: write csv: %v", domain.ErrStorage, err)
			}
		}
		cw.Flush()
		return cw.Error()

	default:
		return fmt.Errorf("%w: unknown format %q", domain.ErrValidation, format)
	}
}
