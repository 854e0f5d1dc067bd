package stats

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"modfeed_bot/internal/model"
)

// Parse reads per-mod download counts. Each row holds mod id, total downloads and
// unique downloads, optionally followed by one extra column which is ignored.
// Rows that do not fit are skipped with a warning; the file carries no quoting,
// so a bad row never affects the rows after it.
func Parse(data []byte, log *slog.Logger) map[int64]model.DownloadStats {
	out := make(map[int64]model.DownloadStats)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row, err := parseRow(strings.Split(line, ","))
		if err != nil {
			log.Warn("skip stats row", "line", i+1, "error", err)
			continue
		}
		out[row.ModID] = row
	}
	return out
}

func parseRow(record []string) (model.DownloadStats, error) {
	if n := len(record); n != 3 && n != 4 {
		return model.DownloadStats{}, fmt.Errorf("expected 3 or 4 columns, got %d", n)
	}

	var vals [3]int64
	for i := range vals {
		v, err := strconv.ParseInt(strings.TrimSpace(record[i]), 10, 64)
		if err != nil {
			return model.DownloadStats{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return model.DownloadStats{ModID: vals[0], Total: vals[1], Unique: vals[2]}, nil
}
