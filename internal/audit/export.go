package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "at", "actor_id", "permission", "granted", "path", "method", "route"}

// WriteCSV renders decisions as CSV.
func WriteCSV(rows []Decision) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, d := range rows {
		record := []string{
			d.ID.String(),
			d.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(d.ActorID, 10),
			d.Permission(),
			strconv.FormatBool(d.Granted),
			string(d.Path),
			d.Method,
			d.Route,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
