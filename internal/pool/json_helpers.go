package pool

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// EncodeJSON marshals the value to JSON bytes without HTML escaping.
func EncodeJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// WriteStatsJSON writes the stats snapshot as an indented JSON document.
func WriteStatsJSON(w io.Writer, stats []Stats) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if stats == nil {
		stats = []Stats{}
	}
	if err := encoder.Encode(struct {
		Pools []Stats `json:"pools"`
	}{Pools: stats}); err != nil {
		return fmt.Errorf("write stats json: %w", err)
	}
	return nil
}
