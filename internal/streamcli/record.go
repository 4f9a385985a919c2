package streamcli

import (
	"github.com/tidwall/gjson"
)

// DefaultSalvageTypes are the record types yielded from a truncated final
// frame.
var DefaultSalvageTypes = []string{"assistant"}

// Record is one JSON object read from the subprocess.
type Record struct {
	// Type is the value of the top-level "type" field, "" when absent.
	Type string `json:"type"`

	// Raw is the record exactly as read. It is not valid JSON when Partial.
	Raw []byte `json:"-"`

	// Partial marks a truncated frame salvaged at the end of the stream.
	Partial bool `json:"partial,omitempty"`
}

// Get returns the value at a gjson path, e.g. "message.content.0.text".
func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

func (r Record) String() string {
	return string(r.Raw)
}

// parseRecord accepts a line that is a complete JSON object.
func parseRecord(s string) (Record, bool) {
	if !gjson.Valid(s) {
		return Record{}, false
	}
	parsed := gjson.Parse(s)
	if !parsed.IsObject() {
		return Record{}, false
	}
	return Record{
		Type: parsed.Get("type").String(),
		Raw:  []byte(s),
	}, true
}
