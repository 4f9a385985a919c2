package streamcli

import (
	"log/slog"
	"strings"
)

// maxPartialBytes caps a pending fragment; longer fragments are dropped.
const maxPartialBytes = 4 << 20

// frameDecoder turns stdout lines into records. A line that does not decode
// is held as a fragment and retried joined with the following lines until
// the join decodes or the stream ends.
type frameDecoder struct {
	salvage []string
	logger  *slog.Logger
	partial string
}

func newFrameDecoder(salvage []string, logger *slog.Logger) *frameDecoder {
	return &frameDecoder{salvage: salvage, logger: logger}
}

// Feed decodes one line. It reports false while a fragment is pending or
// the line was empty.
func (d *frameDecoder) Feed(line string) (Record, bool) {
	line = strings.TrimRight(line, "\r\n")

	if d.partial == "" {
		if strings.TrimSpace(line) == "" {
			return Record{}, false
		}
		if rec, ok := parseRecord(line); ok {
			return rec, true
		}
		d.hold(line)
		return Record{}, false
	}

	joined := d.partial + line
	if rec, ok := parseRecord(joined); ok {
		d.partial = ""
		return rec, true
	}
	d.hold(joined)
	return Record{}, false
}

func (d *frameDecoder) hold(fragment string) {
	if len(fragment) > maxPartialBytes {
		d.logger.Warn("Fragment too large, dropping", "bytes", len(fragment))
		d.partial = ""
		return
	}
	d.partial = fragment
}

// Finish returns the pending fragment as a partial record when it starts
// with a known type marker. Anything else is dropped.
func (d *frameDecoder) Finish() (Record, bool) {
	fragment := strings.TrimSpace(d.partial)
	d.partial = ""
	if fragment == "" {
		return Record{}, false
	}

	for _, typ := range d.salvage {
		if strings.HasPrefix(fragment, `{"type":"`+typ+`"`) {
			d.logger.Debug("Salvaged truncated record", "type", typ, "bytes", len(fragment))
			return Record{Type: typ, Raw: []byte(fragment), Partial: true}, true
		}
	}

	d.logger.Debug("Discarding truncated fragment at end of stream", "bytes", len(fragment))
	return Record{}, false
}

// Pending reports whether a fragment is held.
func (d *frameDecoder) Pending() bool {
	return d.partial != ""
}
