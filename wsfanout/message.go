package wsfanout

import (
	"encoding/json"
	"errors"

	"github.com/trailcast/orchestrator/model"
)

// ErrUnauthorized is returned by Connect when the supplied API key does
// not match.
var ErrUnauthorized = errors.New("wsfanout: invalid api key")

// wireLogEntry is the JSON frame shape sent to subscribers; Historical
// distinguishes replay-page entries from live-tailed ones (spec.md §9
// open question #3). Type is the message-type discriminator spec.md §6
// names: "log" for every frame this encoder produces.
type wireLogEntry struct {
	Type string `json:"type"`
	model.JobLogEntry
	Historical bool `json:"historical"`
}

func encodeLogEntry(entry model.JobLogEntry, historical bool) ([]byte, error) {
	return json.Marshal(wireLogEntry{Type: "log", JobLogEntry: entry, Historical: historical})
}

// EncodeEvent builds the wire frame Publish sends for a live (non-replay)
// log entry.
func EncodeEvent(entry model.JobLogEntry) ([]byte, error) {
	return encodeLogEntry(entry, false)
}
