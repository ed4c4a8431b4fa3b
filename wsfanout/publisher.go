package wsfanout

import (
	"encoding/json"
	"time"

	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/model"
)

// Adapter satisfies jobmanager.Publisher by fanning job log/progress
// events out through a Fanout keyed by job_id.
type Adapter struct {
	Fanout Fanout
}

func (a *Adapter) PublishLog(jobID string, entry model.JobLogEntry) {
	payload, err := EncodeEvent(entry)
	if err != nil {
		l3.Get().WarnF("wsfanout: encode log entry for job %s failed: %v", jobID, err)
		return
	}
	a.Fanout.Publish(jobID, payload)
}

// PublishProgress encodes a "job_update" frame (spec.md §6 WebSocket
// "Message types sent"): progress and current_step are always present,
// status/error_message are left for a terminal transition to carry
// (jobmanager publishes those through PublishLog at COMPLETED/FAILED/
// STOPPED instead, since Run only exposes progress/log to handlers).
func (a *Adapter) PublishProgress(jobID string, progress float64, step string) {
	frame := struct {
		Type      string    `json:"type"`
		Progress  float64   `json:"progress"`
		Step      string    `json:"current_step,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}{Type: "job_update", Progress: progress, Step: step, Timestamp: time.Now().UTC()}

	payload, err := json.Marshal(frame)
	if err != nil {
		l3.Get().WarnF("wsfanout: encode progress for job %s failed: %v", jobID, err)
		return
	}
	a.Fanout.Publish(jobID, payload)
}
