package data

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MarshalJSON serializes the pipeline's data as a flat JSON object, the
// wire representation used for OpaqueBag fields (job parameters, result
// summaries, log details, alert details).
func (p *MapPipeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.data)
}

// UnmarshalJSON populates the pipeline from a flat JSON object. A null or
// empty input leaves the pipeline empty rather than erroring.
func (p *MapPipeline) UnmarshalJSON(b []byte) error {
	if p.data == nil {
		p.data = make(map[string]any)
	}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, &p.data)
}

// Value implements database/sql/driver.Valuer so a Pipeline can be bound
// directly as a jsonb column value.
func (p *MapPipeline) Value() (driver.Value, error) {
	if p == nil || len(p.data) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(p.data)
}

// Scan implements database/sql.Scanner so a jsonb column can be read
// directly into a Pipeline.
func (p *MapPipeline) Scan(src any) error {
	if p.data == nil {
		p.data = make(map[string]any)
	}
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, &p.data)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), &p.data)
	default:
		return fmt.Errorf("data: cannot scan %T into Pipeline", src)
	}
}

// NewEmptyPipeline returns an unidentified Pipeline with no InstanceIdKey
// set, suitable for OpaqueBag use (parameters, result summaries, log
// details) where no pipeline-execution identity is needed.
func NewEmptyPipeline() Pipeline {
	return &MapPipeline{data: make(map[string]any)}
}
