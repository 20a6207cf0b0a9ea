package messagequeue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectCardEvents:
		_, err := DecodeCardEvents(data)
		return err
	case SubjectSnapshotsRecorded:
		var p SnapshotRecordedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.BoardID == "" || p.Date == "" {
			return fmt.Errorf("schema validation failed for %s: board_id and date are required", subject)
		}
	case SubjectWIPViolations:
		var p WIPViolationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}

// DecodeCardEvents accepts a single CardEventPayload object or an array of them.
func DecodeCardEvents(data []byte) ([]CardEventPayload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []CardEventPayload
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("schema validation failed for %s: %w", SubjectCardEvents, err)
		}
		return batch, nil
	}
	var one CardEventPayload
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("schema validation failed for %s: %w", SubjectCardEvents, err)
	}
	return []CardEventPayload{one}, nil
}
