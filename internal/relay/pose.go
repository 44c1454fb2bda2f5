package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PromptFromPose builds the feedback prompt for a pose payload, compacting
// the JSON so whitespace differences do not change the prompt.
func PromptFromPose(pose json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(pose)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", errors.New("pose data is required")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("invalid pose data: %w", err)
	}
	return "Provide feedback based on the following pose data: " + buf.String(), nil
}
