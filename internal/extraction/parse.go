package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// ErrNoJSON is returned when a model reply contains no JSON object
var ErrNoJSON = errors.New("no JSON object found in response")

// parsePayload recovers the JSON object from a model reply
func parsePayload(text string) (invoice.Payload, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.Index(text, "{")
	if start == -1 {
		return nil, ErrNoJSON
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return nil, fmt.Errorf("%w: unterminated object", ErrNoJSON)
	}

	payload, err := invoice.DecodePayload([]byte(text[start : end+1]))
	if err != nil {
		return nil, fmt.Errorf("parsing model reply: %w", err)
	}
	return payload, nil
}
