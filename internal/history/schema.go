package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidRequest is returned when a save request body does not match its schema
var ErrInvalidRequest = errors.New("invalid save request")

const saveRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["file_name", "data"],
  "properties": {
    "file_name": {"type": "string", "minLength": 1, "maxLength": 255},
    "document_hash": {"type": "string", "pattern": "^([0-9a-f]{64})?$"},
    "data": {
      "type": "object",
      "properties": {
        "line_items": {"type": ["array", "null"]},
        "items": {"type": ["array", "null"]}
      }
    }
  }
}`

var saveRequest = mustCompile("save-request.json", saveRequestSchema)

func mustCompile(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("adding schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// ValidateSaveRequest checks a raw save request body before it is decoded
func ValidateSaveRequest(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := saveRequest.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
