package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Episode files are validated before decoding so malformed datasets fail
// loudly at load time instead of producing NaN poses mid-training.
const episodeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["episodes"],
  "properties": {
    "episodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["scene_id", "start_position", "start_rotation", "goals"],
        "properties": {
          "scene_id": {"type": "string", "minLength": 1},
          "start_position": {
            "type": "array", "items": {"type": "number"},
            "minItems": 3, "maxItems": 3
          },
          "start_rotation": {
            "type": "array", "items": {"type": "number"},
            "minItems": 4, "maxItems": 4
          },
          "goals": {
            "type": "array", "minItems": 1,
            "items": {
              "type": "object",
              "required": ["position"],
              "properties": {
                "position": {
                  "type": "array", "items": {"type": "number"},
                  "minItems": 3, "maxItems": 3
                }
              }
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("episodes.schema.json", bytes.NewReader([]byte(episodeSchema))); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("episodes.schema.json")
	})
	return schema, schemaErr
}

func validateEpisodeFile(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile episode schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
