package streams

import (
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
)

// Event types carried on the generation stream.
const (
	EventGenerationRequested = "generation.requested"
	VersionV1                = "v1"
)

// GenerationRequested asks a worker to run a persisted generation.
type GenerationRequested struct {
	RunID   string           `json:"run_id"`
	Request pipeline.Request `json:"request"`
}

var generationRequestedSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "request"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "request": {
      "type": "object",
      "required": ["num_questions", "marks_each"],
      "properties": {
        "course": {"type": "string"},
        "topics": {"type": "string"},
        "num_questions": {"type": "integer", "minimum": 1, "maximum": 200},
        "marks_each": {"type": "integer", "minimum": 1, "maximum": 20},
        "difficulty_mix": {"type": "string", "enum": ["", "Mostly Medium", "Easy/Medium", "Medium/Hard"]},
        "bloom_focus": {"type": "string"},
        "mark_distribution": {"type": "object", "additionalProperties": {"type": "integer"}},
        "include_numerical": {"type": "boolean"},
        "include_diagram": {"type": "boolean"},
        "instruction": {"type": "string"},
        "mix": {"type": "object"}
      }
    }
  },
  "additionalProperties": false
}`)

// DefaultRegistry returns a registry with every qbank event schema.
func DefaultRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := reg.Register(EventGenerationRequested, VersionV1, generationRequestedSchema); err != nil {
		return nil, err
	}
	return reg, nil
}
