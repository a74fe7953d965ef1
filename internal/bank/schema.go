package bank

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind names a structured output document.
type Kind string

const (
	KindQuestionBank   Kind = "question_bank"
	KindAuditReport    Kind = "audit_report"
	KindTopicPlan      Kind = "topic_plan"
	KindSubjectProfile Kind = "subject_profile"
)

var kinds = []Kind{KindQuestionBank, KindAuditReport, KindTopicPlan, KindSubjectProfile}

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	compileOnce sync.Once
	compiled    map[Kind]*jsonschema.Schema
	compileErr  error
)

// SchemaJSON returns the raw JSON schema for k, suitable for a provider's
// structured-output request.
func SchemaJSON(k Kind) (json.RawMessage, error) {
	data, err := schemaFS.ReadFile("schemas/" + string(k) + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", k, err)
	}
	return json.RawMessage(data), nil
}

// Schema returns the compiled schema for k.
func Schema(k Kind) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[Kind]*jsonschema.Schema, len(kinds))
		compiler := jsonschema.NewCompiler()
		for _, kind := range kinds {
			data, err := SchemaJSON(kind)
			if err != nil {
				compileErr = err
				return
			}
			name := string(kind) + ".json"
			if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", name, err)
				return
			}
		}
		for _, kind := range kinds {
			s, err := compiler.Compile(string(kind) + ".json")
			if err != nil {
				compileErr = fmt.Errorf("compile %s schema: %w", kind, err)
				return
			}
			compiled[kind] = s
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	s, ok := compiled[k]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", k)
	}
	return s, nil
}

const excerptLimit = 512

// SchemaValidationError reports structured output that does not match its schema.
type SchemaValidationError struct {
	Kind    Kind
	Excerpt string
	Err     error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s output does not match schema: %v", e.Kind, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// IsSchemaValidation reports whether err wraps a SchemaValidationError.
func IsSchemaValidation(err error) bool {
	var sve *SchemaValidationError
	return errors.As(err, &sve)
}

// Decode validates raw against the schema for k and unmarshals it into v.
// Nothing is coerced: any mismatch yields a *SchemaValidationError.
func Decode(k Kind, raw []byte, v interface{}) error {
	s, err := Schema(k)
	if err != nil {
		return err
	}
	raw = StripFences(raw)
	fail := func(err error) error {
		ex := string(raw)
		if len(ex) > excerptLimit {
			ex = ex[:excerptLimit]
		}
		return &SchemaValidationError{Kind: k, Excerpt: ex, Err: err}
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fail(fmt.Errorf("not valid JSON: %w", err))
	}
	if err := s.Validate(doc); err != nil {
		return fail(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fail(err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, which some models add
// even in JSON mode.
func StripFences(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = raw[3:]
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	} else {
		raw = bytes.TrimPrefix(raw, []byte("json"))
	}
	raw = bytes.TrimSpace(raw)
	raw = bytes.TrimSuffix(raw, []byte("```"))
	return bytes.TrimSpace(raw)
}
