// Package schema validates transcription documents against their JSON schema.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed transcription.schema.json
var transcriptionSchema string

// ValidationError lists every schema violation found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "transcription document invalid: " + strings.Join(e.Problems, "; ")
}

// Validator checks documents against the compiled transcription schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(transcriptionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile transcription schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate marshals doc and checks it against the schema.
func (v *Validator) Validate(doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return v.ValidateBytes(payload)
}

// ValidateBytes checks an encoded JSON document against the schema.
func (v *Validator) ValidateBytes(payload []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		problems[i] = desc.String()
	}
	return &ValidationError{Problems: problems}
}
