package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// workflowSourceSchema enforces the "exactly one of inline, localPath,
// minioKey" invariant from spec.md §3/§4.9. Expressing "exactly one of
// three sibling properties" as a validator/v10 struct tag would require a
// bespoke cross-field function per call site; a small JSON-schema oneOf
// does it declaratively and is reusable from any entry point that accepts a
// raw envelope (HTTP handler, tests, offline replay tooling).
const workflowSourceSchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"inline": {},
		"localPath": {"type": "string", "minLength": 1},
		"minioKey": {"type": "string", "minLength": 1}
	},
	"oneOf": [
		{"required": ["inline"]},
		{"required": ["localPath"]},
		{"required": ["minioKey"]}
	]
}`

var (
	structValidator  = validator.New()
	workflowSchema   *jsonschema.Schema
)

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("workflow-source.json", bytes.NewReader([]byte(workflowSourceSchemaDoc))); err != nil {
		panic(fmt.Sprintf("model: invalid embedded workflow-source schema: %v", err))
	}
	schema, err := compiler.Compile("workflow-source.json")
	if err != nil {
		panic(fmt.Sprintf("model: failed to compile workflow-source schema: %v", err))
	}
	workflowSchema = schema
}

// ValidationError aggregates every problem found while validating an
// envelope so the caller can report them all in a single 422, rather than
// failing fast on the first offender.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0]
	}
	return fmt.Sprintf("%d validation problems: %v", len(e.Problems), e.Problems)
}

// ValidateEnvelope runs struct-tag validation plus the workflow-source
// schema check against raw, returning an aggregated *ValidationError when
// anything is wrong.
func ValidateEnvelope(envelope *DispatchEnvelope, raw []byte) error {
	var problems []string

	if err := structValidator.Struct(envelope); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err == nil {
		if wf, ok := doc["workflow"].(map[string]interface{}); ok {
			if err := workflowSchema.Validate(wf); err != nil {
				problems = append(problems, fmt.Sprintf("workflow: %s", err.Error()))
			}
		} else {
			problems = append(problems, "workflow: missing or not an object")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}
