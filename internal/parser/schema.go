package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// candidateSchema 候选人结构化数据的字段约束，标量字段放宽为字符串或数字
const candidateSchema = `{
  "type": "object",
  "properties": {
    "full_name": {"type": ["string", "null"]},
    "emails": {"type": ["array", "null"], "items": {"type": "string"}},
    "phones": {"type": ["array", "null"], "items": {"type": "string"}},
    "location": {"type": ["string", "null"]},
    "linkedin_url": {"type": ["string", "null"]},
    "current_role": {"type": ["string", "null"]},
    "current_employer": {"type": ["string", "null"]},
    "total_experience_years": {"type": ["number", "string", "null"]},
    "current_salary": {"type": ["string", "number", "null"]},
    "expected_salary": {"type": ["string", "number", "null"]},
    "notice_period": {"type": ["string", "number", "null"]},
    "education": {"type": ["array", "null"], "items": {"type": "object"}},
    "experience": {"type": ["array", "null"], "items": {"type": "object"}},
    "skills": {"type": ["array", "null"], "items": {"type": "string"}},
    "languages": {"type": ["array", "null"], "items": {"type": ["string", "object"]}},
    "confidence": {"type": ["number", "string", "null"]}
  },
  "anyOf": [
    {"required": ["full_name"]},
    {"required": ["emails"]},
    {"required": ["experience"]},
    {"required": ["skills"]}
  ]
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func candidateJSONSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("candidate.json", strings.NewReader(candidateSchema)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("candidate.json")
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateCandidateJSON 校验清洗后的 JSON 是否符合候选人字段约束
func ValidateCandidateJSON(data []byte) error {
	schema, err := candidateJSONSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
