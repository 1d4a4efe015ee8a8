package probe

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ahrav/go-discover/internal/domain"
	"github.com/ahrav/go-discover/internal/llm"
)

//go:embed output.schema.json
var outputSchemaText string

const outputSchemaName = "probe-output.schema.json"

// ErrSchemaViolation wraps schema validation failures of probe output.
var ErrSchemaViolation = errors.New("probe output violates schema")

func compileOutputSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(outputSchemaName, strings.NewReader(outputSchemaText)); err != nil {
		return nil, fmt.Errorf("add probe output schema: %w", err)
	}
	compiled, err := compiler.Compile(outputSchemaName)
	if err != nil {
		return nil, fmt.Errorf("compile probe output schema: %w", err)
	}
	return compiled, nil
}

// parser turns raw model text into a validated ProbeOutput.
type parser struct {
	schema *jsonschema.Schema
}

func (p *parser) parse(content string) (domain.ProbeOutput, json.RawMessage, error) {
	var doc map[string]any
	if err := llm.DecodeObject(content, &doc); err != nil {
		return domain.ProbeOutput{}, nil, err
	}
	normalizeScore(doc)
	if err := p.schema.Validate(doc); err != nil {
		return domain.ProbeOutput{}, nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.ProbeOutput{}, nil, fmt.Errorf("marshal probe output: %w", err)
	}
	var out domain.ProbeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.ProbeOutput{}, nil, fmt.Errorf("decode probe output: %w", err)
	}
	return out, raw, nil
}

// normalizeScore rewrites doc["score"] as a number clamped to 0..100.
// Strings such as "85", "85%" or "85/100" are parsed. Anything it cannot
// interpret is left for the schema to reject.
func normalizeScore(doc map[string]any) {
	switch v := doc["score"].(type) {
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		s = strings.TrimSpace(strings.TrimSuffix(s, "/100"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return
		}
		doc["score"] = domain.ClampScore(f)
	case float64:
		doc["score"] = domain.ClampScore(v)
	}
}
