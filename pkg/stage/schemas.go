package stage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Stage identifiers used for model lookup, schema lookup, and logging.
const (
	StageModeSelect   = "stage0_mode_select"
	StageEnrich       = "stage0_5_enrich"
	StageTodoPlan     = "stage1_todo_plan"
	StageServerSelect = "stage2_0_server_select"
	StageToolPlan     = "stage2_1_tool_plan"
	StageVerifyRoute  = "stage2_3a_verify_route"
	StageVisualVerify = "stage2_3b_visual_verify"
	StageChat         = "stage_chat"
	StageSummary      = "stage8_summary"
	StageAnalysis     = "stage_dev_analysis"
	StageDeepen       = "stage_dev_deepen"
	StageIntervention = "stage_dev_intervention"
)

// stageSchemas holds the per-stage output JSON Schemas. Field types carry the
// validation the parser cannot: enum membership, numeric ranges, required keys.
var stageSchemas = map[string]string{
	StageModeSelect: `{
		"type": "object",
		"properties": {
			"mode": {"type": "string", "enum": ["chat", "task", "dev"]},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasoning": {"type": "string"}
		},
		"required": ["mode", "confidence"]
	}`,
	StageEnrich: `{
		"type": "object",
		"properties": {
			"enriched": {"type": "string"},
			"implicit_requirements": {"type": "array", "items": {"type": "string"}},
			"prerequisites": {"type": "array", "items": {"type": "string"}},
			"technical_specifications": {"type": "object"},
			"estimated_complexity": {"type": "number", "minimum": 1, "maximum": 10}
		},
		"required": ["enriched", "estimated_complexity"]
	}`,
	StageTodoPlan: `{
		"type": "object",
		"properties": {
			"items": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"action": {"type": "string", "minLength": 1},
						"success_criteria": {"type": "string"},
						"suggested_servers": {"type": "array", "items": {"type": "string"}},
						"dependencies": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["action"]
				}
			}
		},
		"required": ["items"]
	}`,
	StageServerSelect: `{
		"type": "object",
		"properties": {
			"selected_servers": {"type": "array", "minItems": 1, "items": {"type": "string"}},
			"reasoning": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"required": ["selected_servers"]
	}`,
	StageToolPlan: `{
		"type": "object",
		"properties": {
			"calls": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"server": {"type": "string"},
						"tool": {"type": "string"},
						"parameters": {"type": "object"},
						"is_long_running": {"type": "boolean"}
					},
					"required": ["tool"]
				}
			}
		},
		"required": ["calls"]
	}`,
	StageVerifyRoute: `{
		"type": "object",
		"properties": {
			"visual_possible": {"type": "boolean"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 100},
			"reason": {"type": "string"},
			"recommended_path": {"type": "string", "enum": ["visual", "data", "hybrid"]}
		},
		"required": ["visual_possible", "recommended_path"]
	}`,
	StageVisualVerify: `{
		"type": "object",
		"properties": {
			"observed": {"type": "string"},
			"matches_criteria": {"type": "boolean"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 100},
			"reason": {"type": "string"},
			"details": {"type": "string"}
		},
		"required": ["matches_criteria", "confidence"]
	}`,
	StageSummary: `{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"tts_phrase": {"type": "string"}
		},
		"required": ["summary"]
	}`,
	StageAnalysis: `{
		"type": "object",
		"properties": {
			"findings": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"title": {"type": "string"},
						"severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
						"file": {"type": "string"},
						"details": {"type": "string"},
						"error_rate": {"type": "number"},
						"complexity": {"type": "number"}
					},
					"required": ["title", "severity"]
				}
			}
		},
		"required": ["findings"]
	}`,
	StageDeepen: `{
		"type": "object",
		"properties": {
			"sub_items": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"action": {"type": "string"},
						"success_criteria": {"type": "string"}
					},
					"required": ["action"]
				}
			}
		},
		"required": ["sub_items"]
	}`,
	StageIntervention: `{
		"type": "object",
		"properties": {
			"changes": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"file": {"type": "string"},
						"description": {"type": "string"},
						"content": {"type": "string"}
					},
					"required": ["file", "description"]
				}
			}
		},
		"required": ["changes"]
	}`,
}

// SchemaSet holds compiled per-stage schemas. Compiled once at startup and
// safe for parallel use afterwards.
type SchemaSet struct {
	compiled map[string]*jsonschema.Schema
	mu       sync.RWMutex
}

// NewSchemaSet compiles all built-in stage schemas.
func NewSchemaSet() (*SchemaSet, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[string]*jsonschema.Schema, len(stageSchemas))

	for stageID, doc := range stageSchemas {
		var parsed any
		if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
			return nil, fmt.Errorf("stage %s schema is not valid JSON: %w", stageID, err)
		}
		name := stageID + ".json"
		if err := compiler.AddResource(name, parsed); err != nil {
			return nil, fmt.Errorf("stage %s schema: %w", stageID, err)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("stage %s schema compile: %w", stageID, err)
		}
		compiled[stageID] = sch
	}

	return &SchemaSet{compiled: compiled}, nil
}

// Validate checks an object against the stage's schema. Stages without a
// registered schema validate trivially.
func (s *SchemaSet) Validate(stageID string, obj map[string]any) error {
	s.mu.RLock()
	sch, ok := s.compiled[stageID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	// jsonschema validates generic values as produced by encoding/json;
	// the parser's output already has that shape.
	return sch.Validate(normalizeForSchema(obj))
}

// normalizeForSchema converts the object into the any-typed shape the
// validator expects (map[string]any with float64 numbers is already correct;
// this guards values produced programmatically with int types).
func normalizeForSchema(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeForSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeForSchema(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
