// Package registry validates raw workflow node definitions before they
// reach the typed model layer. Validation happens against per-kind JSON
// schemas so authoring tools get field-level errors instead of a decode
// failure.
package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/missiond/missiond/pkg/models"
)

var nodeConfigSchemas = map[models.NodeKind]map[string]any{
	models.NodeKindCondition: {
		"type": "object",
		"properties": map[string]any{
			"rules": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"expression", "operator"},
					"properties": map[string]any{
						"expression": map[string]any{"type": "string", "minLength": 1},
						"operator": map[string]any{
							"type": "string",
							"enum": []string{"exists", "not_exists", "equals", "not_equals", "contains", "greater_than", "less_than", "regex"},
						},
						"value": map[string]any{"type": "string"},
					},
				},
			},
			"logic": map[string]any{"type": "string", "enum": []string{"all", "any"}},
		},
	},
	models.NodeKindSwitch: {
		"type":     "object",
		"required": []string{"expression"},
		"properties": map[string]any{
			"expression": map[string]any{"type": "string", "minLength": 1},
			"cases": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"value"},
					"properties": map[string]any{
						"value": map[string]any{"type": "string"},
						"port":  map[string]any{"type": "string"},
					},
				},
			},
		},
	},
	models.NodeKindLoop: {
		"type":     "object",
		"required": []string{"input_expression"},
		"properties": map[string]any{
			"input_expression": map[string]any{"type": "string", "minLength": 1},
			"max_iterations":   map[string]any{"type": "integer", "minimum": 1, "maximum": 1000},
		},
	},
	models.NodeKindMerge: {
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{"type": "string"},
		},
	},
	models.NodeKindSplit: {
		"type": "object",
	},
	models.NodeKindWait: {
		"type":     "object",
		"required": []string{"wait_mode"},
		"properties": map[string]any{
			"wait_mode":   map[string]any{"type": "string", "enum": []string{"duration", "until_time", "webhook"}},
			"duration_ms": map[string]any{"type": "integer", "minimum": 0},
			"until":       map[string]any{"type": "string"},
		},
	},
	models.NodeKindWebSearch: {
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]any{
			"query":       map[string]any{"type": "string", "minLength": 1},
			"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
		},
	},
	models.NodeKindHTTPRequest: {
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "minLength": 1},
			"method":  map[string]any{"type": "string"},
			"headers": map[string]any{"type": "object"},
			"body":    map[string]any{"type": "string"},
			"authentication": map[string]any{
				"type":     "object",
				"required": []string{"type"},
				"properties": map[string]any{
					"type":   map[string]any{"type": "string", "enum": []string{"bearer", "basic", "header"}},
					"token":  map[string]any{"type": "string"},
					"header": map[string]any{"type": "string"},
					"value":  map[string]any{"type": "string"},
				},
			},
		},
	},
	models.NodeKindRSSFeed: {
		"type":     "object",
		"required": []string{"url"},
		"properties": map[string]any{
			"url":             map[string]any{"type": "string", "minLength": 1},
			"max_items":       map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			"filter_keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	},
	models.NodeKindFinanceProvider: {
		"type":     "object",
		"required": []string{"intent"},
		"properties": map[string]any{
			"intent": map[string]any{"type": "string", "minLength": 1},
			"params": map[string]any{"type": "object"},
		},
	},
}

// SupportedKinds lists every node kind the registry knows, in no
// particular order.
func SupportedKinds() []models.NodeKind {
	kinds := make([]models.NodeKind, 0, len(nodeConfigSchemas))
	for kind := range nodeConfigSchemas {
		kinds = append(kinds, kind)
	}

	return kinds
}

// ValidateNodeConfig validates a raw config payload against the schema
// for the given kind.
func ValidateNodeConfig(kind models.NodeKind, config map[string]any) error {
	schema, ok := nodeConfigSchemas[kind]
	if !ok {
		return fmt.Errorf("unknown node kind: %q", kind)
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate node config: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, validationError := range result.Errors() {
			messages = append(messages, validationError.String())
		}

		return fmt.Errorf("invalid %s node config: %s", kind, strings.Join(messages, "; "))
	}

	return nil
}

// DecodeNode validates and decodes a raw node definition into the typed
// union in one step.
func DecodeNode(data []byte) (*models.WorkflowNode, error) {
	var envelope struct {
		Kind   models.NodeKind `json:"kind"`
		Config map[string]any  `json:"config"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode node definition: %w", err)
	}

	if envelope.Config == nil {
		envelope.Config = map[string]any{}
	}

	if err := ValidateNodeConfig(envelope.Kind, envelope.Config); err != nil {
		return nil, err
	}

	var node models.WorkflowNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to decode node definition: %w", err)
	}

	return &node, nil
}
