// Package template provides expression rendering for workflow node
// configuration against a mission run's execution context.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/missiond/missiond/pkg/models"
)

// ResolveExpr renders an expression against the execution context and
// returns the result as a string. Expressions without template actions
// pass through unchanged.
func ResolveExpr(expr string, executionCtx *models.ExecutionContext) (string, error) {
	if !strings.Contains(expr, "{{") {
		return expr, nil
	}

	outputs := make(map[string]any, len(executionCtx.NodeOutputs))

	for nodeID, output := range executionCtx.NodeOutputs {
		if output == nil {
			continue
		}

		outputs[nodeID] = map[string]any{
			"ok":    output.OK,
			"text":  output.Text,
			"data":  output.Data,
			"items": output.Items,
			"port":  output.Port,
		}
	}

	data := map[string]any{
		"node_outputs": outputs,
		"nodes":        outputs, // short alias used by mission authors
		"variables":    executionCtx.Variables,
		"vars":         executionCtx.Variables,
		"run": map[string]any{
			"id":         executionCtx.RunID,
			"mission_id": executionCtx.MissionID,
			"user_id":    executionCtx.UserID,
		},
	}

	return Render(expr, data)
}

// Render executes a text/template expression against arbitrary data.
func Render(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("expr").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse expression '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute expression '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}
