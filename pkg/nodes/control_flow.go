package nodes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/template"
)

const (
	defaultMaxIterations = 100
	maxIterationsCeiling = 1000

	// Hard cap on wait nodes regardless of the requested duration.
	maxWaitDuration = 5 * time.Minute

	mergeSeparator = "\n\n---\n\n"
)

// executeSwitch matches the resolved expression against case values by
// exact equality; unmatched values fall through to the default port.
func (e *Executor) executeSwitch(node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.Switch

	resolved, err := template.ResolveExpr(config.Expression, execCtx)
	if err != nil {
		return models.FailedOutput("SWITCH_EXPRESSION", "failed to resolve switch expression: "+err.Error())
	}

	resolved = strings.TrimSpace(resolved)

	for _, switchCase := range config.Cases {
		if resolved == switchCase.Value {
			port := switchCase.Port
			if port == "" {
				port = switchCase.Value
			}

			return &models.NodeOutput{
				OK:   true,
				Port: port,
				Text: resolved,
				Data: map[string]any{"matched": switchCase.Value},
			}
		}
	}

	return &models.NodeOutput{
		OK:   true,
		Port: models.PortDefault,
		Text: resolved,
	}
}

// executeLoop resolves the input expression into a list of items: a JSON
// array when it parses, newline-split lines otherwise. The item list is
// truncated to the iteration cap; iterating over the items is the
// orchestrator's job.
func (e *Executor) executeLoop(node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.Loop

	resolved, err := template.ResolveExpr(config.InputExpression, execCtx)
	if err != nil {
		return models.FailedOutput("LOOP_EXPRESSION", "failed to resolve loop input: "+err.Error())
	}

	maxIterations := config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	if maxIterations > maxIterationsCeiling {
		maxIterations = maxIterationsCeiling
	}

	items := parseLoopItems(resolved)
	if len(items) > maxIterations {
		items = items[:maxIterations]
	}

	if len(items) == 0 {
		return &models.NodeOutput{OK: true, Port: models.PortDone}
	}

	return &models.NodeOutput{
		OK:    true,
		Port:  models.PortItem,
		Items: items,
		Data:  map[string]any{"count": len(items)},
	}
}

func parseLoopItems(input string) []any {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var parsed []any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}

	items := make([]any, 0)

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			items = append(items, line)
		}
	}

	return items
}

// executeMerge concatenates all currently-known node output text. The
// executor is intentionally naive: genuine fan-in synchronization is the
// graph orchestrator's responsibility.
func (e *Executor) executeMerge(node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	parts := make([]string, 0)

	for _, nodeID := range execCtx.OutputOrder() {
		output := execCtx.NodeOutputs[nodeID]
		if output != nil && output.Text != "" {
			parts = append(parts, output.Text)
		}
	}

	return &models.NodeOutput{
		OK:   true,
		Port: models.PortDefault,
		Text: strings.Join(parts, mergeSeparator),
		Data: map[string]any{"merged_count": len(parts)},
	}
}

// executeSplit passes through the most recent non-empty upstream text;
// fanning out to downstream ports is the orchestrator's responsibility.
func (e *Executor) executeSplit(_ *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	return &models.NodeOutput{
		OK:   true,
		Port: models.PortDefault,
		Text: execCtx.LastText(),
	}
}

// executeWait blocks only in duration mode, capped at five minutes and
// honoring context cancellation. Until-time and webhook modes are modeled
// as non-blocking acknowledgments; their timers live in the orchestrator.
func (e *Executor) executeWait(ctx context.Context, node *models.WorkflowNode) *models.NodeOutput {
	config := node.Wait

	if config.WaitMode != models.WaitModeDuration {
		return &models.NodeOutput{
			OK:   true,
			Port: models.PortDefault,
			Data: map[string]any{"mode": config.WaitMode, "waited_ms": int64(0)},
		}
	}

	duration := time.Duration(config.DurationMs) * time.Millisecond
	if duration < 0 {
		duration = 0
	}

	if duration > maxWaitDuration {
		duration = maxWaitDuration
	}

	started := time.Now()
	timer := time.NewTimer(duration)

	defer timer.Stop()

	select {
	case <-ctx.Done():
		return models.FailedOutput("WAIT_CANCELLED", "wait cancelled: "+ctx.Err().Error())
	case <-timer.C:
	}

	return &models.NodeOutput{
		OK:   true,
		Port: models.PortDefault,
		Data: map[string]any{"mode": config.WaitMode, "waited_ms": time.Since(started).Milliseconds()},
	}
}
