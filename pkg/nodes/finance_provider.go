package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/missiond/missiond/pkg/models"
)

// executeFinanceProvider invokes the capability-tool bridge. Provider
// error codes pass through unchanged so callers can branch on them, and
// only the provider's safe message reaches the output.
func (e *Executor) executeFinanceProvider(ctx context.Context, node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.FinanceProvider

	if e.capabilities == nil {
		return models.FailedOutput("CAPABILITY_UNAVAILABLE", "no capability provider configured")
	}

	if strings.TrimSpace(config.Intent) == "" {
		return models.FailedOutput("CAPABILITY_EMPTY_INTENT", "finance provider intent is empty")
	}

	result, err := e.capabilities.Invoke(ctx, config.Intent, config.Params)
	if err != nil {
		e.logger.Warn("capability invocation failed", "node_id", node.ID, "intent", config.Intent, "error", err)

		return models.FailedOutput("CAPABILITY_INVOKE", "capability invocation failed: "+err.Error())
	}

	if !result.OK {
		output := models.FailedOutput(result.ErrorCode, result.SafeMessage)
		if result.Guidance != "" {
			output.Data = map[string]any{"guidance": result.Guidance}
		}

		return output
	}

	return &models.NodeOutput{
		OK:   true,
		Port: models.PortDefault,
		Text: capabilityDataToText(result),
		Data: result.Data,
	}
}

// capabilityDataToText renders provider data for chat surfaces: the safe
// message when present, otherwise a key-sorted listing of scalar fields.
func capabilityDataToText(result *CapabilityResult) string {
	if result.SafeMessage != "" {
		return result.SafeMessage
	}

	if len(result.Data) == 0 {
		return "Done."
	}

	keys := make([]string, 0, len(result.Data))
	for key := range result.Data {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var text strings.Builder

	for _, key := range keys {
		value := result.Data[key]

		switch typed := value.(type) {
		case string:
			fmt.Fprintf(&text, "%s: %s\n", key, typed)
		case float64, int, int64, bool:
			fmt.Fprintf(&text, "%s: %v\n", key, typed)
		default:
			encoded, err := json.Marshal(typed)
			if err != nil {
				continue
			}

			fmt.Fprintf(&text, "%s: %s\n", key, string(encoded))
		}
	}

	return strings.TrimSpace(text.String())
}
