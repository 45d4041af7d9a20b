package nodes

import (
	"strconv"
	"strings"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/template"
)

// executeCondition evaluates the node's rules and routes to the true or
// false port. Rule evaluation is total: malformed expressions or values
// make the individual rule false, never an execution failure.
func (e *Executor) executeCondition(node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.Condition
	if len(config.Rules) == 0 {
		return &models.NodeOutput{OK: true, Port: models.PortTrue, Data: map[string]any{"result": true}}
	}

	logic := strings.ToLower(config.Logic)
	if logic == "" {
		logic = "all"
	}

	result := logic == "all"

	for _, rule := range config.Rules {
		matched := evaluateRule(rule, execCtx)

		if logic == "all" {
			result = result && matched
			if !result {
				break
			}
		} else {
			result = result || matched
			if result {
				break
			}
		}
	}

	port := models.PortFalse
	if result {
		port = models.PortTrue
	}

	return &models.NodeOutput{
		OK:   true,
		Port: port,
		Data: map[string]any{"result": result},
	}
}

func evaluateRule(rule models.ConditionRule, execCtx *models.ExecutionContext) bool {
	resolved, err := template.ResolveExpr(rule.Expression, execCtx)
	if err != nil {
		resolved = ""
	}

	resolved = strings.TrimSpace(resolved)

	switch rule.Operator {
	case models.OperatorExists:
		return resolved != ""
	case models.OperatorNotExists:
		return resolved == ""
	case models.OperatorEquals:
		return resolved == rule.Value
	case models.OperatorNotEquals:
		return resolved != rule.Value
	case models.OperatorContains:
		return strings.Contains(resolved, rule.Value)
	case models.OperatorGreaterThan:
		left, right, ok := parseNumericPair(resolved, rule.Value)

		return ok && left > right
	case models.OperatorLessThan:
		left, right, ok := parseNumericPair(resolved, rule.Value)

		return ok && left < right
	case models.OperatorRegex:
		return safeRegexMatch(rule.Value, resolved)
	default:
		return false
	}
}

func parseNumericPair(left, right string) (float64, float64, bool) {
	leftNum, err := strconv.ParseFloat(strings.TrimSpace(left), 64)
	if err != nil {
		return 0, 0, false
	}

	rightNum, err := strconv.ParseFloat(strings.TrimSpace(right), 64)
	if err != nil {
		return 0, 0, false
	}

	return leftNum, rightNum, true
}
