// Package contract enforces the mission output contract: every candidate
// string is sanitized, humanized and bounded before it may leave the
// system. The contract is fail-safe and never blocks delivery; the worst
// input degrades to a generic fallback summary, and every degradation is
// logged with full context for operators.
package contract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/missiond/missiond/pkg/models"
)

// Violation codes recorded when the contract rewrites a candidate.
const (
	ViolationRawJSONPayload        = "raw_json_payload"
	ViolationEmptyPayload          = "empty_payload"
	ViolationJSONAfterFormatting   = "json_after_formatting"
	ViolationDiagnosticsStripped   = "internal_diagnostics_stripped"
	ViolationEmptyAfterDiagnostics = "empty_after_diagnostics_strip"
	ViolationLengthTruncated       = "length_truncated"
)

const (
	fallbackText     = "Your mission ran, but the output could not be displayed. Check the mission history for details."
	truncationMarker = "\n[truncated]"
)

// channelBudgets caps output length per destination, in characters.
var channelBudgets = map[models.Channel]int{
	models.ChannelTelegram: 6000,
	models.ChannelDiscord:  1900,
	models.ChannelEmail:    100000,
	models.ChannelSlack:    3500,
	models.ChannelWebhook:  16000,
	models.ChannelInApp:    8000,
}

const defaultBudget = 4000

// Budget returns the character budget for a channel.
func Budget(channel models.Channel) int {
	if budget, ok := channelBudgets[channel]; ok {
		return budget
	}

	return defaultBudget
}

// Result is the outcome of contract enforcement. Text is always
// deliverable: non-empty, within budget, and never a parseable JSON
// document.
type Result struct {
	Text           string
	Truncated      bool
	GuardTriggered bool
	Violations     []string
}

// Enforcer applies the output contract.
type Enforcer struct {
	logger *slog.Logger
}

// NewEnforcer creates a contract enforcer.
func NewEnforcer(logger *slog.Logger) *Enforcer {
	return &Enforcer{logger: logger.With("module", "contract")}
}

// Enforce runs the full pipeline: JSON humanization, channel-specific
// formatting, residual JSON re-check, diagnostics stripping and budget
// truncation. IDs are logging context only.
func (e *Enforcer) Enforce(channel models.Channel, text string, runID, nodeID string) *Result {
	result := &Result{Text: text}

	if looksLikeJSONDocument(result.Text) {
		result.Text = humanizeJSON(result.Text)
		e.record(result, ViolationRawJSONPayload, channel, runID, nodeID)
	}

	result.Text = formatForChannel(channel, result.Text)

	if strings.TrimSpace(result.Text) == "" {
		result.Text = fallbackText
		e.record(result, ViolationEmptyPayload, channel, runID, nodeID)
	}

	if looksLikeJSONDocument(result.Text) {
		result.Text = humanizeJSON(result.Text)
		if looksLikeJSONDocument(result.Text) || strings.TrimSpace(result.Text) == "" {
			result.Text = fallbackText
		}

		e.record(result, ViolationJSONAfterFormatting, channel, runID, nodeID)
	}

	stripped, changed := stripDiagnostics(result.Text)
	if changed {
		result.Text = stripped
		e.record(result, ViolationDiagnosticsStripped, channel, runID, nodeID)

		if strings.TrimSpace(result.Text) == "" {
			result.Text = fallbackText
			e.record(result, ViolationEmptyAfterDiagnostics, channel, runID, nodeID)
		}

		// Stripping can leave a bare JSON document behind, for example when
		// the only human-readable line was the diagnostics line itself.
		if looksLikeJSONDocument(result.Text) {
			result.Text = humanizeJSON(result.Text)
			if looksLikeJSONDocument(result.Text) || strings.TrimSpace(result.Text) == "" {
				result.Text = fallbackText
			}

			e.record(result, ViolationJSONAfterFormatting, channel, runID, nodeID)
		}
	}

	budget := Budget(channel)
	if len(result.Text) > budget {
		result.Text = truncateToBudget(result.Text, budget)
		result.Truncated = true
		e.record(result, ViolationLengthTruncated, channel, runID, nodeID)
	}

	return result
}

func (e *Enforcer) record(result *Result, violation string, channel models.Channel, runID, nodeID string) {
	result.GuardTriggered = true
	result.Violations = append(result.Violations, violation)

	e.logger.Warn("output contract violation",
		"violation", violation,
		"channel", channel,
		"run_id", runID,
		"node_id", nodeID,
	)
}

// looksLikeJSONDocument reports whether the trimmed text parses as a
// top-level JSON object or array.
func looksLikeJSONDocument(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return false
	}

	first := trimmed[0]
	if first != '{' && first != '[' {
		return false
	}

	return json.Valid([]byte(trimmed))
}

// humanizeJSON renders a JSON document as indented plain text. Objects
// become "key: value" lines with nested structures indented; arrays
// become numbered lists.
func humanizeJSON(text string) string {
	var value any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &value); err != nil {
		return fallbackText
	}

	var builder strings.Builder

	writeHumanValue(&builder, value, 0)

	rendered := strings.TrimSpace(builder.String())
	if rendered == "" {
		return fallbackText
	}

	return rendered
}

func writeHumanValue(builder *strings.Builder, value any, depth int) {
	indent := strings.Repeat("  ", depth)

	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			child := typed[key]

			if isScalar(child) {
				fmt.Fprintf(builder, "%s%s: %s\n", indent, humanizeKey(key), scalarString(child))

				continue
			}

			fmt.Fprintf(builder, "%s%s:\n", indent, humanizeKey(key))
			writeHumanValue(builder, child, depth+1)
		}
	case []any:
		for i, item := range typed {
			if isScalar(item) {
				fmt.Fprintf(builder, "%s%d. %s\n", indent, i+1, scalarString(item))

				continue
			}

			fmt.Fprintf(builder, "%s%d.\n", indent, i+1)
			writeHumanValue(builder, item, depth+1)
		}
	default:
		fmt.Fprintf(builder, "%s%s\n", indent, scalarString(typed))
	}
}

func isScalar(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case nil:
		return "-"
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}

		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// humanizeKey turns snake_case and camelCase keys into readable labels.
func humanizeKey(key string) string {
	key = strings.ReplaceAll(key, "_", " ")

	var builder strings.Builder

	for i, r := range key {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(key[i-1])
			if prev >= 'a' && prev <= 'z' {
				builder.WriteRune(' ')
			}
		}

		builder.WriteRune(r)
	}

	label := builder.String()
	if label == "" {
		return key
	}

	return strings.ToUpper(label[:1]) + label[1:]
}

func truncateToBudget(text string, budget int) string {
	limit := budget - len(truncationMarker)
	if limit < 0 {
		limit = 0
	}

	cut := text[:limit]

	// Avoid splitting a UTF-8 sequence at the cut point.
	for len(cut) > 0 && cut[len(cut)-1] >= 0x80 && cut[len(cut)-1] < 0xC0 {
		cut = cut[:len(cut)-1]
	}

	if len(cut) > 0 && cut[len(cut)-1] >= 0xC0 {
		cut = cut[:len(cut)-1]
	}

	return cut + truncationMarker
}
