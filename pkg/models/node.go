package models

import (
	"encoding/json"
	"fmt"
)

// NodeKind identifies the type of a workflow node. The set is closed:
// the node executor dispatches over it exhaustively.
type NodeKind string

const (
	NodeKindCondition       NodeKind = "condition"
	NodeKindSwitch          NodeKind = "switch"
	NodeKindLoop            NodeKind = "loop"
	NodeKindMerge           NodeKind = "merge"
	NodeKindSplit           NodeKind = "split"
	NodeKindWait            NodeKind = "wait"
	NodeKindWebSearch       NodeKind = "web_search"
	NodeKindHTTPRequest     NodeKind = "http_request"
	NodeKindRSSFeed         NodeKind = "rss_feed"
	NodeKindFinanceProvider NodeKind = "finance_provider"
)

// NodeKinds lists every supported node kind.
func NodeKinds() []NodeKind {
	return []NodeKind{
		NodeKindCondition,
		NodeKindSwitch,
		NodeKindLoop,
		NodeKindMerge,
		NodeKindSplit,
		NodeKindWait,
		NodeKindWebSearch,
		NodeKindHTTPRequest,
		NodeKindRSSFeed,
		NodeKindFinanceProvider,
	}
}

// ConditionOperator is one comparison supported by condition rules.
type ConditionOperator string

const (
	OperatorExists      ConditionOperator = "exists"
	OperatorNotExists   ConditionOperator = "not_exists"
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorRegex       ConditionOperator = "regex"
)

// ConditionRule compares a resolved expression against a value.
type ConditionRule struct {
	Expression string            `json:"expression"`
	Operator   ConditionOperator `json:"operator"`
	Value      string            `json:"value,omitempty"`
}

// ConditionConfig evaluates rules joined by "all" (AND) or "any" (OR).
type ConditionConfig struct {
	Rules []ConditionRule `json:"rules"`
	Logic string          `json:"logic,omitempty"`
}

// SwitchCase routes a matched value to an output port.
type SwitchCase struct {
	Value string `json:"value"`
	Port  string `json:"port"`
}

type SwitchConfig struct {
	Expression string       `json:"expression"`
	Cases      []SwitchCase `json:"cases"`
}

type LoopConfig struct {
	InputExpression string `json:"input_expression"`
	MaxIterations   int    `json:"max_iterations,omitempty"`
}

type MergeConfig struct {
	Mode string `json:"mode,omitempty"`
}

type SplitConfig struct{}

// Wait modes. Only duration mode blocks; the others are acknowledged
// immediately and left to the orchestrator's timers.
const (
	WaitModeDuration  = "duration"
	WaitModeUntilTime = "until_time"
	WaitModeWebhook   = "webhook"
)

type WaitConfig struct {
	WaitMode   string `json:"wait_mode"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Until      string `json:"until,omitempty"`
}

type WebSearchConfig struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// HTTPAuthentication carries optional request credentials for HTTP nodes.
type HTTPAuthentication struct {
	Type   string `json:"type"` // "bearer", "basic" or "header"
	Token  string `json:"token,omitempty"`
	Header string `json:"header,omitempty"`
	Value  string `json:"value,omitempty"`
}

type HTTPRequestConfig struct {
	URL            string              `json:"url"`
	Method         string              `json:"method,omitempty"`
	Headers        map[string]string   `json:"headers,omitempty"`
	Body           string              `json:"body,omitempty"`
	Authentication *HTTPAuthentication `json:"authentication,omitempty"`
}

type RSSFeedConfig struct {
	URL            string   `json:"url"`
	MaxItems       int      `json:"max_items,omitempty"`
	FilterKeywords []string `json:"filter_keywords,omitempty"`
}

type FinanceProviderConfig struct {
	Intent string         `json:"intent"`
	Params map[string]any `json:"params,omitempty"`
}

// WorkflowNode is a tagged union over NodeKind: exactly the config field
// matching Kind is populated. Decoding rejects unknown kinds so the union
// stays closed.
type WorkflowNode struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	Name string   `json:"name,omitempty"`

	Condition       *ConditionConfig       `json:"condition,omitempty"`
	Switch          *SwitchConfig          `json:"switch,omitempty"`
	Loop            *LoopConfig            `json:"loop,omitempty"`
	Merge           *MergeConfig           `json:"merge,omitempty"`
	Split           *SplitConfig           `json:"split,omitempty"`
	Wait            *WaitConfig            `json:"wait,omitempty"`
	WebSearch       *WebSearchConfig       `json:"web_search,omitempty"`
	HTTPRequest     *HTTPRequestConfig     `json:"http_request,omitempty"`
	RSSFeed         *RSSFeedConfig         `json:"rss_feed,omitempty"`
	FinanceProvider *FinanceProviderConfig `json:"finance_provider,omitempty"`
}

type workflowNodeEnvelope struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Name   string          `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON decodes the wire form {id, kind, name, config} into the
// typed union, dispatching the config payload on kind.
func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	var envelope workflowNodeEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode node envelope: %w", err)
	}

	n.ID = envelope.ID
	n.Kind = envelope.Kind
	n.Name = envelope.Name

	config := envelope.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	decode := func(target any) error {
		if err := json.Unmarshal(config, target); err != nil {
			return fmt.Errorf("failed to decode %s config for node %s: %w", envelope.Kind, envelope.ID, err)
		}

		return nil
	}

	switch envelope.Kind {
	case NodeKindCondition:
		n.Condition = &ConditionConfig{}

		return decode(n.Condition)
	case NodeKindSwitch:
		n.Switch = &SwitchConfig{}

		return decode(n.Switch)
	case NodeKindLoop:
		n.Loop = &LoopConfig{}

		return decode(n.Loop)
	case NodeKindMerge:
		n.Merge = &MergeConfig{}

		return decode(n.Merge)
	case NodeKindSplit:
		n.Split = &SplitConfig{}

		return decode(n.Split)
	case NodeKindWait:
		n.Wait = &WaitConfig{}

		return decode(n.Wait)
	case NodeKindWebSearch:
		n.WebSearch = &WebSearchConfig{}

		return decode(n.WebSearch)
	case NodeKindHTTPRequest:
		n.HTTPRequest = &HTTPRequestConfig{}

		return decode(n.HTTPRequest)
	case NodeKindRSSFeed:
		n.RSSFeed = &RSSFeedConfig{}

		return decode(n.RSSFeed)
	case NodeKindFinanceProvider:
		n.FinanceProvider = &FinanceProviderConfig{}

		return decode(n.FinanceProvider)
	default:
		return fmt.Errorf("unknown node kind: %q", envelope.Kind)
	}
}

// MarshalJSON writes the wire form {id, kind, name, config}.
func (n WorkflowNode) MarshalJSON() ([]byte, error) {
	var config any

	switch n.Kind {
	case NodeKindCondition:
		config = n.Condition
	case NodeKindSwitch:
		config = n.Switch
	case NodeKindLoop:
		config = n.Loop
	case NodeKindMerge:
		config = n.Merge
	case NodeKindSplit:
		config = n.Split
	case NodeKindWait:
		config = n.Wait
	case NodeKindWebSearch:
		config = n.WebSearch
	case NodeKindHTTPRequest:
		config = n.HTTPRequest
	case NodeKindRSSFeed:
		config = n.RSSFeed
	case NodeKindFinanceProvider:
		config = n.FinanceProvider
	default:
		return nil, fmt.Errorf("unknown node kind: %q", n.Kind)
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s config for node %s: %w", n.Kind, n.ID, err)
	}

	return json.Marshal(workflowNodeEnvelope{
		ID:     n.ID,
		Kind:   n.Kind,
		Name:   n.Name,
		Config: configJSON,
	})
}
