package models

import "time"

// ExecutionContext is the ephemeral state of one mission run. It is owned
// by a single run invocation and discarded when the run ends; executors
// read prior node outputs from it and never share it across runs.
type ExecutionContext struct {
	RunID       string                 `json:"run_id"`
	MissionID   string                 `json:"mission_id"`
	UserID      string                 `json:"user_id"`
	Variables   map[string]any         `json:"variables,omitempty"`
	NodeOutputs map[string]*NodeOutput `json:"node_outputs,omitempty"`

	// Now is the run's clock; nil means time.Now.
	Now func() time.Time `json:"-"`

	// order remembers insertion order of node outputs so split/merge can
	// reason about recency.
	order []string
}

// Clock returns the run's current time.
func (c *ExecutionContext) Clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}

	return time.Now().UTC()
}

// RecordOutput stores a node's output under its node ID.
func (c *ExecutionContext) RecordOutput(nodeID string, output *NodeOutput) {
	if c.NodeOutputs == nil {
		c.NodeOutputs = make(map[string]*NodeOutput)
	}

	if _, seen := c.NodeOutputs[nodeID]; !seen {
		c.order = append(c.order, nodeID)
	}

	c.NodeOutputs[nodeID] = output
}

// OutputOrder returns node IDs in the order their outputs were recorded.
func (c *ExecutionContext) OutputOrder() []string {
	return c.order
}

// LastText returns the most recently recorded non-empty output text.
func (c *ExecutionContext) LastText() string {
	for i := len(c.order) - 1; i >= 0; i-- {
		output := c.NodeOutputs[c.order[i]]
		if output != nil && output.Text != "" {
			return output.Text
		}
	}

	return ""
}
