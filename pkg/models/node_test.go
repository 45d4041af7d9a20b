package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missiond/missiond/pkg/models"
)

func TestWorkflowNode_UnmarshalDispatchesOnKind(t *testing.T) {
	t.Parallel()

	raw := `{
		"id": "n1",
		"kind": "condition",
		"name": "price check",
		"config": {
			"rules": [{"expression": "{{.nodes.fetch.text}}", "operator": "contains", "value": "BTC"}],
			"logic": "all"
		}
	}`

	var node models.WorkflowNode
	require.NoError(t, json.Unmarshal([]byte(raw), &node))

	assert.Equal(t, "n1", node.ID)
	assert.Equal(t, models.NodeKindCondition, node.Kind)
	require.NotNil(t, node.Condition)
	require.Len(t, node.Condition.Rules, 1)
	assert.Equal(t, models.OperatorContains, node.Condition.Rules[0].Operator)
	assert.Nil(t, node.HTTPRequest)
	assert.Nil(t, node.Switch)
}

func TestWorkflowNode_UnmarshalRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	raw := `{"id": "n1", "kind": "teleport", "config": {}}`

	var node models.WorkflowNode
	err := json.Unmarshal([]byte(raw), &node)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node kind")
}

func TestWorkflowNode_RoundTrip(t *testing.T) {
	t.Parallel()

	original := models.WorkflowNode{
		ID:   "n2",
		Kind: models.NodeKindHTTPRequest,
		Name: "fetch prices",
		HTTPRequest: &models.HTTPRequestConfig{
			URL:    "https://api.example.com/prices",
			Method: "GET",
			Headers: map[string]string{
				"Accept": "application/json",
			},
		},
	}

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded models.WorkflowNode
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Kind, decoded.Kind)
	require.NotNil(t, decoded.HTTPRequest)
	assert.Equal(t, original.HTTPRequest.URL, decoded.HTTPRequest.URL)
	assert.Equal(t, original.HTTPRequest.Headers, decoded.HTTPRequest.Headers)
}

func TestWorkflowNode_EveryKindDecodes(t *testing.T) {
	t.Parallel()

	for _, kind := range models.NodeKinds() {
		raw := `{"id": "n", "kind": "` + string(kind) + `", "config": {}}`

		var node models.WorkflowNode
		require.NoError(t, json.Unmarshal([]byte(raw), &node), "kind %s", kind)
		assert.Equal(t, kind, node.Kind)
	}
}

func TestJobRunStatus_Terminal(t *testing.T) {
	t.Parallel()

	terminal := []models.JobRunStatus{
		models.JobRunStatusSucceeded,
		models.JobRunStatusFailed,
		models.JobRunStatusDead,
		models.JobRunStatusCancelled,
	}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), "status %s", status)
		assert.False(t, status.IsInflight(), "status %s", status)
	}

	assert.False(t, models.JobRunStatusPending.IsTerminal())
	assert.True(t, models.JobRunStatusClaimed.IsInflight())
	assert.True(t, models.JobRunStatusRunning.IsInflight())
	assert.False(t, models.JobRunStatusPending.IsInflight())
}
