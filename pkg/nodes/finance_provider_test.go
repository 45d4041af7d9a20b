package nodes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missiond/missiond/pkg/models"
)

type stubCapabilityProvider struct {
	result *CapabilityResult
	err    error

	lastIntent string
	lastParams map[string]any
}

func (s *stubCapabilityProvider) Invoke(_ context.Context, intent string, params map[string]any) (*CapabilityResult, error) {
	s.lastIntent = intent
	s.lastParams = params

	return s.result, s.err
}

func financeNode(config *models.FinanceProviderConfig) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:              "fin-1",
		Kind:            models.NodeKindFinanceProvider,
		FinanceProvider: config,
	}
}

func TestExecuteFinanceProvider_Success(t *testing.T) {
	t.Parallel()

	provider := &stubCapabilityProvider{result: &CapabilityResult{
		OK:   true,
		Data: map[string]any{"symbol": "BTC", "price": 45000.5},
	}}
	executor := newTestExecutor(WithCapabilityProvider(provider))

	output := executor.Execute(context.Background(), financeNode(&models.FinanceProviderConfig{
		Intent: "quote",
		Params: map[string]any{"symbol": "BTC"},
	}), newExecContext())

	require.True(t, output.OK)
	assert.Equal(t, "quote", provider.lastIntent)
	assert.Equal(t, map[string]any{"symbol": "BTC"}, provider.lastParams)
	assert.Equal(t, "price: 45000.5\nsymbol: BTC", output.Text)
	assert.Equal(t, provider.result.Data, output.Data)
}

func TestExecuteFinanceProvider_SafeMessagePreferred(t *testing.T) {
	t.Parallel()

	provider := &stubCapabilityProvider{result: &CapabilityResult{
		OK:          true,
		SafeMessage: "BTC is trading at $45,000.",
		Data:        map[string]any{"price": 45000},
	}}
	executor := newTestExecutor(WithCapabilityProvider(provider))

	output := executor.Execute(context.Background(), financeNode(&models.FinanceProviderConfig{Intent: "quote"}), newExecContext())

	require.True(t, output.OK)
	assert.Equal(t, "BTC is trading at $45,000.", output.Text)
}

func TestExecuteFinanceProvider_ErrorCodePassesThrough(t *testing.T) {
	t.Parallel()

	provider := &stubCapabilityProvider{result: &CapabilityResult{
		OK:          false,
		ErrorCode:   "RATE_LIMITED",
		SafeMessage: "Provider is rate limiting requests.",
		Guidance:    "Retry after 60 seconds.",
	}}
	executor := newTestExecutor(WithCapabilityProvider(provider))

	output := executor.Execute(context.Background(), financeNode(&models.FinanceProviderConfig{Intent: "quote"}), newExecContext())

	require.False(t, output.OK)
	assert.Equal(t, "RATE_LIMITED", output.ErrorCode)
	assert.Equal(t, "Provider is rate limiting requests.", output.Error)
	assert.Equal(t, "Retry after 60 seconds.", output.Data["guidance"])
}

func TestExecuteFinanceProvider_InvokeError(t *testing.T) {
	t.Parallel()

	provider := &stubCapabilityProvider{err: errors.New("bridge down")}
	executor := newTestExecutor(WithCapabilityProvider(provider))

	output := executor.Execute(context.Background(), financeNode(&models.FinanceProviderConfig{Intent: "quote"}), newExecContext())

	require.False(t, output.OK)
	assert.Equal(t, "CAPABILITY_INVOKE", output.ErrorCode)
}

func TestExecuteFinanceProvider_NoProvider(t *testing.T) {
	t.Parallel()

	executor := newTestExecutor()

	output := executor.Execute(context.Background(), financeNode(&models.FinanceProviderConfig{Intent: "quote"}), newExecContext())

	require.False(t, output.OK)
	assert.Equal(t, "CAPABILITY_UNAVAILABLE", output.ErrorCode)
}

func TestExecuteFinanceProvider_EmptyIntent(t *testing.T) {
	t.Parallel()

	provider := &stubCapabilityProvider{result: &CapabilityResult{OK: true}}
	executor := newTestExecutor(WithCapabilityProvider(provider))

	output := executor.Execute(context.Background(), financeNode(&models.FinanceProviderConfig{Intent: "  "}), newExecContext())

	require.False(t, output.OK)
	assert.Equal(t, "CAPABILITY_EMPTY_INTENT", output.ErrorCode)
}

func TestCapabilityDataToText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Done.", capabilityDataToText(&CapabilityResult{OK: true}))

	text := capabilityDataToText(&CapabilityResult{
		OK: true,
		Data: map[string]any{
			"zeta":   true,
			"alpha":  "first",
			"nested": map[string]any{"k": "v"},
		},
	})
	assert.Equal(t, "alpha: first\nnested: {\"k\":\"v\"}\nzeta: true", text)
}
