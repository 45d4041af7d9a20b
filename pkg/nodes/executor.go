// Package nodes implements the workflow node executors: one typed step of
// a mission graph each. Executors never fail across the execution
// boundary: every failure becomes a NodeOutput with OK=false. All
// network-touching kinds go through safefetch. Graph traversal, fan-out
// and fan-in synchronization belong to the orchestrator, not here.
package nodes

import (
	"context"
	"log/slog"
	"os"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/safefetch"
)

// CapabilityResult is the JSON envelope returned by capability-tool
// providers.
type CapabilityResult struct {
	OK          bool           `json:"ok"`
	ErrorCode   string         `json:"errorCode,omitempty"`
	SafeMessage string         `json:"safeMessage,omitempty"`
	Guidance    string         `json:"guidance,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// CapabilityProvider bridges nodes to external capability tools (finance
// data providers and similar).
type CapabilityProvider interface {
	Invoke(ctx context.Context, intent string, params map[string]any) (*CapabilityResult, error)
}

// Executor runs workflow nodes against an execution context.
type Executor struct {
	fetch          *safefetch.Client
	capabilities   CapabilityProvider
	searchEndpoint string
	logger         *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCapabilityProvider attaches the capability-tool bridge used by
// finance provider nodes.
func WithCapabilityProvider(provider CapabilityProvider) ExecutorOption {
	return func(e *Executor) { e.capabilities = provider }
}

// WithSearchEndpoint overrides the web search endpoint.
func WithSearchEndpoint(endpoint string) ExecutorOption {
	return func(e *Executor) { e.searchEndpoint = endpoint }
}

// NewExecutor creates a node executor over the given guarded client.
func NewExecutor(fetch *safefetch.Client, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	executor := &Executor{
		fetch:          fetch,
		searchEndpoint: os.Getenv("MISSIOND_SEARCH_ENDPOINT"),
		logger:         logger.With("module", "nodes"),
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute dispatches exhaustively over the closed node kind union. A kind
// that decodes is guaranteed a branch here.
func (e *Executor) Execute(ctx context.Context, node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	switch node.Kind {
	case models.NodeKindCondition:
		return e.executeCondition(node, execCtx)
	case models.NodeKindSwitch:
		return e.executeSwitch(node, execCtx)
	case models.NodeKindLoop:
		return e.executeLoop(node, execCtx)
	case models.NodeKindMerge:
		return e.executeMerge(node, execCtx)
	case models.NodeKindSplit:
		return e.executeSplit(node, execCtx)
	case models.NodeKindWait:
		return e.executeWait(ctx, node)
	case models.NodeKindWebSearch:
		return e.executeWebSearch(ctx, node, execCtx)
	case models.NodeKindHTTPRequest:
		return e.executeHTTPRequest(ctx, node, execCtx)
	case models.NodeKindRSSFeed:
		return e.executeRSSFeed(ctx, node, execCtx)
	case models.NodeKindFinanceProvider:
		return e.executeFinanceProvider(ctx, node, execCtx)
	default:
		return models.FailedOutput("UNKNOWN_NODE_KIND", "unknown node kind: "+string(node.Kind))
	}
}
