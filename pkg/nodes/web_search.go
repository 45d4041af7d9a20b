package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/safefetch"
	"github.com/missiond/missiond/pkg/template"
)

const defaultMaxSearchResults = 5

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// executeWebSearch queries the configured search endpoint and renders
// results as numbered text alongside structured items.
func (e *Executor) executeWebSearch(ctx context.Context, node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.WebSearch

	if e.searchEndpoint == "" {
		return models.FailedOutput("SEARCH_UNCONFIGURED", "no search endpoint configured")
	}

	query, err := template.ResolveExpr(config.Query, execCtx)
	if err != nil {
		return models.FailedOutput("SEARCH_QUERY_TEMPLATE", "failed to resolve search query: "+err.Error())
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return models.FailedOutput("SEARCH_EMPTY_QUERY", "search query is empty")
	}

	maxResults := config.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxSearchResults
	}

	endpoint := fmt.Sprintf("%s?q=%s&limit=%d", e.searchEndpoint, url.QueryEscape(query), maxResults)

	response, err := e.fetch.Fetch(ctx, safefetch.Request{
		URL:             endpoint,
		Method:          http.MethodGet,
		FollowRedirects: true,
	})
	if err != nil {
		e.logger.Warn("web search fetch failed", "node_id", node.ID, "error", err)

		return models.FailedOutput("SEARCH_FETCH", "search request failed: "+err.Error())
	}

	if !response.OK() {
		return models.FailedOutput(
			fmt.Sprintf("SEARCH_HTTP_%d", response.StatusCode),
			fmt.Sprintf("search endpoint returned HTTP %d", response.StatusCode),
		)
	}

	var parsed searchResponse
	if err := json.Unmarshal([]byte(response.Body), &parsed); err != nil {
		return models.FailedOutput("SEARCH_DECODE", "failed to decode search response: "+err.Error())
	}

	results := parsed.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	if len(results) == 0 {
		return &models.NodeOutput{
			OK:   true,
			Port: models.PortDefault,
			Text: "No results found for: " + query,
		}
	}

	var text strings.Builder

	items := make([]any, 0, len(results))

	for i, result := range results {
		fmt.Fprintf(&text, "%d. %s\n%s\n", i+1, result.Title, result.URL)

		if result.Snippet != "" {
			text.WriteString(result.Snippet + "\n")
		}

		text.WriteString("\n")

		items = append(items, map[string]any{
			"title":   result.Title,
			"url":     result.URL,
			"snippet": result.Snippet,
		})
	}

	return &models.NodeOutput{
		OK:    true,
		Port:  models.PortDefault,
		Text:  strings.TrimSpace(text.String()),
		Items: items,
		Data:  map[string]any{"query": query, "count": len(results)},
	}
}
