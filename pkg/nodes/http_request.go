package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/safefetch"
	"github.com/missiond/missiond/pkg/template"
)

// executeHTTPRequest performs a guarded outbound call. Non-2xx responses
// fail with a status-derived error code and never propagate the remote
// body into the failure output.
func (e *Executor) executeHTTPRequest(ctx context.Context, node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.HTTPRequest

	rawURL, err := template.ResolveExpr(config.URL, execCtx)
	if err != nil {
		return models.FailedOutput("HTTP_URL_TEMPLATE", "failed to resolve request URL: "+err.Error())
	}

	body, err := template.ResolveExpr(config.Body, execCtx)
	if err != nil {
		return models.FailedOutput("HTTP_BODY_TEMPLATE", "failed to resolve request body: "+err.Error())
	}

	headers := make(map[string]string, len(config.Headers)+2)

	for name, value := range config.Headers {
		resolved, resolveErr := template.ResolveExpr(value, execCtx)
		if resolveErr != nil {
			return models.FailedOutput("HTTP_HEADER_TEMPLATE", fmt.Sprintf("failed to resolve header %q: %s", name, resolveErr.Error()))
		}

		headers[name] = resolved
	}

	if err := applyAuthentication(headers, config.Authentication); err != nil {
		return models.FailedOutput("HTTP_AUTH", err.Error())
	}

	method := strings.ToUpper(strings.TrimSpace(config.Method))
	if method == "" {
		method = http.MethodGet
	}

	response, err := e.fetch.Fetch(ctx, safefetch.Request{
		URL:             rawURL,
		Method:          method,
		Headers:         headers,
		Body:            body,
		FollowRedirects: true,
	})
	if err != nil {
		e.logger.Warn("http request node fetch failed", "node_id", node.ID, "error", err)

		return models.FailedOutput("HTTP_FETCH", "request failed: "+err.Error())
	}

	if !response.OK() {
		return models.FailedOutput(
			fmt.Sprintf("HTTP_%d", response.StatusCode),
			fmt.Sprintf("HTTP %d from remote", response.StatusCode),
		)
	}

	output := &models.NodeOutput{
		OK:   true,
		Port: models.PortDefault,
		Text: response.Body,
		Data: map[string]any{
			"status_code": response.StatusCode,
			"final_url":   response.FinalURL,
		},
	}

	if parsed := tryParseJSONObject(response.Body); parsed != nil {
		output.Data["json"] = parsed
	}

	return output
}

func applyAuthentication(headers map[string]string, auth *models.HTTPAuthentication) error {
	if auth == nil {
		return nil
	}

	switch auth.Type {
	case "bearer":
		headers["Authorization"] = "Bearer " + auth.Token
	case "basic":
		headers["Authorization"] = "Basic " + auth.Token
	case "header":
		if auth.Header == "" {
			return fmt.Errorf("header authentication requires a header name")
		}

		headers[auth.Header] = auth.Value
	case "":
		return nil
	default:
		return fmt.Errorf("unsupported authentication type: %q", auth.Type)
	}

	return nil
}

func tryParseJSONObject(body string) map[string]any {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil
	}

	return parsed
}
