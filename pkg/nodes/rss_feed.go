package nodes

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/safefetch"
	"github.com/missiond/missiond/pkg/template"
)

const defaultMaxFeedItems = 10

// Feed extraction works on a fixed tag allow-list with anchored patterns
// rather than a full XML parser: feeds in the wild are frequently
// malformed, and the allow-list keeps entity and DTD tricks inert.
var (
	feedItemPattern  = regexp.MustCompile(`(?is)<(?:item|entry)[\s>](.*?)</(?:item|entry)>`)
	feedTagPatterns  = map[string]*regexp.Regexp{}
	feedAllowedTags  = []string{"title", "link", "description", "summary", "pubDate", "updated", "guid"}
	cdataPattern     = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	atomLinkPattern  = regexp.MustCompile(`(?i)<link[^>]*href="([^"]+)"`)
	feedTagStripExpr = regexp.MustCompile(`<[^>]+>`)
)

func init() {
	for _, tag := range feedAllowedTags {
		feedTagPatterns[tag] = regexp.MustCompile(fmt.Sprintf(`(?is)<%s[^>]*>(.*?)</%s>`, tag, tag))
	}
}

type feedItem struct {
	Title       string
	Link        string
	Description string
	Published   string
	GUID        string
}

// executeRSSFeed fetches and extracts feed items, applying keyword
// filtering and the item cap from the node config.
func (e *Executor) executeRSSFeed(ctx context.Context, node *models.WorkflowNode, execCtx *models.ExecutionContext) *models.NodeOutput {
	config := node.RSSFeed

	feedURL, err := template.ResolveExpr(config.URL, execCtx)
	if err != nil {
		return models.FailedOutput("RSS_URL_TEMPLATE", "failed to resolve feed URL: "+err.Error())
	}

	response, err := e.fetch.Fetch(ctx, safefetch.Request{
		URL:             feedURL,
		Method:          http.MethodGet,
		FollowRedirects: true,
	})
	if err != nil {
		e.logger.Warn("rss feed fetch failed", "node_id", node.ID, "error", err)

		return models.FailedOutput("RSS_FETCH", "feed request failed: "+err.Error())
	}

	if !response.OK() {
		return models.FailedOutput(
			fmt.Sprintf("RSS_HTTP_%d", response.StatusCode),
			fmt.Sprintf("feed returned HTTP %d", response.StatusCode),
		)
	}

	maxItems := config.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxFeedItems
	}

	items := extractFeedItems(response.Body)
	items = filterFeedItems(items, config.FilterKeywords)

	if len(items) > maxItems {
		items = items[:maxItems]
	}

	if len(items) == 0 {
		return &models.NodeOutput{
			OK:   true,
			Port: models.PortDefault,
			Text: "No feed items matched.",
		}
	}

	var text strings.Builder

	structured := make([]any, 0, len(items))

	for i, item := range items {
		fmt.Fprintf(&text, "%d. %s\n", i+1, item.Title)

		if item.Link != "" {
			text.WriteString(item.Link + "\n")
		}

		if item.Description != "" {
			text.WriteString(item.Description + "\n")
		}

		text.WriteString("\n")

		structured = append(structured, map[string]any{
			"title":       item.Title,
			"link":        item.Link,
			"description": item.Description,
			"published":   item.Published,
			"guid":        item.GUID,
		})
	}

	return &models.NodeOutput{
		OK:    true,
		Port:  models.PortDefault,
		Text:  strings.TrimSpace(text.String()),
		Items: structured,
		Data:  map[string]any{"count": len(items), "url": feedURL},
	}
}

func extractFeedItems(body string) []feedItem {
	blocks := feedItemPattern.FindAllStringSubmatch(body, -1)

	items := make([]feedItem, 0, len(blocks))

	for _, block := range blocks {
		raw := block[1]

		item := feedItem{
			Title:       extractFeedField(raw, "title"),
			Link:        extractFeedField(raw, "link"),
			Description: extractFeedField(raw, "description"),
			Published:   extractFeedField(raw, "pubDate"),
			GUID:        extractFeedField(raw, "guid"),
		}

		// Atom feeds carry the link in an href attribute and use
		// summary/updated instead of description/pubDate.
		if item.Link == "" {
			if match := atomLinkPattern.FindStringSubmatch(raw); match != nil {
				item.Link = strings.TrimSpace(match[1])
			}
		}

		if item.Description == "" {
			item.Description = extractFeedField(raw, "summary")
		}

		if item.Published == "" {
			item.Published = extractFeedField(raw, "updated")
		}

		if item.Title == "" && item.Link == "" {
			continue
		}

		items = append(items, item)
	}

	return items
}

func extractFeedField(block, tag string) string {
	pattern, ok := feedTagPatterns[tag]
	if !ok {
		return ""
	}

	match := pattern.FindStringSubmatch(block)
	if match == nil {
		return ""
	}

	value := match[1]

	if cdata := cdataPattern.FindStringSubmatch(value); cdata != nil {
		value = cdata[1]
	}

	value = feedTagStripExpr.ReplaceAllString(value, "")
	value = strings.ReplaceAll(value, "&amp;", "&")
	value = strings.ReplaceAll(value, "&lt;", "<")
	value = strings.ReplaceAll(value, "&gt;", ">")
	value = strings.ReplaceAll(value, "&quot;", `"`)
	value = strings.ReplaceAll(value, "&#39;", "'")

	return strings.TrimSpace(value)
}

func filterFeedItems(items []feedItem, keywords []string) []feedItem {
	if len(keywords) == 0 {
		return items
	}

	filtered := make([]feedItem, 0, len(items))

	for _, item := range items {
		haystack := strings.ToLower(item.Title + " " + item.Description)

		for _, keyword := range keywords {
			if strings.Contains(haystack, strings.ToLower(keyword)) {
				filtered = append(filtered, item)

				break
			}
		}
	}

	return filtered
}
