// Package websearch calls the Google Custom Search JSON API and renders the
// results into a prompt-injectable context block.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/eztalk/eztalk-proxy/internal/models"
)

const defaultEndpoint = "https://customsearch.googleapis.com/customsearch/v1"

// Client performs web searches. A zero-credential client is valid and skips
// every search.
type Client struct {
	APIKey         string
	CSEID          string
	ResultCount    int
	SnippetMaxLen  int
	Endpoint       string
	HTTPClient     *http.Client
}

// NewClient builds a search client from configuration values.
func NewClient(apiKey, cseID string, resultCount, snippetMaxLen int) *Client {
	return &Client{
		APIKey:        apiKey,
		CSEID:         cseID,
		ResultCount:   resultCount,
		SnippetMaxLen: snippetMaxLen,
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.APIKey != "" && c.CSEID != ""
}

// Search runs one query and returns ranked results. An unconfigured client
// or empty query returns no results without error; API failures are
// returned to the caller, who degrades gracefully.
func (c *Client) Search(ctx context.Context, query, rid string) ([]models.WebSearchResult, error) {
	if !c.Enabled() {
		logrus.Warnf("RID-%s: web search skipped, GOOGLE_API_KEY or GOOGLE_CSE_ID not set", rid)
		return nil, nil
	}
	if query == "" {
		logrus.Warnf("RID-%s: web search skipped, query is empty", rid)
		return nil, nil
	}

	count := c.ResultCount
	if count <= 0 || count > 10 {
		count = 10
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	params := url.Values{}
	params.Set("key", c.APIKey)
	params.Set("cx", c.CSEID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logrus.Infof("RID-%s: performing web search for query: %q", rid, truncate(query, 100))
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		message := gjson.GetBytes(body, "error.message").String()
		if message == "" {
			message = truncate(string(body), 200)
		}
		return nil, fmt.Errorf("web search API status %d: %s", resp.StatusCode, message)
	}

	var results []models.WebSearchResult
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		snippet := strings.TrimSpace(strings.ReplaceAll(item.Get("snippet").String(), "\n", " "))
		if c.SnippetMaxLen > 0 && len(snippet) > c.SnippetMaxLen {
			snippet = snippet[:c.SnippetMaxLen] + "..."
		}
		results = append(results, models.WebSearchResult{
			Index:   len(results) + 1,
			Title:   strings.TrimSpace(item.Get("title").String()),
			Href:    item.Get("link").String(),
			Snippet: snippet,
		})
		return true
	})

	logrus.Infof("RID-%s: web search completed, found %d results", rid, len(results))
	return results, nil
}

// RenderContext produces the text block injected ahead of the user query.
// The model is explicitly told not to emit inline citation markers; sources
// are surfaced to the user through the web_search_results event instead.
func RenderContext(query string, results []models.WebSearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var parts []string
	parts = append(parts,
		fmt.Sprintf("You have been provided with the following web search results for the user's query: '%s'. ", query)+
			"Your task is to synthesize this information, along with your general knowledge, to construct a comprehensive and natural-sounding answer. "+
			"It is crucial that you DO NOT include any inline citation marks like [1], [2], [Source 1], etc., directly in your response text. "+
			"The user will have a separate way to view the sources if they wish.")

	for _, res := range results {
		parts = append(parts, fmt.Sprintf(
			"\nSource %d:\n  Title: %s\n  Snippet: %s\n  URL: %s (This URL is for your reference only and should not be included in the response)",
			res.Index, res.Title, res.Snippet, res.Href))
	}

	parts = append(parts,
		"\n\nBased on the information from these sources and your existing knowledge, please formulate your answer. "+
			"Focus on delivering a clear, accurate, and well-integrated response to the user's query. "+
			"Remember, do not insert any citation markers (e.g., [1], [Source 2]) into the body of your answer.")

	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
