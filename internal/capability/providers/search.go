package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/sync/errgroup"

	"github.com/user/assistant/internal/capability"
)

const (
	maxPageChars    = 1000
	maxPageBytes    = 2 << 20
	scrapeParallel  = 3
	defaultResults  = 5
	maxSearchResult = 10
)

// Search queries the Brave Search API and scrapes each hit so the summary
// can draw on page text rather than snippets alone.
type Search struct {
	apiKey  string
	baseURL string
	client  *http.Client
	scraper *http.Client
}

// NewSearch creates the web search capability.
func NewSearch(apiKey string, timeout time.Duration) *Search {
	return &Search{
		apiKey:  apiKey,
		baseURL: "https://api.search.brave.com/res/v1/web/search",
		client:  newHTTPClient(timeout),
		scraper: newHTTPClient(5 * time.Second),
	}
}

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=The search query"`
}

func (s *Search) Name() string                { return "web_search" }
func (s *Search) Description() string         { return "Search the web and summarize the top results" }
func (s *Search) Parameters() json.RawMessage { return capability.Schema[searchArgs]() }
func (s *Search) Label() string               { return "web search" }

func (s *Search) Query(args json.RawMessage) string {
	var a searchArgs
	json.Unmarshal(args, &a)
	return a.Query
}

type braveResponse struct {
	Web braveWeb `json:"web"`
}

type braveWeb struct {
	Results []braveResult `json:"results"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// scrapedPage is one entry of the raw result.
type scrapedPage struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
}

func (s *Search) Invoke(ctx context.Context, args json.RawMessage) (*capability.Output, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if a.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := s.search(ctx, a.Query, defaultResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &capability.Output{Text: "No results found."}, nil
	}

	pages := make([]scrapedPage, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scrapeParallel)
	for i, r := range results {
		pages[i] = scrapedPage{Title: r.Title, URL: r.URL, Snippet: r.Description}
		g.Go(func() error {
			pages[i].Content = s.scrape(gctx, r.URL)
			return nil
		})
	}
	g.Wait()

	data, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return &capability.Output{Text: string(data)}, nil
}

func (s *Search) search(ctx context.Context, query string, count int) ([]braveResult, error) {
	if count > maxSearchResult {
		count = maxSearchResult
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Brave API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result braveResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Web.Results) > count {
		result.Web.Results = result.Web.Results[:count]
	}
	return result.Web.Results, nil
}

// scrape fetches a page and returns up to maxPageChars of its markdown.
// Failures yield an empty string; a dead link should not sink the search.
func (s *Search) scrape(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.scraper.Do(req)
	if err != nil {
		slog.Debug("scrape failed", "url", pageURL, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		slog.Debug("convert page", "url", pageURL, "error", err)
		return ""
	}
	return truncateRunes(strings.TrimSpace(md), maxPageChars)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
