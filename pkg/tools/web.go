package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultSearchEndpoint = "https://html.duckduckgo.com/html/"
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultScrapeLength   = 5000
	maxPageBytes          = 4 << 20
)

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func fetchDocument(ctx context.Context, client *http.Client, rawURL, userAgent string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
}

// WebSearchTool queries the DuckDuckGo HTML endpoint.
type WebSearchTool struct {
	Client    *http.Client
	Endpoint  string
	UserAgent string
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{Client: defaultHTTPClient(), Endpoint: defaultSearchEndpoint, UserAgent: defaultUserAgent}
}

func (t *WebSearchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "web_search",
		Description: "Search the web for information and return relevant results",
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Description: "Search query to look up on the web", Required: true},
			{Name: "num_results", Type: TypeInteger, Description: "Number of search results to return", Default: 5},
		},
	}
}

type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) Result {
	in := struct {
		Query      string `mapstructure:"query"`
		NumResults int    `mapstructure:"num_results"`
	}{NumResults: 5}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return Fail("query parameter is required")
	}
	if in.NumResults <= 0 {
		in.NumResults = 5
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = defaultSearchEndpoint
	}
	client := t.Client
	if client == nil {
		client = defaultHTTPClient()
	}
	ua := t.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	doc, err := fetchDocument(ctx, client, endpoint+"?q="+url.QueryEscape(query), ua)
	if err != nil {
		return Fail("web search failed: %v", err)
	}

	hits := make([]searchHit, 0, in.NumResults)
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(hits) >= in.NumResults {
			return false
		}
		link := s.Find("a.result__a").First()
		if link.Length() == 0 {
			return true
		}
		href, _ := link.Attr("href")
		hits = append(hits, searchHit{
			Title:   strings.TrimSpace(link.Text()),
			URL:     unwrapRedirect(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return true
	})

	return OK(map[string]any{
		"query":       query,
		"results":     hits,
		"total_found": len(hits),
	})
}

// unwrapRedirect extracts the target of a DuckDuckGo "/l/?uddg=" link.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// WebScrapeTool fetches a page and returns its visible text.
type WebScrapeTool struct {
	Client    *http.Client
	UserAgent string
}

func NewWebScrapeTool() *WebScrapeTool {
	return &WebScrapeTool{Client: defaultHTTPClient(), UserAgent: defaultUserAgent}
}

func (t *WebScrapeTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "web_scrape",
		Description: "Extract text content from a specific web page URL",
		Parameters: []Parameter{
			{Name: "url", Type: TypeString, Description: "URL of the web page to scrape", Required: true},
			{Name: "max_length", Type: TypeInteger, Description: "Maximum length of content to return", Default: defaultScrapeLength},
		},
	}
}

func (t *WebScrapeTool) Execute(ctx context.Context, args map[string]any) Result {
	in := struct {
		URL       string `mapstructure:"url"`
		MaxLength int    `mapstructure:"max_length"`
	}{MaxLength: defaultScrapeLength}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	target := strings.TrimSpace(in.URL)
	if target == "" {
		return Fail("url parameter is required")
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Fail("web scraping failed: unsupported url %q", target)
	}
	if in.MaxLength <= 0 {
		in.MaxLength = defaultScrapeLength
	}
	client := t.Client
	if client == nil {
		client = defaultHTTPClient()
	}
	ua := t.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	doc, err := fetchDocument(ctx, client, target, ua)
	if err != nil {
		return Fail("web scraping failed: %v", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if text == "" {
		text = strings.Join(strings.Fields(doc.Text()), " ")
	}
	runes := []rune(text)
	if len(runes) > in.MaxLength {
		text = string(runes[:in.MaxLength]) + "..."
	}
	return OK(map[string]any{
		"url":     target,
		"title":   title,
		"content": text,
		"length":  len([]rune(text)),
	})
}
