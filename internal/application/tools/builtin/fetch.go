package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"

	"github.com/longregen/toolrouter/internal/adapters/retry"
)

const (
	fetchTimeout          = 20 * time.Second
	maxFetchBytes         = 5 << 20
	defaultMarkdownLength = 50000
)

type fetcher struct {
	client  *http.Client
	backoff retry.Backoff
}

// statusError is a non-200 response.
type statusError struct {
	host string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.host, e.code)
}

// retryableFetch retries transient network failures and 408, 429 and 5xx.
func retryableFetch(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return retry.IsRetryableHTTPStatus(se.code)
	}
	return retry.IsRetryableError(err)
}

func newFetcher(client *http.Client) *fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	b := retry.DefaultBackoff()
	b.MaxRetries = 2
	b.MaxInterval = 2 * time.Second
	b.Retryable = retryableFetch
	return &fetcher{client: client, backoff: b}
}

func (f *fetcher) tool() Tool {
	return Tool{
		Name:        "fetch_url",
		Description: "Fetches a web page and returns its main content as markdown together with its title and description.",
		Category:    "web",
		Tags:        []string{"web", "fetch", "url", "html"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "http or https URL to fetch",
				},
				"max_length": map[string]any{
					"type":        "integer",
					"description": "Maximum markdown length in characters",
					"minimum":     1,
				},
				"include_links": map[string]any{
					"type":        "boolean",
					"description": "Also return the page's outbound links",
				},
			},
			"required": []any{"url"},
		},
		Execute: f.fetch,
	}
}

type pageLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (f *fetcher) fetch(ctx context.Context, args map[string]any) (any, error) {
	raw, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	pageURL, err := url.Parse(raw)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return nil, invalidArgs("url must be an absolute http(s) URL")
	}
	maxLength := intArg(args, "max_length", defaultMarkdownLength)

	var body []byte
	err = f.backoff.Do(ctx, func(int) error {
		var err error
		body, pageURL, err = f.get(ctx, pageURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	page, err := extractPage(body, pageURL, maxLength)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"url":         pageURL.String(),
		"title":       page.title,
		"description": page.description,
		"markdown":    page.markdown,
		"truncated":   page.truncated,
	}
	if boolArg(args, "include_links", false) {
		out["links"] = page.links
	}
	return out, nil
}

func (f *fetcher) get(ctx context.Context, pageURL *url.URL) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, pageURL, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; toolrouter/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, pageURL, fmt.Errorf("fetch %s: %w", pageURL.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pageURL, &statusError{host: pageURL.Host, code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, pageURL, fmt.Errorf("read body: %w", err)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL
	}
	return body, pageURL, nil
}

type extractedPage struct {
	title       string
	description string
	markdown    string
	truncated   bool
	links       []pageLink
}

// extractPage reduces an HTML document to its readable content. Metadata
// and links come from the full document, the markdown from the article.
func extractPage(body []byte, pageURL *url.URL, maxLength int) (*extractedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	page := &extractedPage{
		title:       strings.TrimSpace(doc.Find("title").First().Text()),
		description: metaContent(doc, "description", "og:description"),
		links:       collectLinks(doc, pageURL),
	}

	content := string(body)
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		var buf bytes.Buffer
		if err := article.RenderHTML(&buf); err == nil && buf.Len() > 0 {
			content = buf.String()
		}
		if t := article.Title(); t != "" {
			page.title = t
		}
		if page.description == "" {
			page.description = article.Excerpt()
		}
	}

	md, err := htmltomarkdown.ConvertString(content, converter.WithDomain(pageURL.Scheme+"://"+pageURL.Host))
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}
	md = strings.TrimSpace(md)
	if maxLength > 0 && len(md) > maxLength {
		md = md[:maxLength]
		page.truncated = true
	}
	page.markdown = md
	return page, nil
}

func metaContent(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		sel := doc.Find(fmt.Sprintf(`meta[name=%q], meta[property=%q]`, name, name)).First()
		if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func collectLinks(doc *goquery.Document, base *url.URL) []pageLink {
	seen := make(map[string]bool)
	var links []pageLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		u.Fragment = ""
		abs := u.String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, pageLink{Text: strings.Join(strings.Fields(s.Text()), " "), URL: abs})
	})
	return links
}
