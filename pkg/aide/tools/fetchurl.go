package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// fetch_url contract values.
const (
	fetchTimeout    = 15 * time.Second
	fetchMaxChars   = 20000
	truncationMark  = "\n\n[... truncated at 20000 characters ...]"
	fetchMaxBody    = 5 << 20 // 5MB read cap
	fetchUserAgent  = "aide/1.0 (+https://github.com/jholhewres/aide)"
	fetchBadContent = "That URL did not return text content (%s), so it cannot be read."
)

// FetchURLTool downloads a page and returns its readable content as
// markdown. It never errors toward the model: every failure mode comes
// back as a human-readable message.
type FetchURLTool struct {
	httpClient *http.Client
}

// NewFetchURLTool creates the fetch_url tool.
func NewFetchURLTool() *FetchURLTool {
	return &FetchURLTool{
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

func (t *FetchURLTool) Name() string { return "fetch_url" }

func (t *FetchURLTool) Description() string {
	return "Fetch a web page and return its readable content as markdown. Only text content types are supported; long pages are truncated."
}

func (t *FetchURLTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The http(s) URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchURLTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}

	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Sprintf("%q is not a valid http(s) URL.", in.URL), nil
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return fmt.Sprintf("Could not build a request for %s: %v", in.URL, err), nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Fetching %s failed: %v", in.URL, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Fetching %s failed with status %d.", in.URL, resp.StatusCode), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !isTextContentType(contentType) {
		return fmt.Sprintf(fetchBadContent, contentType), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return fmt.Sprintf("Reading %s failed: %v", in.URL, err), nil
	}

	text := extractMarkdown(string(body), parsed)
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("No readable content found at %s.", in.URL), nil
	}
	if len(text) > fetchMaxChars {
		cut := fetchMaxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + truncationMark
	}
	return text, nil
}

// isTextContentType accepts HTML and plain-text style content types.
func isTextContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case ct == "application/xhtml+xml", ct == "application/xml", ct == "application/json":
		return true
	default:
		return false
	}
}

// extractMarkdown runs readability article extraction and converts the
// result to markdown, falling back to converting the whole body when
// extraction fails.
func extractMarkdown(body string, pageURL *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		if md, err := htmltomarkdown.ConvertString(article.Content); err == nil {
			if article.Title != "" {
				return "# " + article.Title + "\n\n" + md
			}
			return md
		}
	}
	if md, err := htmltomarkdown.ConvertString(body); err == nil {
		return md
	}
	return body
}
