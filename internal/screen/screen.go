// Package screen supplies the optional screen-context text sent with a
// command.
package screen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// MaxContext bounds the text handed to the model.
const MaxContext = 8000

// Provider returns a text description of what is on screen.
type Provider interface {
	ScreenContext(ctx context.Context) (string, error)
}

// StaticProvider always returns the same text.
type StaticProvider string

func (s StaticProvider) ScreenContext(context.Context) (string, error) {
	return Sanitize(string(s)), nil
}

// Sanitize strips markup, collapses whitespace and truncates to MaxContext.
func Sanitize(text string) string {
	clean := bluemonday.StrictPolicy().Sanitize(text)
	clean = strings.Join(strings.Fields(clean), " ")
	if len(clean) > MaxContext {
		clean = clean[:MaxContext] + "..."
	}
	return clean
}

// PageProvider reads the main text of a web page.
type PageProvider struct {
	URL       string
	UserAgent string
	Client    *http.Client
}

func NewPageProvider(rawURL string) *PageProvider {
	return &PageProvider{
		URL:       rawURL,
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *PageProvider) ScreenContext(ctx context.Context) (string, error) {
	parsedURL, err := url.Parse(p.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}
	return extract(resp.Body, parsedURL)
}

// WindowSource names the focused desktop window.
type WindowSource interface {
	ActiveWindowTitle(ctx context.Context) (string, error)
}

// WindowProvider describes the focused window by its title.
type WindowProvider struct {
	Source WindowSource
}

func (w WindowProvider) ScreenContext(ctx context.Context) (string, error) {
	title, err := w.Source.ActiveWindowTitle(ctx)
	if err != nil {
		return "", err
	}
	if title == "" {
		return "", nil
	}
	return Sanitize("Active window: " + title), nil
}

// HTMLSource yields the HTML of the page currently shown, e.g. a browser
// window driven by host.BrowserLauncher.
type HTMLSource interface {
	PageHTML(ctx context.Context) (string, error)
}

// BrowserProvider reads the page open in a controlled browser.
type BrowserProvider struct {
	Source HTMLSource
}

func (b BrowserProvider) ScreenContext(ctx context.Context) (string, error) {
	html, err := b.Source.PageHTML(ctx)
	if err != nil {
		return "", err
	}
	return extract(strings.NewReader(html), &url.URL{Scheme: "about", Opaque: "blank"})
}

func extract(r io.Reader, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	var b strings.Builder
	if article.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", article.Title)
	}
	b.WriteString(Sanitize(article.TextContent))
	return b.String(), nil
}
