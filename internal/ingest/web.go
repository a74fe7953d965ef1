package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxChars     = 200000
	maxBodyBytes        = 10 << 20
	userAgent           = "qbank-ingest/1.0"
)

// Fetcher downloads a web page and keeps its readable article text.
// RenderJS switches from a plain GET to a headless Chrome render.
type Fetcher struct {
	Timeout  time.Duration
	MaxChars int
	RenderJS bool
	Client   *http.Client
}

// Article is the readable content of a page.
type Article struct {
	URL   string
	Title string
	Text  string
}

func (f Fetcher) Fetch(ctx context.Context, raw string) (Article, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Article{}, fmt.Errorf("invalid url %q", raw)
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var html string
	if f.RenderJS {
		html, err = renderHTML(ctx, u.String())
	} else {
		html, err = f.getHTML(ctx, u.String())
	}
	if err != nil {
		return Article{}, fmt.Errorf("fetch %s: %w", u, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return Article{}, fmt.Errorf("extract article from %s: %w", u, err)
	}
	text := strings.TrimSpace(article.TextContent)
	maxChars := f.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if r := []rune(text); len(r) > maxChars {
		text = string(r[:maxChars])
	}
	if text == "" {
		return Article{}, errors.New("page has no readable text")
	}
	return Article{URL: u.String(), Title: strings.TrimSpace(article.Title), Text: text}, nil
}

// Pages presents an article as a single-page document.
func (a Article) Pages() []chunker.Page {
	return []chunker.Page{{Number: 1, Text: a.Text}}
}

func (f Fetcher) getHTML(ctx context.Context, u string) (string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func renderHTML(ctx context.Context, u string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(u),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
