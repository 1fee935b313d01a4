package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/containerd/errdefs"
	"golang.org/x/net/html"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/provider"
	"github.com/ashureev/askbar/internal/sentinel"
)

const (
	maxPageBytes = 2 << 20
	// maxPageRunes keeps the page text well inside the prompt budget.
	maxPageRunes = 8000
)

// Crawl fetches pageURL, extracts its visible text and asks the provider to
// summarise it under the preset's instructions.
func (a *Adapter) Crawl(ctx context.Context, pageURL string, preset domain.Preset) (string, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("crawl url %q: %w", pageURL, errdefs.ErrInvalidArgument)
	}
	key := a.apiKey(ctx)
	if key == "" {
		return "", sentinel.Err(sentinel.NotSetAPIKey)
	}

	text, err := a.fetchText(ctx, u.String())
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("page %s has no readable text: %w", u.Host, errdefs.ErrFailedPrecondition)
	}

	summary, err := a.deps.Provider.Complete(ctx, provider.ChatRequest{
		APIKey: key,
		Messages: []provider.Message{
			{Role: "system", Content: preset.SystemPrompt()},
			{Role: "user", Content: preset.PromptPrefix() + text},
		},
	})
	if err != nil {
		if provider.IsContextLengthExceeded(err) {
			return "", sentinel.Err(sentinel.TokenTooLong)
		}
		a.logger.Warn("crawl summary failed", "host", u.Host, "error", err)
		return "", sentinel.Err(sentinel.NetworkCongestion)
	}
	return summary, nil
}

func (a *Adapter) fetchText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build crawl request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := a.deps.Fetcher.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w: %w", errdefs.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch page: status %d: %w", resp.StatusCode, errdefs.ErrUnavailable)
	}
	return ExtractText(io.LimitReader(resp.Body, maxPageBytes))
}

// ExtractText returns the visible text of an HTML document with runs of
// whitespace collapsed. Script, style and similar elements are skipped.
func ExtractText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	skip := 0
	runes := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != nil && !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("parse html: %w", err)
			}
			return strings.TrimSpace(b.String()), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			for _, field := range strings.Fields(string(z.Text())) {
				if runes >= maxPageRunes {
					return strings.TrimSpace(b.String()), nil
				}
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(field)
				runes += len([]rune(field)) + 1
			}
		}
	}
}

// skippedTag lists elements whose text is never visible. head itself is not
// skipped: its end tag is optional and the tokenizer does not infer it.
func skippedTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "template", "svg", "title":
		return true
	}
	return false
}

// Account reports the provider endpoint in use and its billed usage. The
// basic section is filled even when the usage lookup fails.
func (a *Adapter) Account(ctx context.Context, start, end string) (domain.AccountDetail, error) {
	key := a.apiKey(ctx)
	detail := domain.AccountDetail{
		Basic: domain.AccountBasic{
			APIHost:  a.deps.Provider.BaseURL(),
			APIKey:   MaskKey(key),
			UseModel: a.deps.Provider.Model(),
		},
	}
	if key == "" {
		return detail, sentinel.Err(sentinel.NotSetAPIKey)
	}
	usage, err := a.deps.Provider.Usage(ctx, key, start, end)
	if err != nil {
		return detail, fmt.Errorf("usage lookup: %w", err)
	}
	detail.UsageData.TotalUsage = usage
	return detail, nil
}

// MaskKey hides all but the edges of a credential.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 10 {
		return "****"
	}
	return key[:3] + "****" + key[len(key)-4:]
}
