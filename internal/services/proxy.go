package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var ErrInvalidProxyTarget = errors.New("proxy target must be an absolute http(s) URL")

var (
	metaFrameOptions = regexp.MustCompile(`(?i)<meta[^>]*http-equiv=["']X-Frame-Options["'][^>]*>`)
	metaCSP          = regexp.MustCompile(`(?i)<meta[^>]*http-equiv=["']Content-Security-Policy["'][^>]*>`)
	frameOptionsText = regexp.MustCompile(`(?i)X-Frame-Options[^;]*;?`)
	cspText          = regexp.MustCompile(`(?i)Content-Security-Policy[^;]*;?`)
)

// ProxyService fetches a page server-side and rewrites it so it can be shown
// in the participant frame with the observer bridge installed.
type ProxyService struct {
	httpClient *http.Client
	// ObserverScriptURL is injected into every rewritten document when set.
	observerScriptURL string
}

func NewProxyService(observerScriptURL string) *ProxyService {
	return &ProxyService{
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		observerScriptURL: observerScriptURL,
	}
}

// Fetch retrieves target and returns the rewritten HTML.
func (p *ProxyService) Fetch(ctx context.Context, target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidProxyTarget, target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", desktopUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Service: "proxy target", Status: resp.StatusCode, Body: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	return RewriteHTML(string(body), u, p.observerScriptURL), nil
}

// RewriteHTML strips embedded frame restrictions, pins relative URLs to the
// original location with a base tag and installs the observer script.
func RewriteHTML(html string, origin *url.URL, observerScriptURL string) string {
	html = metaFrameOptions.ReplaceAllString(html, "")
	html = metaCSP.ReplaceAllString(html, "")
	html = frameOptionsText.ReplaceAllString(html, "")
	html = cspText.ReplaceAllString(html, "")

	var inject string
	if !strings.Contains(html, "<base") {
		inject += fmt.Sprintf(`<base href="%s://%s%s">`, origin.Scheme, origin.Host, origin.EscapedPath())
	}
	if observerScriptURL != "" {
		inject += fmt.Sprintf(`<script src="%s" data-ava-observer></script>`, observerScriptURL)
	}
	if inject == "" {
		return html
	}
	if strings.Contains(html, "<head>") {
		return strings.Replace(html, "<head>", "<head>"+inject, 1)
	}
	return html
}
