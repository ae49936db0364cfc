// Package democonfig resolves built-in intro scripts and walkthrough context
// for known demo sites.
package democonfig

import (
	"embed"
	"net/url"
	"strings"

	"ava-backend/internal/models"
)

//go:embed demos/*.txt
var demos embed.FS

type demo struct {
	hosts       []string
	intro       string
	walkthrough string
}

var known = []demo{
	{
		hosts:       []string{"scoot-tweak-89829545.figma.site"},
		intro:       mustRead("demos/chatgpt-trends-intro.txt"),
		walkthrough: mustRead("demos/chatgpt-trends-walkthrough.txt"),
	},
}

func mustRead(name string) string {
	b, err := demos.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return strings.TrimSpace(string(b))
}

// Lookup returns the demo config for rawURL, or nil when the host is not a
// known demo. The scheme is optional.
func Lookup(rawURL string) *models.DemoConfig {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	for _, d := range known {
		if d.matches(rawURL) {
			return &models.DemoConfig{IntroScript: d.intro, WalkthroughContext: d.walkthrough}
		}
	}
	return nil
}

func (d demo) matches(rawURL string) bool {
	candidate := rawURL
	if !strings.HasPrefix(candidate, "http") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	for _, host := range d.hosts {
		if err != nil || u.Hostname() == "" {
			if strings.Contains(rawURL, host) {
				return true
			}
			continue
		}
		if strings.Contains(u.Hostname(), host) {
			return true
		}
	}
	return false
}

// WalkthroughContext returns the demo walkthrough for rawURL or "".
func WalkthroughContext(rawURL string) string {
	if cfg := Lookup(rawURL); cfg != nil {
		return cfg.WalkthroughContext
	}
	return ""
}
