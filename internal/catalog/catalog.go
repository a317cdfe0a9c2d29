// Package catalog holds the named sites and applications the assistant knows how to open.
package catalog

import (
	"regexp"
	"sort"
	"strings"
)

type LaunchKind string

const (
	// LaunchProtocol targets are URIs handed to the system URL handler (ms-windows-store://, xbox:).
	LaunchProtocol LaunchKind = "protocol"
	// LaunchApp targets are executables.
	LaunchApp LaunchKind = "app"
)

type App struct {
	Kind  LaunchKind `yaml:"type" json:"type"`
	Value string     `yaml:"value" json:"value"`
}

type Catalog struct {
	Sites map[string]string
	Apps  map[string]App
}

var defaultSites = map[string]string{
	"github":    "https://github.com",
	"gitlab":    "https://gitlab.com",
	"linkedin":  "https://www.linkedin.com",
	"youtube":   "https://www.youtube.com",
	"google":    "https://www.google.com",
	"gmail":     "https://mail.google.com",
	"reddit":    "https://www.reddit.com",
	"wikipedia": "https://en.wikipedia.org",
	"xbox":      "https://www.xbox.com",
	"steam":     "https://store.steampowered.com",
}

var defaultApps = map[string]App{
	"microsoft store": {Kind: LaunchProtocol, Value: "ms-windows-store://home"},
	"microsoft":       {Kind: LaunchProtocol, Value: "ms-windows-store://home"},
	"xbox":            {Kind: LaunchProtocol, Value: "xbox:"},
	"spotify":         {Kind: LaunchApp, Value: "spotify"},
	"edge":            {Kind: LaunchApp, Value: "msedge"},
	"browser":         {Kind: LaunchApp, Value: "msedge"},
	"chrome":          {Kind: LaunchApp, Value: "chrome"},
	"firefox":         {Kind: LaunchApp, Value: "firefox"},
	"terminal":        {Kind: LaunchApp, Value: "x-terminal-emulator"},
	"calculator":      {Kind: LaunchApp, Value: "gnome-calculator"},
	"vs code":         {Kind: LaunchApp, Value: "code"},
}

// Default returns the built-in catalog. The maps are fresh copies.
func Default() *Catalog {
	return New(nil, nil)
}

// New layers sites and apps over the defaults. Keys are lowercased.
func New(sites map[string]string, apps map[string]App) *Catalog {
	c := &Catalog{
		Sites: make(map[string]string, len(defaultSites)+len(sites)),
		Apps:  make(map[string]App, len(defaultApps)+len(apps)),
	}
	for k, v := range defaultSites {
		c.Sites[k] = v
	}
	for k, v := range defaultApps {
		c.Apps[k] = v
	}
	for k, v := range sites {
		c.Sites[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range apps {
		if v.Kind == "" {
			v.Kind = LaunchApp
		}
		c.Apps[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return c
}

func (c *Catalog) Site(name string) (string, bool) {
	u, ok := c.Sites[strings.ToLower(strings.TrimSpace(name))]
	return u, ok
}

func (c *Catalog) App(name string) (App, bool) {
	a, ok := c.Apps[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// FindApp returns the longest app name that appears as whole words in text.
func (c *Catalog) FindApp(text string) (string, bool) {
	return findName(text, keys(c.Apps))
}

// FindSite returns the longest site name that appears as whole words in text.
func (c *Catalog) FindSite(text string) (string, bool) {
	return findName(text, keys(c.Sites))
}

var domainRe = regexp.MustCompile(`^(https?://)?([a-z0-9-]+\.)+[a-z]{2,}(/\S*)?$`)

// LooksLikeDomain matches "example.com", "docs.go.dev/doc" and full http(s) URLs.
func LooksLikeDomain(s string) bool {
	return domainRe.MatchString(strings.ToLower(s))
}

func findName(text string, names []string) (string, bool) {
	padded := " " + text + " "
	for _, n := range names {
		if strings.Contains(padded, " "+n+" ") {
			return n, true
		}
	}
	return "", false
}

// keys sorts longest first so "microsoft store" beats "microsoft".
func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
