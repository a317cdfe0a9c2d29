package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_OverlaysDefaults(t *testing.T) {
	c := New(
		map[string]string{" HN ": "https://news.ycombinator.com", "github": "https://github.example"},
		map[string]App{"Obsidian": {Value: "obsidian"}},
	)

	u, ok := c.Site("hn")
	require.True(t, ok)
	assert.Equal(t, "https://news.ycombinator.com", u)

	u, _ = c.Site("GitHub")
	assert.Equal(t, "https://github.example", u)

	app, ok := c.App("obsidian")
	require.True(t, ok)
	assert.Equal(t, App{Kind: LaunchApp, Value: "obsidian"}, app)

	_, ok = c.App("notepad")
	assert.False(t, ok)
}

func TestDefault_IsACopy(t *testing.T) {
	a := Default()
	a.Sites["github"] = "changed"

	u, _ := Default().Site("github")
	assert.Equal(t, "https://github.com", u)
}

func TestFindApp_LongestWins(t *testing.T) {
	c := Default()

	name, ok := c.FindApp("open microsoft store please")
	require.True(t, ok)
	assert.Equal(t, "microsoft store", name)

	name, ok = c.FindApp("launch vs code")
	require.True(t, ok)
	assert.Equal(t, "vs code", name)

	_, ok = c.FindApp("open spotifying")
	assert.False(t, ok, "whole words only")
}

func TestFindSite(t *testing.T) {
	c := Default()

	name, ok := c.FindSite("go to youtube now")
	require.True(t, ok)
	assert.Equal(t, "youtube", name)

	_, ok = c.FindSite("nothing here")
	assert.False(t, ok)
}

func TestLooksLikeDomain(t *testing.T) {
	for in, want := range map[string]bool{
		"example.com":         true,
		"docs.go.dev/doc":     true,
		"https://Go.dev":      true,
		"http://a-b.io/x?y=1": true,
		"github":              false,
		"hello world.com":     false,
		"ftp://example.com":   false,
		"example.c":           false,
	} {
		assert.Equal(t, want, LooksLikeDomain(in), in)
	}
}
