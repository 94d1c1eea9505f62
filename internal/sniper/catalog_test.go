package sniper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/models"
)

func TestLoadCatalog_Default(t *testing.T) {
	c, err := LoadCatalog("", nil)
	require.NoError(t, err)

	travel, ok := c.Lookup("travel")
	require.True(t, ok)
	assert.Equal(t, []models.Platform{models.PlatformTwitter}, travel.Platforms)

	arena, ok := travel.Strategy("arena")
	require.True(t, ok)
	assert.Equal(t, models.StyleComparison, arena.Style)
	assert.Equal(t, models.ActionQuote, arena.Action)
	assert.Equal(t, "travel", c.First().Name)
}

func TestParseCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":         `campaigns: []`,
		"no name":       "campaigns:\n  - strategies: [{name: a}]",
		"duplicate":     "campaigns:\n  - {name: a, strategies: [{name: x}]}\n  - {name: a, strategies: [{name: y}]}",
		"no strategies": "campaigns:\n  - {name: a}",
		"bad platform":  "campaigns:\n  - {name: a, platforms: [myspace], strategies: [{name: x}]}",
		"not yaml":      "campaigns: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseCatalog_Defaults(t *testing.T) {
	c, err := ParseCatalog([]byte("campaigns:\n  - {name: a, strategies: [{name: x}]}"))
	require.NoError(t, err)
	ct, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []models.Platform{models.PlatformTwitter}, ct.Platforms)
	assert.Equal(t, models.StyleReply, ct.Strategies[0].Style)
	assert.Equal(t, models.ActionReply, ct.Strategies[0].Action)
}

func TestCatalog_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("campaigns:\n  - {name: a, strategies: [{name: x}]}"), 0o600))

	c, err := LoadCatalog(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("campaigns: ["), 0o600))
	assert.Error(t, c.Reload())
	_, ok := c.Lookup("a")
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("campaigns:\n  - {name: b, strategies: [{name: y}]}"), 0o600))
	require.NoError(t, c.Reload())
	_, ok = c.Lookup("b")
	assert.True(t, ok)
	_, ok = c.Lookup("a")
	assert.False(t, ok)
}

func TestCatalog_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("campaigns:\n  - {name: a, strategies: [{name: x}]}"), 0o600))

	c, err := LoadCatalog(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("campaigns:\n  - {name: b, strategies: [{name: y}]}"), 0o600))
	assert.Eventually(t, func() bool {
		_, ok := c.Lookup("b")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}
