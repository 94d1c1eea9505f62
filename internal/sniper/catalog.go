// Package sniper runs the hunt: it searches platforms for conversations,
// scores them and turns the best into drafts.
package sniper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
)

// ErrUnknownCampaign is returned for campaign types missing from the catalog.
var ErrUnknownCampaign = errors.New("unknown campaign type")

// defaultCatalog is used when no catalog file is configured.
const defaultCatalog = `
campaigns:
  - name: travel
    persona: friendly travel postcard curator who has visited every city they talk about
    keywords: ["travel tips", "itinerary", "where to stay", "must see"]
    platforms: [twitter]
    strategies:
      - name: helpful
        style: reply
        action: reply
        prompt: Give one specific, practical tip. Warm, never salesy.
      - name: arena
        style: comparison
        action: quote
        prompt: Weigh the options the author mentions and pick a winner.
`

type catalogFile struct {
	Campaigns []models.CampaignType `yaml:"campaigns"`
}

// Catalog holds the campaign types the hunt can run.
type Catalog struct {
	mu    sync.RWMutex
	path  string
	order []string
	types map[string]models.CampaignType
	log   *logging.Logger
}

// ParseCatalog reads a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	c := &Catalog{log: logging.Nop()}
	if err := c.load(data); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path
// is empty.
func LoadCatalog(path string, log *logging.Logger) (*Catalog, error) {
	if log == nil {
		log = logging.Nop()
	}
	data := []byte(defaultCatalog)
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading catalog: %w", err)
		}
	}
	c := &Catalog{path: path, log: log}
	if err := c.load(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load(data []byte) error {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing catalog: %w", err)
	}
	if len(f.Campaigns) == 0 {
		return fmt.Errorf("catalog defines no campaigns")
	}

	types := make(map[string]models.CampaignType, len(f.Campaigns))
	order := make([]string, 0, len(f.Campaigns))
	for i, ct := range f.Campaigns {
		if ct.Name == "" {
			return fmt.Errorf("catalog campaign %d has no name", i)
		}
		if _, dup := types[ct.Name]; dup {
			return fmt.Errorf("catalog campaign %q defined twice", ct.Name)
		}
		if len(ct.Strategies) == 0 {
			return fmt.Errorf("catalog campaign %q has no strategies", ct.Name)
		}
		for _, p := range ct.Platforms {
			if !p.Valid() {
				return fmt.Errorf("catalog campaign %q: unknown platform %q", ct.Name, p)
			}
		}
		if len(ct.Platforms) == 0 {
			ct.Platforms = []models.Platform{models.PlatformTwitter}
		}
		for j := range ct.Strategies {
			if ct.Strategies[j].Style == "" {
				ct.Strategies[j].Style = models.StyleReply
			}
			if ct.Strategies[j].Action == "" {
				ct.Strategies[j].Action = models.ActionReply
			}
		}
		types[ct.Name] = ct
		order = append(order, ct.Name)
	}

	c.mu.Lock()
	c.types = types
	c.order = order
	c.mu.Unlock()
	return nil
}

// Lookup returns the named campaign type.
func (c *Catalog) Lookup(name string) (models.CampaignType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.types[name]
	return ct, ok
}

// List returns the campaign types in file order.
func (c *Catalog) List() []models.CampaignType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CampaignType, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.types[name])
	}
	return out
}

// First returns the first campaign type.
func (c *Catalog) First() models.CampaignType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types[c.order[0]]
}

// Reload re-reads the catalog file. A broken file keeps the previous catalog.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	return c.load(data)
}

// Watch reloads the catalog when its file changes, until ctx is done. The
// directory is watched so editors that replace the file are seen.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching catalog directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(c.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.Reload(); err != nil {
					c.log.Warn(ctx, "catalog reload failed, keeping previous catalog", zap.Error(err))
					continue
				}
				c.log.Info(ctx, "catalog reloaded", zap.Int("campaigns", len(c.List())))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn(ctx, "catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
