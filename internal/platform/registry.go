package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

// credentialFields maps stored credential names onto config fields.
var credentialFields = map[models.Platform]func(*config.PlatformsConfig) map[string]*string{
	models.PlatformTwitter: func(c *config.PlatformsConfig) map[string]*string {
		return map[string]*string{
			"bearer_token": &c.Twitter.BearerToken,
			"access_token": &c.Twitter.AccessToken,
			"handle":       &c.Twitter.Handle,
		}
	},
	models.PlatformDiscord: func(c *config.PlatformsConfig) map[string]*string {
		return map[string]*string{
			"bot_token":   &c.Discord.BotToken,
			"channel_id":  &c.Discord.ChannelID,
			"guild_id":    &c.Discord.GuildID,
			"webhook_url": &c.Discord.WebhookURL,
		}
	},
	models.PlatformReddit: func(c *config.PlatformsConfig) map[string]*string {
		return map[string]*string{
			"client_id":     &c.Reddit.ClientID,
			"client_secret": &c.Reddit.ClientSecret,
			"username":      &c.Reddit.Username,
			"password":      &c.Reddit.Password,
			"subreddit":     &c.Reddit.Subreddit,
			"user_agent":    &c.Reddit.UserAgent,
		}
	},
}

// CredentialNames lists the credential keys p accepts.
func CredentialNames(p models.Platform) []string {
	fields, ok := credentialFields[p]
	if !ok {
		return nil
	}
	var cfg config.PlatformsConfig
	names := make([]string, 0, 6)
	for name := range fields(&cfg) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyCredentials overlays non-empty creds onto cfg.
func ApplyCredentials(cfg *config.PlatformsConfig, p models.Platform, creds map[string]string) error {
	fields, ok := credentialFields[p]
	if !ok {
		return fmt.Errorf("unknown platform %q", p)
	}
	targets := fields(cfg)
	for name, value := range creds {
		target, ok := targets[name]
		if !ok {
			return fmt.Errorf("unknown %s credential %q", p, name)
		}
		if value != "" {
			*target = value
		}
	}
	return nil
}

// Registry holds one client per configured platform. Unconfigured platforms
// report a SetupError naming what is missing.
type Registry struct {
	mu      sync.RWMutex
	cfg     config.PlatformsConfig
	opts    Options
	clients map[models.Platform]Client
	errs    map[models.Platform]error
}

// NewRegistry builds every platform it has credentials for.
func NewRegistry(cfg config.PlatformsConfig, opts Options) *Registry {
	r := &Registry{
		cfg:     cfg,
		opts:    opts,
		clients: make(map[models.Platform]Client),
		errs:    make(map[models.Platform]error),
	}
	for _, p := range models.AllPlatforms {
		r.build(p)
	}
	return r
}

// build must be called with mu held or before the registry is shared.
func (r *Registry) build(p models.Platform) {
	var (
		c   Client
		err error
	)
	switch p {
	case models.PlatformTwitter:
		c, err = NewTwitter(r.cfg.Twitter, r.opts)
	case models.PlatformDiscord:
		c, err = NewDiscord(r.cfg.Discord, r.opts)
	case models.PlatformReddit:
		c, err = NewReddit(r.cfg.Reddit, r.opts)
	default:
		err = fmt.Errorf("unknown platform %q", p)
	}
	if err != nil {
		delete(r.clients, p)
		r.errs[p] = err
		return
	}
	delete(r.errs, p)
	r.clients[p] = c
}

// Get returns the client for p.
func (r *Registry) Get(p models.Platform) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[p]; ok {
		return c, nil
	}
	if err, ok := r.errs[p]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("unknown platform %q", p)
}

// Set installs c, replacing any built client for its platform.
func (r *Registry) Set(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
	delete(r.errs, c.Name())
}

// Configure applies stored credentials to p and rebuilds its client. The
// returned error is a SetupError when credentials are still incomplete.
func (r *Registry) Configure(p models.Platform, creds map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ApplyCredentials(&r.cfg, p, creds); err != nil {
		return err
	}
	r.build(p)
	return r.errs[p]
}

// Missing returns the credential names p still needs, or nil.
func (r *Registry) Missing(p models.Platform) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var se *SetupError
	if errors.As(r.errs[p], &se) {
		return se.Missing
	}
	return nil
}
