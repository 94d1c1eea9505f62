package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

// Discord posts through an incoming webhook or as a bot into one channel.
// Discord has no search or engagement API available to bots.
type Discord struct {
	t          *transport
	baseURL    string
	webhookURL string
	channelID  string
	guildID    string
}

// DiscordMissing lists the credentials cfg lacks.
func DiscordMissing(cfg config.DiscordConfig) []string {
	if cfg.WebhookURL != "" {
		return nil
	}
	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "bot_token")
	}
	if cfg.ChannelID == "" {
		missing = append(missing, "channel_id")
	}
	if len(missing) > 0 {
		missing = append(missing, "webhook_url")
	}
	return missing
}

// NewDiscord builds a client; a webhook URL takes precedence over the bot.
func NewDiscord(cfg config.DiscordConfig, opts Options) (*Discord, error) {
	if missing := DiscordMissing(cfg); len(missing) > 0 {
		return nil, &SetupError{Platform: models.PlatformDiscord, Missing: missing}
	}
	t := newTransport(models.PlatformDiscord, opts.base(), opts)
	if cfg.WebhookURL == "" {
		t.header.Set("Authorization", "Bot "+cfg.BotToken)
	}
	return &Discord{
		t:          t,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		webhookURL: cfg.WebhookURL,
		channelID:  cfg.ChannelID,
		guildID:    cfg.GuildID,
	}, nil
}

// Name implements Client.
func (d *Discord) Name() models.Platform { return models.PlatformDiscord }

// MetricsBatchSize implements Client.
func (d *Discord) MetricsBatchSize() int { return 0 }

type discordEmbed struct {
	Image struct {
		URL string `json:"url"`
	} `json:"image"`
}

type discordMessage struct {
	Content          string            `json:"content"`
	Embeds           []discordEmbed    `json:"embeds,omitempty"`
	MessageReference *discordReference `json:"message_reference,omitempty"`
}

type discordReference struct {
	MessageID string `json:"message_id"`
}

// Post sends a message. Media IDs are image URLs rendered as embeds.
func (d *Discord) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	msg := discordMessage{Content: req.Text}
	for _, u := range req.MediaIDs {
		var e discordEmbed
		e.Image.URL = u
		msg.Embeds = append(msg.Embeds, e)
	}
	if req.ReplyTo != "" && d.webhookURL == "" {
		msg.MessageReference = &discordReference{MessageID: req.ReplyTo}
	}

	endpoint := d.baseURL + "/channels/" + d.channelID + "/messages"
	if d.webhookURL != "" {
		endpoint = d.webhookURL + "?wait=true"
	}

	var resp struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := d.t.postJSON(ctx, endpoint, msg, &resp); err != nil {
		return PostResult{}, err
	}
	if resp.ID == "" {
		return PostResult{}, fmt.Errorf("discord returned no message id")
	}

	channel := resp.ChannelID
	if channel == "" {
		channel = d.channelID
	}
	result := PostResult{ID: resp.ID}
	if d.guildID != "" && channel != "" {
		result.URL = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", d.guildID, channel, resp.ID)
	}
	return result, nil
}

// UploadMedia returns the media URL itself; Discord embeds images by URL.
func (d *Discord) UploadMedia(ctx context.Context, m Media) (string, error) {
	if m.URL == "" {
		return "", fmt.Errorf("discord media requires a URL: %w", ErrUnsupported)
	}
	return m.URL, nil
}

// Search implements Client.
func (d *Discord) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	return nil, fmt.Errorf("discord search: %w", ErrUnsupported)
}

// FetchMetrics implements Client.
func (d *Discord) FetchMetrics(ctx context.Context, ids []string) (map[string]models.Engagement, error) {
	return nil, fmt.Errorf("discord metrics: %w", ErrUnsupported)
}

// FetchReplies implements Client.
func (d *Discord) FetchReplies(ctx context.Context, id string) ([]models.Candidate, error) {
	return nil, fmt.Errorf("discord replies: %w", ErrUnsupported)
}

// Test fetches the webhook or the bot user.
func (d *Discord) Test(ctx context.Context) error {
	if d.webhookURL != "" {
		return d.t.getJSON(ctx, d.webhookURL, nil)
	}
	return d.t.getJSON(ctx, d.baseURL+"/users/@me", nil)
}
