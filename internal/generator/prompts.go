package generator

import (
	"fmt"
	"strings"

	"github.com/cyderes/social-autopilot/internal/models"
)

func replyPrompt(d *models.Draft, campaign models.CampaignType, strategy models.Strategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s.\n", campaign.Persona)
	if strategy.Prompt != "" {
		b.WriteString(strategy.Prompt)
		b.WriteString("\n")
	}
	switch d.ActionType {
	case models.ActionQuote:
		b.WriteString("Write a quote post that adds your own angle to the post below.\n")
	default:
		b.WriteString("Write a reply to the post below.\n")
	}
	if d.Platform == models.PlatformTwitter {
		fmt.Fprintf(&b, "Stay under %d characters. No hashtags.\n", maxTweetRunes)
	}
	b.WriteString("Return only the text of the reply.\n\n")
	fmt.Fprintf(&b, "Author: @%s\nPost: %s\n", d.SourceAuthor, d.SourceText)
	if d.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", d.Location)
	}
	return b.String()
}

func verdictPrompt(d *models.Draft, campaign models.CampaignType) string {
	return fmt.Sprintf(`You are the %s judging the options discussed in this post.
Post by @%s: %s

Answer with JSON only:
{"winner": "...", "summary": "one sentence", "ratings": {"option": 0-10}, "reasoning": "..."}`,
		campaign.Persona, d.SourceAuthor, d.SourceText)
}

func imagePrompt(d *models.Draft, strategy models.Strategy) string {
	subject := d.Location
	if subject == "" {
		subject = d.Topic
	}
	if subject == "" {
		subject = d.SourceText
	}
	tmpl := strategy.ImagePrompt
	if tmpl == "" {
		tmpl = "A vintage illustrated travel postcard of {subject}, warm colors, no text."
	}
	return strings.NewReplacer("{subject}", subject, "{topic}", d.Topic, "{location}", d.Location).Replace(tmpl)
}
