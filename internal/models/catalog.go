package models

// StrategyStyle selects the shape of the generated content.
type StrategyStyle string

const (
	StyleReply      StrategyStyle = "reply"
	StyleComparison StrategyStyle = "comparison"
)

// Strategy is one way of answering a discovered message.
type Strategy struct {
	Name   string        `yaml:"name" json:"name"`
	Style  StrategyStyle `yaml:"style" json:"style"`
	Action ActionType    `yaml:"action" json:"action"`
	Prompt string        `yaml:"prompt" json:"prompt,omitempty"`
	// ImagePrompt templates the accompanying visual; {subject}, {topic} and
	// {location} are substituted.
	ImagePrompt string `yaml:"image_prompt" json:"imagePrompt,omitempty"`
}

// CampaignType is a persona plus the searches and strategies it runs.
type CampaignType struct {
	Name       string     `yaml:"name" json:"name"`
	Persona    string     `yaml:"persona" json:"persona"`
	Keywords   []string   `yaml:"keywords" json:"keywords"`
	Platforms  []Platform `yaml:"platforms" json:"platforms"`
	Strategies []Strategy `yaml:"strategies" json:"strategies"`
}

// Strategy returns the named strategy, falling back to the first one.
func (c CampaignType) Strategy(name string) (Strategy, bool) {
	for _, s := range c.Strategies {
		if s.Name == name {
			return s, true
		}
	}
	if name == "" && len(c.Strategies) > 0 {
		return c.Strategies[0], true
	}
	return Strategy{}, false
}
