package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/models"
)

type stubText struct {
	out    string
	err    error
	prompt string
}

func (s *stubText) Generate(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.out, s.err
}

var travel = models.CampaignType{
	Name:     "travel",
	Persona:  "travel postcard curator",
	Keywords: []string{"kyoto", "travel tips"},
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "92", want: 92},
		{in: "Score: 85/100", want: 85},
		{in: "  7\n", want: 7},
		{in: "150", want: 100},
		{in: "-5", want: 0},
		{in: "On a 0-100 scale, 92", want: 92},
		{in: "Rating (0 to 100): 64", want: 64},
		{in: "100/100", want: 100},
		{in: "I'd give it 88 out of 100.", want: 88},
		{in: "no idea", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScore(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLLMScorer_Score(t *testing.T) {
	text := &stubText{out: "92"}
	c := models.Candidate{Platform: models.PlatformTwitter, MessageID: "1", Author: "user123", Text: "best travel tips for Kyoto?"}

	score, err := NewLLMScorer(text).Score(context.Background(), c, travel)
	require.NoError(t, err)
	assert.Equal(t, 92, score)
	assert.Contains(t, text.prompt, "@user123")
	assert.Contains(t, text.prompt, "kyoto, travel tips")

	_, err = NewLLMScorer(&stubText{err: errors.New("quota")}).Score(context.Background(), c, travel)
	assert.ErrorContains(t, err, "quota")
}

func TestKeywordScorer(t *testing.T) {
	score, err := KeywordScorer{}.Score(context.Background(), models.Candidate{Text: "Best TRAVEL TIPS for Kyoto?"}, travel)
	require.NoError(t, err)
	assert.Equal(t, 100, score)

	score, err = KeywordScorer{}.Score(context.Background(), models.Candidate{Text: "kyoto ramen"}, travel)
	require.NoError(t, err)
	assert.Equal(t, 50, score)
}

func TestFilter_Evaluate(t *testing.T) {
	f := NewFilter(NewLLMScorer(&stubText{out: "80"}), 80)
	score, ok, err := f.Evaluate(context.Background(), models.Candidate{}, travel)
	require.NoError(t, err)
	assert.Equal(t, 80, score)
	assert.True(t, ok)

	f = NewFilter(NewLLMScorer(&stubText{out: "79"}), 80)
	_, ok, err = f.Evaluate(context.Background(), models.Candidate{}, travel)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 80, f.Threshold())
}
