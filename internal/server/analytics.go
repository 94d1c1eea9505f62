package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// Summary aggregates drafts, posts and engagement for the dashboard.
type Summary struct {
	Drafts      map[models.DraftStatus]int `json:"drafts"`
	Posts       map[models.PostStatus]int  `json:"posts"`
	Threshold   int                        `json:"threshold"`
	AvgScore    float64                    `json:"avgScore"`
	PublishRate float64                    `json:"publishRate"`
	Engagement  models.Engagement          `json:"engagement"`
}

func addEngagement(total *models.Engagement, e models.Engagement) {
	total.Likes += e.Likes
	total.Retweets += e.Retweets
	total.Replies += e.Replies
	total.Impressions += e.Impressions
}

// analyticsSummary reads every draft and post. Engagement is summed over
// posts only, since published drafts also have a history post.
func (s *Server) analyticsSummary(c echo.Context) error {
	ctx := c.Request().Context()
	ds, err := s.store.ListDrafts(ctx, storage.DraftFilter{})
	if err != nil {
		return err
	}
	ps, err := s.store.ListPosts(ctx, storage.PostFilter{})
	if err != nil {
		return err
	}

	sum := Summary{
		Drafts:    make(map[models.DraftStatus]int),
		Posts:     make(map[models.PostStatus]int),
		Threshold: s.drafts.Threshold(),
	}
	total := 0
	for _, d := range ds {
		sum.Drafts[d.Status]++
		total += d.Score
	}
	if len(ds) > 0 {
		sum.AvgScore = float64(total) / float64(len(ds))
		sum.PublishRate = float64(sum.Drafts[models.DraftPublished]) / float64(len(ds))
	}
	for _, p := range ps {
		sum.Posts[p.Status]++
		for _, pl := range p.Platforms {
			if o, ok := p.PlatformData.Outcome(pl); ok {
				addEngagement(&sum.Engagement, o.Engagement)
			}
		}
	}
	return c.JSON(http.StatusOK, sum)
}
