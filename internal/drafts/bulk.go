package drafts

import (
	"context"
	"fmt"
	"sort"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// BulkItem is the outcome of one draft in a bulk approval.
type BulkItem struct {
	ID      string             `json:"id"`
	Success bool               `json:"success"`
	Status  models.DraftStatus `json:"status,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// BulkResult summarizes a bulk approval.
type BulkResult struct {
	SuccessCount int        `json:"successCount"`
	FailCount    int        `json:"failCount"`
	Results      []BulkItem `json:"results"`
}

// BulkApprove approves each draft in order. A failure on one draft does not
// stop the others.
func (s *Service) BulkApprove(ctx context.Context, ids []string) BulkResult {
	res := BulkResult{Results: make([]BulkItem, 0, len(ids))}
	for _, id := range ids {
		item := BulkItem{ID: id}
		d, err := s.Approve(ctx, id)
		if d != nil {
			item.Status = d.Status
		}
		if err != nil {
			item.Error = err.Error()
			res.FailCount++
		} else {
			item.Success = true
			res.SuccessCount++
		}
		res.Results = append(res.Results, item)
	}
	return res
}

// ThresholdRow is the publish-rate impact of one candidate threshold.
type ThresholdRow struct {
	Threshold   int     `json:"threshold"`
	Eligible    int     `json:"eligible"`
	Published   int     `json:"published"`
	Failed      int     `json:"failed"`
	Share       float64 `json:"share"`       // eligible / total
	PublishRate float64 `json:"publishRate"` // published / eligible
}

// ThresholdReport recomputes, over every stored draft, how many drafts each
// threshold would surface and how many of those were published.
func ThresholdReport(ctx context.Context, store storage.DraftStore, thresholds []int) ([]ThresholdRow, int, error) {
	all, err := store.ListDrafts(ctx, storage.DraftFilter{})
	if err != nil {
		return nil, 0, fmt.Errorf("listing drafts: %w", err)
	}

	sorted := append([]int(nil), thresholds...)
	sort.Ints(sorted)

	rows := make([]ThresholdRow, 0, len(sorted))
	for _, t := range sorted {
		row := ThresholdRow{Threshold: t}
		for _, d := range all {
			if d.Score < t {
				continue
			}
			row.Eligible++
			switch d.Status {
			case models.DraftPublished:
				row.Published++
			case models.DraftFailed:
				row.Failed++
			}
		}
		if len(all) > 0 {
			row.Share = float64(row.Eligible) / float64(len(all))
		}
		if row.Eligible > 0 {
			row.PublishRate = float64(row.Published) / float64(row.Eligible)
		}
		rows = append(rows, row)
	}
	return rows, len(all), nil
}
