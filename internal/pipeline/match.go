package pipeline

import (
	"context"
	"fmt"
	"time"

	"matchdesk/internal"
)

// FallbackChoiceName marks a synthetic match inserted when the matching
// service could not produce candidates for a line item.
const FallbackChoiceName = "No match found"

const fallbackConfidence = 0.1

// EnsureMatches lazily creates a match row for every line item of the
// document that does not have one yet. Items already matched cost zero
// remote calls. A service failure for one item degrades that item to a
// fallback match and never blocks its siblings.
func (s *Service) EnsureMatches(ctx context.Context, documentID int) error {
	items, err := s.db.ListUnmatchedLineItems(documentID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	matched, degraded := 0, 0
	for _, item := range items {
		choices, err := s.client.Match(ctx, item.Description, s.cfg.MatchLimit)
		confidence := fallbackConfidence
		if err != nil {
			// A cancelled caller is not a service failure. Stop here and
			// leave the remaining items unmatched so a later review can
			// still query the service for them.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("match service failed, using fallback",
				"document_id", documentID, "line_item_id", item.ID, "error", err)
			_ = s.db.InsertProcessingLog(documentID, internal.StepMatch, internal.LogWarning,
				fmt.Sprintf("fallback match for item %d: %v", item.ID, err), 0)
			choices = []internal.Choice{{Name: FallbackChoiceName, Score: fallbackConfidence}}
			degraded++
		} else {
			confidence = normalizeScore(choices[0].Score)
			matched++
		}

		// Insert-or-ignore: a concurrent review of the same document may have
		// beaten us to this item, in which case its row stands.
		if _, err := s.db.InsertMatch(item.ID, choices, confidence); err != nil {
			return fmt.Errorf("persist match for item %d: %w", item.ID, err)
		}
	}

	elapsed := float64(time.Since(start).Milliseconds())
	status := internal.LogSuccess
	if degraded > 0 {
		status = internal.LogWarning
	}
	_ = s.db.InsertProcessingLog(documentID, internal.StepMatch, status,
		fmt.Sprintf("matched %d items (%d fallback)", matched+degraded, degraded), elapsed)
	return nil
}

// ReviewRows triggers lazy matching, then returns the document's line items
// joined with their match state.
func (s *Service) ReviewRows(ctx context.Context, documentID int) ([]internal.ReviewRow, error) {
	if err := s.EnsureMatches(ctx, documentID); err != nil {
		return nil, err
	}
	return s.db.ReviewRows(documentID)
}

// normalizeScore maps a raw service score onto [0,1]. The matching service
// has been observed to return both fractional and percentage scales.
func normalizeScore(score float64) float64 {
	if score > 1 {
		score = score / 100
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
