package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"matchdesk/internal"
)

// Confirm persists the user's chosen catalog entry for each submitted
// (match id, choice index) pair. Malformed or out-of-range entries are
// skipped with a warning; they never abort the rest of the batch.
func (s *Service) Confirm(documentID int, selections map[string]string) (int, error) {
	start := time.Now()
	updated, skipped := 0, 0

	for rawMatchID, rawChoice := range selections {
		matchID, err := strconv.Atoi(rawMatchID)
		if err != nil {
			s.warnSkip(documentID, fmt.Sprintf("non-integer match id %q", rawMatchID))
			skipped++
			continue
		}
		choiceIndex, err := strconv.Atoi(rawChoice)
		if err != nil {
			s.warnSkip(documentID, fmt.Sprintf("non-integer selection %q for match %d", rawChoice, matchID))
			skipped++
			continue
		}

		if err := s.db.ConfirmChoice(matchID, choiceIndex); err != nil {
			s.warnSkip(documentID, fmt.Sprintf("confirm match %d: %v", matchID, err))
			skipped++
			continue
		}
		updated++
	}

	elapsed := float64(time.Since(start).Milliseconds())
	status := internal.LogSuccess
	if skipped > 0 {
		status = internal.LogWarning
	}
	_ = s.db.InsertProcessingLog(documentID, internal.StepConfirm, status,
		fmt.Sprintf("confirmed %d selections (%d skipped)", updated, skipped), elapsed)

	return updated, nil
}

func (s *Service) warnSkip(documentID int, message string) {
	s.logger.Warn("skipping confirm entry", "document_id", documentID, "reason", message)
	_ = s.db.InsertProcessingLog(documentID, internal.StepConfirm, internal.LogWarning, message, 0)
}
