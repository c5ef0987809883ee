package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"matchdesk/internal"
)

// ProcessDocument drives one document through the extraction stage. It is
// the entry point for background dispatch: nothing observes its result, so
// every failure is captured here, logged, and recorded on the document row
// instead of propagating.
func (s *Service) ProcessDocument(documentID int, filePath string) {
	start := time.Now()

	count, err := s.extract(context.Background(), documentID, filePath)
	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil {
		s.logger.Error("extraction failed", "document_id", documentID, "error", err)
		if dbErr := s.db.SetDocumentError(documentID, err.Error()); dbErr != nil {
			s.logger.Error("failed to record document error", "document_id", documentID, "error", dbErr)
		}
		_ = s.db.InsertProcessingLog(documentID, internal.StepExtract, internal.LogError, err.Error(), elapsed)
		return
	}

	s.logger.Info("extraction complete", "document_id", documentID, "items", count, "duration_ms", elapsed)
	_ = s.db.InsertProcessingLog(documentID, internal.StepExtract, internal.LogSuccess,
		fmt.Sprintf("stored %d items", count), elapsed)
}

func (s *Service) extract(ctx context.Context, documentID int, filePath string) (int, error) {
	if err := s.db.SetDocumentStatus(documentID, internal.StatusExtracting); err != nil {
		return 0, err
	}

	blob, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("read upload: %w", err)
	}

	descriptions, err := s.client.Extract(ctx, filepath.Base(filePath), blob)
	if err != nil {
		return 0, fmt.Errorf("extraction service: %w", err)
	}

	// One transaction: stale matches and line items go, the fresh items come
	// in keyed on (documentId, rawIndex). A failure here leaves prior data
	// untouched, the same as a failure before the remote call.
	if err := s.db.ReplaceLineItems(documentID, descriptions); err != nil {
		return 0, fmt.Errorf("persist line items: %w", err)
	}

	if err := s.db.SetDocumentCompleted(documentID, len(descriptions)); err != nil {
		return 0, err
	}
	return len(descriptions), nil
}
