package pipeline

import (
	"log/slog"

	"matchdesk/internal/config"
	"matchdesk/internal/remote"
	"matchdesk/internal/storage"
)

// Service runs the document pipeline stages: extraction, lazy matching,
// confirmation and export. Each stage opens its own storage scope; none of
// them hold state between calls.
type Service struct {
	db     *storage.DB
	cfg    config.Config
	client *remote.Client
	logger *slog.Logger
}

func NewService(db *storage.DB, cfg config.Config, client *remote.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, cfg: cfg, client: client, logger: logger}
}
