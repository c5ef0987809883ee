package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"matchdesk/internal/config"
	"matchdesk/internal/pipeline"
	"matchdesk/internal/storage"
	"matchdesk/internal/worker"
)

type Server struct {
	db       *storage.DB
	cfg      config.Config
	pipeline *pipeline.Service
	pool     *worker.Pool
	logger   *slog.Logger
}

func New(db *storage.DB, cfg config.Config, svc *pipeline.Service, pool *worker.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{db: db, cfg: cfg, pipeline: svc, pool: pool, logger: logger}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/upload", s.handleUpload)
	r.GET("/review/:id", s.handleReview)
	r.POST("/confirm/:id", s.handleConfirm)
	r.GET("/export/:id/xlsx", s.handleExportXLSX)
	r.GET("/stats", s.handleStats)
	r.GET("/log/:id", s.handleLog)

	return r
}
