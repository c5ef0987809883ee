package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"matchdesk/internal"
)

func (s *Server) handleUpload(c *gin.Context) {
	start := time.Now()

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	name := filepath.Base(strings.TrimSpace(file.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty filename"})
		return
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF uploads are accepted"})
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.fail(c, fmt.Errorf("prepare upload dir: %w", err))
		return
	}
	path := filepath.Join(s.cfg.UploadDir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		s.fail(c, fmt.Errorf("save upload: %w", err))
		return
	}

	doc, err := s.db.UpsertDocument(name, file.Size)
	if err != nil {
		s.fail(c, err)
		return
	}

	_ = s.db.InsertProcessingLog(doc.ID, internal.StepUpload, internal.LogSuccess,
		fmt.Sprintf("received %s (%d bytes)", name, file.Size),
		float64(time.Since(start).Milliseconds()))

	// The upload request never waits for extraction. Synchronous mode exists
	// for deterministic tests only.
	if s.cfg.SyncExtract {
		s.pipeline.ProcessDocument(doc.ID, path)
	} else {
		docID := doc.ID
		s.pool.Submit(func() { s.pipeline.ProcessDocument(docID, path) })
	}

	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/review/%d", doc.ID))
}

func (s *Server) handleReview(c *gin.Context) {
	doc, ok := s.document(c)
	if !ok {
		return
	}

	switch doc.Status {
	case internal.StatusError:
		message := "extraction failed"
		if doc.ErrorMessage != nil {
			message = *doc.ErrorMessage
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": message, "status": doc.Status})
		return
	case internal.StatusUploaded, internal.StatusExtracting:
		c.JSON(http.StatusAccepted, gin.H{"status": "processing", "doc_id": doc.ID})
		return
	}

	rows, err := s.pipeline.ReviewRows(c.Request.Context(), doc.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if rows == nil {
		rows = []internal.ReviewRow{}
	}

	c.JSON(http.StatusOK, gin.H{
		"doc_id": doc.ID,
		"name":   doc.Name,
		"status": doc.Status,
		"rows":   rows,
	})
}

func (s *Server) handleConfirm(c *gin.Context) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	if doc.Status != internal.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "document is not ready for confirmation", "status": doc.Status})
		return
	}

	selections, err := parseSelections(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.pipeline.Confirm(doc.ID, selections); err != nil {
		s.fail(c, err)
		return
	}

	filename := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name)) + ".csv"
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	if err := s.pipeline.WriteCSV(c.Writer, doc.ID); err != nil {
		// Headers are gone already; all we can do is log the broken stream.
		s.logger.Error("csv stream failed", "document_id", doc.ID, "error", err)
	}
}

// parseSelections reads match-id → choice-index pairs from either a form
// body or a JSON object. Values stay strings here; per-entry validation is
// the confirmation stage's job.
func parseSelections(c *gin.Context) (map[string]string, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		raw := map[string]any{}
		if err := c.ShouldBindJSON(&raw); err != nil {
			return nil, fmt.Errorf("malformed selection payload: %w", err)
		}
		out := make(map[string]string, len(raw))
		for key, value := range raw {
			out[key] = selectionString(value)
		}
		return out, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("malformed form payload: %w", err)
	}
	out := make(map[string]string, len(c.Request.PostForm))
	for key, values := range c.Request.PostForm {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out, nil
}

// selectionString flattens a JSON selection value to the string form the
// confirmation stage validates. Clients send choice indexes both as
// numbers and as strings.
func selectionString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (s *Server) handleExportXLSX(c *gin.Context) {
	doc, ok := s.document(c)
	if !ok {
		return
	}

	filename := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name)) + ".xlsx"
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	if err := s.pipeline.WriteXLSX(c.Writer, doc.ID); err != nil {
		s.logger.Error("xlsx export failed", "document_id", doc.ID, "error", err)
	}
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.db.Stats()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleLog(c *gin.Context) {
	doc, ok := s.document(c)
	if !ok {
		return
	}

	entries, err := s.db.ListProcessingLog(doc.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []internal.ProcessingLogRow{}
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": doc.ID, "entries": entries})
}

// document resolves the :id path parameter; it writes the error response
// itself when the id is malformed or unknown.
func (s *Server) document(c *gin.Context) (internal.DocumentRow, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return internal.DocumentRow{}, false
	}

	doc, err := s.db.GetDocument(id)
	if err != nil {
		s.fail(c, err)
		return internal.DocumentRow{}, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return internal.DocumentRow{}, false
	}
	return *doc, true
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
