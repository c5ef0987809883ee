package pipeline

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"matchdesk/internal"
	"matchdesk/internal/config"
	"matchdesk/internal/remote"
	"matchdesk/internal/storage"
)

type testEnv struct {
	db  *storage.DB
	svc *Service
	dir string
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{
		DBPath:           filepath.Join(dir, "app.db"),
		UploadDir:        dir,
		ExtractEndpoint:  srv.URL + "/extraction_api",
		MatchEndpoint:    srv.URL + "/match",
		RequestTimeoutMs: 2000,
		MaxRetries:       0,
		MatchLimit:       5,
	}

	return &testEnv{
		db:  db,
		svc: NewService(db, cfg, remote.NewClient(cfg), nil),
		dir: dir,
	}
}

func (e *testEnv) writePDF(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func extractStub(body string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/extraction_api", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
	return mux
}

func TestProcessDocumentStoresItemsAndCompletes(t *testing.T) {
	env := newTestEnv(t, extractStub(`[{"Request Item":"Hex bolt M6","Amount":25},{"description":"washer M6"}]`))
	doc, err := env.db.UpsertDocument("doc.pdf", 10)
	if err != nil {
		t.Fatal(err)
	}

	env.svc.ProcessDocument(doc.ID, env.writePDF(t, "doc.pdf"))

	after, err := env.db.GetDocument(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != internal.StatusCompleted {
		t.Fatalf("status=%s error=%v", after.Status, after.ErrorMessage)
	}
	if after.ItemCount != 2 {
		t.Fatalf("itemCount=%d", after.ItemCount)
	}
	if after.ProcessedAt == nil {
		t.Fatal("processedAt not set")
	}

	items, err := env.db.ListLineItems(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != after.ItemCount {
		t.Fatalf("itemCount=%d but %d rows persisted", after.ItemCount, len(items))
	}
	if items[0].Description != "Hex bolt M6 (Qty: 25)" {
		t.Fatalf("item0=%q", items[0].Description)
	}
	if items[1].Description != "washer M6" {
		t.Fatalf("item1=%q", items[1].Description)
	}
}

func TestProcessDocumentRerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t, extractStub(`{"items":[{"description":"bolt"},{"description":"nut"}]}`))
	doc, _ := env.db.UpsertDocument("doc.pdf", 10)
	path := env.writePDF(t, "doc.pdf")

	env.svc.ProcessDocument(doc.ID, path)
	env.svc.ProcessDocument(doc.ID, path)

	items, err := env.db.ListLineItems(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("rerun duplicated rows: len=%d", len(items))
	}
}

func TestProcessDocumentFailureIsTerminalAndContained(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/extraction_api", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of order", http.StatusBadRequest)
	})
	env := newTestEnv(t, mux)
	doc, _ := env.db.UpsertDocument("doc.pdf", 10)

	// Must not panic or propagate: it runs on a fire-and-forget worker.
	env.svc.ProcessDocument(doc.ID, env.writePDF(t, "doc.pdf"))

	after, err := env.db.GetDocument(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != internal.StatusError {
		t.Fatalf("status=%s", after.Status)
	}
	if after.ErrorMessage == nil {
		t.Fatal("error message not persisted")
	}

	entries, err := env.db.ListProcessingLog(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	var sawError bool
	for _, e := range entries {
		if e.Step == internal.StepExtract && e.Status == internal.LogError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("no extract error logged")
	}
}

func TestProcessDocumentFailureLeavesPriorDataUntouched(t *testing.T) {
	fail := false
	mux := http.NewServeMux()
	mux.HandleFunc("/extraction_api", func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "down", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"description":"bolt"}]}`))
	})
	env := newTestEnv(t, mux)
	doc, _ := env.db.UpsertDocument("doc.pdf", 10)
	path := env.writePDF(t, "doc.pdf")

	env.svc.ProcessDocument(doc.ID, path)
	fail = true
	env.svc.ProcessDocument(doc.ID, path)

	items, err := env.db.ListLineItems(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Description != "bolt" {
		t.Fatalf("prior extraction lost: %+v", items)
	}
}
