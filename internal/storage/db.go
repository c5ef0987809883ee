package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"matchdesk/internal"
)

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrChoiceOutOfRange = errors.New("choice index out of range")
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'uploaded',
  errorMessage TEXT,
  fileSize INTEGER NOT NULL DEFAULT 0,
  itemCount INTEGER NOT NULL DEFAULT 0,
  uploadedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  processedAt TEXT
);

CREATE TABLE IF NOT EXISTS line_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  documentId INTEGER NOT NULL,
  description TEXT NOT NULL,
  rawIndex INTEGER NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(documentId) REFERENCES documents(id)
);

CREATE TABLE IF NOT EXISTS matches (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  lineItemId INTEGER NOT NULL UNIQUE,
  choicesJson TEXT NOT NULL,
  confirmedId INTEGER,
  confidence REAL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(lineItemId) REFERENCES line_items(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS processing_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  documentId INTEGER NOT NULL,
  step TEXT NOT NULL,
  status TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  durationMs REAL NOT NULL DEFAULT 0,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(documentId) REFERENCES documents(id)
);
`
	if _, err := d.conn.Exec(schema); err != nil {
		return err
	}

	return d.migrate()
}

// migrate brings an existing store created by an older build up to the
// current schema. Columns are added with defaults, stale duplicate line
// items are removed before the uniqueness index is applied.
func (d *DB) migrate() error {
	docCols := map[string]string{
		"status":       `TEXT NOT NULL DEFAULT 'uploaded'`,
		"errorMessage": `TEXT`,
		"fileSize":     `INTEGER NOT NULL DEFAULT 0`,
		"itemCount":    `INTEGER NOT NULL DEFAULT 0`,
		"processedAt":  `TEXT`,
	}
	for col, ddl := range docCols {
		if err := d.ensureColumn("documents", col, ddl); err != nil {
			return err
		}
	}
	if err := d.ensureColumn("matches", "confidence", `REAL`); err != nil {
		return err
	}

	cleanup := `
DELETE FROM matches WHERE lineItemId IN (
  SELECT id FROM line_items
  WHERE id NOT IN (SELECT MIN(id) FROM line_items GROUP BY documentId, rawIndex)
);
DELETE FROM line_items
  WHERE id NOT IN (SELECT MIN(id) FROM line_items GROUP BY documentId, rawIndex);

CREATE UNIQUE INDEX IF NOT EXISTS idx_line_items_doc_raw ON line_items(documentId, rawIndex);
CREATE INDEX IF NOT EXISTS idx_line_items_doc ON line_items(documentId);
CREATE INDEX IF NOT EXISTS idx_processing_log_doc ON processing_log(documentId);
`
	_, err := d.conn.Exec(cleanup)
	return err
}

func (d *DB) ensureColumn(table, column, ddl string) error {
	rows, err := d.conn.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = d.conn.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, ddl))
	return err
}

// UpsertDocument creates the document for a freshly uploaded file, or resets
// an existing document of the same name back to the start of the lifecycle.
func (d *DB) UpsertDocument(name string, fileSize int64) (internal.DocumentRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO documents (name, status, fileSize)
VALUES (?, 'uploaded', ?)
ON CONFLICT(name) DO UPDATE SET
  status='uploaded',
  errorMessage=NULL,
  fileSize=excluded.fileSize,
  itemCount=0,
  processedAt=NULL,
  uploadedAt=CURRENT_TIMESTAMP
`, name, fileSize)
	if err != nil {
		return internal.DocumentRow{}, err
	}

	row, err := d.GetDocumentByName(name)
	if err != nil {
		return internal.DocumentRow{}, err
	}
	if row == nil {
		return internal.DocumentRow{}, errors.New("failed to upsert document")
	}
	return *row, nil
}

const documentColumns = `id, name, status, errorMessage, fileSize, itemCount, uploadedAt, processedAt`

func scanDocument(scan func(dest ...any) error) (internal.DocumentRow, error) {
	var row internal.DocumentRow
	err := scan(&row.ID, &row.Name, &row.Status, &row.ErrorMessage, &row.FileSize, &row.ItemCount, &row.UploadedAt, &row.ProcessedAt)
	return row, err
}

func (d *DB) GetDocument(id int) (*internal.DocumentRow, error) {
	row, err := scanDocument(d.conn.QueryRow(
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) GetDocumentByName(name string) (*internal.DocumentRow, error) {
	row, err := scanDocument(d.conn.QueryRow(
		`SELECT `+documentColumns+` FROM documents WHERE name = ?`, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) SetDocumentStatus(id int, status internal.DocumentStatus) error {
	_, err := d.conn.Exec(`UPDATE documents SET status = ? WHERE id = ?`, string(status), id)
	return err
}

func (d *DB) SetDocumentError(id int, message string) error {
	_, err := d.conn.Exec(
		`UPDATE documents SET status = 'error', errorMessage = ? WHERE id = ?`, message, id)
	return err
}

func (d *DB) SetDocumentCompleted(id, itemCount int) error {
	_, err := d.conn.Exec(`
UPDATE documents SET status = 'completed', errorMessage = NULL,
  itemCount = ?, processedAt = CURRENT_TIMESTAMP
WHERE id = ?`, itemCount, id)
	return err
}

// ReplaceLineItems atomically swaps a document's line items for a fresh
// extraction result. Matches for the old items go first so re-extraction
// never leaves review state pointing at stale rows. The whole sequence
// commits or rolls back as one.
func (d *DB) ReplaceLineItems(documentID int, descriptions []string) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
DELETE FROM matches WHERE lineItemId IN (SELECT id FROM line_items WHERE documentId = ?)`,
		documentID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM line_items WHERE documentId = ?`, documentID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
INSERT INTO line_items (documentId, description, rawIndex)
VALUES (?, ?, ?)
ON CONFLICT(documentId, rawIndex) DO UPDATE SET description=excluded.description
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for idx, description := range descriptions {
		if _, err := stmt.Exec(documentID, description, idx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) ListLineItems(documentID int) ([]internal.LineItemRow, error) {
	rows, err := d.conn.Query(`
SELECT id, documentId, description, rawIndex
FROM line_items WHERE documentId = ? ORDER BY rawIndex ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LineItemRow
	for rows.Next() {
		var row internal.LineItemRow
		if err := rows.Scan(&row.ID, &row.DocumentID, &row.Description, &row.RawIndex); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListUnmatchedLineItems returns the document's line items that have no
// match row yet, in source order.
func (d *DB) ListUnmatchedLineItems(documentID int) ([]internal.LineItemRow, error) {
	rows, err := d.conn.Query(`
SELECT li.id, li.documentId, li.description, li.rawIndex
FROM line_items li
LEFT JOIN matches m ON m.lineItemId = li.id
WHERE li.documentId = ? AND m.id IS NULL
ORDER BY li.rawIndex ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.LineItemRow
	for rows.Next() {
		var row internal.LineItemRow
		if err := rows.Scan(&row.ID, &row.DocumentID, &row.Description, &row.RawIndex); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertMatch inserts a match for the line item unless one already exists.
// The UNIQUE constraint on lineItemId plus DO NOTHING makes concurrent
// first-reads of the same document safe: one insert wins, the rest no-op.
func (d *DB) InsertMatch(lineItemID int, choices []internal.Choice, confidence float64) (bool, error) {
	choicesJSON, err := json.Marshal(choices)
	if err != nil {
		return false, err
	}

	result, err := d.conn.Exec(`
INSERT INTO matches (lineItemId, choicesJson, confidence)
VALUES (?, ?, ?)
ON CONFLICT(lineItemId) DO NOTHING
`, lineItemID, string(choicesJSON), confidence)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *DB) GetMatch(id int) (*internal.MatchRow, error) {
	var row internal.MatchRow
	var choicesJSON string
	err := d.conn.QueryRow(`
SELECT id, lineItemId, choicesJson, confirmedId, confidence
FROM matches WHERE id = ?`, id).Scan(
		&row.ID, &row.LineItemID, &choicesJSON, &row.ConfirmedID, &row.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(choicesJSON), &row.Choices); err != nil {
		return nil, err
	}
	return &row, nil
}

// ConfirmChoice records the user's selection for one match. The index must
// address an existing entry in the stored choice list.
func (d *DB) ConfirmChoice(matchID, choiceIndex int) error {
	match, err := d.GetMatch(matchID)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("%w: id=%d", ErrMatchNotFound, matchID)
	}
	if choiceIndex < 0 || choiceIndex >= len(match.Choices) {
		return fmt.Errorf("%w: index=%d choices=%d", ErrChoiceOutOfRange, choiceIndex, len(match.Choices))
	}

	_, err = d.conn.Exec(`UPDATE matches SET confirmedId = ? WHERE id = ?`, choiceIndex, matchID)
	return err
}

func (d *DB) ReviewRows(documentID int) ([]internal.ReviewRow, error) {
	rows, err := d.conn.Query(`
SELECT m.id, li.id, li.rawIndex, li.description, m.choicesJson, m.confirmedId, m.confidence
FROM line_items li
JOIN matches m ON m.lineItemId = li.id
WHERE li.documentId = ?
ORDER BY li.rawIndex ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ReviewRow
	for rows.Next() {
		var row internal.ReviewRow
		var choicesJSON string
		if err := rows.Scan(&row.MatchID, &row.LineItemID, &row.RawIndex, &row.Description, &choicesJSON, &row.ConfirmedID, &row.Confidence); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(choicesJSON), &row.Choices); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ForEachExportRow streams export rows through fn one at a time so callers
// can serialize arbitrarily large documents without buffering them.
func (d *DB) ForEachExportRow(documentID int, fn func(internal.ExportRow) error) error {
	rows, err := d.conn.Query(`
SELECT li.description, m.choicesJson, m.confirmedId, m.confidence
FROM matches m
JOIN line_items li ON li.id = m.lineItemId
WHERE li.documentId = ?
ORDER BY li.rawIndex ASC`, documentID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row internal.ExportRow
		var choicesJSON string
		if err := rows.Scan(&row.Description, &choicesJSON, &row.ConfirmedID, &row.Confidence); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(choicesJSON), &row.Choices); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) InsertProcessingLog(documentID int, step internal.PipelineStep, status internal.LogStatus, message string, durationMs float64) error {
	_, err := d.conn.Exec(`
INSERT INTO processing_log (documentId, step, status, message, durationMs)
VALUES (?, ?, ?, ?, ?)`, documentID, string(step), string(status), message, durationMs)
	return err
}

func (d *DB) ListProcessingLog(documentID int) ([]internal.ProcessingLogRow, error) {
	rows, err := d.conn.Query(`
SELECT id, documentId, step, status, message, durationMs, createdAt
FROM processing_log WHERE documentId = ? ORDER BY id ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ProcessingLogRow
	for rows.Next() {
		var row internal.ProcessingLogRow
		if err := rows.Scan(&row.ID, &row.DocumentID, &row.Step, &row.Status, &row.Message, &row.DurationMs, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) Stats() (internal.Stats, error) {
	stats := internal.Stats{DocsByStatus: map[string]int{}}

	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return stats, err
	}
	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM line_items`).Scan(&stats.LineItems); err != nil {
		return stats, err
	}
	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&stats.Matches); err != nil {
		return stats, err
	}
	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM matches WHERE confirmedId IS NOT NULL`).Scan(&stats.Confirmed); err != nil {
		return stats, err
	}

	rows, err := d.conn.Query(`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.DocsByStatus[status] = count
	}
	return stats, rows.Err()
}
