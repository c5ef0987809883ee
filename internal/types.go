package internal

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

type PipelineStep string

const (
	StepUpload  PipelineStep = "upload"
	StepExtract PipelineStep = "extract"
	StepMatch   PipelineStep = "match"
	StepConfirm PipelineStep = "confirm"
)

type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogWarning LogStatus = "warning"
	LogError   LogStatus = "error"
)

type DocumentRow struct {
	ID           int
	Name         string
	Status       DocumentStatus
	ErrorMessage *string
	FileSize     int64
	ItemCount    int
	UploadedAt   string
	ProcessedAt  *string
}

type LineItemRow struct {
	ID          int
	DocumentID  int
	Description string
	RawIndex    int
}

// Choice is one candidate catalog entry proposed for a line item.
// Choice lists are stored best-first.
type Choice struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type MatchRow struct {
	ID          int
	LineItemID  int
	Choices     []Choice
	ConfirmedID *int
	Confidence  *float64
}

type ProcessingLogRow struct {
	ID         int          `json:"id"`
	DocumentID int          `json:"document_id"`
	Step       PipelineStep `json:"step"`
	Status     LogStatus    `json:"status"`
	Message    string       `json:"message"`
	DurationMs float64      `json:"duration_ms"`
	CreatedAt  string       `json:"created_at"`
}

// ReviewRow is one line item joined with its match for the review surface.
type ReviewRow struct {
	MatchID     int      `json:"match_id"`
	LineItemID  int      `json:"line_item_id"`
	RawIndex    int      `json:"raw_index"`
	Description string   `json:"description"`
	Choices     []Choice `json:"choices"`
	ConfirmedID *int     `json:"confirmed"`
	Confidence  *float64 `json:"confidence"`
}

type ExportRow struct {
	Description string
	Choices     []Choice
	ConfirmedID *int
	Confidence  *float64
}

type Stats struct {
	Documents    int            `json:"documents"`
	LineItems    int            `json:"line_items"`
	Matches      int            `json:"matches"`
	Confirmed    int            `json:"confirmed"`
	DocsByStatus map[string]int `json:"documents_by_status"`
}
