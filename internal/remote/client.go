package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"matchdesk/internal"
	"matchdesk/internal/config"
)

// Client talks to the two external dependencies: the extraction service
// (multipart PDF upload) and the catalog matching service (query string).
// Each attempt is bounded by the configured timeout; transient failures are
// retried with exponential backoff and the last error is surfaced once the
// retry budget runs out. Decoding problems are never retried.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond},
	}
}

// Extract sends the PDF to the extraction service and returns one
// description string per extracted line item, in document order.
func (c *Client) Extract(ctx context.Context, filename string, file []byte) ([]string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(file); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.ExtractEndpoint, writer.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	return decodeExtractedItems(body)
}

// Match queries the catalog matching service for the given description and
// returns the candidate list best-first.
func (c *Client) Match(ctx context.Context, query string, limit int) ([]internal.Choice, error) {
	endpoint, err := url.Parse(c.cfg.MatchEndpoint)
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = q.Encode()

	body, err := c.do(ctx, http.MethodGet, endpoint.String(), "", nil)
	if err != nil {
		return nil, err
	}

	var records []struct {
		Match string  `json:"match"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("match response contained no candidates")
	}

	choices := make([]internal.Choice, 0, len(records))
	for _, r := range records {
		choices = append(choices, internal.Choice{Name: r.Match, Score: r.Score})
	}
	return choices, nil
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, payload []byte) ([]byte, error) {
	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(250*(1<<(attempt-2))+rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < attempts {
				lastErr = fmt.Errorf("remote status %d", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("remote service error: status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
		}

		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("remote request failed")
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// decodeExtractedItems normalizes the extraction service's two known
// response shapes into plain description strings. The service returns
// either {"items": [{"description": ...}]} or a bare array of richer
// records keyed by item name and amount.
func decodeExtractedItems(body []byte) ([]string, error) {
	var wrapped struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Items != nil {
		return recordsToDescriptions(wrapped.Items), nil
	}

	var bare []map[string]any
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	return recordsToDescriptions(bare), nil
}

func recordsToDescriptions(records []map[string]any) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, recordDescription(record))
	}
	return out
}

func recordDescription(record map[string]any) string {
	if desc, ok := record["description"].(string); ok {
		return desc
	}

	name := toString(record["Request Item"])
	amount := toString(record["Amount"])
	if name != "" {
		if amount != "" {
			return fmt.Sprintf("%s (Qty: %s)", name, amount)
		}
		return name
	}

	// Unrecognized record shape: keep it lossless rather than dropping the row.
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Sprintf("%v", record)
	}
	return string(blob)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
