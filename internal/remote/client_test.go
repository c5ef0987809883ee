package remote

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"matchdesk/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testConfig() config.Config {
	return config.Config{
		ExtractEndpoint:  "https://example.test/extraction_api",
		MatchEndpoint:    "https://example.test/match",
		RequestTimeoutMs: 1000,
		MaxRetries:       3,
		MatchLimit:       5,
	}
}

func stubResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestMatchRetriesTransientFailures(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/match" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("query") != "bolt M6" || r.URL.Query().Get("limit") != "5" {
				t.Fatalf("unexpected query %s", r.URL.RawQuery)
			}
			attempt++
			if attempt < 3 {
				return stubResponse(http.StatusServiceUnavailable, `{"error":"busy"}`), nil
			}
			return stubResponse(http.StatusOK, `[{"match":"Bolt DIN933 M6","score":91.5},{"match":"Bolt DIN931 M6","score":80.0}]`), nil
		}),
	}

	choices, err := client.Match(context.Background(), "bolt M6", 5)
	if err != nil {
		t.Fatal(err)
	}
	if attempt != 3 {
		t.Fatalf("attempts=%d", attempt)
	}
	if len(choices) != 2 || choices[0].Name != "Bolt DIN933 M6" || choices[0].Score != 91.5 {
		t.Fatalf("choices=%+v", choices)
	}
}

func TestMatchDoesNotRetryClientErrors(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			attempt++
			return stubResponse(http.StatusBadRequest, `{"error":"bad query"}`), nil
		}),
	}

	if _, err := client.Match(context.Background(), "bolt", 5); err == nil {
		t.Fatal("expected error")
	}
	if attempt != 1 {
		t.Fatalf("attempts=%d, 4xx must not be retried", attempt)
	}
}

func TestMatchSurfacesLastErrorAfterExhaustion(t *testing.T) {
	attempt := 0
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			attempt++
			return stubResponse(http.StatusBadGateway, `upstream down`), nil
		}),
	}

	_, err := client.Match(context.Background(), "bolt", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempt != 4 {
		t.Fatalf("attempts=%d, want 1 + 3 retries", attempt)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("err=%v", err)
	}
}

func TestExtractSendsMultipartAndDecodesWrappedShape(t *testing.T) {
	client := NewClient(testConfig())
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Method != http.MethodPost || r.URL.Path != "/extraction_api" {
				t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("multipart parse: %v", err)
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Fatalf("missing file field: %v", err)
			}
			defer file.Close()
			if header.Filename != "doc.pdf" {
				t.Fatalf("filename=%s", header.Filename)
			}
			blob, _ := io.ReadAll(file)
			if string(blob) != "%PDF-1.4 fake" {
				t.Fatalf("payload=%q", blob)
			}
			return stubResponse(http.StatusOK, `{"items":[{"description":"bolt M6"},{"description":"nut M6"}]}`), nil
		}),
	}

	items, err := client.Extract(context.Background(), "doc.pdf", []byte("%PDF-1.4 fake"))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0] != "bolt M6" || items[1] != "nut M6" {
		t.Fatalf("items=%v", items)
	}
}

func TestDecodeExtractedItemsRicherShape(t *testing.T) {
	body := `[{"Request Item":"Hex bolt M6","Amount":25},{"Request Item":"Washer M6"},{"unknown":"thing"}]`
	items, err := decodeExtractedItems([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("len=%d", len(items))
	}
	if items[0] != "Hex bolt M6 (Qty: 25)" {
		t.Fatalf("item0=%q", items[0])
	}
	if items[1] != "Washer M6" {
		t.Fatalf("item1=%q", items[1])
	}
	if !strings.Contains(items[2], "unknown") {
		t.Fatalf("unrecognized shape must not be dropped: %q", items[2])
	}
}

func TestDecodeExtractedItemsRejectsGarbage(t *testing.T) {
	if _, err := decodeExtractedItems([]byte(`"just a string"`)); err == nil {
		t.Fatal("expected decode error")
	}
}
