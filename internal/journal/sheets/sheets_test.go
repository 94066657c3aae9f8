package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"dompet/internal/journal"
	"dompet/internal/log"
)

// fakeSheets records the calls the client makes against the Sheets REST API.
type fakeSheets struct {
	mu       sync.Mutex
	appended [][]any
	header   [][]any
	calls    []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		_, _ = w.Write([]byte(`{"updates":{"updatedRange":"Journal!A2:H2","updatedRows":1}}`))
	case r.Method == http.MethodGet:
		body, _ := json.Marshal(map[string]any{"values": f.header})
		_, _ = w.Write(body)
	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.header = vr.Values
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFakeClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(ts.URL+"/"),
		goption.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewWithService(svc, Config{SpreadsheetID: "sheet-id"}, log.Discard()), fake
}

func TestAppend(t *testing.T) {
	c, fake := newFakeClient(t)
	e := journal.Entry{
		At:     time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
		UserID: "alice", Entity: "transaction", Op: "create", ID: "tx-1",
		Methods: []string{"cash"}, Amount: "25000", Description: "nasi goreng",
	}

	ref, err := c.Append(context.Background(), e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if ref != "Journal!A2:H2" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if len(fake.appended) != 1 || len(fake.appended[0]) != len(journal.Columns) {
		t.Fatalf("unexpected rows %+v", fake.appended)
	}
	if fake.appended[0][1] != "alice" || fake.appended[0][0] != "2025-03-15T10:00:00Z" {
		t.Fatalf("unexpected row %+v", fake.appended[0])
	}
	if !strings.Contains(fake.calls[0], "/spreadsheets/sheet-id/values/") {
		t.Fatalf("unexpected call %s", fake.calls[0])
	}
}

func TestEnsureHeaderWritesOnce(t *testing.T) {
	c, fake := newFakeClient(t)
	ctx := context.Background()

	if err := c.EnsureHeader(ctx); err != nil {
		t.Fatalf("ensure header: %v", err)
	}
	if len(fake.header) != 1 || fake.header[0][0] != "timestamp" {
		t.Fatalf("header not written: %+v", fake.header)
	}
	if err := c.EnsureHeader(ctx); err != nil {
		t.Fatalf("ensure header again: %v", err)
	}
	puts := 0
	for _, call := range fake.calls {
		if strings.HasPrefix(call, http.MethodPut) {
			puts++
		}
	}
	if puts != 1 {
		t.Fatalf("header should be written once, got %d writes", puts)
	}
}

func TestNewRequiresSpreadsheetAndCredentials(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected error without spreadsheet id")
	}
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestAppendWithoutService(t *testing.T) {
	c := &Client{sheet: "Journal"}
	if _, err := c.Append(context.Background(), journal.Entry{}); err == nil {
		t.Fatalf("expected error when service is nil")
	}
}
