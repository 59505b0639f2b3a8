package google

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

	"grouply/internal/core"
	"grouply/internal/export"
)

// fakeSheets serves the handful of values endpoints the client calls.
type fakeSheets struct {
	mu       sync.Mutex
	ledger   [][]any
	balances [][]any
	appends  int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	balances := strings.Contains(path, "Balances")
	switch {
	case r.Method == http.MethodGet && balances:
		writeValues(w, f.balances)
	case r.Method == http.MethodGet:
		col := make([][]any, 0, len(f.ledger))
		for _, row := range f.ledger {
			col = append(col, []any{row[1]})
		}
		writeValues(w, col)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.ledger = append(f.ledger, vr.Values...)
		f.appends++
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.balances = nil
		w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.balances = vr.Values
		w.Write([]byte(`{}`))
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func writeValues(w http.ResponseWriter, values [][]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"values": values})
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	c, err := New(svc, "sheet-id", "Ledger")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	_, err := NewFromEnv(context.Background(), "  ", "Ledger")
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background(), "sheet-id", "Ledger")
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
}

func TestNewFromEnv_UnreadableFile(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", t.TempDir()+"/absent.json")

	_, err := NewFromEnv(context.Background(), "sheet-id", "Ledger")
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "id", "Ledger"); err == nil {
		t.Error("expected error for nil service")
	}
	svc := &gsheet.Service{}
	if _, err := New(svc, " ", "Ledger"); err == nil {
		t.Error("expected error for empty spreadsheet id")
	}
	c, err := New(svc, "id", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ledgerSheet != "Ledger" || c.balanceSheet != "Ledger Balances" {
		t.Errorf("unexpected sheet names %q, %q", c.ledgerSheet, c.balanceSheet)
	}
}

func TestClient_ExportWritesHeaderOnceAndSkipsDuplicates(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)
	ctx := context.Background()

	pay := export.PaymentRecord{
		Payment:  core.Payment{ID: "p1", GroupID: "trip", FromID: "b", ToID: "a", Amount: core.Cents(500)},
		FromName: "Bob",
		ToName:   "Alice",
	}
	exp := export.ExpenseRecord{
		Expense: core.Expense{
			ID: "e1", GroupID: "trip", PayerID: "a", Amount: core.Cents(300), SplitMode: core.SplitEqual,
			Shares: []core.Share{{ParticipantID: "a", Amount: core.Cents(150)}, {ParticipantID: "b", Amount: core.Cents(150)}},
		},
		PayerName: "Alice",
	}

	if err := c.ExportPayment(ctx, pay); err != nil {
		t.Fatalf("export payment: %v", err)
	}
	if err := c.ExportExpense(ctx, exp); err != nil {
		t.Fatalf("export expense: %v", err)
	}
	if err := c.ExportPayment(ctx, pay); err != nil {
		t.Fatalf("re-export payment: %v", err)
	}

	if fake.appends != 2 {
		t.Errorf("want 2 appends, got %d", fake.appends)
	}
	if len(fake.ledger) != 3 {
		t.Fatalf("want header plus 2 rows, got %d rows", len(fake.ledger))
	}
	if fake.ledger[0][0] != "Kind" {
		t.Errorf("first row should be the header, got %v", fake.ledger[0])
	}
	if fake.ledger[1][1] != "p1" || fake.ledger[2][1] != "e1" {
		t.Errorf("unexpected ids: %v, %v", fake.ledger[1][1], fake.ledger[2][1])
	}
}

func TestClient_WriteBalancesReplacesGroupBlock(t *testing.T) {
	fake := &fakeSheets{balances: [][]any{
		{"Group", "Participant", "Name", "Net", "Updated"},
		{"trip", "a", "Alice", "-5.00", "old"},
		{"flat", "c", "Carol", "1.00", "old"},
	}}
	c := newTestClient(t, fake)

	lines := []export.BalanceLine{
		{ParticipantID: "a", Name: "Alice", Net: core.Cents(-300)},
		{ParticipantID: "b", Name: "Bob", Net: core.Cents(300)},
	}
	if err := c.WriteBalances(context.Background(), "trip", lines); err != nil {
		t.Fatalf("write balances: %v", err)
	}

	if len(fake.balances) != 4 {
		t.Fatalf("want 4 rows, got %d: %v", len(fake.balances), fake.balances)
	}
	if fake.balances[1][1] != "a" || fake.balances[1][3] != "-3.00" {
		t.Errorf("unexpected first trip row %v", fake.balances[1])
	}
	if fake.balances[3][0] != "flat" {
		t.Errorf("other group should stay in place, got %v", fake.balances[3])
	}
}

func TestClient_WriteBalancesOnEmptySheetAddsHeader(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	err := c.WriteBalances(context.Background(), "trip", []export.BalanceLine{{ParticipantID: "a", Name: "Alice"}})
	if err != nil {
		t.Fatalf("write balances: %v", err)
	}
	if len(fake.balances) != 2 || fake.balances[0][0] != "Group" {
		t.Fatalf("unexpected balance sheet %v", fake.balances)
	}
}
