// Package google exports the ledger to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"grouply/internal/export"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerSheet   string
	balanceSheet  string
	now           func() time.Time
}

var _ export.Exporter = (*Client)(nil)

// New wraps an existing Sheets service. Ledger rows go to sheetName and
// balances to "<sheetName> Balances".
func New(svc *gsheet.Service, spreadsheetID, sheetName string) (*Client, error) {
	if svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = "Ledger"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		ledgerSheet:   sheetName,
		balanceSheet:  sheetName + " Balances",
		now:           time.Now,
	}, nil
}

// NewFromEnv authenticates with a service account taken from
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS, in that order.
func NewFromEnv(ctx context.Context, spreadsheetID, sheetName string) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := serviceAccountCredentials()
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets exporter ready", "sheet", sheetName)
	return New(svc, spreadsheetID, sheetName)
}

func serviceAccountCredentials() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

func (c *Client) ExportExpense(ctx context.Context, rec export.ExpenseRecord) error {
	return c.appendOnce(ctx, rec.Expense.ID, export.ExpenseRow(rec))
}

func (c *Client) ExportPayment(ctx context.Context, rec export.PaymentRecord) error {
	return c.appendOnce(ctx, rec.Payment.ID, export.PaymentRow(rec))
}

// appendOnce appends row unless a row with the same id is already present.
func (c *Client) appendOnce(ctx context.Context, id string, row []any) error {
	ids, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.ledgerSheet+"!B:B").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read ids from %s: %w", c.ledgerSheet, err)
	}
	for _, r := range ids.Values {
		if len(r) > 0 && strings.TrimSpace(fmt.Sprint(r[0])) == id {
			slog.DebugContext(ctx, "Row already exported", "id", id)
			return nil
		}
	}

	values := [][]any{row}
	if len(ids.Values) == 0 {
		values = [][]any{export.LedgerHeader, row}
	}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.ledgerSheet+"!A:I",
		&gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row to %s: %w", c.ledgerSheet, err)
	}
	return nil
}

// WriteBalances rewrites the group's block on the balance sheet.
func (c *Client) WriteBalances(ctx context.Context, groupID string, lines []export.BalanceLine) error {
	rng := c.balanceSheet + "!A:E"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}

	existing := resp.Values
	if len(existing) == 0 {
		existing = [][]any{export.BalanceHeader}
	}
	merged := export.MergeBalanceBlock(existing, groupID, export.BalanceRows(groupID, lines, c.now()))

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, fmt.Sprintf("%s!A1:E%d", c.balanceSheet, len(merged)),
		&gsheet.ValueRange{Values: merged}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s: %w", c.balanceSheet, err)
	}
	return nil
}
