package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"grouply/internal/amqp"
	"grouply/internal/config"
	"grouply/internal/log"
)

func TestBackendType_IsValid(t *testing.T) {
	tests := []struct {
		typ  BackendType
		want bool
	}{
		{MemoryBackend, true},
		{SQLiteBackend, true},
		{PostgresBackend, true},
		{"sheets", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsValid(); got != tt.want {
			t.Errorf("%q.IsValid() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	app := &config.Config{DataBackend: "mongo"}
	if _, err := FromAppConfig(app); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	app = &config.Config{
		DataBackend:  "postgres",
		PostgresDSN:  "postgres://u@localhost/grouply",
		AMQPURL:      "amqp://localhost",
		AMQPExchange: "grouply",
		AMQPQueue:    "ledger_export",
		SeedDemoData: true,
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Type != PostgresBackend || cfg.PostgresDSN != app.PostgresDSN || !cfg.SeedDemoData {
		t.Errorf("unexpected backend config %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"postgres without dsn", Config{Type: PostgresBackend}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://x", AMQPExchange: "e"}, true},
		{"unknown", Config{Type: "sheets"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := GetBackendTypeStrings()
	want := []string{"memory", "sqlite", "postgres"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func newTestFactory() *DefaultFactory {
	return NewFactory(log.Discard()).(*DefaultFactory)
}

func TestCreateBackend_MemoryReadsRosterFile(t *testing.T) {
	dir := t.TempDir()
	roster := "# id,name\nalice,Alice\nbob,Bob\n"
	if err := os.WriteFile(filepath.Join(dir, "participants.txt"), []byte(roster), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := newTestFactory().CreateBackend(context.Background(), Config{Type: MemoryBackend, DataDirectory: dir})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	defer res.Cleanup()

	participants, err := res.Store.ListParticipants(context.Background())
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("want 2 participants, got %d", len(participants))
	}
	if res.Publisher != nil {
		t.Error("publisher should be nil without AMQP_URL")
	}
}

func TestCreateBackend_SQLiteSeedsDemoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grouply.db")
	f := newTestFactory()
	ctx := context.Background()

	res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path, SeedDemoData: true})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	participants, err := res.Store.ListParticipants(ctx)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(participants) != 4 {
		t.Fatalf("want 4 demo participants, got %d", len(participants))
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	// Reopening a populated database does not seed again.
	res, err = f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path, SeedDemoData: true})
	if err != nil {
		t.Fatalf("reopen backend: %v", err)
	}
	defer res.Cleanup()
	participants, _ = res.Store.ListParticipants(ctx)
	if len(participants) != 4 {
		t.Fatalf("want 4 participants after reopen, got %d", len(participants))
	}
}

func TestCreateBackend_AMQPFailureIsNotFatal(t *testing.T) {
	f := newTestFactory()
	dialed := false
	f.dialAMQP = func(url, exchange, queue string) (*amqp.Client, error) {
		dialed = true
		return nil, errors.New("connection refused")
	}

	res, err := f.CreateBackend(context.Background(), Config{
		Type:          MemoryBackend,
		DataDirectory: t.TempDir(),
		AMQPURL:       "amqp://localhost:5672",
		AMQPExchange:  "grouply",
		AMQPQueue:     "ledger_export",
	})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	defer res.Cleanup()

	if !dialed {
		t.Error("expected an AMQP dial attempt")
	}
	if res.Publisher != nil {
		t.Error("publisher should be nil after a failed dial")
	}
}

func TestCreateBackend_InvalidConfig(t *testing.T) {
	_, err := newTestFactory().CreateBackend(context.Background(), Config{Type: SQLiteBackend})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
