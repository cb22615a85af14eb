package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"sentiment-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type execCall struct {
	sql  string
	args []any
}

type fakePool struct {
	execs     []execCall
	queryArgs []any
	rows      [][]any
	queryErr  error
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakePool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queryArgs = args
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{rows: f.rows, idx: -1}, nil
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d columns, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		src := reflect.ValueOf(row[i])
		if !src.IsValid() {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(src)
	}
	return nil
}

func newTestRepo(pool *fakePool) *BatchRepository {
	return NewBatchRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))
}

func TestRunMigrationsCreatesTable(t *testing.T) {
	pool := &fakePool{}
	if err := newTestRepo(pool).RunMigrations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.execs) != 1 || !strings.Contains(pool.execs[0].sql, "CREATE TABLE IF NOT EXISTS sync_batches") {
		t.Fatalf("unexpected migration calls: %+v", pool.execs)
	}
}

func TestInsertBatchEncodesOptionalColumns(t *testing.T) {
	pool := &fakePool{}
	repo := newTestRepo(pool)
	fg := 71
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := repo.InsertBatch(context.Background(), domain.BatchRecord{
		BatchID:     "b-1",
		Pair:        "btc/usdt",
		Timeframe:   "1d",
		Model:       "vader",
		Correlation: 0.42,
		Poll:        &domain.PollStats{BullishPct: 60, BearishPct: 40, TotalVotes: 10},
		FearGreed:   &fg,
		Succeeded:   []string{"news", "poll"},
		Failed:      map[string]string{"heatmap": "timeout"},
		StartedAt:   start,
		FinishedAt:  start.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args := pool.execs[0].args
	if args[1] != "BTC/USDT" {
		t.Fatalf("expected pair upper-cased, got %v", args[1])
	}
	if args[5] != 60.0 || args[7] != 10 || args[8] != 71 {
		t.Fatalf("unexpected poll/fear-greed args: %v", args[5:9])
	}
	if args[10] != `{"heatmap":"timeout"}` {
		t.Fatalf("unexpected failed json: %v", args[10])
	}
}

func TestInsertBatchWithoutOptionalValues(t *testing.T) {
	pool := &fakePool{}
	if err := newTestRepo(pool).InsertBatch(context.Background(), domain.BatchRecord{BatchID: "b-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args := pool.execs[0].args
	if args[5] != nil || args[8] != nil {
		t.Fatalf("expected NULL optional columns, got %v", args[5:9])
	}
	if args[10] != "{}" {
		t.Fatalf("expected empty failed json, got %v", args[10])
	}
	if got, ok := args[9].([]string); !ok || got == nil {
		t.Fatalf("expected non-nil succeeded slice, got %#v", args[9])
	}
}

func TestListBatchesScansRows(t *testing.T) {
	bullish, bearish, votes := 55.0, 45.0, 20
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := &fakePool{rows: [][]any{
		{"b-1", "BTC/USDT", "1d", "vader", 0.5, &bullish, &bearish, &votes, (*int)(nil),
			[]string{"news"}, `{"poll":"boom"}`, start, start.Add(time.Second)},
		{"b-0", "BTC/USDT", "1d", "vader", 0.1, (*float64)(nil), (*float64)(nil), (*int)(nil), (*int)(nil),
			[]string{}, `{}`, start.Add(-time.Hour), start.Add(-time.Hour)},
	}}

	records, err := newTestRepo(pool).ListBatches(context.Background(), "btc/usdt", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.queryArgs[0] != "BTC/USDT" || pool.queryArgs[1] != 50 {
		t.Fatalf("unexpected query args: %v", pool.queryArgs)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Poll == nil || records[0].Poll.TotalVotes != 20 || records[0].Failed["poll"] != "boom" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Poll != nil || records[1].FearGreed != nil {
		t.Fatalf("expected empty optional fields, got %+v", records[1])
	}
}
