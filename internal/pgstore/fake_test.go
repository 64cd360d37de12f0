package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB answers the fixed statements of the repository from an in-memory
// document map. Page and count queries ignore their filters and return
// every document in id order.
type fakeDB struct {
	mu      sync.Mutex
	docs    map[int64][]byte
	lastID  int64
	execs   []string
	queries []string
	err     error
	pingErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{docs: make(map[int64][]byte)}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	if sql == deleteSQL {
		id := args[1].(int64)
		if _, ok := f.docs[id]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(f.docs, id)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]int64, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows := &fakeRows{}
	for _, id := range ids {
		rows.values = append(rows.values, []any{id, f.docs[id]})
	}
	return rows, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if f.err != nil {
		return fakeRow{err: f.err}
	}

	switch sql {
	case insertSQL:
		f.lastID++
		f.docs[f.lastID] = args[1].([]byte)
		return fakeRow{values: []any{f.lastID, f.docs[f.lastID]}}
	case getSQL:
		doc, ok := f.docs[args[1].(int64)]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{values: []any{doc}}
	case updateSQL:
		id := args[1].(int64)
		doc, ok := f.docs[id]
		if !ok {
			return fakeRow{err: pgx.ErrNoRows}
		}
		merged := map[string]any{}
		_ = json.Unmarshal(doc, &merged)
		_ = json.Unmarshal(args[2].([]byte), &merged)
		f.docs[id], _ = json.Marshal(merged)
		return fakeRow{values: []any{id, f.docs[id]}}
	}
	if strings.HasPrefix(sql, "SELECT count(*)") {
		return fakeRow{values: []any{int64(len(f.docs))}}
	}
	return fakeRow{err: errors.New("unexpected statement: " + sql)}
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) doc(id int64) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]any{}
	_ = json.Unmarshal(f.docs[id], &out)
	return out
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	values [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.values[r.pos-1], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.values[r.pos-1], nil
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = values[i].(int64)
		case *[]byte:
			*p = values[i].([]byte)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}
