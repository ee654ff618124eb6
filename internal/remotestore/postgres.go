package remotestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TableSpec describes a sync table: its promoted columns, the first of which
// orders query results. Every other field lives in the doc column.
type TableSpec struct {
	Columns []string
}

// DefaultTables is the table catalog created by db/postgres/migrations.
var DefaultTables = map[string]TableSpec{
	"profiles":            {Columns: []string{OwnerColumn}},
	"workout_completions": {Columns: []string{"id", OwnerColumn}},
	"meal_completions":    {Columns: []string{"id", OwnerColumn}},
	"body_metrics":        {Columns: []string{"id", OwnerColumn}},
}

// PostgresStore is a Remote Store backed by PostgreSQL. Each call runs in a
// transaction scoped to the owner through app.user_id so row level security
// applies.
type PostgresStore struct {
	pool   *pgxpool.Pool
	tables map[string]TableSpec
}

// NewPostgresStore constructs a PostgresStore over the default catalog.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, tables: DefaultTables}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect remote store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping remote store: %w", err)
	}
	return pool, nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	owner, ok := ownerOf(filter)
	if !ok {
		return nil, ErrUnscopedFilter
	}

	where, args := whereClause(spec, filter)
	query := fmt.Sprintf("SELECT doc FROM %s WHERE %s ORDER BY %s",
		pgx.Identifier{table}.Sanitize(), where, pgx.Identifier{spec.Columns[0]}.Sanitize())

	var out []Row
	err = s.inOwnerTx(ctx, owner, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]Row, 0)
		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return err
			}
			var row Row
			if err := json.Unmarshal(doc, &row); err != nil {
				return fmt.Errorf("decode %s row: %w", table, err)
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert implements Store. All rows are written in one transaction. On
// conflict the incoming document is merged over the stored one so columns
// absent from a row keep their stored values. Rows are never moved between
// owners.
func (s *PostgresStore) Upsert(ctx context.Context, table string, rows []Row, conflictKeys []string) error {
	if len(rows) == 0 {
		return nil
	}
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	if len(conflictKeys) == 0 {
		return fmt.Errorf("upsert %s: conflict keys required", table)
	}
	for _, key := range conflictKeys {
		if !spec.promoted(key) {
			return fmt.Errorf("upsert %s: conflict key %q is not a promoted column", table, key)
		}
	}

	owner, ok := ownerOf(rows[0])
	if !ok {
		return ErrUnscopedRow
	}

	stmt := upsertStatement(table, spec, conflictKeys)
	batch := &pgx.Batch{}
	for _, row := range rows {
		rowOwner, ok := ownerOf(row)
		if !ok {
			return ErrUnscopedRow
		}
		if rowOwner != owner {
			return fmt.Errorf("upsert %s: rows span owners", table)
		}
		args := make([]any, 0, len(spec.Columns)+1)
		for _, column := range spec.Columns {
			value, present := row[column]
			if !present || value == nil {
				return fmt.Errorf("upsert %s: row missing %q", table, column)
			}
			args = append(args, fmt.Sprint(value))
		}
		doc, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode %s row: %w", table, err)
		}
		args = append(args, doc)
		batch.Queue(stmt, args...)
	}

	return s.inOwnerTx(ctx, owner, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for range rows {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		return results.Close()
	})
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, table string, filter Filter) error {
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	owner, ok := ownerOf(filter)
	if !ok {
		return ErrUnscopedFilter
	}

	where, args := whereClause(spec, filter)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", pgx.Identifier{table}.Sanitize(), where)
	return s.inOwnerTx(ctx, owner, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt, args...)
		return err
	})
}

func (s *PostgresStore) spec(table string) (TableSpec, error) {
	spec, ok := s.tables[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return spec, nil
}

func (s *PostgresStore) inOwnerTx(ctx context.Context, owner string, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", owner); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t TableSpec) promoted(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func whereClause(spec TableSpec, filter Filter) (string, []any) {
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		value := fmt.Sprint(filter[key])
		if spec.promoted(key) {
			args = append(args, value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", pgx.Identifier{key}.Sanitize(), len(args)))
			continue
		}
		args = append(args, key, value)
		clauses = append(clauses, fmt.Sprintf("doc->>$%d::text = $%d", len(args)-1, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func upsertStatement(table string, spec TableSpec, conflictKeys []string) string {
	columns := make([]string, 0, len(spec.Columns)+1)
	placeholders := make([]string, 0, len(spec.Columns)+1)
	for i, column := range spec.Columns {
		columns = append(columns, pgx.Identifier{column}.Sanitize())
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	columns = append(columns, "doc")
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(spec.Columns)+1))

	conflict := make([]string, 0, len(conflictKeys))
	for _, key := range conflictKeys {
		conflict = append(conflict, pgx.Identifier{key}.Sanitize())
	}

	return fmt.Sprintf(`INSERT INTO %s AS cur (%s) VALUES (%s)
        ON CONFLICT (%s) DO UPDATE SET doc = cur.doc || EXCLUDED.doc, updated_at = now()
        WHERE cur.user_id = EXCLUDED.user_id`,
		pgx.Identifier{table}.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflict, ", "),
	)
}
