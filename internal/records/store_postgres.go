package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	dErrors "regdesk/pkg/domain-errors"
)

// PostgresStore persists rows in the registrations table. Every business column is
// TEXT so blank and NULL follow the same unset convention as the file backend.
type PostgresStore struct {
	db   *sql.DB
	opts options
}

// NewPostgresStore constructs a PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB, opts ...Option) *PostgresStore {
	if db == nil {
		panic("records: db is required")
	}
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// sqlName maps a declared column to its table column. Column values are constants,
// never user input, so they are safe to splice into SQL.
func sqlName(c Column) string {
	return strings.ToLower(string(c))
}

var selectList = func() string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = sqlName(c)
	}
	return strings.Join(names, ", ")
}()

func (s *PostgresStore) Append(ctx context.Context, fields Fields) (Row, error) {
	row := newRow(fields, s.opts.now())

	names := make([]string, len(Columns))
	placeholders := make([]string, len(Columns))
	args := make([]any, len(Columns))
	for i, c := range Columns {
		names[i] = sqlName(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	query := fmt.Sprintf("INSERT INTO registrations (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "append registration")
	}
	return row.Clone(), nil
}

func (s *PostgresStore) Find(ctx context.Context, matches ...Match) ([]Row, error) {
	if err := validateMatches(matches, false); err != nil {
		return nil, err
	}
	rows, _, err := s.find(ctx, s.db, matches, false)
	return rows, err
}

// Update locks every candidate row, checks there is exactly one, and writes it
// within the same transaction.
func (s *PostgresStore) Update(ctx context.Context, fields Fields, matches ...Match) (bool, error) {
	if err := validateMatches(matches, true); err != nil {
		return false, err
	}
	changes, err := resolveUpdate(fields, s.opts.now())
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeStoreIO, "begin update")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, ids, err := s.find(ctx, tx, matches, true)
	if err != nil {
		return false, err
	}
	if len(ids) != 1 {
		return false, nil
	}

	sets := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+1)
	for _, c := range Columns {
		v, ok := changes[c]
		if !ok {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", sqlName(c), len(args)))
	}
	args = append(args, ids[0])
	query := fmt.Sprintf("UPDATE registrations SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeStoreIO, "update registration")
	}
	if err := tx.Commit(); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeStoreIO, "commit update")
	}
	return true, nil
}

func (s *PostgresStore) find(ctx context.Context, exec dbExecutor, matches []Match, forUpdate bool) ([]Row, []int64, error) {
	where, args := whereClause(matches)
	query := "SELECT id, " + selectList + " FROM registrations" + where + " ORDER BY id"
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "find registrations")
	}
	defer rows.Close()

	var (
		out []Row
		ids []int64
	)
	for rows.Next() {
		row, id, err := scanRow(rows)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "scan registration")
		}
		out = append(out, row)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeStoreIO, "iterate registrations")
	}
	return out, ids, nil
}

func whereClause(matches []Match) (string, []any) {
	if len(matches) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(matches))
	args := make([]any, 0, len(matches))
	for _, m := range matches {
		col := sqlName(m.Column)
		value := strings.TrimSpace(m.Value)
		if value == "" {
			conds = append(conds, fmt.Sprintf("(%s IS NULL OR btrim(%s) = '')", col, col))
			continue
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("lower(btrim(%s)) = lower($%d)", col, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRow(rows *sql.Rows) (Row, int64, error) {
	var id int64
	values := make([]sql.NullString, len(Columns))
	dest := make([]any, 0, len(Columns)+1)
	dest = append(dest, &id)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, err
	}
	row := make(Row, len(Columns))
	for i, c := range Columns {
		if values[i].Valid {
			row[c] = values[i].String
		}
	}
	return row, id, nil
}
