package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore keeps documents in a single JSONB table:
//
//	documents(collection, id, data, updated_at)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get", collection, id)
	}
	if err != nil {
		return nil, classify("get", err)
	}
	return decodeRaw("get", raw)
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, doc Document, merge bool) error {
	raw, err := encodeForWrite("set", doc)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET
			data = CASE WHEN $4 THEN documents.data || EXCLUDED.data ELSE EXCLUDED.data END,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, collection, id, raw, merge); err != nil {
		return classify("set", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields Document) error {
	raw, err := encodeForWrite("update", fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`,
		collection, id, raw,
	)
	if err != nil {
		return classify("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update", err)
	}
	if n == 0 {
		return notFound("update", collection, id)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	); err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) (map[string]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	out := make(map[string]Document)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, classify("list", err)
		}
		doc, err := decodeRaw("list", raw)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return out, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("health", err)
	}
	return nil
}

func encodeForWrite(op string, doc Document) ([]byte, error) {
	if err := Validate(doc); err != nil {
		return nil, &Error{Code: CodeInvalidArgument, Op: op, Err: err}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &Error{Code: CodeInvalidArgument, Op: op, Err: err}
	}
	return raw, nil
}

// classify maps driver and network failures onto store codes.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		switch {
		case pgErr.Code == "42501" || class == "28":
			return &Error{Code: CodePermissionDenied, Op: op, Err: err}
		case class == "22":
			return &Error{Code: CodeInvalidArgument, Op: op, Err: err}
		case class == "08" || class == "53" || class == "57":
			return &Error{Code: CodeUnavailable, Op: op, Err: err}
		}
		return &Error{Code: CodeInternal, Op: op, Err: err}
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeUnavailable, Op: op, Err: err}
	}
	return &Error{Code: CodeInternal, Op: op, Err: err}
}

var _ Store = (*PostgresStore)(nil)
