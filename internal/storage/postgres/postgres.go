// Package postgres is implementation of storage interface.
//
// Documents live in a single jsonb table. Array mutations are single UPDATE
// statements, so row-level atomicity gives the commutative set semantics the
// toggle protocol relies on. Change notification rides on a NOTIFY trigger,
// see subscribe.go.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/SocialGold-net/aurum/internal/storage"
)

var log = logrus.WithField("layer", "storage").WithField("package", "postgres")

const notifyChannel = "document_changes"

type pg struct {
	db *sqlx.DB

	listener *pq.Listener

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type documentDTO struct {
	ID        string          `db:"id"`
	Parent    string          `db:"parent"`
	Data      json.RawMessage `db:"data"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

func (d documentDTO) toDocument() storage.Document {
	return storage.Document{
		ID:        d.ID,
		Parent:    d.Parent,
		Data:      d.Data,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// New creates new instance of pg. The dsn is used for the LISTEN connection
// backing subscriptions.
func New(db *sql.DB, dsn string) (storage.Storage, error) {
	s := &pg{
		db:   sqlx.NewDb(db, "postgres"),
		subs: make(map[*subscription]struct{}),
	}

	s.listener = pq.NewListener(dsn, time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).Error("listener connection event")
		}
	})

	if err := s.listener.Listen(notifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen %s: %w", notifyChannel, err)
	}

	go s.dispatch()

	return s, nil
}

func (s *pg) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	return nil
}

func (s *pg) Create(ctx context.Context, c storage.Collection, parent string, data interface{}) (*storage.Document, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	var d documentDTO
	if err := sqlx.GetContext(ctx, s.db, &d, `
			INSERT INTO document(collection, parent, data) VALUES($1, $2, $3)
			RETURNING id, parent, data, created_at, updated_at
		`, string(c), parent, string(b),
	); err != nil {
		return nil, fmt.Errorf("failed to exec: %w", err)
	}

	out := d.toDocument()
	return &out, nil
}

func (s *pg) Set(ctx context.Context, ref storage.Ref, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
			INSERT INTO document(collection, parent, id, data) VALUES($1, $2, $3, $4)
			ON CONFLICT(collection, parent, id) DO UPDATE SET
				data=excluded.data, updated_at=now()
		`, string(ref.Collection), ref.Parent, ref.ID, string(b),
	); err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}

	return nil
}

func (s *pg) Get(ctx context.Context, ref storage.Ref) (*storage.Document, error) {
	var d documentDTO
	if err := sqlx.GetContext(ctx, s.db, &d, `
			SELECT id, parent, data, created_at, updated_at FROM document
			WHERE collection=$1 AND parent=$2 AND id=$3
		`, string(ref.Collection), ref.Parent, ref.ID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, fmt.Errorf("failed to query: %w", err)
	}

	out := d.toDocument()
	return &out, nil
}

func (s *pg) List(ctx context.Context, q storage.Query) ([]storage.Document, error) {
	query := `SELECT id, parent, data, created_at, updated_at FROM document WHERE collection=$1`
	args := []interface{}{string(q.Collection)}

	if q.Parent != "" {
		args = append(args, q.Parent)
		query += fmt.Sprintf(` AND parent=$%d`, len(args))
	}

	if q.Filter != nil {
		if q.Filter.Equals != "" {
			args = append(args, q.Filter.Field, q.Filter.Equals)
			query += fmt.Sprintf(` AND data->>$%d = $%d`, len(args)-1, len(args))
		} else {
			args = append(args, q.Filter.Field, q.Filter.Contains)
			query += fmt.Sprintf(` AND data->$%d @> to_jsonb($%d::text)`, len(args)-1, len(args))
		}
	}

	col := "created_at"
	if q.OrderBy == storage.LastUpdateField {
		col = "updated_at"
	}

	dir := "ASC"
	if q.Order == storage.DescendingOrder {
		dir = "DESC"
	}

	query += fmt.Sprintf(` ORDER BY %s %s, seq %s`, col, dir, dir)

	var dd []documentDTO
	if err := sqlx.SelectContext(ctx, s.db, &dd, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	out := make([]storage.Document, len(dd))
	for i, d := range dd {
		out[i] = d.toDocument()
	}

	return out, nil
}

func (s *pg) Delete(ctx context.Context, ref storage.Ref) error {
	res, err := s.db.ExecContext(ctx, `
			DELETE FROM document WHERE collection=$1 AND parent=$2 AND id=$3
		`, string(ref.Collection), ref.Parent, ref.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}

	if c, _ := res.RowsAffected(); c == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s *pg) SetFields(ctx context.Context, ref storage.Ref, fields map[string]interface{}) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
			UPDATE document SET data = data || $4::jsonb, updated_at = now()
			WHERE collection=$1 AND parent=$2 AND id=$3
		`, string(ref.Collection), ref.Parent, ref.ID, string(b),
	)
	if err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}

	if c, _ := res.RowsAffected(); c == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s *pg) ArrayUnion(ctx context.Context, ref storage.Ref, field, value string) error {
	// the whole add-if-absent runs as one statement under the row lock, so
	// concurrent toggles commute and a duplicate add is absorbed
	res, err := s.db.ExecContext(ctx, `
			UPDATE document SET
				data = CASE
					WHEN COALESCE(data->$4, '[]'::jsonb) @> to_jsonb($5::text) THEN data
					ELSE jsonb_set(data, ARRAY[$4], COALESCE(data->$4, '[]'::jsonb) || to_jsonb(ARRAY[$5]))
				END,
				updated_at = now()
			WHERE collection=$1 AND parent=$2 AND id=$3
		`, string(ref.Collection), ref.Parent, ref.ID, field, value,
	)
	if err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}

	if c, _ := res.RowsAffected(); c == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s *pg) ArrayRemove(ctx context.Context, ref storage.Ref, field, value string) error {
	res, err := s.db.ExecContext(ctx, `
			UPDATE document SET
				data = jsonb_set(data, ARRAY[$4], COALESCE(
					(SELECT jsonb_agg(e) FROM jsonb_array_elements(COALESCE(data->$4, '[]'::jsonb)) e
						WHERE e <> to_jsonb($5::text)),
					'[]'::jsonb)),
				updated_at = now()
			WHERE collection=$1 AND parent=$2 AND id=$3
		`, string(ref.Collection), ref.Parent, ref.ID, field, value,
	)
	if err != nil {
		return fmt.Errorf("failed to exec: %w", err)
	}

	if c, _ := res.RowsAffected(); c == 0 {
		return storage.ErrNotFound
	}

	return nil
}
