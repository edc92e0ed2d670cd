package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cityroute/internal/model"
)

// Vehicles and deliveries are stored as JSONB documents keyed by id.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_updated_at_idx ON deliveries (updated_at)`,
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) UpsertVehicles(ctx context.Context, vs ...model.Vehicle) error {
	return p.upsert(ctx, "vehicles", len(vs), func(i int) (string, any) { return vs[i].ID, vs[i] })
}

func (p *Postgres) UpsertDeliveries(ctx context.Context, ds ...model.Delivery) error {
	return p.upsert(ctx, "deliveries", len(ds), func(i int) (string, any) { return ds[i].ID, ds[i] })
}

func (p *Postgres) upsert(ctx context.Context, table string, n int, item func(int) (string, any)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	q := fmt.Sprintf(`INSERT INTO %s (id, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`, table)
	for i := 0; i < n; i++ {
		id, v := item(i)
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", table, id, err)
		}
		if _, err := tx.ExecContext(ctx, q, id, doc); err != nil {
			return fmt.Errorf("upsert %s %s: %w", table, id, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE vehicles SET doc = jsonb_set(doc, '{status}', to_jsonb($2::text)), updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (model.Vehicle, bool, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM vehicles WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Vehicle{}, false, nil
	}
	if err != nil {
		return model.Vehicle{}, false, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	var v model.Vehicle
	if err := json.Unmarshal(doc, &v); err != nil {
		return model.Vehicle{}, false, fmt.Errorf("decode vehicle %s: %w", id, err)
	}
	return v, true, nil
}

func (p *Postgres) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Vehicle
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v model.Vehicle
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("decode vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) Deliveries(ctx context.Context, ids []string) ([]model.Delivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM deliveries WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]model.Delivery, len(ids))
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var d model.Delivery
		if err := json.Unmarshal(doc, &d); err != nil {
			return nil, fmt.Errorf("decode delivery: %w", err)
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderByIDs(ids, byID), nil
}

func (p *Postgres) ChangedDeliveries(ctx context.Context, ids []string, since time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM deliveries WHERE id = ANY($1) AND updated_at > $2`, ids, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, rows.Err()
}
