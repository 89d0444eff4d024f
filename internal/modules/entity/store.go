// README: Entity store backed by PostgreSQL.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"karigar/internal/types"
)

// Store is the persistence contract for entities. Lookups by id return
// types.ErrNotFound; batched lookups omit ids that do not exist.
type Store interface {
	CreateUser(ctx context.Context, u *User, c *Customer, w *Worker) error
	GetUser(ctx context.Context, id types.ID) (*User, error)
	SetUserActive(ctx context.Context, id types.ID, active bool) error

	GetCustomer(ctx context.Context, id types.ID) (*Customer, error)
	CustomersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*Customer, error)
	DeleteCustomer(ctx context.Context, id types.ID) error

	GetWorker(ctx context.Context, id types.ID) (*Worker, error)
	WorkerByUser(ctx context.Context, userID types.ID) (*Worker, error)
	WorkersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*Worker, error)
	UpdateWorkerProfile(ctx context.Context, id types.ID, patch WorkerPatch) (*Worker, error)
	UpdateWorkerLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error

	CreateService(ctx context.Context, s *CatalogEntry) error
	GetService(ctx context.Context, id types.ID) (*CatalogEntry, error)
	ServicesByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*CatalogEntry, error)
	ListServices(ctx context.Context) ([]*CatalogEntry, error)
}

var ErrEmailTaken = fmt.Errorf("entity: email already registered: %w", types.ErrInvalidInput)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreateUser(ctx context.Context, u *User, c *Customer, w *Worker) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role, display_name, phone, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		string(u.ID), u.Email, u.PasswordHash, string(u.Role), u.DisplayName, u.Phone, u.Active, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("entity: insert user: %w", err)
	}
	if c != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO customer_profiles (id, user_id, full_name, phone, email, city, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			string(c.ID), string(c.UserID), c.FullName, c.Phone, c.Email, c.City, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("entity: insert customer: %w", err)
		}
	}
	if w != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO worker_profiles (
				id, user_id, kind, display_name, bio, skills, service_radius_km,
				base_price, currency, crew_size, availability, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
			string(w.ID), string(w.UserID), string(w.Kind), w.DisplayName, w.Bio, w.Skills, w.ServiceRadiusKm,
			w.BasePrice.Amount, w.BasePrice.Currency, w.CrewSize, string(w.Availability), w.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("entity: insert worker: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetUser(ctx context.Context, id types.ID) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, display_name, phone, active, created_at, updated_at
		FROM users WHERE id = $1`, string(id),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.DisplayName, &u.Phone, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity: user %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGStore) SetUserActive(ctx context.Context, id types.ID, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET active = $1, updated_at = NOW() WHERE id = $2`, active, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity: user %s: %w", id, types.ErrNotFound)
	}
	return nil
}

const customerColumns = `id, user_id, full_name, phone, email, city, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.UserID, &c.FullName, &c.Phone, &c.Email, &c.City, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGStore) GetCustomer(ctx context.Context, id types.ID) (*Customer, error) {
	c, err := scanCustomer(s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customer_profiles WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity: customer %s: %w", id, types.ErrNotFound)
	}
	return c, err
}

func (s *PGStore) CustomersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*Customer, error) {
	out := make(map[types.ID]*Customer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+customerColumns+` FROM customer_profiles WHERE id = ANY($1)`, types.IDStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteCustomer(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM customer_profiles WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity: customer %s: %w", id, types.ErrNotFound)
	}
	return nil
}

const workerColumns = `id, user_id, kind, display_name, bio, skills, service_radius_km, base_price, currency,
	crew_size, availability, last_lat, last_lng, last_fix_at, created_at, updated_at`

func scanWorker(row pgx.Row) (*Worker, error) {
	var w Worker
	var lat, lng sql.NullFloat64
	var fixAt sql.NullTime
	err := row.Scan(
		&w.ID, &w.UserID, &w.Kind, &w.DisplayName, &w.Bio, &w.Skills, &w.ServiceRadiusKm,
		&w.BasePrice.Amount, &w.BasePrice.Currency, &w.CrewSize, &w.Availability,
		&lat, &lng, &fixAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		w.LastLocation = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if fixAt.Valid {
		t := fixAt.Time
		w.LastLocationAt = &t
	}
	return &w, nil
}

func (s *PGStore) GetWorker(ctx context.Context, id types.ID) (*Worker, error) {
	w, err := scanWorker(s.db.QueryRow(ctx, `SELECT `+workerColumns+` FROM worker_profiles WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity: worker %s: %w", id, types.ErrNotFound)
	}
	return w, err
}

func (s *PGStore) WorkerByUser(ctx context.Context, userID types.ID) (*Worker, error) {
	w, err := scanWorker(s.db.QueryRow(ctx, `SELECT `+workerColumns+` FROM worker_profiles WHERE user_id = $1`, string(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity: no worker profile for user %s: %w", userID, types.ErrNotFound)
	}
	return w, err
}

func (s *PGStore) WorkersByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*Worker, error) {
	out := make(map[types.ID]*Worker, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+workerColumns+` FROM worker_profiles WHERE id = ANY($1)`, types.IDStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out[w.ID] = w
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateWorkerProfile(ctx context.Context, id types.ID, p WorkerPatch) (*Worker, error) {
	var amount *int64
	var currency *string
	if p.BasePrice != nil {
		amount = &p.BasePrice.Amount
		currency = &p.BasePrice.Currency
	}
	w, err := scanWorker(s.db.QueryRow(ctx, `
		UPDATE worker_profiles
		SET display_name = COALESCE($2, display_name),
		    bio = COALESCE($3, bio),
		    skills = COALESCE($4, skills),
		    service_radius_km = COALESCE($5, service_radius_km),
		    base_price = COALESCE($6, base_price),
		    currency = COALESCE($7, currency),
		    crew_size = COALESCE($8, crew_size),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+workerColumns,
		string(id), p.DisplayName, p.Bio, p.Skills, p.ServiceRadiusKm, amount, currency, p.CrewSize,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity: worker %s: %w", id, types.ErrNotFound)
	}
	return w, err
}

func (s *PGStore) UpdateWorkerLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error {
	// Older fixes never overwrite a newer one.
	_, err := s.db.Exec(ctx, `
		UPDATE worker_profiles
		SET last_lat = $2, last_lng = $3, last_fix_at = $4
		WHERE id = $1 AND (last_fix_at IS NULL OR last_fix_at <= $4)`,
		string(id), p.Lat, p.Lng, at,
	)
	return err
}

const serviceColumns = `id, name, description, price, currency, created_at, updated_at`

func scanService(row pgx.Row) (*CatalogEntry, error) {
	var sv CatalogEntry
	if err := row.Scan(&sv.ID, &sv.Name, &sv.Description, &sv.Price.Amount, &sv.Price.Currency, &sv.CreatedAt, &sv.UpdatedAt); err != nil {
		return nil, err
	}
	return &sv, nil
}

func (s *PGStore) CreateService(ctx context.Context, sv *CatalogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO services (id, name, description, price, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		string(sv.ID), sv.Name, sv.Description, sv.Price.Amount, sv.Price.Currency, sv.CreatedAt,
	)
	return err
}

func (s *PGStore) GetService(ctx context.Context, id types.ID) (*CatalogEntry, error) {
	sv, err := scanService(s.db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity: service %s: %w", id, types.ErrNotFound)
	}
	return sv, err
}

func (s *PGStore) ServicesByIDs(ctx context.Context, ids []types.ID) (map[types.ID]*CatalogEntry, error) {
	out := make(map[types.ID]*CatalogEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ANY($1)`, types.IDStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		sv, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out[sv.ID] = sv
	}
	return out, rows.Err()
}

func (s *PGStore) ListServices(ctx context.Context) ([]*CatalogEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CatalogEntry
	for rows.Next() {
		sv, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, rows.Err()
}
