// README: Booking store backed by PostgreSQL; worker availability changes commit in the same transaction as the booking write.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"karigar/internal/modules/entity"
	"karigar/internal/types"
)

// ErrConflict means another writer changed the booking after it was read.
var ErrConflict = fmt.Errorf("booking state conflict: %w", types.ErrInvalidTransition)

type Store interface {
	Create(ctx context.Context, b *Booking, e *Event) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	List(ctx context.Context, f Filter) ([]*Booking, error)
	// Assign claims the worker and moves a pending booking to matched.
	Assign(ctx context.Context, p AssignParams) error
	Transition(ctx context.Context, p TransitionParams) error
	UpdateDetails(ctx context.Context, id types.ID, version int, d Details, at time.Time) error
	Events(ctx context.Context, id types.ID) ([]Event, error)
	SetWorkerPresence(ctx context.Context, workerID types.ID, a entity.Availability) error
}

type AssignParams struct {
	BookingID types.ID
	WorkerID  types.ID
	Version   int
	At        time.Time
	Event     *Event
}

type TransitionParams struct {
	BookingID types.ID
	From      Status
	To        Status
	Version   int
	// ReleaseWorker puts this worker back online in the same write.
	ReleaseWorker *types.ID
	ClearWorker   bool
	Reason        *string
	At            time.Time
	Event         *Event
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const bookingColumns = `id, service_id, customer_id, worker_id, status, status_version,
	scheduled_at, address, city, lat, lng, quoted_amount, quoted_currency, cancel_reason,
	created_at, updated_at, matched_at, accepted_at, started_at, completed_at, cancelled_at`

func (s *PGStore) Create(ctx context.Context, b *Booking, e *Event) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var lat, lng *float64
	if b.Location != nil {
		lat, lng = &b.Location.Lat, &b.Location.Lng
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bookings (
			id, service_id, customer_id, worker_id, status, status_version,
			scheduled_at, address, city, lat, lng, quoted_amount, quoted_currency,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $14
		)`,
		string(b.ID), string(b.ServiceID), string(b.CustomerID), toStringPtr(b.WorkerID), string(b.Status), b.StatusVersion,
		b.ScheduledAt, b.Address, b.City, lat, lng, b.QuotedPrice.Amount, b.QuotedPrice.Currency,
		b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("booking: insert: %w", err)
	}
	if err := appendEvent(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var workerID, cancelReason sql.NullString
	var lat, lng sql.NullFloat64
	var scheduledAt, matchedAt, acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&b.ID, &b.ServiceID, &b.CustomerID, &workerID, &b.Status, &b.StatusVersion,
		&scheduledAt, &b.Address, &b.City, &lat, &lng, &b.QuotedPrice.Amount, &b.QuotedPrice.Currency, &cancelReason,
		&b.CreatedAt, &b.UpdatedAt, &matchedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if workerID.Valid {
		w := types.ID(workerID.String)
		b.WorkerID = &w
	}
	if cancelReason.Valid {
		b.CancelReason = &cancelReason.String
	}
	if lat.Valid && lng.Valid {
		b.Location = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	b.ScheduledAt = toTimePtr(scheduledAt)
	b.MatchedAt = toTimePtr(matchedAt)
	b.AcceptedAt = toTimePtr(acceptedAt)
	b.StartedAt = toTimePtr(startedAt)
	b.CompletedAt = toTimePtr(completedAt)
	b.CancelledAt = toTimePtr(cancelledAt)
	return &b, nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, types.ErrNotFound)
	}
	return b, err
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]*Booking, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = "+arg(string(f.CustomerID)))
	}
	if f.WorkerID != "" {
		where = append(where, "worker_id = "+arg(string(f.WorkerID)))
	}
	if f.Unassigned {
		where = append(where, "worker_id IS NULL")
	}

	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PGStore) Assign(ctx context.Context, p AssignParams) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := claimWorker(ctx, tx, p.WorkerID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'matched',
		    worker_id = $2,
		    status_version = status_version + 1,
		    matched_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'pending' AND status_version = $4`,
		string(p.BookingID), string(p.WorkerID), p.At, p.Version,
	)
	if err != nil {
		return fmt.Errorf("booking: assign: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	if err := appendEvent(ctx, tx, p.Event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func claimWorker(ctx context.Context, tx pgx.Tx, workerID types.ID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE worker_profiles
		SET availability = 'busy', updated_at = NOW()
		WHERE id = $1 AND availability <> 'busy'`, string(workerID))
	if err != nil {
		return fmt.Errorf("booking: claim worker: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = tx.QueryRow(ctx, `SELECT availability FROM worker_profiles WHERE id = $1`, string(workerID)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("booking: worker %s does not exist: %w", workerID, types.ErrInvalidInput)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("booking: worker %s is %s: %w", workerID, current, types.ErrWorkerUnavailable)
}

func (s *PGStore) Transition(ctx context.Context, p TransitionParams) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2::text,
		    status_version = status_version + 1,
		    worker_id = CASE WHEN $5 THEN NULL ELSE worker_id END,
		    cancel_reason = COALESCE($6, cancel_reason),
		    accepted_at = CASE WHEN $2::text = 'accepted' THEN $7 ELSE accepted_at END,
		    started_at = CASE WHEN $2::text = 'in_progress' THEN $7 ELSE started_at END,
		    completed_at = CASE WHEN $2::text = 'completed' THEN $7 ELSE completed_at END,
		    cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $7 ELSE cancelled_at END,
		    updated_at = $7
		WHERE id = $1 AND status = $3 AND status_version = $4`,
		string(p.BookingID), string(p.To), string(p.From), p.Version, p.ClearWorker, p.Reason, p.At,
	)
	if err != nil {
		return fmt.Errorf("booking: transition: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	if p.ReleaseWorker != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE worker_profiles SET availability = 'online', updated_at = NOW() WHERE id = $1`,
			string(*p.ReleaseWorker)); err != nil {
			return fmt.Errorf("booking: release worker: %w", err)
		}
	}
	if err := appendEvent(ctx, tx, p.Event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) UpdateDetails(ctx context.Context, id types.ID, version int, d Details, at time.Time) error {
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE bookings
		SET address = $3, city = $4, lat = $5, lng = $6, scheduled_at = $7,
		    status_version = status_version + 1,
		    updated_at = $8
		WHERE id = $1 AND status_version = $2 AND status IN ('pending', 'matched')`,
		string(id), version, d.Address, d.City, lat, lng, d.ScheduledAt, at,
	)
	if err != nil {
		return fmt.Errorf("booking: update details: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}
	return nil
}

func (s *PGStore) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_type, actor_id, worker_id, reason, created_at
		FROM booking_status_events
		WHERE booking_id = $1
		ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var actorID, workerID, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.BookingID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &workerID, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		e.WorkerID = toIDPtr(workerID)
		if reason.Valid {
			e.Reason = &reason.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) SetWorkerPresence(ctx context.Context, workerID types.ID, a entity.Availability) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE worker_profiles
		SET availability = $2, updated_at = NOW()
		WHERE id = $1 AND availability <> 'busy'`, string(workerID), string(a))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM worker_profiles WHERE id = $1)`, string(workerID)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("booking: worker %s: %w", workerID, types.ErrNotFound)
	}
	return fmt.Errorf("booking: worker %s is busy: %w", workerID, types.ErrWorkerUnavailable)
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	if e == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_status_events (
			booking_id, from_status, to_status, actor_type, actor_id, worker_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.BookingID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		toStringPtr(e.WorkerID),
		e.Reason,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("booking: append event: %w", err)
	}
	return nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
