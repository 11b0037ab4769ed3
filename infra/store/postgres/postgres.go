// Package postgres implements the persistence contracts on a pgx connection
// pool. The exactly-once match guarantee rests on the conditional UPDATE in
// BindMatch; no application-side locking is involved.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/store"
)

// Store holds the shared connection pool.
type Store struct {
	db *pgxpool.Pool
}

// NewStore connects and pings the database.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{db: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// Requests returns the store.RequestStore view.
func (s *Store) Requests() store.RequestStore { return requestStore{s.db} }

// Responders returns the store.ResponderStore view.
func (s *Store) Responders() store.ResponderStore { return responderStore{s.db} }

// Responses returns the store.ResponseStore view.
func (s *Store) Responses() store.ResponseStore { return responseStore{s.db} }

type requestStore struct {
	db *pgxpool.Pool
}

const requestColumns = `id, blood_type, units, urgency, status, lat, lng,
	created_at, expires_at, escalation_count, response_count, matched_responder_id`

func scanRequest(row pgx.Row) (model.Request, error) {
	var (
		req       model.Request
		lat, lng  *float64
		matchedID *string
	)
	err := row.Scan(&req.ID, &req.BloodType, &req.Units, &req.Urgency, &req.Status,
		&lat, &lng, &req.CreatedAt, &req.ExpiresAt,
		&req.EscalationCount, &req.ResponseCount, &matchedID)
	if err != nil {
		return model.Request{}, err
	}
	if lat != nil && lng != nil {
		req.Location = &model.Location{Lat: *lat, Lng: *lng}
	}
	if matchedID != nil {
		req.MatchedResponderID = *matchedID
	}
	return req, nil
}

func locationColumns(loc *model.Location) (lat, lng *float64) {
	if loc == nil {
		return nil, nil
	}
	return &loc.Lat, &loc.Lng
}

func (r requestStore) Insert(ctx context.Context, req model.Request) error {
	lat, lng := locationColumns(req.Location)
	_, err := r.db.Exec(ctx, `
		INSERT INTO requests (id, blood_type, units, urgency, status, lat, lng,
			created_at, expires_at, escalation_count, response_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.BloodType, req.Units, req.Urgency, req.Status,
		lat, lng, req.CreatedAt, req.ExpiresAt,
		req.EscalationCount, req.ResponseCount)
	return err
}

func (r requestStore) Get(ctx context.Context, id string) (model.Request, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Request{}, &errs.NotFoundError{Kind: "request", ID: id}
	}
	return req, err
}

// BindMatch is the compare-and-set that decides the match winner. The WHERE
// clause only hits a pending row, so exactly one concurrent caller sees a
// row count of one.
func (r requestStore) BindMatch(ctx context.Context, id, responderID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE requests SET status = $3, matched_responder_id = $2
		WHERE id = $1 AND status = $4`,
		id, responderID, model.StatusMatched, model.StatusPending)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, &errs.NotFoundError{Kind: "request", ID: id}
		}
		return false, nil
	}
	return true, nil
}

func (r requestStore) UpdateStatusIf(ctx context.Context, id string, from, to model.RequestStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE requests SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, &errs.NotFoundError{Kind: "request", ID: id}
		}
		return false, nil
	}
	return true, nil
}

func (r requestStore) IncrementResponseCount(ctx context.Context, id string) error {
	return r.increment(ctx, id, "response_count")
}

func (r requestStore) IncrementEscalation(ctx context.Context, id string) error {
	return r.increment(ctx, id, "escalation_count")
}

func (r requestStore) increment(ctx context.Context, id, column string) error {
	// column is one of two compile-time constants, never caller input.
	tag, err := r.db.Exec(ctx,
		`UPDATE requests SET `+column+` = `+column+` + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Kind: "request", ID: id}
	}
	return nil
}

func (r requestStore) ListPending(ctx context.Context) ([]model.Request, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE status = $1 ORDER BY id`,
		model.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (r requestStore) FindStalePending(ctx context.Context, now time.Time) ([]model.Request, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE status = $1 AND expires_at < $2 ORDER BY id`,
		model.StatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]model.Request, error) {
	var out []model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type responderStore struct {
	db *pgxpool.Pool
}

func (r responderStore) Insert(ctx context.Context, resp model.Responder) error {
	lat, lng := locationColumns(resp.Location)
	var lastDonation *time.Time
	if !resp.LastDonation.IsZero() {
		lastDonation = &resp.LastDonation
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO responders (id, blood_type, lat, lng, available, notify_opt_in, last_donation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			blood_type = EXCLUDED.blood_type,
			lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			available = EXCLUDED.available,
			notify_opt_in = EXCLUDED.notify_opt_in,
			last_donation = EXCLUDED.last_donation`,
		resp.ID, resp.BloodType, lat, lng, resp.Available, resp.NotifyOptIn, lastDonation)
	return err
}

func scanResponder(row pgx.Row) (model.Responder, error) {
	var (
		r            model.Responder
		lat, lng     *float64
		lastDonation *time.Time
	)
	err := row.Scan(&r.ID, &r.BloodType, &lat, &lng, &r.Available, &r.NotifyOptIn, &lastDonation)
	if err != nil {
		return model.Responder{}, err
	}
	if lat != nil && lng != nil {
		r.Location = &model.Location{Lat: *lat, Lng: *lng}
	}
	if lastDonation != nil {
		r.LastDonation = *lastDonation
	}
	return r, nil
}

func (r responderStore) Get(ctx context.Context, id string) (model.Responder, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, blood_type, lat, lng, available, notify_opt_in, last_donation
		FROM responders WHERE id = $1`, id)
	resp, err := scanResponder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Responder{}, &errs.NotFoundError{Kind: "responder", ID: id}
	}
	return resp, err
}

func (r responderStore) ListEligible(ctx context.Context, types []model.BloodType) ([]model.Responder, error) {
	wanted := make([]string, len(types))
	for i, t := range types {
		wanted[i] = string(t)
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, blood_type, lat, lng, available, notify_opt_in, last_donation
		FROM responders
		WHERE available AND notify_opt_in AND blood_type = ANY($1)
		ORDER BY id`, wanted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Responder
	for rows.Next() {
		resp, err := scanResponder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

type responseStore struct {
	db *pgxpool.Pool
}

// Upsert keeps one row per (request, responder) pair; a resubmission updates
// the kind and eta in place while the original row id survives.
func (r responseStore) Upsert(ctx context.Context, resp model.Response) (model.Response, bool, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO responses (id, request_id, responder_id, kind, status, eta_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, responder_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			eta_minutes = EXCLUDED.eta_minutes,
			updated_at = EXCLUDED.updated_at
		RETURNING id, request_id, responder_id, kind, status, eta_minutes, created_at, updated_at,
			(xmax = 0) AS inserted`,
		resp.ID, resp.RequestID, resp.ResponderID, resp.Kind, resp.Status,
		resp.ETAMinutes, resp.CreatedAt, resp.UpdatedAt)
	var (
		out      model.Response
		inserted bool
	)
	err := row.Scan(&out.ID, &out.RequestID, &out.ResponderID, &out.Kind, &out.Status,
		&out.ETAMinutes, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return model.Response{}, false, err
	}
	return out, inserted, nil
}

func (r responseStore) Get(ctx context.Context, requestID, responderID string) (model.Response, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, request_id, responder_id, kind, status, eta_minutes, created_at, updated_at
		FROM responses WHERE request_id = $1 AND responder_id = $2`,
		requestID, responderID)
	var out model.Response
	err := row.Scan(&out.ID, &out.RequestID, &out.ResponderID, &out.Kind, &out.Status,
		&out.ETAMinutes, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Response{}, &errs.NotFoundError{Kind: "response", ID: requestID + "|" + responderID}
	}
	return out, err
}

func (r responseStore) Confirm(ctx context.Context, requestID, responderID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE responses SET status = $3 WHERE request_id = $1 AND responder_id = $2`,
		requestID, responderID, model.ResponseConfirmed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Kind: "response", ID: requestID + "|" + responderID}
	}
	return nil
}

func (r responseStore) ListByRequest(ctx context.Context, requestID string) ([]model.Response, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, request_id, responder_id, kind, status, eta_minutes, created_at, updated_at
		FROM responses WHERE request_id = $1 ORDER BY responder_id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(&resp.ID, &resp.RequestID, &resp.ResponderID, &resp.Kind,
			&resp.Status, &resp.ETAMinutes, &resp.CreatedAt, &resp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}
