package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a requester already owns an active request.
	ErrConflict = errors.New("conflict")
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping reports whether the database is reachable. It backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const requestColumns = `id, reference_code, requester_id, requester_name, requester_email, requester_phone,
	requester_national_id_masked, justification, status, handled_by_uknf, decision_notes,
	submitted_at, decided_at, decided_by, created_at, updated_at`

func (s *Store) CreateAccessRequest(ctx context.Context, req *AccessRequest) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	decidedBy, err := marshalIdentity(req.DecidedBy)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO access_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, req.ID, req.ReferenceCode, req.Requester.ID, req.Requester.Name, req.Requester.Email, req.Requester.Phone,
		req.Requester.NationalIDMasked, req.Justification, string(req.Status), req.HandledByUKNF, req.DecisionNotes,
		req.SubmittedAt, req.DecidedAt, decidedBy, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}

	if err := replaceLines(ctx, tx, req); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, req); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateAccessRequest persists the request together with any membership
// changes its decisions produced. Either everything commits or nothing does.
func (s *Store) UpdateAccessRequest(ctx context.Context, req *AccessRequest, changes []MembershipChange) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	decidedBy, err := marshalIdentity(req.DecidedBy)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE access_requests
		SET justification = $2, status = $3, handled_by_uknf = $4, decision_notes = $5,
			submitted_at = $6, decided_at = $7, decided_by = $8, updated_at = $9
		WHERE id = $1
	`, req.ID, req.Justification, string(req.Status), req.HandledByUKNF, req.DecisionNotes,
		req.SubmittedAt, req.DecidedAt, decidedBy, req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := replaceLines(ctx, tx, req); err != nil {
		return err
	}
	if err := appendHistory(ctx, tx, req); err != nil {
		return err
	}
	for _, change := range changes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO entity_memberships (user_id, entity_id, role, active, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (user_id, entity_id, role) DO UPDATE
			SET active = EXCLUDED.active, updated_at = now()
		`, change.UserID, change.EntityID, change.Role, change.Active); err != nil {
			return fmt.Errorf("apply membership: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetAccessRequest(ctx context.Context, id uuid.UUID) (*AccessRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.loadChildren(ctx, map[uuid.UUID]*AccessRequest{req.ID: req}); err != nil {
		return nil, err
	}
	return req, nil
}

// FindLatestAccessRequest returns the most recently created request of a requester.
func (s *Store) FindLatestAccessRequest(ctx context.Context, requesterID string) (*AccessRequest, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id
		FROM access_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, requesterID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetAccessRequest(ctx, id)
}

func (s *Store) ListAccessRequests(ctx context.Context) ([]*AccessRequest, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+requestColumns+` FROM access_requests ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AccessRequest
	byID := make(map[uuid.UUID]*AccessRequest)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
		byID[req.ID] = req
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := s.loadChildren(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, category, registration_number, contact_email, updated_at
		FROM regulated_entities
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Category, &e.RegistrationNumber, &e.ContactEmail, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpsertEntity(ctx context.Context, e Entity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO regulated_entities (id, name, category, registration_number, contact_email, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, registration_number = EXCLUDED.registration_number,
			contact_email = EXCLUDED.contact_email, updated_at = EXCLUDED.updated_at
	`, e.ID, e.Name, e.Category, e.RegistrationNumber, e.ContactEmail, e.UpdatedAt)
	return err
}

// UpsertMembership grants or revokes a single membership outside of a workflow
// decision. Seeding uses it.
func (s *Store) UpsertMembership(ctx context.Context, change MembershipChange) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_memberships (user_id, entity_id, role, active, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, entity_id, role) DO UPDATE
		SET active = EXCLUDED.active, updated_at = now()
	`, change.UserID, change.EntityID, change.Role, change.Active)
	return err
}

// ListMemberships returns the active memberships of a user.
func (s *Store) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, entity_id, role, active, updated_at
		FROM entity_memberships
		WHERE user_id = $1 AND active
		ORDER BY entity_id, role
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.UserID, &m.EntityID, &m.Role, &m.Active, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) InsertAudit(ctx context.Context, log AuditLog) error {
	metadata := map[string]string{}
	for k, v := range log.Metadata {
		metadata[k] = v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, metadata, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, log.ActorID, log.Action, log.EntityType, log.EntityID, metadata, log.IP, log.UserAgent)
	return err
}

func (s *Store) loadChildren(ctx context.Context, byID map[uuid.UUID]*AccessRequest) error {
	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	lineRows, err := s.pool.Query(ctx, `
		SELECT request_id, id, entity_id, entity_name, contact_email, permission_codes, status, decision_notes, decided_by, decided_at
		FROM access_request_lines
		WHERE request_id = ANY($1)
		ORDER BY request_id, position
	`, ids)
	if err != nil {
		return err
	}
	for lineRows.Next() {
		var requestID uuid.UUID
		var line Line
		var status string
		var decidedBy []byte
		if err := lineRows.Scan(&requestID, &line.ID, &line.EntityID, &line.EntityName, &line.ContactEmail,
			&line.PermissionCodes, &status, &line.DecisionNotes, &decidedBy, &line.DecidedAt); err != nil {
			lineRows.Close()
			return err
		}
		line.Status = LineStatus(status)
		if line.DecidedBy, err = unmarshalIdentity(decidedBy); err != nil {
			lineRows.Close()
			return err
		}
		if req := byID[requestID]; req != nil {
			req.Lines = append(req.Lines, line)
		}
	}
	lineRows.Close()
	if lineRows.Err() != nil {
		return lineRows.Err()
	}

	historyRows, err := s.pool.Query(ctx, `
		SELECT request_id, seq, action, actor, from_status, to_status, notes, created_at
		FROM access_request_history
		WHERE request_id = ANY($1)
		ORDER BY request_id, seq
	`, ids)
	if err != nil {
		return err
	}
	defer historyRows.Close()
	for historyRows.Next() {
		var requestID uuid.UUID
		var entry HistoryEntry
		var actor []byte
		var from, to *string
		if err := historyRows.Scan(&requestID, &entry.Seq, &entry.Action, &actor, &from, &to, &entry.Notes, &entry.CreatedAt); err != nil {
			return err
		}
		if entry.Actor, err = unmarshalIdentity(actor); err != nil {
			return err
		}
		entry.FromStatus = statusPtr(from)
		entry.ToStatus = statusPtr(to)
		if req := byID[requestID]; req != nil {
			req.History = append(req.History, entry)
		}
	}
	return historyRows.Err()
}

func replaceLines(ctx context.Context, tx pgx.Tx, req *AccessRequest) error {
	if _, err := tx.Exec(ctx, `DELETE FROM access_request_lines WHERE request_id = $1`, req.ID); err != nil {
		return err
	}
	for i, line := range req.Lines {
		decidedBy, err := marshalIdentity(line.DecidedBy)
		if err != nil {
			return err
		}
		codes := line.PermissionCodes
		if codes == nil {
			codes = []string{}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO access_request_lines (id, request_id, position, entity_id, entity_name, contact_email,
				permission_codes, status, decision_notes, decided_by, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, line.ID, req.ID, i, line.EntityID, line.EntityName, line.ContactEmail,
			codes, string(line.Status), line.DecisionNotes, decidedBy, line.DecidedAt); err != nil {
			return fmt.Errorf("insert line %s: %w", line.EntityID, err)
		}
	}
	return nil
}

// appendHistory writes history entries; rows already stored are left alone
// since the log is append-only.
func appendHistory(ctx context.Context, tx pgx.Tx, req *AccessRequest) error {
	for _, entry := range req.History {
		actor, err := marshalIdentity(entry.Actor)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO access_request_history (request_id, seq, action, actor, from_status, to_status, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (request_id, seq) DO NOTHING
		`, req.ID, entry.Seq, entry.Action, actor, statusString(entry.FromStatus), statusString(entry.ToStatus),
			entry.Notes, entry.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func scanRequest(row pgx.Row) (*AccessRequest, error) {
	var req AccessRequest
	var status string
	var decidedBy []byte
	var submittedAt, decidedAt *time.Time
	if err := row.Scan(&req.ID, &req.ReferenceCode, &req.Requester.ID, &req.Requester.Name, &req.Requester.Email,
		&req.Requester.Phone, &req.Requester.NationalIDMasked, &req.Justification, &status, &req.HandledByUKNF,
		&req.DecisionNotes, &submittedAt, &decidedAt, &decidedBy, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}
	req.Status = RequestStatus(status)
	req.SubmittedAt = submittedAt
	req.DecidedAt = decidedAt
	identity, err := unmarshalIdentity(decidedBy)
	if err != nil {
		return nil, err
	}
	req.DecidedBy = identity
	req.Lines = []Line{}
	req.History = []HistoryEntry{}
	return &req, nil
}

func marshalIdentity(id *Identity) ([]byte, error) {
	if id == nil {
		return nil, nil
	}
	data, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	return data, nil
}

func unmarshalIdentity(data []byte) (*Identity, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}

func statusString(s *RequestStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func statusPtr(s *string) *RequestStatus {
	if s == nil {
		return nil
	}
	v := RequestStatus(*s)
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
