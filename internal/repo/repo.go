package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"ouvidoria/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateProtocol = errors.New("duplicate protocol")
)

const manifestationCols = `id,protocol,kind,category,subject,description,citizen_name,email,phone,channel,status,priority,assigned_to,response,responded_at,legal_window_days,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifestation(row rowScanner) (domain.Manifestation, error) {
	var m domain.Manifestation
	var email, phone, assignedTo, response, respondedAt sql.NullString
	err := row.Scan(&m.ID, &m.Protocol, &m.Kind, &m.Category, &m.Subject, &m.Description,
		&m.CitizenName, &email, &phone, &m.Channel, &m.Status, &m.Priority,
		&assignedTo, &response, &respondedAt, &m.LegalWindowDays, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if email.Valid {
		m.Email = &email.String
	}
	if phone.Valid {
		m.Phone = &phone.String
	}
	if assignedTo.Valid {
		m.AssignedTo = &assignedTo.String
	}
	if response.Valid {
		m.Response = &response.String
	}
	if respondedAt.Valid {
		m.RespondedAt = &respondedAt.String
	}
	return m, nil
}

// InsertManifestation inserts a new case and returns its store-assigned id.
// A protocol collision maps to ErrDuplicateProtocol for the engine's retry.
func (r Repo) InsertManifestation(ctx context.Context, tx *sql.Tx, m domain.Manifestation) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO manifestations(protocol,kind,category,subject,description,citizen_name,email,phone,channel,status,priority,assigned_to,response,responded_at,legal_window_days,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.Protocol, m.Kind, m.Category, m.Subject, m.Description, m.CitizenName,
		nullableStringPtr(m.Email), nullableStringPtr(m.Phone), m.Channel, m.Status, m.Priority,
		nullableStringPtr(m.AssignedTo), nullableStringPtr(m.Response), nullableStringPtr(m.RespondedAt),
		m.LegalWindowDays, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") && strings.Contains(err.Error(), "protocol") {
			return 0, ErrDuplicateProtocol
		}
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateManifestation rewrites the mutable workflow fields. Identity and
// intake fields (protocol, created_at, legal_window_days) are never touched.
func (r Repo) UpdateManifestation(ctx context.Context, tx *sql.Tx, m domain.Manifestation) error {
	res, err := tx.ExecContext(ctx, `UPDATE manifestations SET status=?, priority=?, assigned_to=?, response=?, responded_at=?, updated_at=? WHERE id=?`,
		m.Status, m.Priority, nullableStringPtr(m.AssignedTo), nullableStringPtr(m.Response),
		nullableStringPtr(m.RespondedAt), m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteManifestation removes the case; history rows cascade with it.
func (r Repo) DeleteManifestation(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM manifestations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetManifestation(ctx context.Context, id int64) (domain.Manifestation, error) {
	return scanManifestation(r.DB.QueryRowContext(ctx, `SELECT `+manifestationCols+` FROM manifestations WHERE id=?`, id))
}

func (r Repo) GetManifestationTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Manifestation, error) {
	return scanManifestation(tx.QueryRowContext(ctx, `SELECT `+manifestationCols+` FROM manifestations WHERE id=?`, id))
}

func (r Repo) GetByProtocol(ctx context.Context, protocol string) (domain.Manifestation, error) {
	return scanManifestation(r.DB.QueryRowContext(ctx, `SELECT `+manifestationCols+` FROM manifestations WHERE protocol=?`, protocol))
}

type ManifestationFilters struct {
	Status          string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        int64
}

// ListManifestations returns cases ordered by creation time descending.
// Search matches subject, protocol or citizen name as a substring.
func (r Repo) ListManifestations(ctx context.Context, f ManifestationFilters) ([]domain.Manifestation, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		clauses = append(clauses, "(subject LIKE ? OR protocol LIKE ? OR citizen_name LIKE ?)")
		term := "%" + f.Search + "%"
		args = append(args, term, term, term)
	}
	if f.CursorCreatedAt != "" && f.CursorID > 0 {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + manifestationCols + ` FROM manifestations ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Manifestation
	for rows.Next() {
		m, err := scanManifestation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListHistory returns the audit trail for one case, oldest first, ties
// broken by insertion order.
func (r Repo) ListHistory(ctx context.Context, manifestationID int64) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,manifestation_id,event,actor,ts FROM history WHERE manifestation_id=? ORDER BY ts ASC, id ASC`, manifestationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.ManifestationID, &h.Event, &h.Actor, &h.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) CountManifestations(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM manifestations`).Scan(&n)
	return n, err
}

var groupableColumns = map[string]bool{"status": true, "kind": true, "category": true, "channel": true}

// CountBy groups case counts by one of the enumerable columns.
func (r Repo) CountBy(ctx context.Context, column string) (map[string]int, error) {
	if !groupableColumns[column] {
		return nil, errors.New("cannot group by column " + column)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM manifestations GROUP BY `+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		res[key] = count
	}
	return res, rows.Err()
}

// Deadline carries the two facts needed to project remaining days.
type Deadline struct {
	CreatedAt  string
	WindowDays int
}

func (r Repo) ListDeadlines(ctx context.Context) ([]Deadline, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT created_at, legal_window_days FROM manifestations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Deadline
	for rows.Next() {
		var d Deadline
		if err := rows.Scan(&d.CreatedAt, &d.WindowDays); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
