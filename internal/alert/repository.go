package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/propertyhub-core/internal/device"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/database"
)

// defaultListLimit caps listings when the caller passes no limit.
const defaultListLimit = 100

// Repository defines alert and incident persistence.
type Repository interface {
	// Create inserts an alert, creating its source device in the same
	// transaction when needed. ID, Status and CreatedAt are filled if empty.
	Create(ctx context.Context, a *Alert) error

	// GetByID returns ErrAlertNotFound if the alert does not exist.
	GetByID(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, f Filter) ([]Alert, error)

	// UpdateMetadata replaces the alert's metadata.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error

	// Acknowledge moves an open alert to acknowledged.
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*Alert, error)

	// Resolve moves an open or acknowledged alert to resolved, merging
	// extra into its metadata. An open or in_progress incident linked to
	// the alert is resolved with it.
	Resolve(ctx context.Context, id string, extra map[string]any, at time.Time) (*Alert, error)

	// UpdateIncidentStatus moves an incident forward. It returns
	// ErrIncidentNotFound or ErrInvalidTransition.
	UpdateIncidentStatus(ctx context.Context, id string, to IncidentStatus, at time.Time) (*Incident, error)

	IncidentStore
}

// IncidentStore is the persistence the Escalator needs.
type IncidentStore interface {
	// EscalationCandidates returns open alerts with one of severities,
	// created at or after since, that have no incident.
	EscalationCandidates(ctx context.Context, since time.Time, severities []Severity) ([]Alert, error)

	// IncidentForAlert returns ErrIncidentNotFound if the alert has none.
	IncidentForAlert(ctx context.Context, alertID string) (*Incident, error)

	// ActiveIncident returns the newest open or in_progress incident for
	// scope and category created at or after since, or ErrIncidentNotFound.
	ActiveIncident(ctx context.Context, scope, category string, since time.Time) (*Incident, error)

	// CreateIncident returns ErrIncidentExists if the alert already has one.
	CreateIncident(ctx context.Context, inc *Incident) error

	// OverdueIncidents returns open or in_progress incidents with
	// sla_due <= now that are not yet flagged as breached.
	OverdueIncidents(ctx context.Context, now time.Time) ([]Incident, error)

	// MarkBreached flags the incident as breached if it is not already,
	// and reports whether this call did it.
	MarkBreached(ctx context.Context, id string, at time.Time) (bool, error)

	GetIncident(ctx context.Context, id string) (*Incident, error)
	ListIncidents(ctx context.Context, status IncidentStatus, limit int) ([]Incident, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// sourceDevice describes the device an alert source refers to.
func sourceDevice(source string, at time.Time) device.Seen {
	category := device.CategoryAlarm
	if source == SystemSource {
		category = device.CategorySystem
	}
	scope, _, _ := strings.Cut(source, "/")
	return device.Seen{ID: source, Category: category, Scope: scope, At: at}
}

// Create inserts an alert and ensures its source device exists.
func (r *SQLiteRepository) Create(ctx context.Context, a *Alert) error {
	if a.Source == "" || a.Severity == "" {
		return fmt.Errorf("%w: source and severity are required", ErrInvalidAlert)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusOpen
	}
	if a.Category == "" {
		a.Category = "device"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}

	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := device.EnsureTx(ctx, tx, sourceDevice(a.Source, a.CreatedAt)); err != nil {
			return fmt.Errorf("ensuring source device: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (id, severity, category, source, message, status, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, string(a.Severity), a.Category, a.Source, a.Message, string(a.Status),
			string(meta), database.FormatTime(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting alert: %w", err)
		}
		return nil
	})
}

const alertColumns = `id, severity, category, source, message, status, metadata,
	created_at, acknowledged_at, acknowledged_by, resolved_at`

// GetByID retrieves an alert.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	return getAlert(ctx, r.db, id)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAlert(ctx context.Context, q queryer, id string) (*Alert, error) {
	row := q.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return a, nil
}

// List returns alerts newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) ([]Alert, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	return r.queryAlerts(ctx, query, args...)
}

// UpdateMetadata replaces an alert's metadata.
func (r *SQLiteRepository) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	result, err := r.db.ExecContext(ctx, "UPDATE alerts SET metadata = ? WHERE id = ?", string(meta), id)
	if err != nil {
		return fmt.Errorf("updating alert metadata: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Acknowledge moves an open alert to acknowledged.
func (r *SQLiteRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) (*Alert, error) {
	var out *Alert
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		a, err := getAlert(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusOpen {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, a.Status, StatusAcknowledged)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE alerts SET status = ?, acknowledged_at = ?, acknowledged_by = ? WHERE id = ?",
			string(StatusAcknowledged), database.FormatTime(at), by, id,
		); err != nil {
			return fmt.Errorf("acknowledging alert: %w", err)
		}
		t := at.UTC().Truncate(time.Second)
		a.Status = StatusAcknowledged
		a.AcknowledgedAt = &t
		a.AcknowledgedBy = &by
		out = a
		return nil
	})
	return out, err
}

// Resolve moves an alert to resolved and merges extra into its metadata.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, extra map[string]any, at time.Time) (*Alert, error) {
	var out *Alert
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		a, err := getAlert(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusResolved {
			return fmt.Errorf("%w: already resolved", ErrInvalidTransition)
		}
		for k, v := range extra {
			a.Metadata[k] = v
		}
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE alerts SET status = ?, resolved_at = ?, metadata = ? WHERE id = ?",
			string(StatusResolved), database.FormatTime(at), string(meta), id,
		); err != nil {
			return fmt.Errorf("resolving alert: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE incidents SET status = ?, updated_at = ? WHERE alert_id = ? AND status IN (?, ?)",
			string(IncidentResolved), database.FormatTime(at), id,
			string(IncidentOpen), string(IncidentInProgress),
		); err != nil {
			return fmt.Errorf("resolving linked incident: %w", err)
		}
		t := at.UTC().Truncate(time.Second)
		a.Status = StatusResolved
		a.ResolvedAt = &t
		out = a
		return nil
	})
	return out, err
}

// EscalationCandidates returns recent open alerts without an incident.
func (r *SQLiteRepository) EscalationCandidates(ctx context.Context, since time.Time, severities []Severity) ([]Alert, error) {
	if len(severities) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(severities)), ",")
	args := make([]any, 0, len(severities)+2) //nolint:mnd // status + since
	args = append(args, string(StatusOpen))
	for _, s := range severities {
		args = append(args, string(s))
	}
	args = append(args, database.FormatTime(since))

	query := `
		SELECT a.id, a.severity, a.category, a.source, a.message, a.status, a.metadata,
			a.created_at, a.acknowledged_at, a.acknowledged_by, a.resolved_at
		FROM alerts a
		LEFT JOIN incidents i ON i.alert_id = a.id
		WHERE a.status = ? AND a.severity IN (` + placeholders + `)
			AND a.created_at >= ? AND i.id IS NULL
		ORDER BY a.created_at, a.id`

	return r.queryAlerts(ctx, query, args...)
}

const incidentColumns = `id, alert_id, scope, category, priority, status, sla_due,
	breached, breached_at, created_at, updated_at`

// IncidentForAlert returns the incident linked to an alert.
func (r *SQLiteRepository) IncidentForAlert(ctx context.Context, alertID string) (*Incident, error) {
	return r.getIncident(ctx, "SELECT "+incidentColumns+" FROM incidents WHERE alert_id = ?", alertID)
}

// ActiveIncident finds a recent unresolved incident for scope and category.
func (r *SQLiteRepository) ActiveIncident(ctx context.Context, scope, category string, since time.Time) (*Incident, error) {
	return r.getIncident(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE scope = ? AND category = ? AND status IN (?, ?) AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		scope, category, string(IncidentOpen), string(IncidentInProgress), database.FormatTime(since),
	)
}

// GetIncident retrieves an incident.
func (r *SQLiteRepository) GetIncident(ctx context.Context, id string) (*Incident, error) {
	return r.getIncident(ctx, "SELECT "+incidentColumns+" FROM incidents WHERE id = ?", id)
}

// CreateIncident inserts an incident. The UNIQUE alert_id column makes a
// second incident for the same alert a no-op reported as ErrIncidentExists.
func (r *SQLiteRepository) CreateIncident(ctx context.Context, inc *Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Status == "" {
		inc.Status = IncidentOpen
	}
	now := time.Now().UTC()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO incidents (id, alert_id, scope, category, priority, status, sla_due,
			breached, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(alert_id) DO NOTHING`,
		inc.ID, inc.AlertID, inc.Scope, inc.Category, string(inc.Priority), string(inc.Status),
		database.FormatTime(inc.SLADue), database.FormatTime(inc.CreatedAt), database.FormatTime(inc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting incident: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrIncidentExists
	}
	return nil
}

// OverdueIncidents returns unbreached active incidents past their SLA.
func (r *SQLiteRepository) OverdueIncidents(ctx context.Context, now time.Time) ([]Incident, error) {
	return r.queryIncidents(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE status IN (?, ?) AND breached = 0 AND sla_due <= ?
		ORDER BY sla_due`,
		string(IncidentOpen), string(IncidentInProgress), database.FormatTime(now),
	)
}

// MarkBreached sets the breach flag once. Concurrent sweeps race on the
// conditional update and only one of them sees a changed row.
func (r *SQLiteRepository) MarkBreached(ctx context.Context, id string, at time.Time) (bool, error) {
	ts := database.FormatTime(at)
	result, err := r.db.ExecContext(ctx,
		"UPDATE incidents SET breached = 1, breached_at = ?, updated_at = ? WHERE id = ? AND breached = 0",
		ts, ts, id,
	)
	if err != nil {
		return false, fmt.Errorf("marking incident breached: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateIncidentStatus applies a guarded status change. The guard is part
// of the UPDATE, so two racing callers cannot both move the same incident.
func (r *SQLiteRepository) UpdateIncidentStatus(ctx context.Context, id string, to IncidentStatus, at time.Time) (*Incident, error) {
	sources := incidentSources[to]
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: cannot move an incident to %q", ErrInvalidTransition, to)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",")
	args := []any{string(to), database.FormatTime(at), id}
	for _, from := range sources {
		args = append(args, string(from))
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE incidents SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("updating incident status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}

	inc, err := r.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, inc.Status, to)
	}
	return inc, nil
}

// ListIncidents returns incidents newest first, optionally filtered by status.
func (r *SQLiteRepository) ListIncidents(ctx context.Context, status IncidentStatus, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := "SELECT " + incidentColumns + " FROM incidents"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)
	return r.queryIncidents(ctx, query, args...)
}

func (r *SQLiteRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

func (r *SQLiteRepository) getIncident(ctx context.Context, query string, args ...any) (*Incident, error) {
	inc, err := scanIncident(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("querying incident: %w", err)
	}
	return inc, nil
}

func (r *SQLiteRepository) queryIncidents(ctx context.Context, query string, args ...any) ([]Incident, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating incidents: %w", err)
	}
	return incidents, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var severity, status, metadata, createdAt string
	var ackAt, ackBy, resolvedAt sql.NullString

	if err := row.Scan(&a.ID, &severity, &a.Category, &a.Source, &a.Message, &status,
		&metadata, &createdAt, &ackAt, &ackBy, &resolvedAt); err != nil {
		return nil, err
	}
	a.Severity = Severity(severity)
	a.Status = Status(status)
	a.AcknowledgedBy = database.StringPtr(ackBy)

	a.Metadata = map[string]any{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	var err error
	if a.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if a.AcknowledgedAt, err = database.ParseNullTime(ackAt); err != nil {
		return nil, err
	}
	if a.ResolvedAt, err = database.ParseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var priority, status, slaDue, createdAt, updatedAt string
	var breachedAt sql.NullString

	if err := row.Scan(&inc.ID, &inc.AlertID, &inc.Scope, &inc.Category, &priority, &status,
		&slaDue, &inc.Breached, &breachedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inc.Priority = Priority(priority)
	inc.Status = IncidentStatus(status)

	var err error
	if inc.SLADue, err = database.ParseTime(slaDue); err != nil {
		return nil, err
	}
	if inc.BreachedAt, err = database.ParseNullTime(breachedAt); err != nil {
		return nil, err
	}
	if inc.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if inc.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &inc, nil
}
