package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the appointments table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS appointments (
    id                     TEXT PRIMARY KEY,
    patient_name           TEXT NOT NULL,
    owner_name             TEXT NOT NULL DEFAULT '',
    species                TEXT NOT NULL DEFAULT '',
    visit_type             TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'scheduled',
    transcription          TEXT NOT NULL DEFAULT '',
    soap_note              TEXT NOT NULL DEFAULT '',
    client_summary         TEXT NOT NULL DEFAULT '',
    dental_chart           JSONB,
    audio_path             TEXT NOT NULL DEFAULT '',
    audio_duration_seconds INTEGER NOT NULL DEFAULT 0,
    audio_size_bytes       BIGINT NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The dental
// chart is serialised as JSONB; NULL means no chart has been generated.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// appointments table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("appointment: migrate: %w", err)
	}
	return nil
}

// Create inserts a new appointment. It validates the appointment and returns
// an error if one with the same ID already exists.
func (s *PostgresStore) Create(ctx context.Context, appt *Appointment) error {
	if err := appt.Validate(); err != nil {
		return err
	}

	chartJSON, err := marshalChart(appt)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO appointments (
			id, patient_name, owner_name, species, visit_type, status,
			transcription, soap_note, client_summary, dental_chart,
			audio_path, audio_duration_seconds, audio_size_bytes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		appt.ID, appt.PatientName, appt.OwnerName, appt.Species, appt.VisitType,
		defaultStatus(appt.Status), appt.Transcription, appt.SoapNote,
		appt.ClientSummary, chartJSON,
		appt.AudioPath, appt.AudioDurationSeconds, appt.AudioSizeBytes,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("appointment: id %q: %w", appt.ID, ErrDuplicate)
		}
		return fmt.Errorf("appointment: create: %w", err)
	}
	return nil
}

// Get retrieves an appointment by ID. It returns (nil, nil) if no appointment
// with the given ID exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Appointment, error) {
	const query = `
		SELECT id, patient_name, owner_name, species, visit_type, status,
		       transcription, soap_note, client_summary, dental_chart,
		       audio_path, audio_duration_seconds, audio_size_bytes,
		       created_at, updated_at
		FROM appointments
		WHERE id = $1`

	appt, err := scanAppointment(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("appointment: get %q: %w", id, err)
	}
	return appt, nil
}

// UpdateFields applies a partial update: only the non-nil members of fields
// make it into the SET clause, so concurrent single-artifact writes do not
// overwrite each other.
func (s *PostgresStore) UpdateFields(ctx context.Context, id string, fields Fields) error {
	if fields.Empty() {
		return nil
	}

	var (
		sets []string
		args = []any{id}
	)
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if fields.Status != nil {
		add("status", *fields.Status)
	}
	if fields.Transcription != nil {
		add("transcription", *fields.Transcription)
	}
	if fields.SoapNote != nil {
		add("soap_note", *fields.SoapNote)
	}
	if fields.ClientSummary != nil {
		add("client_summary", *fields.ClientSummary)
	}
	if fields.DentalChart != nil {
		chartJSON, err := json.Marshal(fields.DentalChart)
		if err != nil {
			return fmt.Errorf("appointment: marshal dental_chart: %w", err)
		}
		add("dental_chart", chartJSON)
	} else if fields.ClearChart {
		sets = append(sets, "dental_chart = NULL")
	}
	if fields.AudioPath != nil {
		add("audio_path", *fields.AudioPath)
	}
	if fields.AudioDurationSeconds != nil {
		add("audio_duration_seconds", *fields.AudioDurationSeconds)
	}
	if fields.AudioSizeBytes != nil {
		add("audio_size_bytes", *fields.AudioSizeBytes)
	}
	sets = append(sets, "updated_at = now()")

	query := fmt.Sprintf(
		"UPDATE appointments SET %s WHERE id = $1 RETURNING updated_at",
		strings.Join(sets, ", "),
	)

	var discard any
	if err := s.db.QueryRow(ctx, query, args...).Scan(&discard); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("appointment: update %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("appointment: update %q: %w", id, err)
	}
	return nil
}

// List returns all appointments, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]Appointment, error) {
	const query = `
		SELECT id, patient_name, owner_name, species, visit_type, status,
		       transcription, soap_note, client_summary, dental_chart,
		       audio_path, audio_duration_seconds, audio_size_bytes,
		       created_at, updated_at
		FROM appointments
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("appointment: list: %w", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment: list scan: %w", err)
		}
		appts = append(appts, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointment: list: %w", err)
	}
	return appts, nil
}

// Delete removes an appointment by ID. Deleting a non-existent appointment is
// not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM appointments WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("appointment: delete %q: %w", id, err)
	}
	return nil
}

// scanAppointment reads one appointment row, deserialising the JSONB chart.
func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		appt      Appointment
		chartJSON []byte
	)
	err := row.Scan(
		&appt.ID, &appt.PatientName, &appt.OwnerName, &appt.Species,
		&appt.VisitType, &appt.Status,
		&appt.Transcription, &appt.SoapNote, &appt.ClientSummary, &chartJSON,
		&appt.AudioPath, &appt.AudioDurationSeconds, &appt.AudioSizeBytes,
		&appt.CreatedAt, &appt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(chartJSON) > 0 {
		if err := json.Unmarshal(chartJSON, &appt.DentalChart); err != nil {
			return nil, fmt.Errorf("unmarshal dental_chart: %w", err)
		}
	}
	return &appt, nil
}

// marshalChart serialises the dental chart for storage, preserving NULL for
// an absent chart.
func marshalChart(appt *Appointment) ([]byte, error) {
	if appt.DentalChart == nil {
		return nil, nil
	}
	chartJSON, err := json.Marshal(appt.DentalChart)
	if err != nil {
		return nil, fmt.Errorf("appointment: marshal dental_chart: %w", err)
	}
	return chartJSON, nil
}

// defaultStatus returns the status value, defaulting to "scheduled" if empty.
func defaultStatus(s string) string {
	if s == "" {
		return StatusScheduled
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
