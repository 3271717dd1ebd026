package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"clinique/ml"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

// History is the appointment store the offline trainers read from.
type History struct {
	db     *sql.DB
	driver string
}

// Open connects to the history database and checks it is reachable.
func Open(ctx context.Context, driver, dsn string) (*History, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite serialises writers anyway
		database.SetMaxOpenConns(1)
	} else {
		database.SetMaxOpenConns(10)
		database.SetMaxIdleConns(5)
	}
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &History{db: database, driver: driver}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) Driver() string {
	return h.driver
}

// EnsureSchema creates the tables the trainers and the seeder use.
func (h *History) EnsureSchema(ctx context.Context) error {
	statements := sqliteSchema
	if h.driver == DriverPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{`
    CREATE TABLE IF NOT EXISTS appointments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        patient_profile_id INTEGER NOT NULL,
        therapist_profile_id INTEGER NOT NULL,
        session_date_time DATETIME NOT NULL,
        created_at DATETIME NOT NULL,
        status TEXT NOT NULL
    )`, `
    CREATE TABLE IF NOT EXISTS clinical_notes (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        appointment_id INTEGER NOT NULL UNIQUE REFERENCES appointments(id),
        patient_progress_score INTEGER,
        content TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`, `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        model_name TEXT NOT NULL,
        accuracy REAL,
        data_points INTEGER NOT NULL,
        trained_at DATETIME NOT NULL
    )`,
}

var postgresSchema = []string{`
    CREATE TABLE IF NOT EXISTS appointments (
        id BIGSERIAL PRIMARY KEY,
        patient_profile_id BIGINT NOT NULL,
        therapist_profile_id BIGINT NOT NULL,
        session_date_time TIMESTAMPTZ NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        status VARCHAR(32) NOT NULL
    )`, `
    CREATE TABLE IF NOT EXISTS clinical_notes (
        id BIGSERIAL PRIMARY KEY,
        appointment_id BIGINT NOT NULL UNIQUE REFERENCES appointments(id),
        patient_progress_score INTEGER,
        content TEXT,
        created_at TIMESTAMPTZ DEFAULT now()
    )`, `
    CREATE TABLE IF NOT EXISTS training_log (
        id BIGSERIAL PRIMARY KEY,
        run_id VARCHAR(64) NOT NULL,
        model_name VARCHAR(64) NOT NULL,
        accuracy DOUBLE PRECISION,
        data_points INTEGER NOT NULL,
        trained_at TIMESTAMPTZ NOT NULL
    )`,
}

// Appointments returns the appointments in the given statuses (all of them
// when none are given) with the progress score of their clinical note, ordered
// by session time.
func (h *History) Appointments(ctx context.Context, statuses ...ml.AppointmentStatus) ([]ml.HistoricalRecord, error) {
	query := `
        SELECT a.id, a.patient_profile_id, a.therapist_profile_id,
               a.session_date_time, a.created_at, a.status, cn.patient_progress_score
        FROM appointments a
        LEFT JOIN clinical_notes cn ON cn.appointment_id = a.id`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, status := range statuses {
			marks[i] = "?"
			args = append(args, string(status))
		}
		query += "\n        WHERE a.status IN (" + strings.Join(marks, ", ") + ")"
	}
	query += "\n        ORDER BY a.session_date_time, a.id"

	rows, err := h.db.QueryContext(ctx, h.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	records := make([]ml.HistoricalRecord, 0)
	for rows.Next() {
		var r ml.HistoricalRecord
		var status string
		var score sql.NullInt64
		if err := rows.Scan(&r.AppointmentID, &r.PatientID, &r.TherapistID,
			&r.SessionStart, &r.CreatedAt, &status, &score); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		r.Status = ml.AppointmentStatus(status)
		if score.Valid {
			v := int(score.Int64)
			r.ProgressScore = &v
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read appointments: %w", err)
	}
	return records, nil
}

// InsertAppointment stores one appointment and returns its id.
func (h *History) InsertAppointment(ctx context.Context, r ml.HistoricalRecord) (int64, error) {
	query := `
        INSERT INTO appointments (patient_profile_id, therapist_profile_id, session_date_time, created_at, status)
        VALUES (?, ?, ?, ?, ?)`
	args := []any{r.PatientID, r.TherapistID, r.SessionStart.UTC(), r.CreatedAt.UTC(), string(r.Status)}
	return h.insertReturningID(ctx, query, args...)
}

// InsertClinicalNote attaches a note to an appointment. A nil score stores NULL.
func (h *History) InsertClinicalNote(ctx context.Context, appointmentID int64, progressScore *int, content string) error {
	var score sql.NullInt64
	if progressScore != nil {
		score = sql.NullInt64{Int64: int64(*progressScore), Valid: true}
	}
	_, err := h.db.ExecContext(ctx, h.rebind(`
        INSERT INTO clinical_notes (appointment_id, patient_progress_score, content)
        VALUES (?, ?, ?)`), appointmentID, score, content)
	if err != nil {
		return fmt.Errorf("insert clinical note: %w", err)
	}
	return nil
}

func (h *History) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if h.driver == DriverPostgres {
		var id int64
		if err := h.db.QueryRowContext(ctx, h.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert: %w", err)
		}
		return id, nil
	}
	res, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	return res.LastInsertId()
}

type TrainingLog struct {
	RunID      string    `json:"run_id"`
	ModelName  string    `json:"model_name"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	DataPoints int       `json:"data_points"`
	TrainedAt  time.Time `json:"trained_at"`
}

func (h *History) RecordTraining(ctx context.Context, entry TrainingLog) error {
	var accuracy sql.NullFloat64
	if entry.Accuracy != nil {
		accuracy = sql.NullFloat64{Float64: *entry.Accuracy, Valid: true}
	}
	_, err := h.db.ExecContext(ctx, h.rebind(`
        INSERT INTO training_log (run_id, model_name, accuracy, data_points, trained_at)
        VALUES (?, ?, ?, ?, ?)`),
		entry.RunID, entry.ModelName, accuracy, entry.DataPoints, entry.TrainedAt.UTC())
	if err != nil {
		return fmt.Errorf("record training: %w", err)
	}
	return nil
}

// LoadTrainingLog returns training runs, newest first.
func (h *History) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := h.db.QueryContext(ctx, `
        SELECT run_id, model_name, accuracy, data_points, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query training log: %w", err)
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var accuracy sql.NullFloat64
		if err := rows.Scan(&log.RunID, &log.ModelName, &accuracy, &log.DataPoints, &log.TrainedAt); err != nil {
			return nil, fmt.Errorf("scan training log: %w", err)
		}
		if accuracy.Valid {
			v := accuracy.Float64
			log.Accuracy = &v
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// rebind rewrites ? placeholders as $1..$n for postgres.
func (h *History) rebind(query string) string {
	if h.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
