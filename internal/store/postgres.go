package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/brightboard/videoforge/internal/models"
)

// PostgresStore persists jobs in a single table with the scene list held
// in a JSONB column, so every save is one whole-record UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO video_jobs (
			id, owner, topic, status, progress_message, scenes,
			output_dir, final_artifact, error_kind, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	errKind, errMsg := jobErrorColumns(job)
	return s.db.QueryRowContext(
		ctx, query,
		job.ID, job.Owner, job.Topic, job.Status, job.ProgressMessage,
		job.Scenes, nullableString(job.OutputDir), job.FinalArtifact, errKind, errMsg,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE video_jobs SET
			topic = $2, status = $3, progress_message = $4, scenes = $5,
			output_dir = $6, final_artifact = $7, error_kind = $8,
			error_message = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	errKind, errMsg := jobErrorColumns(job)
	err := s.db.QueryRowContext(
		ctx, query,
		job.ID, job.Topic, job.Status, job.ProgressMessage, job.Scenes,
		nullableString(job.OutputDir), job.FinalArtifact, errKind, errMsg,
	).Scan(&job.UpdatedAt)

	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, owner, topic, status, progress_message, scenes,
		       output_dir, final_artifact, error_kind, error_message,
		       created_at, updated_at
		FROM video_jobs
		WHERE id = $1
	`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, owner string) ([]models.Job, error) {
	baseSelect := `
		SELECT id, owner, topic, status, progress_message, scenes,
		       output_dir, final_artifact, error_kind, error_message,
		       created_at, updated_at
		FROM video_jobs
	`

	var (
		rows *sql.Rows
		err  error
	)
	if owner != "" {
		rows, err = s.db.QueryContext(ctx, baseSelect+` WHERE owner = $1 ORDER BY created_at DESC`, owner)
	} else {
		rows, err = s.db.QueryContext(ctx, baseSelect+` ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var (
		outputDir sql.NullString
		errKind   sql.NullString
		errMsg    sql.NullString
	)

	err := row.Scan(
		&job.ID, &job.Owner, &job.Topic, &job.Status, &job.ProgressMessage,
		&job.Scenes, &outputDir, &job.FinalArtifact, &errKind, &errMsg,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.OutputDir = outputDir.String
	if errKind.Valid {
		job.Error = &models.JobError{
			Kind:    models.ErrorKind(errKind.String),
			Message: errMsg.String,
		}
	}
	return job, nil
}

func jobErrorColumns(job *models.Job) (kind, msg *string) {
	if job.Error == nil {
		return nil, nil
	}
	k := string(job.Error.Kind)
	m := job.Error.Message
	return &k, &m
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
