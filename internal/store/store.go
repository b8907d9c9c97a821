package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Project statuses. Transitions happen only through the report pipeline or an
// explicit regenerate trigger.
const (
	StatusWorking      = "working"
	StatusIntervention = "intervention"
	StatusComplete     = "complete"
)

// Message roles persisted in the chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Store struct {
	DB *sql.DB
}

// Project is the typed row for a seat-analysis case.
type Project struct {
	ID                string
	OwnerID           string
	Title             string
	Description       string
	Status            string
	Intake            map[string]interface{}
	ReportBucket      string
	ReportPath        string
	ReportMimeType    string
	ReportByteSize    int64
	ReportGeneratedAt *time.Time
	ReportError       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Document is the typed row for an uploaded case file. Immutable once created.
type Document struct {
	ID            string
	ProjectID     string
	OwnerID       string
	Filename      string
	StorageBucket string
	StoragePath   string
	MimeType      string
	ByteSize      int64
	CreatedAt     time.Time
}

// Message is one chat turn, append-only and ordered by creation time.
type Message struct {
	ID        string
	ProjectID string
	OwnerID   string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ReportArtifact describes a rendered report stored in the object store.
type ReportArtifact struct {
	Bucket      string
	Path        string
	MimeType    string
	ByteSize    int64
	GeneratedAt time.Time
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Project operations

const projectColumns = `id, owner_id, title, COALESCE(description,''), status, intake,
COALESCE(report_bucket,''), COALESCE(report_path,''), COALESCE(report_mime_type,''),
COALESCE(report_byte_size,0), report_generated_at, report_error, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (Project, error) {
	var p Project
	var intakeBytes []byte
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Status, &intakeBytes,
		&p.ReportBucket, &p.ReportPath, &p.ReportMimeType, &p.ReportByteSize,
		&p.ReportGeneratedAt, &p.ReportError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if len(intakeBytes) > 0 {
		_ = json.Unmarshal(intakeBytes, &p.Intake)
	}
	if p.Intake == nil {
		p.Intake = map[string]interface{}{}
	}
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, ownerID, title, description, status string, intake map[string]interface{}) (Project, error) {
	if status == "" {
		status = StatusWorking
	}
	if intake == nil {
		intake = map[string]interface{}{}
	}
	intakeBytes, err := json.Marshal(intake)
	if err != nil {
		return Project{}, fmt.Errorf("marshal intake: %w", err)
	}
	row := s.DB.QueryRowContext(ctx, `INSERT INTO projects (owner_id, title, description, status, intake)
VALUES ($1,$2,$3,$4,$5) RETURNING `+projectColumns, ownerID, title, description, status, intakeBytes)
	return scanProject(row)
}

func (s *Store) GetProject(ctx context.Context, id, ownerID string) (Project, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1 AND owner_id=$2`, id, ownerID)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, err
	}
	return p, true, nil
}

func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectPatch holds optional updates; nil fields are left untouched.
type ProjectPatch struct {
	Title       *string
	Description *string
	Status      *string
	Intake      map[string]interface{}
}

func (s *Store) UpdateProject(ctx context.Context, id, ownerID string, patch ProjectPatch) (Project, error) {
	set := "updated_at=NOW()"
	args := []interface{}{id, ownerID}
	idx := 3
	if patch.Title != nil {
		set += fmt.Sprintf(", title=$%d", idx)
		args = append(args, *patch.Title)
		idx++
	}
	if patch.Description != nil {
		set += fmt.Sprintf(", description=$%d", idx)
		args = append(args, *patch.Description)
		idx++
	}
	if patch.Status != nil {
		set += fmt.Sprintf(", status=$%d", idx)
		args = append(args, *patch.Status)
		idx++
	}
	if patch.Intake != nil {
		intakeBytes, err := json.Marshal(patch.Intake)
		if err != nil {
			return Project{}, fmt.Errorf("marshal intake: %w", err)
		}
		set += fmt.Sprintf(", intake=$%d", idx)
		args = append(args, intakeBytes)
		idx++
	}
	row := s.DB.QueryRowContext(ctx, `UPDATE projects SET `+set+` WHERE id=$1 AND owner_id=$2 RETURNING `+projectColumns, args...)
	return scanProject(row)
}

func (s *Store) DeleteProject(ctx context.Context, id, ownerID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND owner_id=$2`, id, ownerID)
	return err
}

func (s *Store) SetProjectStatus(ctx context.Context, id, ownerID, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE projects SET status=$3, updated_at=NOW() WHERE id=$1 AND owner_id=$2`, id, ownerID, status)
	return err
}

// SetReportError records (or clears, with nil) the last pipeline error for UI visibility.
func (s *Store) SetReportError(ctx context.Context, id, ownerID string, reportErr *string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE projects SET report_error=$3, updated_at=NOW() WHERE id=$1 AND owner_id=$2`, id, ownerID, reportErr)
	return err
}

// UpdateIntake replaces the project's intake fact sheet.
func (s *Store) UpdateIntake(ctx context.Context, id, ownerID string, intake map[string]interface{}) error {
	intakeBytes, err := json.Marshal(intake)
	if err != nil {
		return fmt.Errorf("marshal intake: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE projects SET intake=$3, updated_at=NOW() WHERE id=$1 AND owner_id=$2`, id, ownerID, intakeBytes)
	return err
}

// SetReportArtifact persists the latest rendered report pointer together with the
// final status of a pipeline run. The stored report error is cleared only when
// the run completed without one.
func (s *Store) SetReportArtifact(ctx context.Context, id, ownerID string, art ReportArtifact, status string, clearError bool) error {
	if clearError {
		_, err := s.DB.ExecContext(ctx, `UPDATE projects SET status=$3, report_bucket=$4, report_path=$5,
report_mime_type=$6, report_byte_size=$7, report_generated_at=$8, report_error=NULL, updated_at=NOW()
WHERE id=$1 AND owner_id=$2`, id, ownerID, status, art.Bucket, art.Path, art.MimeType, art.ByteSize, art.GeneratedAt)
		return err
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE projects SET status=$3, report_bucket=$4, report_path=$5,
report_mime_type=$6, report_byte_size=$7, report_generated_at=$8, updated_at=NOW()
WHERE id=$1 AND owner_id=$2`, id, ownerID, status, art.Bucket, art.Path, art.MimeType, art.ByteSize, art.GeneratedAt)
	return err
}

// Document operations

const documentColumns = `id, project_id, owner_id, filename, storage_bucket, storage_path, COALESCE(mime_type,''), COALESCE(byte_size,0), created_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.ProjectID, &d.OwnerID, &d.Filename, &d.StorageBucket, &d.StoragePath, &d.MimeType, &d.ByteSize, &d.CreatedAt)
	return d, err
}

func (s *Store) InsertDocument(ctx context.Context, d Document) (Document, error) {
	row := s.DB.QueryRowContext(ctx, `INSERT INTO documents (project_id, owner_id, filename, storage_bucket, storage_path, mime_type, byte_size)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+documentColumns,
		d.ProjectID, d.OwnerID, d.Filename, d.StorageBucket, d.StoragePath, d.MimeType, d.ByteSize)
	return scanDocument(row)
}

func (s *Store) GetDocument(ctx context.Context, id, projectID, ownerID string) (Document, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 AND project_id=$2 AND owner_id=$3`, id, projectID, ownerID)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return d, true, nil
}

func (s *Store) ListDocuments(ctx context.Context, projectID, ownerID string) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE project_id=$1 AND owner_id=$2 ORDER BY created_at ASC`, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id, projectID, ownerID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=$1 AND project_id=$2 AND owner_id=$3`, id, projectID, ownerID)
	return err
}

// Message operations

const messageColumns = `id, project_id, owner_id, role, content, created_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ProjectID, &m.OwnerID, &m.Role, &m.Content, &m.CreatedAt)
	return m, err
}

func (s *Store) InsertMessage(ctx context.Context, projectID, ownerID, role, content string) (Message, error) {
	row := s.DB.QueryRowContext(ctx, `INSERT INTO messages (project_id, owner_id, role, content)
VALUES ($1,$2,$3,$4) RETURNING `+messageColumns, projectID, ownerID, role, content)
	return scanMessage(row)
}

func (s *Store) ListMessages(ctx context.Context, projectID, ownerID string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE project_id=$1 AND owner_id=$2 ORDER BY created_at ASC`, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRecentMessages returns the newest messages in chronological order,
// bounded by limit.
func (s *Store) ListRecentMessages(ctx context.Context, projectID, ownerID string, limit int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE project_id=$1 AND owner_id=$2 ORDER BY created_at DESC LIMIT $3`, projectID, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
