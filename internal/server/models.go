package server

import (
	"time"

	"github.com/lexpilot/seatwise/internal/storage"
	"github.com/lexpilot/seatwise/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse returns the current authenticated user id.
type MeResponse struct {
	UserID string `json:"user_id"`
}

// CreateProjectRequest represents a new project payload. Intake keys are free
// form; reserved keys are documented in the API docs.
type CreateProjectRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Intake      map[string]interface{} `json:"intake"`
}

// UpdateProjectRequest patches project fields; nil fields are left untouched.
type UpdateProjectRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Intake      map[string]interface{} `json:"intake"`
}

// ProjectResponse is the API view of a project.
type ProjectResponse struct {
	ID                string                 `json:"id"`
	Title             string                 `json:"title"`
	Description       string                 `json:"description,omitempty"`
	Status            string                 `json:"status"`
	Intake            map[string]interface{} `json:"intake"`
	ReportPath        string                 `json:"report_path,omitempty"`
	ReportURL         string                 `json:"report_url,omitempty"`
	ReportMimeType    string                 `json:"report_mime_type,omitempty"`
	ReportByteSize    int64                  `json:"report_byte_size,omitempty"`
	ReportGeneratedAt *time.Time             `json:"report_generated_at,omitempty"`
	ReportError       *string                `json:"report_error,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// DocumentResponse is the API view of an uploaded document.
type DocumentResponse struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	ByteSize  int64     `json:"byte_size"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageResponse is the API view of one chat message.
type MessageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest carries one user chat message.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse returns the persisted user and assistant turns.
type ChatResponse struct {
	User      MessageResponse `json:"user"`
	Assistant MessageResponse `json:"assistant"`
}

// ReportResponse points at the latest rendered report.
type ReportResponse struct {
	URL         string     `json:"url"`
	MimeType    string     `json:"mime_type"`
	ByteSize    int64      `json:"byte_size"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

func toProjectResponse(p store.Project, objects storage.ObjectStore) ProjectResponse {
	intake := p.Intake
	if intake == nil {
		intake = map[string]interface{}{}
	}
	reportURL := ""
	if p.ReportPath != "" && objects != nil {
		reportURL = objects.PublicURL(p.ReportPath)
	}
	return ProjectResponse{
		ID:                p.ID,
		Title:             p.Title,
		Description:       p.Description,
		Status:            p.Status,
		Intake:            intake,
		ReportPath:        p.ReportPath,
		ReportURL:         reportURL,
		ReportMimeType:    p.ReportMimeType,
		ReportByteSize:    p.ReportByteSize,
		ReportGeneratedAt: p.ReportGeneratedAt,
		ReportError:       p.ReportError,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func toDocumentResponse(d store.Document) DocumentResponse {
	return DocumentResponse{
		ID:        d.ID,
		Filename:  d.Filename,
		MimeType:  d.MimeType,
		ByteSize:  d.ByteSize,
		CreatedAt: d.CreatedAt,
	}
}

func toMessageResponse(m store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
