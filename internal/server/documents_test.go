package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/lexpilot/seatwise/internal/store"
)

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "project_id", "owner_id", "filename", "storage_bucket", "storage_path", "mime_type", "byte_size", "created_at",
	})
}

func multipartUpload(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/documents", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestUploadDocument(t *testing.T) {
	st, mock := newMockStore(t)
	objects := newFakeObjects()
	generated := 0
	h := &DocumentsHandler{Store: st, Objects: objects, Logger: testLogger(), Generate: func(string, string) { generated++ }}
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id=$1 AND owner_id=$2`)).
		WithArgs("p1", "u1").
		WillReturnRows(projectRows().AddRow(
			"p1", "u1", "Case", "", store.StatusIntervention, []byte(`{}`),
			"", "", "", int64(0), nil, nil, now, now,
		))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO documents (project_id, owner_id, filename, storage_bucket, storage_path, mime_type, byte_size)`)).
		WithArgs("p1", "u1", "contract.pdf", "seatwise-test", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(8)).
		WillReturnRows(documentRows().AddRow(
			"d1", "p1", "u1", "contract.pdf", "seatwise-test", "u1/p1/documents/x-contract.pdf", "application/octet-stream", int64(8), now,
		))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects SET status=$3, updated_at=NOW()`)).
		WithArgs("p1", "u1", store.StatusWorking).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := echo.New()
	c, rec := projectContext(e, multipartUpload(t, "files", "contract.pdf", "contents"), "p1")
	if err := h.upload(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d", rec.Code)
	}
	if generated != 1 {
		t.Fatalf("upload must start a report run")
	}
	if len(objects.uploads) != 1 {
		t.Fatalf("object not stored: %v", objects.uploads)
	}
	for path := range objects.uploads {
		if !strings.HasPrefix(path, "u1/p1/documents/") || !strings.HasSuffix(path, "-contract.pdf") {
			t.Fatalf("unexpected object path %q", path)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUploadNoFiles(t *testing.T) {
	st, mock := newMockStore(t)
	h := &DocumentsHandler{Store: st, Objects: newFakeObjects(), Logger: testLogger()}
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM projects WHERE id=$1 AND owner_id=$2`)).
		WithArgs("p1", "u1").
		WillReturnRows(projectRows().AddRow(
			"p1", "u1", "Case", "", store.StatusWorking, []byte(`{}`),
			"", "", "", int64(0), nil, nil, now, now,
		))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("note", "no files here")
	_ = w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/documents", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())

	e := echo.New()
	c, _ := projectContext(e, req, "p1")
	err := h.upload(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	st, mock := newMockStore(t)
	objects := newFakeObjects()
	h := &DocumentsHandler{Store: st, Objects: objects, Logger: testLogger()}
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM documents WHERE id=$1 AND project_id=$2 AND owner_id=$3`)).
		WithArgs("d1", "p1", "u1").
		WillReturnRows(documentRows().AddRow(
			"d1", "p1", "u1", "contract.pdf", "seatwise-test", "u1/p1/documents/x-contract.pdf", "application/pdf", int64(42), now,
		))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id=$1 AND project_id=$2 AND owner_id=$3`)).
		WithArgs("d1", "p1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/projects/p1/documents/d1", nil), rec)
	c.Set("user_id", "u1")
	c.SetParamNames("id", "docID")
	c.SetParamValues("p1", "d1")

	if err := h.delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if len(objects.removed) != 1 || objects.removed[0] != "u1/p1/documents/x-contract.pdf" {
		t.Fatalf("object not removed: %v", objects.removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteDocumentStorageFailureStillDeletesRow(t *testing.T) {
	st, mock := newMockStore(t)
	objects := newFakeObjects()
	objects.failRemove = true
	h := &DocumentsHandler{Store: st, Objects: objects, Logger: testLogger()}
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM documents WHERE id=$1 AND project_id=$2 AND owner_id=$3`)).
		WithArgs("d1", "p1", "u1").
		WillReturnRows(documentRows().AddRow(
			"d1", "p1", "u1", "contract.pdf", "seatwise-test", "u1/p1/documents/x-contract.pdf", "application/pdf", int64(42), now,
		))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id=$1 AND project_id=$2 AND owner_id=$3`)).
		WithArgs("d1", "p1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/projects/p1/documents/d1", nil), rec)
	c.Set("user_id", "u1")
	c.SetParamNames("id", "docID")
	c.SetParamValues("p1", "d1")

	if err := h.delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if len(objects.removed) != 1 {
		t.Fatalf("object removal not attempted: %v", objects.removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("row not deleted after storage failure: %v", err)
	}
}
