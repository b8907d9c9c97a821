package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lexpilot/seatwise/internal/storage"
	"github.com/lexpilot/seatwise/internal/store"
	"github.com/lexpilot/seatwise/internal/telemetry"
)

type DocumentsHandler struct {
	Store   *store.Store
	Objects storage.ObjectStore
	Logger  *log.Logger
	// Generate enqueues an asynchronous report pipeline run after an upload.
	Generate func(projectID, ownerID string)
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.GET("/:id/documents", h.list)
	g.POST("/:id/documents", h.upload)
	g.DELETE("/:id/documents/:docID", h.delete)
}

// List documents
//
//	@Summary	List a project's documents
//	@Tags		documents
//	@Produce	json
//	@Success	200	{array}	DocumentResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/projects/{id}/documents [get]
func (h *DocumentsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	if err := h.requireProject(c, projectID, userID); err != nil {
		return err
	}
	docs, err := h.Store.ListDocuments(c.Request().Context(), projectID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

// Upload documents
//
//	@Summary		Upload one or more documents
//	@Description	Multipart form, field "files"; a successful upload starts a report regeneration in the background
//	@Tags			documents
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{array}	DocumentResponse
//	@Failure		400	{object}	HTTPError
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id}/documents [post]
func (h *DocumentsHandler) upload(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	ctx := c.Request().Context()
	if err := h.requireProject(c, projectID, userID); err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided")
	}

	out := make([]DocumentResponse, 0, len(files))
	for _, file := range files {
		doc, err := saveUpload(ctx, h.Store, h.Objects, projectID, userID, file)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("upload %s: %v", file.Filename, err))
		}
		out = append(out, toDocumentResponse(doc))
	}

	if err := h.Store.SetProjectStatus(ctx, projectID, userID, store.StatusWorking); err != nil {
		h.Logger.Printf("warn: set status for project %s: %v", projectID, err)
	}
	if h.Generate != nil {
		h.Generate(projectID, userID)
	}
	return c.JSON(http.StatusCreated, out)
}

// Delete document
//
//	@Summary		Delete a document
//	@Description	Best-effort removes the stored object first, then the row; does not regenerate the report
//	@Tags			documents
//	@Success		204	{string}	string	"No Content"
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id}/documents/{docID} [delete]
func (h *DocumentsHandler) delete(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projectID := c.Param("id")
	ctx := c.Request().Context()

	doc, found, err := h.Store.GetDocument(ctx, c.Param("docID"), projectID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	// Object first, then the row. A storage failure leaks the object but never
	// blocks the delete; it is logged so the leak is observable.
	if err := h.Objects.Remove(ctx, []string{doc.StoragePath}); err != nil {
		h.Logger.Printf("warn: remove object %s for document %s: %v", doc.StoragePath, doc.ID, err)
	}
	if err := h.Store.DeleteDocument(ctx, doc.ID, projectID, userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DocumentsHandler) requireProject(c echo.Context, projectID, userID string) error {
	_, found, err := h.Store.GetProject(c.Request().Context(), projectID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return nil
}

// saveUpload stores a multipart file in the object store and records it.
// Document objects are never overwritten: every upload gets a fresh path.
func saveUpload(ctx context.Context, st *store.Store, objects storage.ObjectStore, projectID, ownerID string, file *multipart.FileHeader) (store.Document, error) {
	src, err := file.Open()
	if err != nil {
		return store.Document{}, fmt.Errorf("open: %w", err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return store.Document{}, fmt.Errorf("read: %w", err)
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	path := fmt.Sprintf("%s/%s/documents/%s-%s", ownerID, projectID, uuid.NewString(), file.Filename)
	if err := objects.Upload(ctx, path, data, contentType); err != nil {
		return store.Document{}, err
	}

	doc, err := st.InsertDocument(ctx, store.Document{
		ProjectID:     projectID,
		OwnerID:       ownerID,
		Filename:      file.Filename,
		StorageBucket: objects.Bucket(),
		StoragePath:   path,
		MimeType:      contentType,
		ByteSize:      int64(len(data)),
	})
	if err != nil {
		return store.Document{}, fmt.Errorf("record document: %w", err)
	}
	telemetry.DocumentsUploadedTotal.Inc()
	return doc, nil
}
