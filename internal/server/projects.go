package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lexpilot/seatwise/internal/report"
	"github.com/lexpilot/seatwise/internal/storage"
	"github.com/lexpilot/seatwise/internal/store"
)

type ProjectsHandler struct {
	Store   *store.Store
	Objects storage.ObjectStore
	Logger  *log.Logger
	// Generate enqueues an asynchronous report pipeline run.
	Generate func(projectID, ownerID string)
}

func (h *ProjectsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/report", h.report)
	g.GET("/:id/report/text", h.reportText)
	g.POST("/:id/report/regenerate", h.regenerate)
}

// List projects
//
//	@Summary	List the caller's projects
//	@Tags		projects
//	@Produce	json
//	@Success	200	{array}	ProjectResponse
//	@Router		/api/projects [get]
func (h *ProjectsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	projects, err := h.Store.ListProjects(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p, h.Objects))
	}
	return c.JSON(http.StatusOK, out)
}

// Create project
//
//	@Summary		Create a project
//	@Description	JSON body, or multipart form with title/description/intake fields plus files; uploaded documents are stored and a first report run starts in the background
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	ProjectResponse
//	@Failure		400	{object}	HTTPError
//	@Router			/api/projects [post]
func (h *ProjectsHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	req := CreateProjectRequest{}
	multipart := strings.HasPrefix(c.Request().Header.Get("Content-Type"), "multipart/")
	if multipart {
		req.Title = c.FormValue("title")
		req.Description = c.FormValue("description")
		if raw := c.FormValue("intake"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Intake); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "intake must be a JSON object")
			}
		}
	} else if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title required")
	}

	project, err := h.Store.CreateProject(ctx, userID, req.Title, req.Description, store.StatusWorking, req.Intake)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if multipart {
		form, err := c.MultipartForm()
		if err == nil && form != nil {
			for _, file := range form.File["files"] {
				if _, err := saveUpload(ctx, h.Store, h.Objects, project.ID, userID, file); err != nil {
					// The only work item of this request is the project plus its
					// files; a failed upload is a client-facing error.
					if delErr := h.Store.DeleteProject(ctx, project.ID, userID); delErr != nil {
						h.Logger.Printf("warn: delete project %s after failed upload: %v", project.ID, delErr)
					}
					return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("upload %s: %v", file.Filename, err))
				}
			}
		}
	}

	if h.Generate != nil {
		h.Generate(project.ID, userID)
	}
	return c.JSON(http.StatusCreated, toProjectResponse(project, h.Objects))
}

// Get project
//
//	@Summary	Get one project
//	@Tags		projects
//	@Produce	json
//	@Success	200	{object}	ProjectResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/projects/{id} [get]
func (h *ProjectsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	project, found, err := h.Store.GetProject(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.JSON(http.StatusOK, toProjectResponse(project, h.Objects))
}

// Update project
//
//	@Summary		Patch project title/description/intake
//	@Description	Intake is merged key-by-key; status is owned by the pipeline and cannot be patched
//	@Tags			projects
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	ProjectResponse
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id} [patch]
func (h *ProjectsHandler) update(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	var req UpdateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	project, found, err := h.Store.GetProject(ctx, c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}

	patch := store.ProjectPatch{Title: req.Title, Description: req.Description}
	if req.Intake != nil {
		merged := map[string]interface{}{}
		for k, v := range project.Intake {
			merged[k] = v
		}
		for k, v := range req.Intake {
			merged[k] = v
		}
		patch.Intake = merged
	}
	updated, err := h.Store.UpdateProject(ctx, project.ID, userID, patch)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toProjectResponse(updated, h.Objects))
}

// Delete project
//
//	@Summary		Delete a project
//	@Description	Deletes the row and best-effort removes stored files; storage failures are logged, not fatal
//	@Tags			projects
//	@Success		204	{string}	string	"No Content"
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id} [delete]
func (h *ProjectsHandler) delete(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	project, found, err := h.Store.GetProject(ctx, c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}

	var paths []string
	docs, err := h.Store.ListDocuments(ctx, project.ID, userID)
	if err != nil {
		h.Logger.Printf("warn: list documents for cleanup of project %s: %v", project.ID, err)
	}
	for _, d := range docs {
		paths = append(paths, d.StoragePath)
	}
	if project.ReportPath != "" {
		paths = append(paths, project.ReportPath)
	}

	if err := h.Store.DeleteProject(ctx, project.ID, userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Cleanup after the row is gone: a storage failure leaks objects but never
	// blocks the delete. It is logged so the leak is observable.
	if len(paths) > 0 {
		if err := h.Objects.Remove(ctx, paths); err != nil {
			h.Logger.Printf("warn: cleanup storage for project %s: %v", project.ID, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// Report pointer
//
//	@Summary	Get the latest report's location
//	@Tags		projects
//	@Produce	json
//	@Success	200	{object}	ReportResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/projects/{id}/report [get]
func (h *ProjectsHandler) report(c echo.Context) error {
	userID := c.Get("user_id").(string)
	project, found, err := h.Store.GetProject(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if project.ReportPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no report generated yet")
	}
	return c.JSON(http.StatusOK, ReportResponse{
		URL:         h.Objects.PublicURL(project.ReportPath),
		MimeType:    project.ReportMimeType,
		ByteSize:    project.ReportByteSize,
		GeneratedAt: project.ReportGeneratedAt,
	})
}

// Report text
//
//	@Summary		Get the latest report as plain text
//	@Description	Downloads the stored artifact; falls back to the cached excerpt when storage is unavailable
//	@Tags			projects
//	@Produce		plain
//	@Success		200	{string}	string
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id}/report/text [get]
func (h *ProjectsHandler) reportText(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	project, found, err := h.Store.GetProject(ctx, c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if project.ReportPath == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no report generated yet")
	}
	data, err := h.Objects.Download(ctx, project.ReportPath)
	if err != nil {
		h.Logger.Printf("warn: download report for project %s: %v", project.ID, err)
		if excerpt := report.IntakeString(project.Intake, report.KeyLastReportExcerpt); excerpt != "" {
			return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(excerpt))
		}
		return echo.NewHTTPError(http.StatusBadGateway, "report unavailable")
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", data)
}

// Regenerate report
//
//	@Summary		Trigger report regeneration
//	@Description	Sets status to working, clears the stored error, and runs the pipeline in the background
//	@Tags			projects
//	@Produce		json
//	@Success		202	{object}	ProjectResponse
//	@Failure		404	{object}	HTTPError
//	@Router			/api/projects/{id}/report/regenerate [post]
func (h *ProjectsHandler) regenerate(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	project, found, err := h.Store.GetProject(ctx, c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err := h.Store.SetProjectStatus(ctx, project.ID, userID, store.StatusWorking); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.SetReportError(ctx, project.ID, userID, nil); err != nil {
		h.Logger.Printf("warn: clear report error for project %s: %v", project.ID, err)
	}
	if h.Generate != nil {
		h.Generate(project.ID, userID)
	}
	project.Status = store.StatusWorking
	project.ReportError = nil
	return c.JSON(http.StatusAccepted, toProjectResponse(project, h.Objects))
}
