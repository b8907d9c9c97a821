package report

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexpilot/seatwise/internal/storage"
	"github.com/lexpilot/seatwise/internal/store"
	"github.com/lexpilot/seatwise/internal/telemetry"
)

// How much of the rendered report is kept in intake for the chat layer to
// ground follow-up answers on.
const reportExcerptKeep = 2000

// GeneratorStore is the subset of the relational store the pipeline needs.
type GeneratorStore interface {
	GetProject(ctx context.Context, id, ownerID string) (store.Project, bool, error)
	ListDocuments(ctx context.Context, projectID, ownerID string) ([]store.Document, error)
	UpdateIntake(ctx context.Context, id, ownerID string, intake map[string]interface{}) error
	SetReportArtifact(ctx context.Context, id, ownerID string, art store.ReportArtifact, status string, clearError bool) error
	SetReportError(ctx context.Context, id, ownerID string, reportErr *string) error
	SetProjectStatus(ctx context.Context, id, ownerID, status string) error
}

// Generator runs the end-to-end report pipeline: document text extraction,
// field extraction, decision, rendering, artifact upload, and persistence.
// Run never panics outward and never leaves a project stuck in "working".
type Generator struct {
	Store     GeneratorStore
	Objects   storage.ObjectStore
	Extractor Extractor
	Engine    *Engine
	Renderer  *Renderer
	Locks     RunLocker
	Logger    *log.Logger
	LockTTL   time.Duration
}

func (g *Generator) logger() *log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.Default()
}

// Run executes one generation attempt for a project. Concurrent attempts for
// the same project are collapsed: the run that holds the lock proceeds, any
// other returns immediately. A run superseded by a newer one (lock expired and
// re-acquired) drops its results instead of overwriting the newer run's.
func (g *Generator) Run(ctx context.Context, projectID, ownerID string) {
	start := time.Now()
	logger := g.logger()

	token := ""
	if g.Locks != nil {
		ttl := g.LockTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		t, ok, err := g.Locks.Acquire(ctx, projectID, ttl)
		if err != nil {
			// Lock service down: generate anyway, serialization is best-effort.
			logger.Printf("warn: report lock unavailable for project %s: %v", projectID, err)
		} else if !ok {
			logger.Printf("report generation already in flight for project %s, skipping", projectID)
			telemetry.RecordPipelineRun(telemetry.OutcomeSkipped, time.Since(start).Seconds())
			return
		} else {
			token = t
		}
	}

	outcome := telemetry.OutcomeError
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("warn: report pipeline panic for project %s: %v", projectID, r)
			g.persistFailure(ctx, projectID, ownerID, fmt.Sprintf("internal error: %v", r))
			outcome = telemetry.OutcomeError
		}
		if token != "" {
			if err := g.Locks.Release(ctx, projectID, token); err != nil {
				logger.Printf("warn: release report lock for project %s: %v", projectID, err)
			}
		}
		telemetry.RecordPipelineRun(outcome, time.Since(start).Seconds())
	}()

	outcome = g.run(ctx, projectID, ownerID, token)
}

func (g *Generator) run(ctx context.Context, projectID, ownerID, token string) string {
	logger := g.logger()

	project, found, err := g.Store.GetProject(ctx, projectID, ownerID)
	if err != nil {
		logger.Printf("warn: load project %s: %v", projectID, err)
		return telemetry.OutcomeError
	}
	if !found {
		logger.Printf("warn: report requested for unknown project %s", projectID)
		return telemetry.OutcomeError
	}

	if err := g.Store.SetProjectStatus(ctx, projectID, ownerID, store.StatusWorking); err != nil {
		logger.Printf("warn: set status for project %s: %v", projectID, err)
	}

	documents, err := g.Store.ListDocuments(ctx, projectID, ownerID)
	if err != nil {
		logger.Printf("warn: list documents for project %s: %v", projectID, err)
		g.persistFailure(ctx, projectID, ownerID, "could not load project documents")
		return telemetry.OutcomeError
	}

	var (
		docs        []DocText
		extracted   Fields
		decision    Decision
		nonFatalErr string
	)

	if len(documents) == 0 {
		// Nothing to extract or decide: render a placeholder report so the
		// user sees the structure and the blockers, and move to intervention.
		decision = Decision{
			ShouldChangeSeat: InterventionNeeded,
			MissingInfo:      []string{"case_documents"},
		}
		decision.Normalize()
	} else {
		docs = g.extractDocs(ctx, documents)
		if len(docs) == 0 {
			nonFatalErr = "no extractable text found in the uploaded documents; scanned files may need OCR"
			logger.Printf("warn: project %s: %s", projectID, nonFatalErr)
		}

		var extractErr error
		extracted, extractErr = g.Extractor.Extract(ctx, docs)
		if extractErr != nil {
			// Extraction degrades, it does not abort: the decision engine raises
			// intervention on its own when nothing usable came out.
			logger.Printf("warn: field extraction for project %s: %v", projectID, extractErr)
		}
	}

	intake := map[string]interface{}{}
	for k, v := range project.Intake {
		intake[k] = v
	}
	MergeIntoIntake(intake, extracted)
	effective := EffectiveIntake(intake)

	if len(documents) > 0 {
		decision = g.Engine.Decide(ctx, docs, effective, extracted)
	}

	intake[KeyLastDecision] = DecisionBreadcrumb(decision)
	status := store.StatusComplete
	if decision.ShouldChangeSeat == InterventionNeeded || len(MissingRequired(intake)) > 0 {
		status = store.StatusIntervention
		intake[KeyIntervention] = map[string]interface{}{
			"missing": toInterfaceList(blockerList(decision, intake)),
			"at":      time.Now().UTC().Format(time.RFC3339),
		}
	} else {
		delete(intake, KeyIntervention)
	}

	renderProject := project
	renderProject.Intake = effective
	generated := g.Renderer.Render(renderProject, documents, extracted, decision)

	intake[KeyLastReportExcerpt] = reportExcerpt(string(generated.Content))

	// A newer run may have taken over while this one was extracting or waiting
	// on the model. It owns the project now; this run's results are stale.
	if token != "" {
		cur, err := g.Locks.Current(ctx, projectID)
		if err != nil {
			logger.Printf("warn: verify report lock for project %s: %v", projectID, err)
		} else if cur != token {
			logger.Printf("report run for project %s superseded, dropping results", projectID)
			return telemetry.OutcomeStale
		}
	}

	objectPath := fmt.Sprintf("%s/%s/reports/%s-%s", ownerID, projectID, uuid.NewString(), generated.Filename)
	if err := g.Objects.Upload(ctx, objectPath, generated.Content, generated.MimeType); err != nil {
		logger.Printf("warn: upload report for project %s: %v", projectID, err)
		g.persistFailure(ctx, projectID, ownerID, "could not store the generated report")
		return telemetry.OutcomeError
	}

	if err := g.Store.UpdateIntake(ctx, projectID, ownerID, intake); err != nil {
		logger.Printf("warn: persist intake for project %s: %v", projectID, err)
	}

	art := store.ReportArtifact{
		Bucket:      g.Objects.Bucket(),
		Path:        objectPath,
		MimeType:    generated.MimeType,
		ByteSize:    int64(len(generated.Content)),
		GeneratedAt: time.Now().UTC(),
	}
	if err := g.Store.SetReportArtifact(ctx, projectID, ownerID, art, status, nonFatalErr == ""); err != nil {
		logger.Printf("warn: persist report artifact for project %s: %v", projectID, err)
		g.persistFailure(ctx, projectID, ownerID, "could not persist the generated report")
		return telemetry.OutcomeError
	}
	if nonFatalErr != "" {
		if err := g.Store.SetReportError(ctx, projectID, ownerID, &nonFatalErr); err != nil {
			logger.Printf("warn: persist report error for project %s: %v", projectID, err)
		}
	}

	logger.Printf("report generated for project %s (status=%s, %d bytes)", projectID, status, len(generated.Content))
	if status == store.StatusIntervention {
		return telemetry.OutcomeIntervention
	}
	return telemetry.OutcomeComplete
}

// extractDocs downloads each stored document and extracts page-tagged text.
// A document that cannot be fetched or parsed contributes no text; it is
// logged and the run continues.
func (g *Generator) extractDocs(ctx context.Context, documents []store.Document) []DocText {
	logger := g.logger()
	docs := make([]DocText, 0, len(documents))
	for _, d := range documents {
		data, err := g.Objects.Download(ctx, d.StoragePath)
		if err != nil {
			logger.Printf("warn: download document %s (%s): %v", d.ID, d.Filename, err)
			continue
		}
		pages := ExtractText(data, d.MimeType, d.Filename)
		text := JoinPages(pages)
		if text == "" {
			logger.Printf("warn: no text extracted from document %s (%s)", d.ID, d.Filename)
			continue
		}
		docs = append(docs, DocText{Name: d.Filename, Text: text})
	}
	return docs
}

// reportExcerpt keeps the head of the rendered report for the chat layer. The
// missing-information section is part of the chat wire contract and sits deep
// in the document, so when the head cut would lose it the whole section is
// carried over.
func reportExcerpt(content string) string {
	if len(content) <= reportExcerptKeep {
		return content
	}
	head := cutBytes(content, reportExcerptKeep)
	idx := strings.Index(content, MissingInfoHeading)
	if idx < 0 {
		return head
	}
	section := content[idx:]
	if end := strings.Index(section, "\n###"); end > 0 {
		section = section[:end]
	}
	section = strings.TrimSpace(section)
	if idx+len(section) <= len(head) {
		return head
	}
	if idx < len(head) {
		head = content[:idx]
	}
	return strings.TrimRight(head, "\n") + "\n\n" + section + "\n"
}

// blockerList merges the decision's missing_info with required intake fields
// still absent after the run, deduplicated and order-preserving.
func blockerList(decision Decision, intake map[string]interface{}) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range append(append([]string{}, decision.MissingInfo...), MissingRequired(intake)...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// persistFailure moves the project into intervention with a stored error so a
// failed run is visible instead of silently stuck in "working".
func (g *Generator) persistFailure(ctx context.Context, projectID, ownerID, msg string) {
	logger := g.logger()
	if err := g.Store.SetProjectStatus(ctx, projectID, ownerID, store.StatusIntervention); err != nil {
		logger.Printf("warn: set status for project %s: %v", projectID, err)
	}
	if err := g.Store.SetReportError(ctx, projectID, ownerID, &msg); err != nil {
		logger.Printf("warn: set report error for project %s: %v", projectID, err)
	}
}
