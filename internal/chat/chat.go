package chat

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/lexpilot/seatwise/internal/llm"
	"github.com/lexpilot/seatwise/internal/report"
	"github.com/lexpilot/seatwise/internal/store"
	"github.com/lexpilot/seatwise/internal/telemetry"
)

// RegenerationMarker is the well-known trailing line the assistant emits when
// enough information exists to regenerate the report. It is stripped from the
// persisted reply and acted on instead.
const RegenerationMarker = "[REGENERATE_REPORT]"

var (
	regenRequestRe = regexp.MustCompile(`(?i)\b(?:re-?)?generate\b[\s\S]{0,60}?\breport\b`)
	whyBlockedRe   = regexp.MustCompile(`(?i)\b(?:why|what)\b[^?]*\b(?:miss(?:ing)?|block(?:ed|ing|ers?)?|need(?:ed)?|stuck|interven)`)
)

// Store is the subset of the relational store the chat layer needs.
type Store interface {
	GetProject(ctx context.Context, id, ownerID string) (store.Project, bool, error)
	ListDocuments(ctx context.Context, projectID, ownerID string) ([]store.Document, error)
	ListMessages(ctx context.Context, projectID, ownerID string) ([]store.Message, error)
	ListRecentMessages(ctx context.Context, projectID, ownerID string, limit int) ([]store.Message, error)
	InsertMessage(ctx context.Context, projectID, ownerID, role, content string) (store.Message, error)
	UpdateIntake(ctx context.Context, id, ownerID string, intake map[string]interface{}) error
	SetProjectStatus(ctx context.Context, id, ownerID, status string) error
	SetReportError(ctx context.Context, id, ownerID string, reportErr *string) error
}

// Service drives the project conversation: blocker seeding, scenario
// overrides, deterministic "why blocked" answers, grounded turns, and
// regeneration triggering.
type Service struct {
	Store  Store
	Client llm.Client
	Logger *log.Logger
	// Regenerate enqueues an asynchronous report pipeline run. Chat never
	// blocks on generation.
	Regenerate func(projectID, ownerID string)
	MaxHistory int
	Timeout    time.Duration
}

func (s *Service) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Service) maxHistory() int {
	if s.MaxHistory > 0 {
		return s.MaxHistory
	}
	return 20
}

// History returns the project's chat messages, seeding a blocker-explanation
// assistant message first when the history is empty and the project awaits
// intervention. Seeding happens at most once; later reads see the persisted row.
func (s *Service) History(ctx context.Context, project store.Project) ([]store.Message, error) {
	messages, err := s.Store.ListMessages(ctx, project.ID, project.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(messages) > 0 || project.Status != store.StatusIntervention {
		return messages, nil
	}

	docs, err := s.Store.ListDocuments(ctx, project.ID, project.OwnerID)
	if err != nil {
		s.logger().Printf("warn: list documents for seeding on project %s: %v", project.ID, err)
	}
	seed := s.blockerExplanation(project, len(docs))
	msg, err := s.Store.InsertMessage(ctx, project.ID, project.OwnerID, store.RoleAssistant, seed)
	if err != nil {
		return nil, fmt.Errorf("seed message: %w", err)
	}
	return []store.Message{msg}, nil
}

// Handle processes one user message and returns the persisted user and
// assistant rows.
func (s *Service) Handle(ctx context.Context, project store.Project, text string) (store.Message, store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return store.Message{}, store.Message{}, fmt.Errorf("empty message")
	}

	userMsg, err := s.Store.InsertMessage(ctx, project.ID, project.OwnerID, store.RoleUser, text)
	if err != nil {
		return store.Message{}, store.Message{}, fmt.Errorf("persist user message: %w", err)
	}

	intake := map[string]interface{}{}
	for k, v := range project.Intake {
		intake[k] = v
	}

	// Scenario overrides win over documents and prior extraction, and take
	// effect immediately, before any regeneration.
	overridden := false
	if IsAssumption(text) {
		patch := ParseOverrides(text)
		if len(patch) > 0 {
			MergeOverrides(intake, patch, text)
			if err := s.Store.UpdateIntake(ctx, project.ID, project.OwnerID, intake); err != nil {
				s.logger().Printf("warn: persist overrides for project %s: %v", project.ID, err)
			}
			project.Intake = intake
			overridden = true
		}
	}

	// Non-override message while required fields are missing: try to lift the
	// missing values out of the message itself.
	if !overridden {
		if missing := report.MissingRequired(intake); len(missing) > 0 {
			if s.extractMissing(ctx, text, missing, intake) {
				if err := s.Store.UpdateIntake(ctx, project.ID, project.OwnerID, intake); err != nil {
					s.logger().Printf("warn: persist extracted fields for project %s: %v", project.ID, err)
				}
				project.Intake = intake
			}
		}
	}

	reply, kind := s.reply(ctx, project, text, overridden)
	telemetry.ChatTurnsTotal.WithLabelValues(kind).Inc()

	reply, markerSeen := stripRegenerationMarker(reply)
	if markerSeen || regenRequestRe.MatchString(text) {
		s.triggerRegeneration(ctx, project)
	}

	assistantMsg, err := s.Store.InsertMessage(ctx, project.ID, project.OwnerID, store.RoleAssistant, reply)
	if err != nil {
		return store.Message{}, store.Message{}, fmt.Errorf("persist assistant message: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// reply picks the answer strategy and returns the raw reply text plus a label
// for metrics.
func (s *Service) reply(ctx context.Context, project store.Project, text string, overridden bool) (string, string) {
	if project.Status == store.StatusIntervention && whyBlockedRe.MatchString(text) && !overridden {
		docs, err := s.Store.ListDocuments(ctx, project.ID, project.OwnerID)
		if err != nil {
			s.logger().Printf("warn: list documents for project %s: %v", project.ID, err)
		}
		return s.blockerExplanation(project, len(docs)), "deterministic"
	}

	if s.Client == nil || !s.Client.Available() {
		return s.offlineReply(project, overridden), "offline"
	}

	reply, err := s.groundedTurn(ctx, project, text)
	telemetry.RecordLLMCall("chat", err)
	if err != nil {
		s.logger().Printf("warn: chat completion for project %s: %v", project.ID, err)
		return s.offlineReply(project, overridden), "fallback"
	}
	return reply, "grounded"
}

// offlineReply answers without the completion service: acknowledge overrides,
// restate blockers, or point at regeneration.
func (s *Service) offlineReply(project store.Project, overridden bool) string {
	missing := report.MissingRequired(project.Intake)
	var b strings.Builder
	if overridden {
		b.WriteString("Noted. I'll treat your stated assumptions as true for this scenario.\n\n")
	}
	if len(missing) > 0 {
		b.WriteString("I still need:\n")
		for _, m := range missing {
			b.WriteString("- " + friendlyBlocker(m) + "\n")
		}
		b.WriteString("\nYou can provide these here or upload documents that contain them.")
	} else {
		b.WriteString("All required details are in place. Say \"regenerate the report\" to produce an updated recommendation.")
	}
	return b.String()
}

func (s *Service) groundedTurn(ctx context.Context, project store.Project, text string) (string, error) {
	docs, err := s.Store.ListDocuments(ctx, project.ID, project.OwnerID)
	if err != nil {
		s.logger().Printf("warn: list documents for project %s: %v", project.ID, err)
	}

	history, err := s.Store.ListRecentMessages(ctx, project.ID, project.OwnerID, s.maxHistory())
	if err != nil {
		s.logger().Printf("warn: list recent messages for project %s: %v", project.ID, err)
	}

	messages := []llm.Message{{Role: "system", Content: s.systemPrompt(project, docs)}}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})

	return llm.CompleteWithTimeout(ctx, s.Client, messages, llm.Options{Temperature: 0.2}, s.Timeout)
}

func (s *Service) systemPrompt(project store.Project, docs []store.Document) string {
	intake := project.Intake
	missing := report.MissingRequired(intake)

	var docNames []string
	for _, d := range docs {
		docNames = append(docNames, d.Filename)
	}

	var b strings.Builder
	b.WriteString("You are an arbitration seat-selection assistant for one project. Ground every answer in the project context below; never invent facts about the case.\n\n")
	fmt.Fprintf(&b, "Project: %s (status: %s)\n", project.Title, project.Status)
	if len(docNames) > 0 {
		fmt.Fprintf(&b, "Documents: %s\n", strings.Join(docNames, ", "))
	} else {
		b.WriteString("Documents: none uploaded\n")
	}

	b.WriteString("\nIntake:\n")
	for _, key := range []string{report.KeyCurrentSeat, report.KeyProposedSeats, report.KeyInstitutionRules, report.KeyGoverningLaw, report.KeyUrgency, report.KeyAgreementText} {
		if key == report.KeyProposedSeats {
			if l := report.IntakeList(intake, key); len(l) > 0 {
				fmt.Fprintf(&b, "- %s: %s\n", key, strings.Join(l, ", "))
			}
			continue
		}
		if v := report.IntakeString(intake, key); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", key, v)
		}
	}
	if assumptions := report.IntakeList(intake, report.KeyAssumptions); len(assumptions) > 0 {
		b.WriteString("\nUser-declared scenario assumptions (authoritative, treat as true even when documents disagree):\n")
		for _, a := range assumptions {
			b.WriteString("- " + a + "\n")
		}
	}
	if len(missing) > 0 {
		b.WriteString("\nStill missing before a grounded recommendation is possible:\n")
		for _, m := range missing {
			b.WriteString("- " + friendlyBlocker(m) + "\n")
		}
	}
	if excerpt := report.IntakeString(intake, report.KeyLastReportExcerpt); excerpt != "" {
		b.WriteString("\nLatest report (excerpt):\n" + excerpt + "\n")
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Scenario assumptions stated by the user are authoritative; never refuse because they conflict with documents.\n")
	b.WriteString("- Ask only targeted questions about genuinely missing details.\n")
	b.WriteString("- Do not give legal advice; frame output as decision support.\n")
	fmt.Fprintf(&b, "- If all required details are now present and the user wants an updated recommendation, end your reply with a single line containing exactly %s\n", RegenerationMarker)
	return b.String()
}

// extractMissing asks the model for just the still-missing required fields
// from the user's message. Only confidently-present values merge; the message
// text itself is the only allowed source.
func (s *Service) extractMissing(ctx context.Context, text string, missing []string, intake map[string]interface{}) bool {
	if s.Client == nil || !s.Client.Available() {
		return false
	}

	prompt := fmt.Sprintf(`Extract only the following fields from the user's message, if and only if the message explicitly states them: %s.
Return a JSON object with just those keys. Omit any field the message does not state. "proposed_seats" is a JSON array of strings.

Message:
%s`, strings.Join(missing, ", "), text)

	out, err := llm.CompleteWithTimeout(ctx, s.Client, []llm.Message{
		{Role: "system", Content: "You extract structured fields from text. Never guess; omit anything not explicitly stated. Respond with a JSON object only."},
		{Role: "user", Content: prompt},
	}, llm.Options{Temperature: 0, JSONObject: true}, s.Timeout)
	telemetry.RecordLLMCall("chat_extract", err)
	if err != nil {
		s.logger().Printf("warn: chat field extraction: %v", err)
		return false
	}

	parsed, ok := report.SafeJSONObject(out)
	if !ok {
		return false
	}
	changed := false
	allowed := map[string]bool{}
	for _, m := range missing {
		allowed[m] = true
	}
	for k, v := range parsed {
		if !allowed[k] {
			continue
		}
		if k == report.KeyProposedSeats {
			if l := report.IntakeList(map[string]interface{}{k: v}, k); len(l) > 0 {
				intake[k] = toList(l)
				changed = true
			}
			continue
		}
		if str, ok := v.(string); ok && strings.TrimSpace(str) != "" {
			intake[k] = strings.TrimSpace(str)
			changed = true
		}
	}
	return changed
}

func (s *Service) triggerRegeneration(ctx context.Context, project store.Project) {
	if err := s.Store.SetProjectStatus(ctx, project.ID, project.OwnerID, store.StatusWorking); err != nil {
		s.logger().Printf("warn: set status for project %s: %v", project.ID, err)
	}
	if err := s.Store.SetReportError(ctx, project.ID, project.OwnerID, nil); err != nil {
		s.logger().Printf("warn: clear report error for project %s: %v", project.ID, err)
	}
	if s.Regenerate != nil {
		s.Regenerate(project.ID, project.OwnerID)
	}
}

// blockerExplanation builds the deterministic "what is blocking this project"
// answer from missing required fields, the last decision breadcrumb (or the
// rendered report's blocker section as fallback), document presence, and any
// stored report error.
func (s *Service) blockerExplanation(project store.Project, docCount int) string {
	blockers := collectBlockers(project, docCount)

	var b strings.Builder
	b.WriteString("I can't complete a grounded seat recommendation for this project yet. Here's what is blocking it:\n")
	if len(blockers) == 0 {
		b.WriteString("- The last run did not finish cleanly; regenerating the report may resolve it.\n")
	}
	for _, blocker := range blockers {
		b.WriteString("- " + friendlyBlocker(blocker) + "\n")
	}
	if project.ReportError != nil && *project.ReportError != "" {
		b.WriteString("\nLast run reported: " + *project.ReportError + "\n")
	}
	b.WriteString("\nYou can upload documents, tell me the missing details here, or say \"assume ...\" to set a scenario value. Once the gaps are filled, say \"regenerate the report\".")
	return b.String()
}

// collectBlockers merges blocker signals in order of reliability: current
// missing required fields, the decision breadcrumb's missing_info, blockers
// parsed back out of the rendered report excerpt, and document absence.
func collectBlockers(project store.Project, docCount int) []string {
	seen := map[string]bool{}
	var out []string
	add := func(items ...string) {
		for _, it := range items {
			it = strings.TrimSpace(it)
			if it == "" || seen[it] {
				continue
			}
			seen[it] = true
			out = append(out, it)
		}
	}

	add(report.MissingRequired(project.Intake)...)
	if d, ok := report.DecisionFromIntake(project.Intake); ok {
		add(d.MissingInfo...)
	} else if excerpt := report.IntakeString(project.Intake, report.KeyLastReportExcerpt); excerpt != "" {
		add(parseReportBlockers(excerpt)...)
	}
	if docCount == 0 {
		add("case_documents")
	}
	return out
}

// parseReportBlockers recovers the bullet list under the report's
// missing-information heading. Relies on the renderer's fixed structure.
func parseReportBlockers(reportText string) []string {
	var out []string
	lines := strings.Split(reportText, "\n")
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == strings.TrimSpace(report.MissingInfoHeading) {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") {
			out = append(out, strings.TrimPrefix(trimmed, "- "))
			continue
		}
		if trimmed != "" {
			break
		}
	}
	return out
}

var blockerNames = map[string]string{
	report.KeyCurrentSeat:           "the current seat of arbitration",
	report.KeyProposedSeats:         "one or more proposed seats",
	report.KeyAgreementText:         "the arbitration agreement (clause) text",
	"case_documents":                "at least one case document",
	"extractable_evidence":          "documents with extractable text (scanned files may need OCR)",
	"completion_service_credential": "a configured completion-service credential (server-side)",
}

func friendlyBlocker(key string) string {
	if name, ok := blockerNames[key]; ok {
		return name
	}
	return strings.ReplaceAll(key, "_", " ")
}

func stripRegenerationMarker(reply string) (string, bool) {
	if !strings.Contains(reply, RegenerationMarker) {
		return reply, false
	}
	reply = strings.ReplaceAll(reply, RegenerationMarker, "")
	return strings.TrimSpace(reply), true
}
