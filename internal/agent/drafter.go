package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/noah-ai-agent/internal/history"
	"github.com/nugget/noah-ai-agent/internal/llm"
	"github.com/nugget/noah-ai-agent/internal/patient"
	"github.com/nugget/noah-ai-agent/internal/prompts"
)

// DraftRequest is the input to a Drafter.
type DraftRequest struct {
	Kind      DraftKind
	History   []history.Message
	Request   string
	PatientID string
}

// Drafter produces a labeled note or handoff draft. Implementations must
// not call tools or add context beyond the request's history and the
// patient summary.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) (string, error)
}

// ModelDrafterConfig configures a ModelDrafter.
type ModelDrafterConfig struct {
	Client  llm.Client
	Model   string
	Timeout time.Duration

	// Summaries supplies the optional patient data summary. May be nil.
	Summaries patient.SummarySource

	Logger *slog.Logger
}

// ModelDrafter drafts documents with a language model.
type ModelDrafter struct {
	client    llm.Client
	model     string
	timeout   time.Duration
	summaries patient.SummarySource
	logger    *slog.Logger
}

// NewModelDrafter creates a drafter backed by cfg.Client.
func NewModelDrafter(cfg ModelDrafterConfig) *ModelDrafter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ModelDrafter{
		client:    cfg.Client,
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		summaries: cfg.Summaries,
		logger:    cfg.Logger.With("component", "drafter"),
	}
}

// Draft implements Drafter.
func (d *ModelDrafter) Draft(ctx context.Context, req DraftRequest) (string, error) {
	summary := d.summary(ctx, req.PatientID)
	transcript := Transcript(req.History)

	var system string
	switch req.Kind {
	case DraftHandoff:
		system = prompts.HandoffDraft(transcript, summary, req.Request)
	case DraftNote:
		system = prompts.NoteDraft(transcript, summary, req.Request)
	default:
		return "", fmt.Errorf("unknown draft kind %q", req.Kind)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: req.Request},
	}
	resp, err := d.client.Chat(ctx, d.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("draft %s: %w", req.Kind, err)
	}
	if resp == nil || strings.TrimSpace(resp.Message.Content) == "" {
		return "", errors.New("model returned an empty draft")
	}

	d.logger.Info("draft generated",
		"kind", req.Kind,
		"history", len(req.History),
		"with_summary", summary != "",
	)
	return prompts.LabelDraft(resp.Message.Content), nil
}

// summary fetches the patient data summary. Failures degrade to no
// summary; the draft is still useful from the conversation alone.
func (d *ModelDrafter) summary(ctx context.Context, patientID string) string {
	if d.summaries == nil || patientID == "" {
		return ""
	}
	s, err := d.summaries.Summary(ctx, patientID)
	if err != nil {
		d.logger.Warn("patient summary unavailable", "patient_id", patientID, "error", err)
		return ""
	}
	return s
}

// Transcript renders messages as "USER: ..." and "AGENT: ..." lines.
func Transcript(msgs []history.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(strings.ToUpper(string(m.Actor)))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
