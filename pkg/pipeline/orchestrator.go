package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/llm"
	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/session"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// maxPlanIterations bounds the item loop against pathological replan chains.
const maxPlanIterations = 100

// Input is the orchestrator entry payload.
type Input struct {
	UserMessage string           `json:"userMessage"`
	Session     *session.Session `json:"-"`
	Password    string           `json:"password,omitempty"`
	TTSSettings map[string]any   `json:"ttsSettings,omitempty"`
	Container   map[string]any   `json:"container,omitempty"`
}

// Result is the orchestrator return envelope.
type Result struct {
	Success     bool             `json:"success"`
	Mode        models.Mode      `json:"mode"`
	Analysis    map[string]any   `json:"analysis,omitempty"`
	Plan        *models.TodoList `json:"plan,omitempty"`
	ResultText  string           `json:"result,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	TTSSettings map[string]any   `json:"tts_settings,omitempty"`
	TTSPhrase   string           `json:"tts_phrase,omitempty"`
}

// DevOutcome is what the dev-mode analyzer hands back to the orchestrator.
type DevOutcome struct {
	Analysis     map[string]any
	Plan         *models.TodoList // non-nil: intervention plan to run in task mode
	AuthRequired bool
	TTSPhrase    string
}

// DevAnalyzer is the self-analysis engine. Implemented by pkg/selfanalysis;
// kept as an interface here so the pipeline carries no dev-mode imports.
type DevAnalyzer interface {
	Analyze(ctx context.Context, sess *session.Session, utt models.Utterance) (*DevOutcome, error)
}

// Orchestrator drives the full pipeline for one execute call. Shared across
// sessions; all per-conversation state lives in the Session.
type Orchestrator struct {
	cfg    *config.Config
	locale *i18n.Locale

	gateway  stage.Caller
	modelReg *llm.Registry

	selector    *ModeSelector
	enricher    *ContextEnricher
	planner     *TodoPlanner
	serverSel   *ServerSelector
	toolPlanner *ToolPlanner
	executor    *ToolExecutor
	router      *VerificationRouter
	verifier    *Verifier
	replanner   *Replanner
	summarizer  *FinalSummarizer

	invoker   mcp.Invoker
	analyzer  DevAnalyzer
	publisher Publisher
	logger    *slog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config   *config.Config
	Locale   *i18n.Locale
	Gateway  stage.Caller
	ModelReg *llm.Registry
	Runner   *stage.Runner
	Prompts  *prompt.Store
	Invoker  mcp.Invoker
	Verifier *Verifier
	Analyzer DevAnalyzer
	Publish  Publisher
}

// NewOrchestrator wires the pipeline stages.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Publish == nil {
		d.Publish = NopPublisher{}
	}
	maxAttempts := d.Config.MaxAttempts()
	return &Orchestrator{
		cfg:         d.Config,
		locale:      d.Locale,
		gateway:     d.Gateway,
		modelReg:    d.ModelReg,
		selector:    NewModeSelector(d.Runner),
		enricher:    NewContextEnricher(d.Runner),
		planner:     NewTodoPlanner(d.Runner, maxAttempts),
		serverSel:   NewServerSelector(d.Runner, d.Invoker, d.Prompts),
		toolPlanner: NewToolPlanner(d.Runner, d.Invoker),
		executor:    NewToolExecutor(d.Invoker),
		router:      NewVerificationRouter(d.Runner),
		verifier:    d.Verifier,
		replanner:   NewReplanner(maxAttempts),
		summarizer:  NewFinalSummarizer(d.Runner, d.Locale),
		invoker:     d.Invoker,
		analyzer:    d.Analyzer,
		publisher:   d.Publish,
		logger:      slog.Default(),
	}
}

// Execute runs one request end to end. Stage failures never panic through:
// task mode returns success=false with a readable summary; dev mode returns
// success=true with whatever partial analysis exists, so the UI can narrate.
func (o *Orchestrator) Execute(ctx context.Context, input Input) *Result {
	started := time.Now()
	sess := input.Session
	sess.AppendMessage(session.RoleUser, input.UserMessage)

	utt := models.Utterance{
		Text:     input.UserMessage,
		Recent:   sess.RecentTexts(5),
		Password: input.Password,
	}

	decision := o.selector.Select(ctx, utt)
	o.publisher.Publish(sess.ID, Event{Type: EventModeSelected, Payload: map[string]any{
		"mode": decision.Mode, "confidence": decision.Confidence,
	}})

	var result *Result
	switch decision.Mode {
	case models.ModeDev:
		result = o.runDev(ctx, sess, utt)
	case models.ModeTask:
		result = o.runTask(ctx, sess, utt)
	default:
		result = o.runChat(ctx, sess, utt)
	}

	result.Mode = decision.Mode
	result.TTSSettings = input.TTSSettings
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["duration_ms"] = time.Since(started).Milliseconds()
	result.Metadata["mode_confidence"] = decision.Confidence

	if result.ResultText != "" {
		sess.AppendMessage(session.RoleAssistant, result.ResultText)
	} else if result.Summary != "" {
		sess.AppendMessage(session.RoleAssistant, result.Summary)
	}
	return result
}

// runChat answers conversationally with a single LLM reply.
func (o *Orchestrator) runChat(ctx context.Context, sess *session.Session, utt models.Utterance) *Result {
	modelCfg := o.modelReg.ForStage(stage.StageChat)
	resp, err := o.gateway.Call(ctx, llm.Request{
		System:      "You are a helpful assistant. Answer conversationally in the user's language.",
		User:        utt.Text,
		Model:       modelCfg.Model,
		Fallback:    modelCfg.Fallback,
		Temperature: modelCfg.Temperature,
		MaxTokens:   modelCfg.MaxTokens,
	})
	if err != nil {
		o.logger.Warn("Chat reply failed", "session", sess.ID, "error", err)
		return &Result{
			Success:    true,
			ResultText: o.locale.Phrase("chat_fallback"),
			TTSPhrase:  o.locale.Phrase("chat_fallback"),
		}
	}
	return &Result{Success: true, ResultText: resp.Text, TTSPhrase: resp.Text}
}

// runTask drives enrichment, planning, the item loop, and the summary.
func (o *Orchestrator) runTask(ctx context.Context, sess *session.Session, utt models.Utterance) *Result {
	enriched := o.enricher.Enrich(ctx, utt.Text)

	list, err := o.planner.Plan(ctx, enriched, o.invoker.Servers())
	if err != nil {
		o.logger.Error("Planning failed", "session", sess.ID, "error", err)
		return &Result{
			Success:   false,
			Summary:   o.locale.Phrase("task_failed"),
			TTSPhrase: o.locale.Phrase("task_failed"),
			Metadata:  map[string]any{"error": err.Error()},
		}
	}
	sess.LastPlan = list
	o.publisher.Publish(sess.ID, Event{Type: EventPlanCreated, Payload: map[string]any{
		"items": len(list.Items),
	}})

	cancelled := o.runPlan(ctx, sess, list)

	summary := o.summarizer.Summarize(ctx, list)
	o.publisher.Publish(sess.ID, Event{Type: EventSummaryReady, Payload: map[string]any{
		"summary": summary.Text,
	}})

	completed, total := completionCounts(list)
	result := &Result{
		Success:   completed == total && total > 0,
		Plan:      list,
		Summary:   summary.Text,
		TTSPhrase: summary.TTSPhrase,
		Metadata: map[string]any{
			"completed_items": completed,
			"total_items":     total,
			"complexity":      enriched.EstimatedComplexity,
		},
	}
	if cancelled {
		result.Success = false
		result.Metadata["stopped_reason"] = "cancelled"
	}
	return result
}

// runPlan executes the to-do list honouring the dependency DAG. Returns true
// when execution stopped on cancellation.
func (o *Orchestrator) runPlan(ctx context.Context, sess *session.Session, list *models.TodoList) bool {
	for iterations := 0; !list.Done() && iterations < maxPlanIterations; iterations++ {
		if ctx.Err() != nil {
			abandonRemaining(list)
			return true
		}

		item := list.NextRunnable()
		if item == nil {
			// Remaining pending items depend on abandoned work and can
			// never start.
			abandonRemaining(list)
			break
		}
		o.runItem(ctx, sess, list, item)
	}
	if !list.Done() {
		abandonRemaining(list)
	}
	return false
}

// runItem drives one item through server selection, tool planning, execution,
// routing, verification, and the retry/adjust loop.
func (o *Orchestrator) runItem(ctx context.Context, sess *session.Session, list *models.TodoList, item *models.TodoItem) {
	item.Status = models.ItemStatusInProgress
	o.publisher.Publish(sess.ID, Event{Type: EventItemStarted, Payload: map[string]any{
		"item": item.ID, "action": item.Action,
	}})

	for item.CanAttempt() {
		if ctx.Err() != nil {
			item.Status = models.ItemStatusAbandoned
			return
		}
		item.Attempt++

		selection := o.serverSel.Select(ctx, item)
		if selection.NeedsSplit {
			replacements := o.replanner.SplitForServers(item, selection)
			o.applyReplacements(sess, list, item, replacements)
			return
		}
		if len(selection.SelectedServers) == 0 {
			o.logger.Warn("No servers selectable for item", "item", item.ID)
			item.Status = models.ItemStatusAbandoned
			return
		}
		item.MCPServers = selection.SelectedServers

		plan, err := o.toolPlanner.Plan(ctx, item, selection)
		if err != nil {
			o.logger.Warn("Tool planning failed",
				"item", item.ID, "attempt", item.Attempt, "error", err)
			if errors.Is(err, ErrEmptyPlan) || !item.CanAttempt() {
				replacements := o.replanner.Replan(item, item.Verification)
				o.applyReplacements(sess, list, item, replacements)
				return
			}
			continue
		}

		report := o.executor.Execute(ctx, item, plan)
		item.ExecutionResults = append(item.ExecutionResults, report.Results...)
		if report.StoppedReason == "cancelled" {
			item.Status = models.ItemStatusAbandoned
			return
		}

		decision := o.router.Route(ctx, item, report)
		verification := o.verifier.Verify(ctx, item, decision)
		item.Verification = &verification
		o.publisher.Publish(sess.ID, Event{Type: EventVerification, Payload: map[string]any{
			"item": item.ID, "verified": verification.Verified,
			"method": verification.Method, "next_action": verification.NextAction,
		}})

		switch verification.NextAction {
		case models.NextActionContinue:
			item.Status = models.ItemStatusCompleted
			o.publisher.Publish(sess.ID, Event{Type: EventItemCompleted, Payload: map[string]any{
				"item": item.ID,
			}})
			return
		case models.NextActionRetry:
			if item.CanAttempt() {
				continue
			}
			fallthrough
		default: // adjust
			replacements := o.replanner.Replan(item, &verification)
			o.applyReplacements(sess, list, item, replacements)
			return
		}
	}

	// Retry budget exhausted without a decision.
	item.Status = models.ItemStatusNeedsReview
	replacements := o.replanner.Replan(item, item.Verification)
	o.applyReplacements(sess, list, item, replacements)
}

// applyReplacements swaps a failed item for its replacements (or abandons it)
// and keeps dependent edges valid. Replacements re-enter Stage 2.0 through
// the normal item loop.
func (o *Orchestrator) applyReplacements(sess *session.Session, list *models.TodoList, item *models.TodoItem, replacements []*models.TodoItem) {
	item.Status = models.ItemStatusAbandoned
	if len(replacements) == 0 {
		o.publisher.Publish(sess.ID, Event{Type: EventItemAbandoned, Payload: map[string]any{
			"item": item.ID,
		}})
		return
	}

	RetargetDependents(list, item.ID, replacements)
	list.Replace(item.ID, replacements)
	o.logger.Info("Replanned item", "detail", describeReplan(item, replacements))
	o.publisher.Publish(sess.ID, Event{Type: EventItemReplanned, Payload: map[string]any{
		"item": item.ID, "replacements": len(replacements),
	}})
}

// runDev hands off to the self-analysis engine and, when it returns an
// intervention plan, runs that plan through the task pipeline with the
// session locked to intervention until it finishes.
func (o *Orchestrator) runDev(ctx context.Context, sess *session.Session, utt models.Utterance) *Result {
	if o.analyzer == nil {
		return &Result{Success: true, Summary: "self-analysis is not available in this deployment"}
	}

	outcome, err := o.analyzer.Analyze(ctx, sess, utt)
	if err != nil {
		// Dev mode narrates partial results instead of failing the envelope.
		o.logger.Error("Self-analysis failed", "session", sess.ID, "error", err)
		return &Result{
			Success:  true,
			Analysis: map[string]any{"error": err.Error(), "partial": true},
		}
	}

	result := &Result{
		Success:   true,
		Analysis:  outcome.Analysis,
		TTSPhrase: outcome.TTSPhrase,
	}
	if result.Analysis == nil {
		result.Analysis = map[string]any{}
	}
	if outcome.AuthRequired {
		result.Analysis["auth_required"] = true
		result.TTSPhrase = o.locale.Phrase("auth_required")
		return result
	}
	o.publisher.Publish(sess.ID, Event{Type: EventAnalysisReady, Payload: map[string]any{
		"findings": outcome.Analysis["findings"],
	}})

	if outcome.Plan != nil {
		sess.InterventionActive = true
		defer func() { sess.InterventionActive = false }()

		o.publisher.Publish(sess.ID, Event{Type: EventInterventionPlan, Payload: map[string]any{
			"items": len(outcome.Plan.Items),
		}})
		o.runPlan(ctx, sess, outcome.Plan)
		result.Plan = outcome.Plan
		summary := o.summarizer.Summarize(ctx, outcome.Plan)
		result.Summary = summary.Text
		result.TTSPhrase = summary.TTSPhrase
	}
	return result
}

// abandonRemaining marks every non-terminal item abandoned. Used on
// cancellation and when the DAG deadlocks on abandoned dependencies.
func abandonRemaining(list *models.TodoList) {
	for _, item := range list.Items {
		if !item.Status.IsTerminal() {
			item.Status = models.ItemStatusAbandoned
		}
	}
}
