package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/mcp"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/parse"
	"github.com/atlas-agents/atlas/pkg/vision"
)

// Confidence thresholds for visual acceptance by task type, plus the
// universal acceptance floor.
const (
	thresholdNumeric   = 60.0
	thresholdFile      = 50.0
	thresholdUI        = 50.0
	universalAccept    = 80.0
	wordingOnlyDefault = 70.0
	wordingMinimum     = 50.0
	dataPathConfidence = 85.0
)

// Verifier is Stage 2.3b: up to three visual attempts with escalating model
// strength and capture mode, then the data-path fallback, then the
// next-action decision.
type Verifier struct {
	capturer *vision.Capturer
	gateway  vision.Gateway
	invoker  mcp.Invoker
	locale   *i18n.Locale
	logger   *slog.Logger
}

// NewVerifier creates the stage. capturer and gateway may be nil when the
// deployment has no vision stack; every item then verifies via data checks.
func NewVerifier(capturer *vision.Capturer, gateway vision.Gateway, invoker mcp.Invoker, locale *i18n.Locale) *Verifier {
	return &Verifier{
		capturer: capturer,
		gateway:  gateway,
		invoker:  invoker,
		locale:   locale,
		logger:   slog.Default(),
	}
}

// Verify walks the state machine for one item attempt:
// start → visual_1 → visual_2 → visual_3 → mcp_fallback → decided.
// Visual states run only when the router allows them; the data path runs the
// router's additional checks, filesystem-first.
func (v *Verifier) Verify(ctx context.Context, item *models.TodoItem, decision models.VerificationDecision) models.Verification {
	taskType := classifyTask(item.Action)

	visualAllowed := v.capturer != nil && v.gateway != nil &&
		decision.VisualPossible &&
		decision.RecommendedPath != models.VerificationPathData

	var verification models.Verification
	if visualAllowed {
		for attempt, esc := range vision.EscalationMatrix {
			if ctx.Err() != nil {
				return v.decide(item, cancelledVerification(), decision)
			}
			verification = v.visualAttempt(ctx, item, decision, esc, taskType)
			if verification.Verified {
				return v.decide(item, verification, decision)
			}
			v.logger.Info("Visual attempt rejected",
				"item", item.ID, "attempt", attempt+1,
				"reason", verification.Reason)
		}
	}

	// mcp_fallback: reached after three visual rejections, when visual was
	// never possible, or when the router chose the data path outright.
	if len(decision.AdditionalChecks) > 0 {
		verification = v.dataAttempt(ctx, decision)
	} else if !visualAllowed {
		verification = models.Verification{
			Verified:             false,
			Confidence:           0,
			Reason:               "no verification path available",
			Method:               models.VerificationMethodMCP,
			SecurityChecksPassed: true,
		}
	}

	return v.decide(item, verification, decision)
}

// visualAttempt runs one cycle: capture → vision model → acceptance rules.
func (v *Verifier) visualAttempt(ctx context.Context, item *models.TodoItem, decision models.VerificationDecision, esc vision.Attempt, taskType models.TaskType) models.Verification {
	shot, err := v.capturer.Capture(ctx, esc.CaptureMode)
	if err != nil {
		return models.Verification{
			Verified: false,
			Reason:   "screenshot capture failed: " + err.Error(),
			Method:   models.VerificationMethodVisual,
		}
	}

	raw, model, err := v.gateway.Analyze(ctx, vision.AnalyzeRequest{
		ImagePath:          shot,
		Criteria:           item.SuccessCriteria,
		VerificationAction: decision.VerificationAction,
		Tier:               esc.Tier,
	})
	if err != nil {
		return models.Verification{
			Verified:       false,
			Reason:         "vision model call failed: " + err.Error(),
			Method:         models.VerificationMethodVisual,
			ScreenshotPath: shot,
			VisionModel:    model,
		}
	}

	verification := v.judgeVisual(raw, taskType)
	verification.ScreenshotPath = shot
	verification.VisionModel = model
	return verification
}

// judgeVisual applies the acceptance rules below, checking rule 4 right
// after rule 1 and before rules 2 and 3:
//  1. unstructured/fallback responses are rejected (security rejection);
//  2. explicit non-negated, non-contradictory success wording accepts;
//  3. matches_criteria with a task-type threshold accepts, with an
//     unconditional accept at confidence ≥ 80;
//  4. contradictions reject regardless of confidence.
func (v *Verifier) judgeVisual(raw string, taskType models.TaskType) models.Verification {
	parsed := parse.Extract(raw)

	// Rule 1: unstructured response. Flag and reject.
	if parsed.FallbackParsed || isFallbackPayload(parsed.Object) {
		v.logger.Warn("Vision response rejected: unstructured payload")
		return models.Verification{
			Verified:             false,
			Reason:               "vision model returned an unstructured response",
			Method:               models.VerificationMethodVisual,
			FallbackDetected:     true,
			SecurityChecksPassed: false,
		}
	}

	reason := asString(parsed.Object["reason"])
	observed := asString(parsed.Object["observed"])
	details := asString(parsed.Object["details"])
	matches, hasMatches := asBool(parsed.Object["matches_criteria"])
	confidence, hasConfidence := asFloat(parsed.Object["confidence"])

	evidence := &models.VisualEvidence{
		Observed:        observed,
		MatchesCriteria: matches,
		Details:         details,
	}

	fullText := strings.Join([]string{reason, observed, details}, " ")

	// Rule 4 applies before wording acceptance: explicit mismatch assertions
	// and observed/expected contradictions reject outright.
	if hasContradiction(fullText, matches && hasMatches) {
		return models.Verification{
			Verified:             false,
			Confidence:           confidence,
			Reason:               "contradiction detected: " + reason,
			Method:               models.VerificationMethodVisual,
			VisualEvidence:       evidence,
			SecurityChecksPassed: true,
		}
	}

	// Rule 2: explicit success wording without negation markers.
	if i18n.Matches(fullText, i18n.IntentSuccess) && !i18n.Matches(fullText, i18n.IntentNegation) {
		accepted := confidence
		if !hasConfidence {
			accepted = wordingOnlyDefault
		}
		if accepted >= wordingMinimum {
			return models.Verification{
				Verified:             true,
				Confidence:           accepted,
				Reason:               reason,
				Method:               models.VerificationMethodVisual,
				VisualEvidence:       evidence,
				SecurityChecksPassed: true,
			}
		}
	}

	// Rule 3: structured match with a task-dependent threshold.
	if hasMatches && matches {
		threshold := thresholdFor(taskType)
		if confidence >= universalAccept || confidence >= threshold {
			return models.Verification{
				Verified:             true,
				Confidence:           confidence,
				Reason:               reason,
				Method:               models.VerificationMethodVisual,
				VisualEvidence:       evidence,
				SecurityChecksPassed: true,
			}
		}
	}

	return models.Verification{
		Verified:             false,
		Confidence:           confidence,
		Reason:               nonEmpty(reason, "criteria not met"),
		Method:               models.VerificationMethodVisual,
		VisualEvidence:       evidence,
		SecurityChecksPassed: true,
	}
}

// dataAttempt runs the router's additional checks, filesystem probes first.
// All checks must succeed (and carry expected evidence when specified).
func (v *Verifier) dataAttempt(ctx context.Context, decision models.VerificationDecision) models.Verification {
	checks := orderChecksFilesystemFirst(decision.AdditionalChecks)

	verification := models.Verification{
		Method:               models.VerificationMethodMCP,
		SecurityChecksPassed: true,
	}

	allPassed := true
	var failReason string
	for _, check := range checks {
		if ctx.Err() != nil {
			return cancelledVerification()
		}
		result := v.invoker.Invoke(ctx, models.ToolCall{
			Server:     check.Server,
			Tool:       check.Tool,
			Parameters: check.Parameters,
		})
		verification.MCPResults = append(verification.MCPResults, result)

		if !result.Success {
			allPassed = false
			failReason = nonEmpty(result.Error, "data check failed")
			continue
		}
		if check.ExpectedEvidence != "" {
			data, _ := result.Data.(string)
			if !strings.Contains(i18n.Fold(data), i18n.Fold(check.ExpectedEvidence)) {
				allPassed = false
				failReason = "expected evidence not found in " + check.Tool
			}
		}
	}

	if allPassed && len(checks) > 0 {
		verification.Verified = true
		verification.Confidence = dataPathConfidence
		verification.Reason = "data checks passed"
	} else {
		verification.Reason = nonEmpty(failReason, "no data checks to run")
	}
	return verification
}

// decide attaches the next-action recommendation and root cause.
func (v *Verifier) decide(item *models.TodoItem, verification models.Verification, decision models.VerificationDecision) models.Verification {
	switch {
	case verification.Verified:
		verification.NextAction = models.NextActionContinue
	case item.Attempt >= item.MaxAttempts:
		verification.NextAction = models.NextActionAdjust
	case i18n.Matches(verification.Reason, i18n.IntentTransient):
		verification.NextAction = models.NextActionRetry
	case i18n.Matches(verification.Reason, i18n.IntentStructural):
		verification.NextAction = models.NextActionAdjust
	case verification.Confidence < 50:
		verification.NextAction = models.NextActionAdjust
	default:
		verification.NextAction = models.NextActionAdjust
	}

	if !verification.Verified {
		verification.RootCause = classifyRootCause(verification, item)
		verification.Strategy = strategyFor(verification.RootCause)
	}

	if verification.TTSPhrase == "" {
		if verification.Verified {
			verification.TTSPhrase = v.locale.Phrase("task_done")
		} else {
			verification.TTSPhrase = v.locale.Phrase("replanning")
		}
	}
	return verification
}

// classifyRootCause maps the failure reason and execution state onto a root
// cause for the replanner.
func classifyRootCause(verification models.Verification, item *models.TodoItem) models.RootCause {
	reason := i18n.Fold(verification.Reason)

	toolsFailed := false
	toolsSucceeded := true
	for _, r := range item.ExecutionResults {
		if !r.Success {
			toolsFailed = true
			toolsSucceeded = false
		}
	}

	switch {
	case verification.FallbackDetected:
		return models.RootCauseVisionModelFailure
	case strings.Contains(reason, "permission") || strings.Contains(reason, "denied") ||
		strings.Contains(reason, "доступ"):
		return models.RootCausePermissionIssue
	case strings.Contains(reason, "parameter") || strings.Contains(reason, "argument") ||
		strings.Contains(reason, "параметр"):
		return models.RootCauseWrongParameters
	case toolsFailed:
		return models.RootCauseToolExecutionFailed
	case i18n.Matches(verification.Reason, i18n.IntentTransient):
		return models.RootCauseTimingIssue
	case strings.Contains(reason, "prerequisite") || strings.Contains(reason, "first") ||
		strings.Contains(reason, "спочатку"):
		return models.RootCauseMissingPrerequisite
	case strings.Contains(reason, "error") && strings.Contains(reason, "visible"):
		return models.RootCauseExecutionErrorVisible
	case strings.Contains(reason, "unrealistic") || strings.Contains(reason, "impossible"):
		return models.RootCauseUnrealisticCriteria
	case i18n.Matches(verification.Reason, i18n.IntentStructural):
		return models.RootCauseWrongApproach
	case toolsSucceeded && len(item.ExecutionResults) > 0 && verification.Confidence >= 50:
		return models.RootCauseToolsSucceededWrongState
	default:
		return models.RootCauseUnclearState
	}
}

// strategyFor maps root causes onto replanner strategies.
func strategyFor(cause models.RootCause) models.RecoveryStrategy {
	switch cause {
	case models.RootCauseMissingPrerequisite:
		return models.StrategyInsertPrerequisite
	case models.RootCausePermissionIssue:
		return models.StrategySwapTools
	case models.RootCauseWrongParameters:
		return models.StrategyModifyParameters
	case models.RootCauseToolExecutionFailed:
		return models.StrategySwapTools
	case models.RootCauseTimingIssue:
		return models.StrategyRetryAsIs
	case models.RootCauseWrongApproach:
		return models.StrategySplitItem
	case models.RootCauseUnrealisticCriteria:
		return models.StrategyRelaxCriteria
	case models.RootCauseVisionModelFailure:
		return models.StrategyRetryAsIs
	case models.RootCauseExecutionErrorVisible:
		return models.StrategyModifyParameters
	case models.RootCauseToolsSucceededWrongState:
		return models.StrategySplitItem
	default:
		return models.StrategySplitItem
	}
}

// mismatchRe catches explicit mismatch assertions in both languages.
var mismatchRe = regexp.MustCompile(`(?i)(does\s+not\s+(match|equal)|not\s+equal|не\s+збігається|не\s+відповідає|не\s+дорівнює)`)

// observedExpectedRe extracts "displays X ... expected Y" style value pairs.
var observedExpectedRe = regexp.MustCompile(`(?i)(?:displays?|displayed|shows?|showing|показує|відображає)\s+"?([\w./-]+)"?.*?(?:expected|очікується|очікувалось)\s+"?([\w./-]+)"?`)

// hasContradiction detects rule-4 rejections: the text asserts a mismatch
// outright, or the observed and expected values differ while the payload
// claims a match.
func hasContradiction(text string, claimsMatch bool) bool {
	if mismatchRe.MatchString(text) {
		return true
	}
	if m := observedExpectedRe.FindStringSubmatch(text); m != nil {
		if claimsMatch && !strings.EqualFold(m[1], m[2]) {
			return true
		}
	}
	return false
}

// classifyTask buckets the action for threshold selection.
func classifyTask(action string) models.TaskType {
	switch {
	case i18n.Matches(action, i18n.IntentNumeric):
		return models.TaskTypeNumeric
	case i18n.Matches(action, i18n.IntentFileCue):
		return models.TaskTypeFile
	case i18n.Matches(action, i18n.IntentAppCue) || i18n.Matches(action, i18n.IntentBrowserCue):
		return models.TaskTypeUI
	default:
		return models.TaskTypeGeneric
	}
}

func thresholdFor(taskType models.TaskType) float64 {
	switch taskType {
	case models.TaskTypeNumeric:
		return thresholdNumeric
	case models.TaskTypeFile:
		return thresholdFile
	case models.TaskTypeUI:
		return thresholdUI
	default:
		return thresholdFile
	}
}

// isFallbackPayload detects vision responses that self-identify as
// fallback/unstructured output.
func isFallbackPayload(obj map[string]any) bool {
	for _, key := range []string{"_fallback", "_fallbackParsed"} {
		if flagged, ok := asBool(obj[key]); ok && flagged {
			return true
		}
	}
	return false
}

func cancelledVerification() models.Verification {
	return models.Verification{
		Verified:             false,
		Reason:               "cancelled",
		Method:               models.VerificationMethodMCP,
		SecurityChecksPassed: true,
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// orderChecksFilesystemFirst keeps the data path filesystem-first while
// preserving relative order otherwise.
func orderChecksFilesystemFirst(checks []models.DataCheck) []models.DataCheck {
	out := make([]models.DataCheck, 0, len(checks))
	for _, c := range checks {
		if c.Server == "filesystem" {
			out = append(out, c)
		}
	}
	for _, c := range checks {
		if c.Server != "filesystem" {
			out = append(out, c)
		}
	}
	return out
}
