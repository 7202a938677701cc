package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlas-agents/atlas/pkg/i18n"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/prompt"
	"github.com/atlas-agents/atlas/pkg/stage"
)

// heuristicSignal is the rule-based routing estimate.
type heuristicSignal struct {
	method     models.VerificationPath
	confidence float64 // 0–100
}

// VerificationRouter is Stage 2.3a: combine heuristic signals with an LLM
// advisor to pick the visual / data / hybrid path, derive the verification
// action, and propose data checks.
type VerificationRouter struct {
	runner *stage.Runner
}

// NewVerificationRouter creates the stage.
func NewVerificationRouter(runner *stage.Runner) *VerificationRouter {
	return &VerificationRouter{runner: runner}
}

// Route produces the verification decision for the item. A strong heuristic
// (confidence ≥ 80) is kept unless the advisor beats it by more than 20
// points; otherwise the advisor's recommendation wins.
func (r *VerificationRouter) Route(ctx context.Context, item *models.TodoItem, report models.ExecutionReport) models.VerificationDecision {
	heuristic := routeHeuristic(item.Action)
	advisor, advisorOK := r.advise(ctx, item, report)

	decision := models.VerificationDecision{
		VisualPossible:      heuristic.method != models.VerificationPathData,
		Confidence:          heuristic.confidence,
		Reason:              "heuristic routing",
		RecommendedPath:     heuristic.method,
		AllowVisualFallback: true,
		VerificationAction:  TransformActionToVerification(item.Action),
		AdditionalChecks:    deriveDataChecks(item),
	}

	if advisorOK {
		adopt := heuristic.confidence < 80 ||
			advisor.Confidence > heuristic.confidence+20
		if adopt {
			decision.RecommendedPath = advisor.RecommendedPath
			decision.Confidence = advisor.Confidence
			decision.Reason = advisor.Reason
		}
		decision.VisualPossible = advisor.VisualPossible
		decision.AllowVisualFallback = advisor.VisualPossible
	}

	// A visual route with data checks available is effectively hybrid: the
	// verifier escalates into the data path when vision rejects.
	if decision.RecommendedPath == models.VerificationPathVisual && len(decision.AdditionalChecks) > 0 {
		decision.RecommendedPath = models.VerificationPathHybrid
	}

	return decision
}

// advise runs the advisory LLM call.
func (r *VerificationRouter) advise(ctx context.Context, item *models.TodoItem, report models.ExecutionReport) (models.VerificationDecision, bool) {
	outcome := r.runner.Run(ctx, stage.Request{
		StageID:  stage.StageVerifyRoute,
		PromptID: prompt.PromptVerifyRoute,
		Vars: map[string]string{
			"action":   item.Action,
			"criteria": item.SuccessCriteria,
			"summary":  summarizeReport(report),
		},
		JSONObject: true,
	})
	if outcome.Status != stage.StatusOk {
		return models.VerificationDecision{}, false
	}

	visualPossible, _ := asBool(outcome.Object["visual_possible"])
	confidence, _ := asFloat(outcome.Object["confidence"])
	path := models.VerificationPath(asString(outcome.Object["recommended_path"]))
	switch path {
	case models.VerificationPathVisual, models.VerificationPathData, models.VerificationPathHybrid:
	default:
		return models.VerificationDecision{}, false
	}

	return models.VerificationDecision{
		VisualPossible:  visualPossible,
		Confidence:      confidence,
		Reason:          asString(outcome.Object["reason"]),
		RecommendedPath: path,
	}, true
}

// routeHeuristic is the lightweight rule-based strategy: file and system
// work verifies through data probes, UI work through vision.
func routeHeuristic(action string) heuristicSignal {
	switch {
	case i18n.Matches(action, i18n.IntentFileCue):
		return heuristicSignal{models.VerificationPathData, 90}
	case i18n.Matches(action, i18n.IntentSystemCue):
		return heuristicSignal{models.VerificationPathData, 80}
	case i18n.Matches(action, i18n.IntentAppCue):
		return heuristicSignal{models.VerificationPathVisual, 85}
	case i18n.Matches(action, i18n.IntentBrowserCue):
		return heuristicSignal{models.VerificationPathVisual, 75}
	case i18n.Matches(action, i18n.IntentNumeric):
		return heuristicSignal{models.VerificationPathVisual, 60}
	default:
		return heuristicSignal{models.VerificationPathData, 60}
	}
}

// verbTransforms maps creation verbs onto verification phrasings. The table
// is language-neutral data: matching is diacritic-folded substring search,
// replacement keeps the rest of the action text.
var verbTransforms = []struct {
	verbs       []string
	replacement string
}{
	{[]string{"create folder", "create directory", "створи папку", "створити папку"}, "verify existence of folder"},
	{[]string{"create file", "створи файл", "створити файл"}, "verify existence of file"},
	{[]string{"create", "make", "створи", "створити", "зроби", "зробити"}, "verify existence of"},
	{[]string{"compute", "calculate", "обчисли", "порахуй"}, "verify the result of"},
	{[]string{"open", "launch", "відкрий", "відкрити", "запусти", "запустити"}, "verify that the following is open:"},
	{[]string{"delete", "remove", "видали", "видалити"}, "verify absence of"},
	{[]string{"download", "завантаж"}, "verify download of"},
	{[]string{"install", "встанови"}, "verify installation of"},
	{[]string{"write", "напиши"}, "verify contents of"},
}

// verificationMarkers identify text that is already a verification action;
// the transform is idempotent over them.
var verificationMarkers = []string{"verify", "перевір"}

// TransformActionToVerification rewrites a creation action into its
// verification counterpart. Idempotent: an action already phrased as a
// verification is returned unchanged. Unmatched actions get the generic
// "verify the result".
func TransformActionToVerification(action string) string {
	folded := i18n.Fold(action)
	for _, marker := range verificationMarkers {
		if strings.HasPrefix(folded, marker) {
			return action
		}
	}

	for _, rule := range verbTransforms {
		for _, verb := range rule.verbs {
			foldedVerb := i18n.Fold(verb)
			idx := strings.Index(folded, foldedVerb)
			if idx < 0 {
				continue
			}
			// Map the match end back onto the original string: folding can
			// change byte lengths, so offsets in the folded copy are not
			// offsets in the original.
			end := unfoldOffset(action, idx+len(foldedVerb))
			rest := strings.TrimSpace(action[end:])
			if rest == "" {
				return "verify the result"
			}
			return rule.replacement + " " + rest
		}
	}
	return "verify the result"
}

// unfoldOffset translates a byte offset in Fold(s) to the corresponding byte
// offset in s by folding successively longer prefixes. Actions are short, so
// the quadratic scan is irrelevant.
func unfoldOffset(s string, foldedOff int) int {
	if foldedOff <= 0 {
		return 0
	}
	for i := range s {
		if len(i18n.Fold(s[:i])) >= foldedOff {
			return i
		}
	}
	return len(s)
}

// deriveDataChecks proposes MCP probes from the item's action vocabulary.
// Filesystem probes come first: the verifier's data path is filesystem-first.
func deriveDataChecks(item *models.TodoItem) []models.DataCheck {
	var checks []models.DataCheck

	if i18n.Matches(item.Action, i18n.IntentFileCue) {
		params := map[string]any{}
		if path, ok := item.Parameters["path"].(string); ok {
			params["path"] = path
		} else if path := extractPathToken(item.Action); path != "" {
			params["path"] = path
		}
		checks = append(checks, models.DataCheck{
			Server:           "filesystem",
			Tool:             "filesystem__get_file_info",
			Parameters:       params,
			ExpectedEvidence: "exists",
		})
	}
	if i18n.Matches(item.Action, i18n.IntentBrowserCue) {
		checks = append(checks, models.DataCheck{
			Server:           "browser",
			Tool:             "browser__get_page_state",
			ExpectedEvidence: item.SuccessCriteria,
		})
	}
	if i18n.Matches(item.Action, i18n.IntentAppCue) {
		checks = append(checks, models.DataCheck{
			Server:           "applescript",
			Tool:             "applescript__get_app_state",
			ExpectedEvidence: item.SuccessCriteria,
		})
	}
	if i18n.Matches(item.Action, i18n.IntentSystemCue) {
		checks = append(checks, models.DataCheck{
			Server:           "shell",
			Tool:             "shell__run_command",
			Parameters:       map[string]any{"command": "echo ok"},
			ExpectedEvidence: "ok",
		})
	}
	return checks
}

// extractPathToken pulls the first absolute-path-looking token from text.
func extractPathToken(text string) string {
	for _, field := range strings.Fields(text) {
		trimmed := strings.Trim(field, `"'.,;`)
		if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "~/") {
			return trimmed
		}
	}
	return ""
}

func summarizeReport(report models.ExecutionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d tools succeeded (%s mode)",
		report.SuccessfulCount, len(report.Results), report.Mode)
	for _, r := range report.Results {
		if r.Error != "" {
			fmt.Fprintf(&b, "; %s: %s", r.Tool, r.Error)
		}
	}
	return b.String()
}
