package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agents/atlas/pkg/config"
	"github.com/atlas-agents/atlas/pkg/models"
	"github.com/atlas-agents/atlas/pkg/vision"
)

// stubCapture produces numbered screenshot paths.
type stubCapture struct {
	count int
	modes []config.CaptureMode
}

func (s *stubCapture) Capture(_ context.Context, mode config.CaptureMode) (string, error) {
	s.count++
	s.modes = append(s.modes, mode)
	return fmt.Sprintf("/tmp/shot-%d.png", s.count), nil
}

// stubVision returns scripted raw responses in order, one per attempt.
type stubVision struct {
	responses []string
	tiers     []vision.Tier
}

func (s *stubVision) Analyze(_ context.Context, req vision.AnalyzeRequest) (string, string, error) {
	s.tiers = append(s.tiers, req.Tier)
	if len(s.responses) == 0 {
		return "", "stub-vision", nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, "stub-vision", nil
}

func newTestVerifier(t *testing.T, gw vision.Gateway, invoker *stubInvoker) *Verifier {
	t.Helper()
	store, err := vision.NewStore(t.TempDir(), 10)
	require.NoError(t, err)
	capturer := vision.NewCapturer(&stubCapture{}, store)
	return NewVerifier(capturer, gw, invoker, testLocale())
}

func visualDecision() models.VerificationDecision {
	return models.VerificationDecision{
		VisualPossible:      true,
		RecommendedPath:     models.VerificationPathVisual,
		AllowVisualFallback: true,
		VerificationAction:  "verify the result",
	}
}

func TestVerify_FallbackRejectedThenAccepted(t *testing.T) {
	// Attempt 1 returns a fallback payload (rule 1 rejection); attempt 2 is
	// a structured accept.
	gw := &stubVision{responses: []string{
		`{"_fallback": true}`,
		`{"observed": "folder exists", "matches_criteria": true, "confidence": 85, "reason": "folder created"}`,
	}}
	verifier := newTestVerifier(t, gw, newStubInvoker("filesystem"))

	item := models.NewTodoItem("a", "створи папку demo", 3)
	item.Attempt = 1
	verification := verifier.Verify(context.Background(), item, visualDecision())

	assert.True(t, verification.Verified)
	assert.InDelta(t, 85, verification.Confidence, 0.001)
	assert.Equal(t, models.VerificationMethodVisual, verification.Method)
	assert.Equal(t, models.NextActionContinue, verification.NextAction)
	// Escalation: first attempt fast tier, second primary tier.
	assert.Equal(t, []vision.Tier{vision.TierFast, vision.TierPrimary}, gw.tiers)
}

func TestVerify_ContradictionRejectedRegardlessOfConfidence(t *testing.T) {
	gw := &stubVision{responses: []string{
		`{"observed": "Calculator displays 27", "matches_criteria": true, "confidence": 99, "reason": "Calculator displays 27, expected 27, does not match"}`,
		`{"observed": "still unclear", "matches_criteria": false, "confidence": 10, "reason": "unclear"}`,
		`{"observed": "still unclear", "matches_criteria": false, "confidence": 10, "reason": "unclear"}`,
	}}
	verifier := newTestVerifier(t, gw, newStubInvoker("filesystem"))

	item := models.NewTodoItem("a", "compute 15 + 12", 3)
	item.Attempt = 1
	verification := verifier.Verify(context.Background(), item, visualDecision())

	assert.False(t, verification.Verified)
}

func TestVerify_ObservedExpectedMismatchWhileClaimingMatch(t *testing.T) {
	gw := &stubVision{responses: []string{
		`{"observed": "the app displays 28", "matches_criteria": true, "confidence": 95, "reason": "displayed 28 expected 27 and they match"}`,
	}}
	verifier := newTestVerifier(t, gw, newStubInvoker("filesystem"))

	item := models.NewTodoItem("a", "compute 15 + 12", 1)
	item.Attempt = 1
	verification := verifier.Verify(context.Background(), item, visualDecision())
	assert.False(t, verification.Verified)
}

func TestVerify_EscalatesToMCPAfterThreeVisualRejections(t *testing.T) {
	gw := &stubVision{responses: []string{
		`{"matches_criteria": false, "confidence": 10, "reason": "blurry"}`,
		`{"matches_criteria": false, "confidence": 20, "reason": "still blurry"}`,
		`{"matches_criteria": false, "confidence": 30, "reason": "cannot tell"}`,
	}}
	invoker := newStubInvoker("filesystem")
	invoker.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Data: "exists: true", Timestamp: time.Now()}
	}
	verifier := newTestVerifier(t, gw, invoker)

	decision := visualDecision()
	decision.RecommendedPath = models.VerificationPathHybrid
	decision.AdditionalChecks = []models.DataCheck{{
		Server: "filesystem", Tool: "filesystem__get_file_info",
		Parameters: map[string]any{"path": "/tmp/demo"}, ExpectedEvidence: "exists",
	}}

	item := models.NewTodoItem("a", "створи папку /tmp/demo", 3)
	item.Attempt = 1
	verification := verifier.Verify(context.Background(), item, decision)

	// Exactly three visual attempts ran before the data path.
	assert.Equal(t, 3, len(gw.tiers))
	assert.True(t, verification.Verified)
	assert.Equal(t, models.VerificationMethodMCP, verification.Method)
	assert.GreaterOrEqual(t, verification.Confidence, 85.0)
}

func TestVerify_DataPathOnly(t *testing.T) {
	invoker := newStubInvoker("filesystem")
	invoker.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Data: "type: directory, exists", Timestamp: time.Now()}
	}
	verifier := newTestVerifier(t, &stubVision{}, invoker)

	decision := models.VerificationDecision{
		VisualPossible:  false,
		RecommendedPath: models.VerificationPathData,
		AdditionalChecks: []models.DataCheck{{
			Server: "filesystem", Tool: "filesystem__get_file_info",
			Parameters: map[string]any{"path": "/tmp/demo"}, ExpectedEvidence: "exists",
		}},
		VerificationAction: "verify existence of folder /tmp/demo",
	}

	item := models.NewTodoItem("a", "створи папку /tmp/demo", 3)
	item.Attempt = 1
	verification := verifier.Verify(context.Background(), item, decision)

	require.True(t, verification.Verified)
	assert.GreaterOrEqual(t, verification.Confidence, 85.0)
	assert.Equal(t, models.NextActionContinue, verification.NextAction)
	// No visual attempts ran.
	calls := invoker.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "filesystem__get_file_info", calls[0].Tool)
}

func TestVerify_DataCheckEvidenceMissingFails(t *testing.T) {
	invoker := newStubInvoker("filesystem")
	invoker.respond = func(call models.ToolCall) models.ToolResult {
		return models.ToolResult{Success: true, Tool: call.Tool, Data: "no such file", Timestamp: time.Now()}
	}
	verifier := newTestVerifier(t, &stubVision{}, invoker)

	decision := models.VerificationDecision{
		RecommendedPath: models.VerificationPathData,
		AdditionalChecks: []models.DataCheck{{
			Server: "filesystem", Tool: "filesystem__get_file_info",
			ExpectedEvidence: "type: directory",
		}},
	}

	item := models.NewTodoItem("a", "створи папку", 3)
	item.Attempt = 1
	verification := verifier.Verify(context.Background(), item, decision)
	assert.False(t, verification.Verified)
}

func TestJudgeVisual_ExplicitSuccessWording(t *testing.T) {
	verifier := NewVerifier(nil, nil, newStubInvoker(), testLocale())

	t.Run("success wording without negation accepts", func(t *testing.T) {
		v := verifier.judgeVisual(`{"reason": "the folder was created, task completed", "matches_criteria": true, "confidence": 55}`, models.TaskTypeFile)
		assert.True(t, v.Verified)
	})

	t.Run("negated wording does not accept via wording rule", func(t *testing.T) {
		v := verifier.judgeVisual(`{"reason": "the task is not completed", "matches_criteria": false, "confidence": 70}`, models.TaskTypeFile)
		assert.False(t, v.Verified)
	})
}

// Monotonicity: if a payload is accepted at confidence c, the same payload
// is accepted at any higher confidence.
func TestJudgeVisual_MonotoneInConfidence(t *testing.T) {
	verifier := NewVerifier(nil, nil, newStubInvoker(), testLocale())
	payload := `{"observed": "folder present", "matches_criteria": true, "confidence": %d, "reason": "looks right"}`

	accepted := -1
	for conf := 0; conf <= 100; conf += 5 {
		v := verifier.judgeVisual(fmt.Sprintf(payload, conf), models.TaskTypeFile)
		if v.Verified && accepted == -1 {
			accepted = conf
		}
		if accepted != -1 && conf >= accepted {
			assert.True(t, v.Verified, "confidence %d should stay accepted", conf)
		}
	}
	require.NotEqual(t, -1, accepted)
}

func TestJudgeVisual_TaskTypeThresholds(t *testing.T) {
	verifier := NewVerifier(nil, nil, newStubInvoker(), testLocale())
	payload := `{"observed": "value shown", "matches_criteria": true, "confidence": 55, "reason": "plausible"}`

	// 55 clears the file threshold (50) but not the numeric one (60).
	assert.True(t, verifier.judgeVisual(payload, models.TaskTypeFile).Verified)
	assert.False(t, verifier.judgeVisual(payload, models.TaskTypeNumeric).Verified)

	// ≥80 accepts regardless of task type.
	strong := `{"observed": "value shown", "matches_criteria": true, "confidence": 82, "reason": "plausible"}`
	assert.True(t, verifier.judgeVisual(strong, models.TaskTypeNumeric).Verified)
}

func TestDecide_NextAction(t *testing.T) {
	verifier := NewVerifier(nil, nil, newStubInvoker(), testLocale())

	t.Run("transient failure retries", func(t *testing.T) {
		item := models.NewTodoItem("a", "do it", 3)
		item.Attempt = 1
		v := verifier.decide(item, models.Verification{Verified: false, Confidence: 60, Reason: "page still loading, timed out"}, models.VerificationDecision{})
		assert.Equal(t, models.NextActionRetry, v.NextAction)
	})

	t.Run("structural failure adjusts", func(t *testing.T) {
		item := models.NewTodoItem("a", "do it", 3)
		item.Attempt = 1
		v := verifier.decide(item, models.Verification{Verified: false, Confidence: 70, Reason: "folder does not exist"}, models.VerificationDecision{})
		assert.Equal(t, models.NextActionAdjust, v.NextAction)
	})

	t.Run("attempts exhausted adjusts even on transient", func(t *testing.T) {
		item := models.NewTodoItem("a", "do it", 2)
		item.Attempt = 2
		v := verifier.decide(item, models.Verification{Verified: false, Reason: "timeout"}, models.VerificationDecision{})
		assert.Equal(t, models.NextActionAdjust, v.NextAction)
	})

	t.Run("low confidence adjusts", func(t *testing.T) {
		item := models.NewTodoItem("a", "do it", 3)
		item.Attempt = 1
		v := verifier.decide(item, models.Verification{Verified: false, Confidence: 20, Reason: "shrug"}, models.VerificationDecision{})
		assert.Equal(t, models.NextActionAdjust, v.NextAction)
	})
}

func TestClassifyRootCause(t *testing.T) {
	item := models.NewTodoItem("a", "do it", 3)
	item.ExecutionResults = []models.ToolResult{{Success: false, Error: "boom"}}

	cause := classifyRootCause(models.Verification{Reason: "something went wrong"}, item)
	assert.Equal(t, models.RootCauseToolExecutionFailed, cause)
	assert.Equal(t, models.StrategySwapTools, strategyFor(cause))
}
