// Package vision defines the interfaces to the external screenshot capture
// service and vision-model gateway, and owns the shared screenshot store
// with its retained-file cap.
package vision

import (
	"context"

	"github.com/atlas-agents/atlas/pkg/config"
)

// Tier selects vision model strength for an escalating attempt.
type Tier string

const (
	// TierFast is the cheap first-attempt model.
	TierFast Tier = "fast"
	// TierPrimary is the stronger second-attempt model.
	TierPrimary Tier = "primary"
	// TierTop is the strongest model, used on the final visual attempt.
	TierTop Tier = "top"
)

// Attempt is one cell of the verifier's escalation matrix.
type Attempt struct {
	Tier        Tier
	CaptureMode config.CaptureMode
}

// EscalationMatrix is the fixed visual escalation schedule: fast model on the
// active window, primary model on the full screen, top model on the desktop.
var EscalationMatrix = [3]Attempt{
	{Tier: TierFast, CaptureMode: config.CaptureModeActiveWindow},
	{Tier: TierPrimary, CaptureMode: config.CaptureModeFullScreen},
	{Tier: TierTop, CaptureMode: config.CaptureModeDesktopOnly},
}

// CaptureService captures the screen. External collaborator; the production
// implementation talks to the platform capture daemon.
type CaptureService interface {
	// Capture takes a screenshot in the given mode and returns the file path.
	Capture(ctx context.Context, mode config.CaptureMode) (string, error)
}

// AnalyzeRequest asks the vision gateway to judge a screenshot.
type AnalyzeRequest struct {
	ImagePath          string
	Criteria           string
	VerificationAction string
	Tier               Tier
}

// Gateway queries a vision model. External collaborator. The raw response
// text is parsed with the tolerant parser by the verifier.
type Gateway interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (raw string, model string, err error)
}
