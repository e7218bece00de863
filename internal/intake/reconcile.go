package intake

import (
	"strings"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
)

// CorrectionKind names a corrective side effect the reconciler wants
// dispatched. Reconcile itself stays pure; callers run the commands.
type CorrectionKind string

const (
	// CorrectionResetStatus patches the session row's status back to
	// intake. Only the status column, never the whole row.
	CorrectionResetStatus CorrectionKind = "reset_status"
)

type Correction struct {
	Kind   CorrectionKind
	Status string
}

// Reconcile merges a historical assistant message's cached meta against the
// session's authoritative state and corrects known inconsistencies. It must
// run every time stored meta is surfaced as current, on every loading path:
// collected_data may have been corrected after the message was written, so
// the cache can be semantically wrong.
//
// Rules:
//  1. A cached READY_TO_PAY without user_confirmed on record downgrades to
//     CONTINUE. If the session row itself says ready_to_pay, a status-reset
//     command is emitted; checkout must never be reachable without an
//     explicit confirmation event.
//  2. A confirm-type next_question under message text that actually poses a
//     question (contains "?") becomes a free-text prompt. Content is the
//     stronger signal than the cached type tag.
//  3. The authoritative collected_data replaces the cached extraction
//     snapshot whenever anything has been collected.
func Reconcile(meta domain.Meta, content string, collected domain.CollectedData, sessionStatus string) (domain.Meta, []Correction) {
	out := meta
	var corrections []Correction

	if out.Signal == domain.SignalReadyToPay && !collected.UserConfirmed {
		out.Signal = domain.SignalContinue
		if sessionStatus == domain.StatusReadyToPay {
			corrections = append(corrections, Correction{
				Kind:   CorrectionResetStatus,
				Status: domain.StatusIntake,
			})
		}
	}

	if out.NextQuestion != nil && out.NextQuestion.Type == domain.QuestionConfirm &&
		strings.Contains(content, "?") {
		out.NextQuestion = &domain.NextQuestion{
			Type:   domain.QuestionText,
			Prompt: "Your answer",
		}
	}

	if !collected.IsZero() {
		out.Extracted = collected
	}

	return out, corrections
}
