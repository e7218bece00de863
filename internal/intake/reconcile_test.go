package intake

import (
	"testing"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
)

func TestReconcile_StaleReadyToPay(t *testing.T) {
	cases := []struct {
		name           string
		signal         string
		collected      domain.CollectedData
		sessionStatus  string
		wantSignal     string
		wantCorrection bool
	}{
		{
			name:           "unconfirmed_downgrades",
			signal:         domain.SignalReadyToPay,
			collected:      domain.CollectedData{City: "Calgary"},
			sessionStatus:  domain.StatusIntake,
			wantSignal:     domain.SignalContinue,
			wantCorrection: false,
		},
		{
			name:           "unconfirmed_with_stale_status_emits_correction",
			signal:         domain.SignalReadyToPay,
			collected:      domain.CollectedData{},
			sessionStatus:  domain.StatusReadyToPay,
			wantSignal:     domain.SignalContinue,
			wantCorrection: true,
		},
		{
			name:           "confirmed_passes_through",
			signal:         domain.SignalReadyToPay,
			collected:      domain.CollectedData{UserConfirmed: true},
			sessionStatus:  domain.StatusReadyToPay,
			wantSignal:     domain.SignalReadyToPay,
			wantCorrection: false,
		},
		{
			name:           "continue_untouched",
			signal:         domain.SignalContinue,
			collected:      domain.CollectedData{},
			sessionStatus:  domain.StatusIntake,
			wantSignal:     domain.SignalContinue,
			wantCorrection: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := domain.Meta{Signal: tc.signal, Progress: 80}
			got, corrections := Reconcile(meta, "Thanks!", tc.collected, tc.sessionStatus)
			if got.Signal != tc.wantSignal {
				t.Fatalf("signal = %q, want %q", got.Signal, tc.wantSignal)
			}
			if tc.wantCorrection {
				if len(corrections) != 1 {
					t.Fatalf("corrections = %v, want exactly one", corrections)
				}
				c := corrections[0]
				if c.Kind != CorrectionResetStatus || c.Status != domain.StatusIntake {
					t.Fatalf("correction = %+v, want status reset to intake", c)
				}
			} else if len(corrections) != 0 {
				t.Fatalf("unexpected corrections: %v", corrections)
			}
		})
	}
}

func TestReconcile_ConfirmTypeUnderQuestionText(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		nq       *domain.NextQuestion
		wantType string
	}{
		{
			name:     "confirm_with_question_mark_rewritten",
			content:  "What budget range are you comfortable with?",
			nq:       &domain.NextQuestion{Type: domain.QuestionConfirm, Prompt: "Confirm"},
			wantType: domain.QuestionText,
		},
		{
			name:     "confirm_without_question_mark_kept",
			content:  "Please confirm your details below.",
			nq:       &domain.NextQuestion{Type: domain.QuestionConfirm, Prompt: "Confirm"},
			wantType: domain.QuestionConfirm,
		},
		{
			name:     "text_type_untouched",
			content:  "What city are you in?",
			nq:       &domain.NextQuestion{Type: domain.QuestionText, Prompt: "City"},
			wantType: domain.QuestionText,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := domain.Meta{Signal: domain.SignalContinue, NextQuestion: tc.nq}
			got, _ := Reconcile(meta, tc.content, domain.CollectedData{}, domain.StatusIntake)
			if got.NextQuestion == nil || got.NextQuestion.Type != tc.wantType {
				t.Fatalf("next_question = %+v, want type %q", got.NextQuestion, tc.wantType)
			}
			if tc.wantType == domain.QuestionText && tc.nq.Type == domain.QuestionConfirm {
				if got.NextQuestion.Prompt != "Your answer" {
					t.Fatalf("prompt = %q, want generic free-text prompt", got.NextQuestion.Prompt)
				}
			}
		})
	}
}

func TestReconcile_CollectedDataWinsOverCache(t *testing.T) {
	meta := domain.Meta{
		Signal:    domain.SignalContinue,
		Extracted: domain.CollectedData{City: "Toronto", Skills: "old snapshot"},
	}
	collected := domain.CollectedData{City: "Calgary", Province: "Alberta", Skills: "carpentry"}

	got, _ := Reconcile(meta, "Noted.", collected, domain.StatusIntake)
	if got.Extracted.City != "Calgary" || got.Extracted.Skills != "carpentry" {
		t.Fatalf("extracted = %+v, want authoritative collected data", got.Extracted)
	}
}

func TestReconcile_EmptyCollectedKeepsCache(t *testing.T) {
	meta := domain.Meta{
		Signal:    domain.SignalContinue,
		Extracted: domain.CollectedData{City: "Toronto"},
	}
	got, _ := Reconcile(meta, "Noted.", domain.CollectedData{}, domain.StatusIntake)
	if got.Extracted.City != "Toronto" {
		t.Fatalf("extracted = %+v, want cached snapshot preserved", got.Extracted)
	}
}
