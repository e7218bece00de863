package intake

import (
	"strings"
	"testing"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
)

func TestWelcome_WithLocation(t *testing.T) {
	msg := Welcome(Profile{City: "Calgary", Province: "Alberta"}, 0)

	if !strings.Contains(msg.Content, "Calgary, Alberta") {
		t.Fatalf("welcome content missing place: %q", msg.Content)
	}
	if msg.Meta.Extracted.City != "Calgary" || msg.Meta.Extracted.Province != "Alberta" {
		t.Fatalf("extracted = %+v, want city+province only", msg.Meta.Extracted)
	}
	if msg.Meta.Extracted.Skills != "" || msg.Meta.Extracted.UserConfirmed {
		t.Fatalf("extracted carries fields beyond city/province: %+v", msg.Meta.Extracted)
	}
	if msg.Meta.Progress < 15 {
		t.Fatalf("progress = %d, want >= 15", msg.Meta.Progress)
	}
	if msg.Meta.NextQuestion == nil || msg.Meta.NextQuestion.Type != domain.QuestionText {
		t.Fatalf("next_question = %+v, want text prompt", msg.Meta.NextQuestion)
	}
	if msg.Meta.Signal != domain.SignalContinue {
		t.Fatalf("signal = %q, want CONTINUE", msg.Meta.Signal)
	}
}

func TestWelcome_WithLocationKeepsHigherProgress(t *testing.T) {
	msg := Welcome(Profile{City: "Halifax", Province: "Nova Scotia"}, 40)
	if msg.Meta.Progress != 40 {
		t.Fatalf("progress = %d, want stored 40 over floor 15", msg.Meta.Progress)
	}
}

func TestWelcome_WithoutLocation(t *testing.T) {
	cases := []struct {
		name    string
		profile Profile
	}{
		{name: "empty_profile", profile: Profile{}},
		{name: "city_only", profile: Profile{City: "Calgary"}},
		{name: "province_only", profile: Profile{Province: "Alberta"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := Welcome(tc.profile, 0)
			if !msg.Meta.Extracted.IsZero() {
				t.Fatalf("extracted = %+v, want empty", msg.Meta.Extracted)
			}
			if msg.Meta.Progress != 0 {
				t.Fatalf("progress = %d, want 0", msg.Meta.Progress)
			}
			nq := msg.Meta.NextQuestion
			if nq == nil || nq.Type != domain.QuestionSelect {
				t.Fatalf("next_question = %+v, want province select", nq)
			}
			if nq.Prompt != "Select your province" {
				t.Fatalf("prompt = %q", nq.Prompt)
			}
			if len(nq.Options) != 13 {
				t.Fatalf("options = %d, want 13 provinces/territories", len(nq.Options))
			}
			if msg.Meta.Signal != domain.SignalContinue {
				t.Fatalf("signal = %q, want CONTINUE", msg.Meta.Signal)
			}
		})
	}
}

func TestWelcome_Deterministic(t *testing.T) {
	a := Welcome(Profile{City: "Calgary", Province: "Alberta", FullName: "Sam Roy"}, 10)
	b := Welcome(Profile{City: "Calgary", Province: "Alberta", FullName: "Sam Roy"}, 10)
	if a.Content != b.Content || a.Meta.Progress != b.Meta.Progress {
		t.Fatalf("welcome is not deterministic: %q vs %q", a.Content, b.Content)
	}
}
