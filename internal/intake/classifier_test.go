package intake

import (
	"testing"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
)

func TestGenerationClassifier(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{name: "being_crafted", text: "Your personalized ideas are being crafted now!", want: true},
		{name: "being_generated", text: "Great news: your ideas are being generated.", want: true},
		{name: "generating_your", text: "I'm generating your custom business ideas as we speak.", want: true},
		{name: "preparing_results", text: "Hang tight, preparing your personalized results.", want: true},
		{name: "crafting_report", text: "Crafting your Canadian market report right now.", want: true},
		{name: "working_on_ideas", text: "We're working on your tailored ideas.", want: true},
		{name: "report_ready_soon", text: "Your report will be ready shortly.", want: true},
		{name: "plain_question", text: "What budget range works for you?", want: false},
		{name: "mentions_ideas_casually", text: "Those are interesting ideas about catering.", want: false},
		{name: "empty", text: "", want: false},
	}

	c := NewGenerationClassifier()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ov, fired := c.Classify(tc.text)
			if fired != tc.want {
				t.Fatalf("Classify(%q) fired=%v, want %v", tc.text, fired, tc.want)
			}
			if fired && (ov.Signal != domain.SignalReadyToPay || ov.Progress != 100) {
				t.Fatalf("override = %+v, want READY_TO_PAY/100", ov)
			}
		})
	}
}

func TestApplyOverride(t *testing.T) {
	ov := Override{Signal: domain.SignalReadyToPay, Progress: 100}

	got := ApplyOverride(domain.Meta{Signal: domain.SignalContinue, Progress: 60}, ov)
	if got.Signal != domain.SignalReadyToPay || got.Progress != 100 {
		t.Fatalf("meta = %+v, want forced READY_TO_PAY/100", got)
	}

	// Already READY_TO_PAY: the declared progress stands.
	got = ApplyOverride(domain.Meta{Signal: domain.SignalReadyToPay, Progress: 90}, ov)
	if got.Progress != 90 {
		t.Fatalf("progress = %d, want declared 90 untouched", got.Progress)
	}
}
