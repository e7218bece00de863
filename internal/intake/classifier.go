package intake

import (
	"regexp"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
)

// Classifier decides whether free-form assistant text announces that idea
// generation has started, overriding the structured signal. The upstream
// model occasionally describes completion in prose without updating ft_meta;
// this patch keeps the client funnel moving when that happens.
//
// Known heuristic with false-negative risk: a new phrasing silently fails to
// trigger the override. Callers should count fired vs. not-fired per turn so
// phrasing drift shows up in metrics instead of support tickets.
type Classifier interface {
	Classify(text string) (Override, bool)
}

// Override is the forced meta adjustment a positive classification implies.
type Override struct {
	Signal   string
	Progress int
}

var generationPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ideas?\s+(?:are|is)\s+being\s+(?:crafted|generated|prepared|created)`),
	regexp.MustCompile(`(?i)generating\s+your\s+(?:[\w\s-]{0,40})?ideas`),
	regexp.MustCompile(`(?i)preparing\s+your\s+(?:[\w\s-]{0,40})?(?:results|report|ideas)`),
	regexp.MustCompile(`(?i)crafting\s+your\s+(?:[\w\s-]{0,40})?(?:ideas|report)`),
	regexp.MustCompile(`(?i)working\s+on\s+your\s+(?:[\w\s-]{0,40})?(?:ideas|report)`),
	regexp.MustCompile(`(?i)putting\s+together\s+your\s+(?:[\w\s-]{0,40})?(?:ideas|report)`),
	regexp.MustCompile(`(?i)report\s+(?:is|will\s+be)\s+(?:being\s+)?(?:generated|prepared|ready\s+(?:shortly|soon))`),
}

type generationClassifier struct{}

// NewGenerationClassifier returns the default phrase-list classifier.
func NewGenerationClassifier() Classifier { return generationClassifier{} }

func (generationClassifier) Classify(text string) (Override, bool) {
	if text == "" {
		return Override{}, false
	}
	for _, re := range generationPhrases {
		if re.MatchString(text) {
			return Override{Signal: domain.SignalReadyToPay, Progress: 100}, true
		}
	}
	return Override{}, false
}

// ApplyOverride folds a positive classification into meta. The override is
// skipped when the declared signal already says READY_TO_PAY.
func ApplyOverride(meta domain.Meta, ov Override) domain.Meta {
	if meta.Signal == domain.SignalReadyToPay {
		return meta
	}
	meta.Signal = ov.Signal
	meta.Progress = ov.Progress
	return meta
}
