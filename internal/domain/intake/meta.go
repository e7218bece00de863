package intake

import "github.com/truenorthhq/truenorth-backend/pkg/ftmeta"

// The turn metadata types live in pkg/ftmeta so the client SDK can expose
// them without reaching into internal packages; the aliases keep the domain
// vocabulary in one place for server code.
const (
	SignalContinue         = ftmeta.SignalContinue
	SignalReadyToPay       = ftmeta.SignalReadyToPay
	SignalShowTrending     = ftmeta.SignalShowTrending
	SignalShowQuickPreview = ftmeta.SignalShowQuickPreview
)

const (
	QuestionText    = ftmeta.QuestionText
	QuestionSelect  = ftmeta.QuestionSelect
	QuestionConfirm = ftmeta.QuestionConfirm
)

type NextQuestion = ftmeta.NextQuestion

type Meta = ftmeta.Meta

type CollectedData = ftmeta.CollectedData
