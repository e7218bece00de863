package intake

import (
	"fmt"
	"strings"

	domain "github.com/truenorthhq/truenorth-backend/internal/domain/intake"
)

// Profile is the cached profile snapshot the welcome generator greets from.
// All fields are optional.
type Profile struct {
	City     string
	Province string
	FullName string
}

// Provinces lists the 13 Canadian provinces and territories offered when the
// user's location is not yet known.
var Provinces = []string{
	"Alberta",
	"British Columbia",
	"Manitoba",
	"New Brunswick",
	"Newfoundland and Labrador",
	"Northwest Territories",
	"Nova Scotia",
	"Nunavut",
	"Ontario",
	"Prince Edward Island",
	"Quebec",
	"Saskatchewan",
	"Yukon",
}

// WelcomeMessage is the deterministic greeting shown whenever a session has
// zero persisted messages. It is displayed locally and never sent to the
// server; a fresh greeting needs no round trip.
type WelcomeMessage struct {
	Content string
	Meta    domain.Meta
}

// Welcome builds the greeting from an optional profile and the session's
// stored progress. Pure: no I/O, no clock, no randomness.
func Welcome(p Profile, progress int) WelcomeMessage {
	if p.City != "" && p.Province != "" {
		pg := progress
		if pg < 15 {
			pg = 15
		}
		name := strings.TrimSpace(p.FullName)
		greeting := fmt.Sprintf(
			"Welcome back! Great to see someone from %s, %s. Let's find a business idea that fits your market.",
			p.City, p.Province,
		)
		if name != "" {
			greeting = fmt.Sprintf(
				"Welcome back, %s! Great to see someone from %s, %s. Let's find a business idea that fits your market.",
				name, p.City, p.Province,
			)
		}
		return WelcomeMessage{
			Content: greeting,
			Meta: domain.Meta{
				Extracted: domain.CollectedData{City: p.City, Province: p.Province},
				Progress:  pg,
				NextQuestion: &domain.NextQuestion{
					Type:   domain.QuestionText,
					Prompt: "Tell me about your skills and background",
				},
				Signal: domain.SignalContinue,
			},
		}
	}

	if progress < 0 {
		progress = 0
	}
	return WelcomeMessage{
		Content: "Hi! I'm here to help you find a Canadian business idea that fits your skills, budget, and goals. First things first: where are you located?",
		Meta: domain.Meta{
			Extracted: domain.CollectedData{},
			Progress:  progress,
			NextQuestion: &domain.NextQuestion{
				Type:    domain.QuestionSelect,
				Prompt:  "Select your province",
				Options: Provinces,
			},
			Signal: domain.SignalContinue,
		},
	}
}
