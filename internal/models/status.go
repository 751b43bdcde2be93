package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindSuccess MessageKind = "success"
	KindError   MessageKind = "error"
	KindInfo    MessageKind = "info"
)

// Outcome is the result of one submission attempt.
type Outcome string

const (
	OutcomeInvalidEmail      Outcome = "invalid_email"
	OutcomeSubscribed        Outcome = "subscribed"
	OutcomeAlreadySubscribed Outcome = "already_subscribed"
	OutcomeFailed            Outcome = "failed"
)

func (o Outcome) Kind() MessageKind {
	switch o {
	case OutcomeSubscribed:
		return KindSuccess
	case OutcomeAlreadySubscribed:
		return KindInfo
	default:
		return KindError
	}
}

const (
	DefaultDismissDelay = 5 * time.Second
	DefaultFadeDuration = 300 * time.Millisecond
)

type StatusMessage struct {
	ID        uuid.UUID   `json:"id"`
	Text      string      `json:"message"`
	Kind      MessageKind `json:"kind"`
	Outcome   Outcome     `json:"outcome"`
	ShownAt   time.Time   `json:"shown_at"`
	DismissAt time.Time   `json:"dismiss_at"`
	RemoveAt  time.Time   `json:"remove_at"`
}

func NewStatusMessage(text string, outcome Outcome, shownAt time.Time, dismissDelay, fade time.Duration) *StatusMessage {
	return &StatusMessage{
		ID:        uuid.New(),
		Text:      text,
		Kind:      outcome.Kind(),
		Outcome:   outcome,
		ShownAt:   shownAt,
		DismissAt: shownAt.Add(dismissDelay),
		RemoveAt:  shownAt.Add(dismissDelay + fade),
	}
}

// Visible reports whether the message is still attached to its form at now,
// including the fade-out window.
func (m *StatusMessage) Visible(now time.Time) bool {
	return m != nil && now.Before(m.RemoveAt)
}

func (m *StatusMessage) Fading(now time.Time) bool {
	return m.Visible(now) && !now.Before(m.DismissAt)
}

// Messages holds the user-facing texts shown after a submission attempt.
type Messages struct {
	Success           string `yaml:"success"`
	AlreadySubscribed string `yaml:"already_subscribed"`
	InvalidEmail      string `yaml:"invalid_email"`
	Failure           string `yaml:"failure"`
}

func DefaultMessages() Messages {
	return Messages{
		Success:           "Successfully subscribed! Welcome to our updates.",
		AlreadySubscribed: "You are already subscribed to our newsletter!",
		InvalidEmail:      "Please enter a valid email address.",
		Failure:           "Something went wrong. Please try again later.",
	}
}
