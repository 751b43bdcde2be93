package models

import (
	"fmt"
	"time"
)

// FormKey identifies one visitor's instance of a bound form.
type FormKey struct {
	Session string `json:"session"`
	Page    string `json:"page"`
	Form    string `json:"form"`
}

func (k FormKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Session, k.Page, k.Form)
}

type FormState struct {
	Key        FormKey        `json:"key"`
	Email      string         `json:"email"`
	Submitting bool           `json:"submitting"`
	Message    *StatusMessage `json:"message,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func NewFormState(key FormKey) *FormState {
	return &FormState{Key: key}
}

func (s *FormState) Clone() *FormState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Message != nil {
		m := *s.Message
		c.Message = &m
	}
	return &c
}

// DropExpiredMessage detaches a message whose removal time has passed.
func (s *FormState) DropExpiredMessage(now time.Time) {
	if s.Message != nil && !s.Message.Visible(now) {
		s.Message = nil
	}
}
