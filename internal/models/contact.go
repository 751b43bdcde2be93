package models

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail is a coarse syntactic check: a local part, an "@", a domain
// and a dot-separated suffix, with no whitespace anywhere.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

type ContactAttributes struct {
	FirstName string `json:"FNAME"`
	LastName  string `json:"LNAME"`
	Source    string `json:"SOURCE"`
}

type Contact struct {
	Email         string            `json:"email"`
	ListIDs       []int64           `json:"listIds"`
	UpdateEnabled bool              `json:"updateEnabled"`
	Attributes    ContactAttributes `json:"attributes"`
}

func NewContact(email string, listID int64, source string) *Contact {
	return &Contact{
		Email:         strings.TrimSpace(email),
		ListIDs:       []int64{listID},
		UpdateEnabled: true,
		Attributes: ContactAttributes{
			Source: source,
		},
	}
}

// SubscribeRequest is the JSON API body. A missing or empty email is
// validated like any other address.
type SubscribeRequest struct {
	Email string `json:"email" form:"email"`
}
