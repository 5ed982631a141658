package models

import (
	"strings"
	"time"
)

// Turn is one question/answer exchange in a document chat.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// FormatHistory renders turns the way the chat prompt expects them:
// "User: ...\nAssistant: ...\n" per turn, oldest first.
func FormatHistory(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Answer)
		b.WriteString("\n")
	}
	return b.String()
}
