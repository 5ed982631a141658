package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatHistoryKeepsOrder(t *testing.T) {
	got := FormatHistory([]Turn{
		{Question: "Who filed it?", Answer: "Ravi Kumar."},
		{Question: "When?", Answer: "12 March 2023."},
	})
	assert.Equal(t, "User: Who filed it?\nAssistant: Ravi Kumar.\nUser: When?\nAssistant: 12 March 2023.\n", got)
	assert.Equal(t, "", FormatHistory(nil))
}

func TestCloneDoesNotAliasTranscript(t *testing.T) {
	s := &DocumentSession{ID: "a", Transcript: []Turn{{Question: "q1"}}}
	c := s.Clone()
	c.Transcript = append(c.Transcript, Turn{Question: "q2"})
	c.Transcript[0].Question = "changed"
	assert.Len(t, s.Transcript, 1)
	assert.Equal(t, "q1", s.Transcript[0].Question)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&DocumentSession{}).Expired(now))
	assert.True(t, (&DocumentSession{ExpiresAt: now}).Expired(now))
	assert.False(t, (&DocumentSession{ExpiresAt: now.Add(time.Minute)}).Expired(now))
}
