package models

import "time"

// DocumentSession holds one uploaded document across its summary and chat lifetime.
type DocumentSession struct {
	ID                string    `json:"doc_id"`
	FileName          string    `json:"file_name"`
	StoredPath        string    `json:"stored_path"`
	Text              string    `json:"text"`
	Task              string    `json:"task"`
	Summary           string    `json:"summary"`
	Language          string    `json:"language"`
	TranslatedSummary string    `json:"translated_summary"`
	Transcript        []Turn    `json:"transcript"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Clone returns a copy whose transcript does not alias the receiver's.
func (s *DocumentSession) Clone() *DocumentSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Transcript = append([]Turn(nil), s.Transcript...)
	return &c
}

// Expired reports whether the session outlived its ExpiresAt.
func (s *DocumentSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
