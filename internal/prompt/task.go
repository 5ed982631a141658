package prompt

import (
	"fmt"
	"strings"
)

// Task names a prompt in the catalog.
type Task int

const (
	Unknown Task = iota
	SimpleSummarization
	StructuredExtraction
	FIRSummary
	CourtOrderSummary
	LegalNoticeSummary
	ChatWithDocument
)

var taskNames = map[Task]string{
	SimpleSummarization:  "simple_summarization",
	StructuredExtraction: "structured_extraction",
	FIRSummary:           "fir_summary",
	CourtOrderSummary:    "court_order_summary",
	LegalNoticeSummary:   "legal_notice_summary",
	ChatWithDocument:     "chat_with_document",
}

func (t Task) String() string {
	if name, ok := taskNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTask maps a keyword back to its Task. Matching is exact.
func ParseTask(s string) (Task, bool) {
	for t, name := range taskNames {
		if name == s {
			return t, true
		}
	}
	return Unknown, false
}

// SummaryTasks lists the tasks a document can be classified into, in catalog order.
func SummaryTasks() []Task {
	return []Task{
		SimpleSummarization,
		StructuredExtraction,
		FIRSummary,
		CourtOrderSummary,
		LegalNoticeSummary,
	}
}

// IsSummary reports whether t may be used to summarize a document.
func (t Task) IsSummary() bool {
	for _, s := range SummaryTasks() {
		if s == t {
			return true
		}
	}
	return false
}

func taskList(tasks []Task) string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

// UnknownTaskError is returned for a task keyword the catalog cannot serve.
type UnknownTaskError struct {
	Task string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown prompt task %q", e.Task)
}
