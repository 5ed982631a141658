package analyst

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexbrief/internal/llm"
	"lexbrief/internal/models"
	"lexbrief/internal/prompt"
)

type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []llm.Request
}

func (f *fakeModel) Generate(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func TestClassifyNormalisesReply(t *testing.T) {
	cases := map[string]prompt.Task{
		"fir_summary":               prompt.FIRSummary,
		"  'court_order_summary'\n": prompt.CourtOrderSummary,
		`"legal_notice_summary"`:    prompt.LegalNoticeSummary,
		"structured_extraction":     prompt.StructuredExtraction,
		"\tsimple_summarization  ":  prompt.SimpleSummarization,
	}
	for reply, want := range cases {
		m := &fakeModel{reply: reply}
		got, err := NewService(m, nil, nil).Classify(context.Background(), "doc")
		require.NoError(t, err, reply)
		assert.Equal(t, want, got)
	}
}

func TestClassifyUnknownReply(t *testing.T) {
	for _, reply := range []string{"invoice", "chat_with_document", "FIR_SUMMARY", llm.NoResponse, "fir_summary."} {
		m := &fakeModel{reply: reply}
		task, err := NewService(m, nil, nil).Classify(context.Background(), "doc")
		var ute *prompt.UnknownTaskError
		require.True(t, errors.As(err, &ute), reply)
		assert.Equal(t, prompt.Unknown, task)
	}
}

func TestClassifyPropagatesModelError(t *testing.T) {
	m := &fakeModel{err: &llm.RemoteModelError{StatusCode: 500}}
	_, err := NewService(m, nil, nil).Classify(context.Background(), "doc")
	assert.True(t, llm.IsRemoteModelError(err))
}

func TestExecuteUsesTaskTemplate(t *testing.T) {
	m := &fakeModel{reply: "summary"}
	out, err := NewService(m, nil, nil).Execute(context.Background(), prompt.FIRSummary, "FIR 12")
	require.NoError(t, err)
	assert.Equal(t, "summary", out)
	require.Len(t, m.requests, 1)
	assert.Contains(t, m.requests[0].Prompt, "FIR TEXT:\nFIR 12")
	assert.Equal(t, "You are an expert in summarizing police reports for public consumption.", m.requests[0].SystemInstruction)
}

func TestExecuteRejectsNonSummaryTask(t *testing.T) {
	m := &fakeModel{reply: "x"}
	svc := NewService(m, nil, nil)
	for _, task := range []prompt.Task{prompt.Unknown, prompt.ChatWithDocument} {
		_, err := svc.Execute(context.Background(), task, "doc")
		var ute *prompt.UnknownTaskError
		assert.True(t, errors.As(err, &ute))
	}
	assert.Empty(t, m.requests)
}

func TestTranslate(t *testing.T) {
	m := &fakeModel{reply: "Bonjour"}
	out, err := NewService(m, nil, nil).Translate(context.Background(), "Hello", "French")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", out)
	assert.Contains(t, m.requests[0].Prompt, "Translate the following text into French.")
	assert.Contains(t, m.requests[0].Prompt, "Hello")
}

func TestAnswerIncludesHistoryWithoutMutating(t *testing.T) {
	m := &fakeModel{reply: "500"}
	transcript := []models.Turn{{Question: "Who issued it?", Answer: "Acme"}}
	out, err := NewService(m, nil, nil).Answer(context.Background(), "Invoice total 500", transcript, "What is the total?")
	require.NoError(t, err)
	assert.Equal(t, "500", out)
	assert.Len(t, transcript, 1)

	req := m.requests[0]
	assert.Equal(t, prompt.ChatGroundingInstruction, req.SystemInstruction)
	assert.Contains(t, req.Prompt, "User: Who issued it?\nAssistant: Acme\n")
	assert.Contains(t, req.Prompt, "USER QUESTION: What is the total?")
}
