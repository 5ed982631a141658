package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"lexbrief/internal/config"
)

type fakeChatModel struct {
	replies []*schema.Message
	errs    []error
	calls   int
	seen    [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	i := f.calls
	f.calls++
	f.seen = append(f.seen, input)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoModelBuildsMessages(t *testing.T) {
	chat := &fakeChatModel{replies: []*schema.Message{schema.AssistantMessage("answer", nil)}}
	m := NewEinoModel(chat, testPolicy(&recordingSleeper{}), nil)

	text, err := m.Generate(context.Background(), Request{Prompt: "question", SystemInstruction: "be strict"})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	require.Len(t, chat.seen, 1)
	require.Len(t, chat.seen[0], 2)
	assert.Equal(t, schema.System, chat.seen[0][0].Role)
	assert.Equal(t, "be strict", chat.seen[0][0].Content)
	assert.Equal(t, schema.User, chat.seen[0][1].Role)
}

func TestEinoModelDefaultSystemInstruction(t *testing.T) {
	chat := &fakeChatModel{replies: []*schema.Message{schema.AssistantMessage("answer", nil)}}
	m := NewEinoModel(chat, testPolicy(&recordingSleeper{}), nil)

	_, err := m.Generate(context.Background(), Request{Prompt: "question"})
	require.NoError(t, err)
	require.Len(t, chat.seen[0], 2)
	assert.Equal(t, DefaultSystemInstruction, chat.seen[0][0].Content)
}

func TestEinoModelRetriesGenaiRateLimit(t *testing.T) {
	chat := &fakeChatModel{errs: []error{
		genai.APIError{Code: http.StatusTooManyRequests, Message: "quota"},
		nil,
	}}
	sleeper := &recordingSleeper{}
	m := NewEinoModel(chat, testPolicy(sleeper), nil)

	text, err := m.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, chat.calls)
	assert.Len(t, sleeper.waits, 1)
}

func TestEinoModelEmptyContent(t *testing.T) {
	chat := &fakeChatModel{replies: []*schema.Message{schema.AssistantMessage("  ", nil)}}
	m := NewEinoModel(chat, testPolicy(&recordingSleeper{}), nil)
	text, err := m.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, NoResponse, text)
}

func TestEinoModelWrapsOtherErrors(t *testing.T) {
	chat := &fakeChatModel{errs: []error{errors.New("bad key")}}
	m := NewEinoModel(chat, testPolicy(&recordingSleeper{}), nil)
	_, err := m.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsRemoteModelError(err))
	assert.Equal(t, 1, chat.calls)
}

func TestNewSelectsProvider(t *testing.T) {
	m, err := New(context.Background(), config.ModelConfig{Provider: "gemini", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, m)

	_, err = New(context.Background(), config.ModelConfig{Provider: "palm"}, nil)
	require.Error(t, err)
}
