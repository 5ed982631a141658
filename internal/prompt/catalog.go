// Package prompt holds the fixed prompt templates and renders them with eino's
// FString formatter.
package prompt

import (
	"context"
	"fmt"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"lexbrief/internal/llm"
)

// Template variable names.
const (
	VarDocumentText   = "document_text"
	VarChatHistory    = "chat_history"
	VarUserQuestion   = "user_question"
	VarTaskList       = "task_list"
	VarTargetLanguage = "target_language"
	VarText           = "text"
)

// Template is a prompt body plus the system instruction it is sent with.
type Template struct {
	Prompt            string
	SystemInstruction string
}

// ChatGroundingInstruction is the system instruction for document chat.
const ChatGroundingInstruction = "You are an AI assistant that answers questions based strictly on the provided document text. Do not use any external knowledge."

var defaultTemplates = map[Task]Template{
	SimpleSummarization: {
		Prompt:            "Summarize the following legal document into 3-5 key points. Use simple, clear language that a non-lawyer can understand.\n\nDOCUMENT:\n{document_text}",
		SystemInstruction: "You are a helpful assistant for legal document analysis.",
	},
	StructuredExtraction: {
		Prompt:            "Extract and summarize the following information from the document provided:\n\nDocument Type: (e.g., FIR, Court Order, Legal Notice)\n\nParties Involved: (List all names and their roles, like 'Complainant,' 'Accused,' or 'Plaintiff')\n\nCore Issue: (What is the main problem or subject of the document?)\n\nDate of Event: (The date the incident or event occurred)\n\nOutcome/Action: (What is the result or what action is being requested?)\n\nDOCUMENT:\n{document_text}",
		SystemInstruction: "You are a legal data extraction tool. Your task is to provide structured information from legal texts.",
	},
	FIRSummary: {
		Prompt:            "You are a police clerk writing a public summary of an FIR. Summarize the following FIR, focusing on:\n\nFIR Number and Date:\n\nPolice Station and District:\n\nComplainant: (Name, age, and a one-sentence summary of their complaint)\n\nIncident Details: (What happened, when, and where? Be brief and factual)\n\nStolen/Lost Items: (List any items mentioned as lost or stolen)\n\nFIR TEXT:\n{document_text}",
		SystemInstruction: "You are an expert in summarizing police reports for public consumption.",
	},
	CourtOrderSummary: {
		Prompt:            "Act as a legal paralegal providing a summary of a court order for a client. Summarize the following order by answering these questions:\n\nCase Name/Parties: (e.g., State vs. Accused)\n\nType of Order: (e.g., Bail Order, Divorce Decree, etc.)\n\nCourt and Judge: (The name of the court and the judge)\n\nThe Court's Decision: (What was the final ruling? Use simple terms like 'bail granted' or 'case dismissed')\n\nKey Conditions or Requirements: (What does the order require the parties to do?)\n\nCOURT ORDER TEXT:\n{document_text}",
		SystemInstruction: "You are a legal paralegal who translates complex court orders into simple, clear summaries for clients.",
	},
	LegalNoticeSummary: {
		Prompt:            "You are a legal advisor explaining a legal notice to your client. Summarize the content below, explaining:\n\nWho sent the notice:\n\nWho the notice is for:\n\nReason for the notice: (Why was it sent?)\n\nThe Demand: (What is being requested or demanded?)\n\nThe Deadline: (When must the action be taken by?)\n\nLEGAL NOTICE TEXT:\n{document_text}",
		SystemInstruction: "You are an experienced legal advisor who simplifies legal documents for clients.",
	},
	ChatWithDocument: {
		Prompt:            "You are a helpful assistant answering questions about a legal document. Use ONLY the information from the document provided below to answer the user's question. If the answer cannot be found in the document, state that clearly. Do not make up information.\n\nDOCUMENT TEXT:\n---\n{document_text}\n---\n\nCONVERSATION HISTORY:\n{chat_history}\n\nUSER QUESTION: {user_question}",
		SystemInstruction: ChatGroundingInstruction,
	},
}

var classifyTemplate = Template{
	Prompt:            "Analyze the following legal document text and identify its type. Respond with ONLY one of the following keywords: {task_list}. Do not add any other text, explanation, or punctuation.\n\nDOCUMENT TEXT:\n{document_text}",
	SystemInstruction: "You are a document classification expert. Your task is to identify the type of a legal document and respond with a single, specific keyword from the provided list.",
}

var translateTemplate = Template{
	Prompt:            "Translate the following text into {target_language}. Do not add any other text, explanation, or punctuation. Only provide the translated text.\n\nTEXT TO TRANSLATE:\n{text}",
	SystemInstruction: "You are a translation expert. Your task is to translate the given text into {target_language} accurately.",
}

// Catalog is the read-only set of templates. It is safe for concurrent use.
type Catalog struct {
	templates map[Task]Template
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	return &Catalog{templates: defaultTemplates}
}

// Lookup returns the template for task.
func (c *Catalog) Lookup(task Task) (Template, error) {
	tmpl, ok := c.templates[task]
	if !ok {
		return Template{}, &UnknownTaskError{Task: task.String()}
	}
	return tmpl, nil
}

// Render fills the template for task with vars.
func (c *Catalog) Render(ctx context.Context, task Task, vars map[string]any) (llm.Request, error) {
	tmpl, err := c.Lookup(task)
	if err != nil {
		return llm.Request{}, err
	}
	return render(ctx, tmpl, vars)
}

// Summary renders a summary task over the document text.
func (c *Catalog) Summary(ctx context.Context, task Task, documentText string) (llm.Request, error) {
	if !task.IsSummary() {
		return llm.Request{}, &UnknownTaskError{Task: task.String()}
	}
	return c.Render(ctx, task, map[string]any{VarDocumentText: documentText})
}

// Chat renders the grounded question-answering prompt.
func (c *Catalog) Chat(ctx context.Context, documentText, history, question string) (llm.Request, error) {
	return c.Render(ctx, ChatWithDocument, map[string]any{
		VarDocumentText: documentText,
		VarChatHistory:  history,
		VarUserQuestion: question,
	})
}

// Classify renders the classification prompt listing every summary task keyword.
func (c *Catalog) Classify(ctx context.Context, documentText string) (llm.Request, error) {
	return render(ctx, classifyTemplate, map[string]any{
		VarTaskList:     taskList(SummaryTasks()),
		VarDocumentText: documentText,
	})
}

// Translate renders the translation prompt.
func (c *Catalog) Translate(ctx context.Context, text, language string) (llm.Request, error) {
	return render(ctx, translateTemplate, map[string]any{
		VarTargetLanguage: language,
		VarText:           text,
	})
}

func render(ctx context.Context, tmpl Template, vars map[string]any) (llm.Request, error) {
	chat := einoprompt.FromMessages(schema.FString,
		schema.SystemMessage(tmpl.SystemInstruction),
		schema.UserMessage(tmpl.Prompt),
	)
	msgs, err := chat.Format(ctx, vars)
	if err != nil {
		return llm.Request{}, fmt.Errorf("format prompt: %w", err)
	}
	if len(msgs) != 2 {
		return llm.Request{}, fmt.Errorf("format prompt: expected 2 messages, got %d", len(msgs))
	}
	return llm.Request{SystemInstruction: msgs[0].Content, Prompt: msgs[1].Content}, nil
}
