package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/models"
)

// BuildPrompt returns the system instruction and the user message holding the contexts,
// in retrieval order, followed by the question.
func BuildPrompt(contexts []models.RetrievedContext, question, language string) []llms.MessageContent {
	blocks := make([]string, len(contexts))
	for i, c := range contexts {
		blocks[i] = fmt.Sprintf(models.CitationTemplate, c.Page, c.Content)
	}

	user := strings.Join([]string{
		models.ContextPreamble,
		models.ContextFence,
		strings.Join(blocks, models.ContextSeparator),
		models.ContextFence,
		fmt.Sprintf(models.QuestionTemplate, question),
	}, "\n")

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(models.SystemPromptTemplate, language)),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
}

// Answer retrieves context for the question and asks the generator. TopK 0 means the
// default; an empty index still produces a prompt, with an empty context block.
func (p *Pipeline) Answer(ctx context.Context, req models.QuestionRequest) (*models.AnswerResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", models.ErrInput)
	}
	topK := req.TopK
	if topK == 0 {
		topK = models.DefaultTopK
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInput, topK)
	}

	contexts, err := p.Retrieve(ctx, req.Question, topK)
	if err != nil {
		return nil, err
	}

	res, err := p.llm.Generate(ctx, BuildPrompt(contexts, req.Question, p.opts.AnswerLanguage))
	if err != nil {
		return nil, err
	}

	return &models.AnswerResponse{
		Answer:           res.Text,
		Context:          contexts,
		Model:            p.llm.Name(),
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}, nil
}
