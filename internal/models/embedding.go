package models

import "time"

// DocumentChunk is a piece of page text together with where it came from.
// Extraction yields one per page; the chunker subdivides them keeping Page and Source.
type DocumentChunk struct {
	Page    int    `json:"page"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// RetrievedContext is a chunk returned by similarity search. Score is the cosine
// similarity reported by the index, higher means closer.
type RetrievedContext struct {
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
}

type QuestionRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type AnswerResponse struct {
	Answer           string             `json:"answer"`
	Context          []RetrievedContext `json:"context"`
	Model            string             `json:"model"`
	PromptTokens     *int               `json:"prompt_tokens,omitempty"`
	CompletionTokens *int               `json:"completion_tokens,omitempty"`
}

type UploadResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// DocumentRecord describes one indexed upload.
type DocumentRecord struct {
	DocumentID string    `json:"document_id"`
	Source     string    `json:"source"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}
