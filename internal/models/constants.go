package models

const (
	// DefaultTopK is used when a question does not say how many contexts to retrieve.
	DefaultTopK = 5

	// EmptyDocumentID is returned when an upload produced no chunks.
	EmptyDocumentID = "empty"

	ContextSeparator = "\n\n"
	ContextFence     = "---"
)

var (
	// SystemPromptTemplate is formatted with the answer language.
	SystemPromptTemplate = `You are an assistant that answers questions about uploaded documents.
Answer only from the provided context and write concise answers in %s.
If the answer cannot be determined from the context, say so explicitly.
Include short citations in the form (p.<page>) when possible.`

	// ContextPreamble opens the user message, before the fenced context block.
	ContextPreamble = "The following document context is provided for reference. Use only the parts you need."

	// CitationTemplate prefixes every retrieved context with its page.
	CitationTemplate = "[p.%d] %s"

	// QuestionTemplate closes the user message.
	QuestionTemplate = "Question: %s"
)
