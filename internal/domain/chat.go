package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape sent to LLM
// integrations by the summarization and analysis services.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
