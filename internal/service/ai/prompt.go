package ai

import (
	"strings"

	"nijichat/internal/models"
)

// ContextWindow is how many trailing messages are rendered into the prompt.
const ContextWindow = 5

// BuildPrompt renders the tail of thread as a Human/Assistant transcript followed by the
// latest message as the open turn. thread must not be empty.
func BuildPrompt(thread []models.Message) string {
	start := max(len(thread)-ContextWindow, 0)
	lines := make([]string, 0, len(thread)-start)
	for _, msg := range thread[start:] {
		lines = append(lines, speaker(msg.Role)+": "+msg.Content)
	}
	last := thread[len(thread)-1]

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nHuman: ")
	b.WriteString(last.Content)
	b.WriteString("\n\nAssistant:")
	return b.String()
}

func speaker(role models.Role) string {
	if role == models.RoleUser {
		return "Human"
	}
	return "Assistant"
}

// stripEcho removes the prompt when the endpoint returns it ahead of the completion.
func stripEcho(output, prompt string) string {
	if strings.HasPrefix(output, prompt) {
		return strings.TrimSpace(output[len(prompt):])
	}
	return output
}
