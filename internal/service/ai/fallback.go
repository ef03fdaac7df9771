package ai

import "strings"

const (
	IdentityReply = "I am nijiAI, your friendly assistant. How can I help you today?"

	PowerfulAIReply = "As of 2024, some of the most powerful AI systems include:\n\n" +
		"1. GPT-4 by OpenAI - Known for its advanced language understanding and generation capabilities\n" +
		"2. Claude 2 by Anthropic - Recognized for its reasoning and analysis abilities\n" +
		"3. PaLM 2 by Google - Excels in multilingual tasks and coding\n" +
		"4. DALL-E 3 - Leading in image generation\n" +
		"5. Gemini by Google - Advanced multimodal capabilities\n\n" +
		"However, \"most powerful\" is subjective and depends on the specific task or application. " +
		"Each system has its own strengths in different areas like language processing, reasoning, coding, or multimodal tasks."

	UnavailableReply = "I apologize, but I'm having trouble connecting to my services right now. Could you please try again in a moment?"

	EmptyReply = "I apologize, but I couldn't generate a complete response. Could you please rephrase your question?"
)

var identityKeywords = []string{"who are you", "what are you", "your name", "who created you"}

// Fallback picks a canned reply for the latest user text when generation failed.
// Rules are checked in order and the first match wins.
func Fallback(lastContent string) string {
	lower := strings.ToLower(lastContent)
	for _, kw := range identityKeywords {
		if strings.Contains(lower, kw) {
			return IdentityReply
		}
	}
	if strings.Contains(lower, "most powerful ai") {
		return PowerfulAIReply
	}
	return UnavailableReply
}
