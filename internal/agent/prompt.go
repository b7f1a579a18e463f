package agent

import "strings"

var languageInstructions = map[string]string{
	"en":    "IMPORTANT: Always respond in English only. Keep responses under 20 words. Be helpful and conversational.",
	"en-in": "IMPORTANT: Always respond in Indian English only. Keep responses under 20 words. Be helpful.",
	"hi":    "IMPORTANT: हमेशा केवल हिंदी में जवाब दें। 20 शब्दों से कम में जवाब दें। मददगार और बातचीत के अंदाज में रहें।",
	"hi-in": "IMPORTANT: हमेशा केवल हिंदी में जवाब दें। 20 शब्दों से कम में जवाब दें।",
	"es":    "IMPORTANT: Responde solo en español. Mantén las respuestas bajo 20 palabras.",
	"fr":    "IMPORTANT: Répondez uniquement en français. Gardez les réponses sous 20 mots.",
	"de":    "IMPORTANT: Antworten Sie nur auf Deutsch. Halten Sie Antworten unter 20 Wörtern.",
}

// LanguageInstruction returns the reply instruction for a language tag: exact match
// first, then the primary subtag, then English.
func LanguageInstruction(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(tag, "_", "-")))
	if v, ok := languageInstructions[tag]; ok {
		return v
	}
	if primary, _, found := strings.Cut(tag, "-"); found {
		if v, ok := languageInstructions[primary]; ok {
			return v
		}
	}
	return languageInstructions["en"]
}

// SystemPrompt assembles the generation system prompt for an agent.
func SystemPrompt(cfg Config) string {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "AI Assistant"
	}

	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(name)
	b.WriteString(" on a phone call.")
	for _, part := range []string{cfg.Description, cfg.Prompt} {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(' ')
			b.WriteString(part)
		}
	}
	b.WriteByte(' ')
	b.WriteString(LanguageInstruction(cfg.Language))
	return b.String()
}
