package llm

import (
	"context"
	"strings"
)

// MockProvider answers from canned keyword replies. It keeps calls working offline
// and when no provider credentials are configured.
type MockProvider struct{}

func NewMock() *MockProvider { return &MockProvider{} }

func (MockProvider) Name() string         { return ProviderMock }
func (MockProvider) DefaultModel() string { return "keyword" }

type cannedReplies struct {
	greeting, question, service, price, help, fallback string
}

var mockReplies = map[string]cannedReplies{
	"en": {
		greeting: "Hello! How can I help you today?",
		question: "That's a great question. Let me help you with that.",
		service:  "We offer various services. What specifically interests you?",
		price:    "I'd be happy to discuss pricing. What service are you asking about?",
		help:     "I'm here to assist you. What do you need help with?",
		fallback: "I understand. Could you tell me more about what you're looking for?",
	},
	"hi": {
		greeting: "नमस्ते! मैं आपकी कैसे मदद कर सकता हूँ?",
		question: "यह एक अच्छा सवाल है। मैं इसमें आपकी मदद करता हूँ।",
		service:  "हमारी कई सेवाएँ हैं। आप किसमें रुचि रखते हैं?",
		price:    "मैं कीमत के बारे में बात करने में खुश हूँ। आप किस सेवा के बारे में पूछ रहे हैं?",
		help:     "मैं आपकी सहायता के लिए यहाँ हूँ। आपको क्या चाहिए?",
		fallback: "मैं समझ गया। आप क्या खोज रहे हैं, इसके बारे में और बताएं?",
	},
}

func (MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	return KeywordReply(last, req.Language), nil
}

// KeywordReply picks a canned reply for text in the given language.
func KeywordReply(text, language string) string {
	lang, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(language)), "-")
	replies, ok := mockReplies[lang]
	if !ok {
		replies = mockReplies["en"]
	}

	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	hasWord := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}

	switch {
	case hasWord("hello") || hasWord("hi") || hasWord("hey") || strings.Contains(text, "नमस्ते"):
		return replies.greeting
	case strings.Contains(text, "service") || strings.Contains(text, "सेवा"):
		return replies.service
	case strings.Contains(text, "price") || strings.Contains(text, "cost") || strings.Contains(text, "कीमत"):
		return replies.price
	case strings.Contains(text, "help") || strings.Contains(text, "मदद"):
		return replies.help
	case strings.Contains(text, "?"):
		return replies.question
	default:
		return replies.fallback
	}
}
