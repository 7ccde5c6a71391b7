package session

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/Rrens/chat-sessions/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	titleInstruction = "Produce a concise 3-5 word title, plain text, in the user's primary language, summarizing the exchange."
	titleFormatHint  = "Respond with exactly: <conversation><title>your title here</title></conversation>"
	titleMaxLen      = 32
	// reasoningMarker prefixing a response means the model leaked its chain
	// of thought instead of following the format
	reasoningMarker = "<think"
)

var titleTagPattern = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// TitleGenerator derives a short conversation title from the first exchange
// using the auxiliary model, with a structured-then-pattern extraction
// fallback. It reads the message list but never mutates it.
type TitleGenerator struct {
	infer     domain.InferenceClient
	maxTokens int
}

// NewTitleGenerator creates a generator over the inference collaborator.
// maxTokens bounds the auxiliary call (64 in production).
func NewTitleGenerator(infer domain.InferenceClient, maxTokens int) *TitleGenerator {
	if maxTokens <= 0 {
		maxTokens = 64
	}
	return &TitleGenerator{infer: infer, maxTokens: maxTokens}
}

// Generate returns a title candidate for the given message list, or "" when
// no title could be produced. Failures never propagate: a missing
// precondition, an unresolved model, an inference error and an extraction
// miss all just yield the empty string.
func (g *TitleGenerator) Generate(ctx context.Context, messages []domain.Message, model string) string {
	user, assistant := latestExchange(messages)
	if user == nil || assistant == nil {
		return ""
	}
	if model == "" {
		log.Debug().Msg("title generation skipped: no auxiliary model resolvable")
		return ""
	}

	excerpt := fmt.Sprintf(
		"%s\n\n<user>\n%s\n</user>\n\n<assistant>\n%s\n</assistant>\n\n%s",
		titleInstruction, user.Content, assistant.Content, titleFormatHint,
	)

	result, err := g.infer.Infer(ctx, model, g.maxTokens, []domain.PromptMessage{
		{Role: "system", Content: titleInstruction},
		{Role: "user", Content: excerpt},
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("title generation failed")
		return ""
	}

	return ExtractTitle(result.Content)
}

// latestExchange returns the most recent user and assistant messages,
// scanning from the end.
func latestExchange(messages []domain.Message) (user, assistant *domain.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		switch m.Role {
		case domain.RoleUser:
			if user == nil {
				user = &messages[i]
			}
		case domain.RoleAssistant:
			if assistant == nil {
				assistant = &messages[i]
			}
		}
		if user != nil && assistant != nil {
			break
		}
	}
	return user, assistant
}

type titleDocument struct {
	XMLName xml.Name `xml:"conversation"`
	Title   string   `xml:"title"`
}

// ExtractTitle pulls a bounded-length title out of a raw model response.
// It decodes the expected structured document first, then falls back to a
// <title> tag anywhere in the text, then to the whole trimmed response.
// A response that opens with a reasoning marker is rejected outright.
func ExtractTitle(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), reasoningMarker) {
		return ""
	}

	var doc titleDocument
	if err := xml.Unmarshal([]byte(trimmed), &doc); err == nil {
		if t := strings.TrimSpace(doc.Title); t != "" {
			return clampTitle(t)
		}
	}

	if m := titleTagPattern.FindStringSubmatch(trimmed); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return clampTitle(t)
		}
	}

	return clampTitle(trimmed)
}

// clampTitle truncates to titleMaxLen characters, no ellipsis.
func clampTitle(s string) string {
	r := []rune(s)
	if len(r) > titleMaxLen {
		return string(r[:titleMaxLen])
	}
	return s
}
