package llm

import (
	"context"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// CreditStatus is the outcome of the pre-flight credits probe
type CreditStatus struct {
	Valid      bool
	HasCredits bool
	Code       string
	Message    string
}

// OK reports whether heavy work may proceed
func (s CreditStatus) OK() bool {
	return s.Valid && s.HasCredits
}

// Err converts a failed status into a gate error; nil when OK
func (s CreditStatus) Err() error {
	if s.OK() {
		return nil
	}
	return types.Errorf(types.KindGate, s.Code, "%s", s.Message)
}

// CheckCredits issues a tiny completion to prove the key is valid and has
// quota. Errors that are not clearly auth, rate or quota related let the
// job proceed; the real failure will surface in a later stage.
func (c *Client) CheckCredits(ctx context.Context) CreditStatus {
	if c.apiKey == "" {
		return CreditStatus{
			Code:    types.CodeInvalidAPIKey,
			Message: "OpenAI API key is not configured. Please set OPENAI_API_KEY.",
		}
	}

	if c.skipCreditsCheck {
		return CreditStatus{
			Valid:      true,
			HasCredits: true,
			Message:    "Credits check skipped (SKIP_OPENAI_CREDITS_CHECK=true).",
		}
	}

	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.chatModel,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "test"}},
		MaxTokens: 5,
	})
	if err == nil {
		return CreditStatus{Valid: true, HasCredits: true, Message: "OpenAI API key is valid and has credits."}
	}

	c.logger.WithError(err).WithField("status", StatusCode(err)).Warn("OpenAI credits check returned an error")

	switch Classify(err) {
	case ClassInvalidKey:
		return CreditStatus{
			Code:    types.CodeInvalidAPIKey,
			Message: "Invalid OpenAI API key. The key may be incorrect or expired.",
		}
	case ClassNoCredits:
		return CreditStatus{
			Valid:   true,
			Code:    types.CodeNoCredits,
			Message: "OpenAI API credits are empty. The owner needs to add credits to their OpenAI account.",
		}
	case ClassRateLimited:
		return CreditStatus{
			Valid:   true,
			Code:    types.CodeRateLimited,
			Message: "OpenAI API rate limit exceeded. Please try again later.",
		}
	default:
		msg := truncateRunes(Message(err), 100)
		return CreditStatus{
			Valid:      true,
			HasCredits: true,
			Message:    "OpenAI pre-check warning: " + msg,
		}
	}
}

// truncateRunes keeps at most n runes of s
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
