package tokens

import "unicode/utf8"

// DefaultCharsPerToken is used when no positive ratio is configured.
const DefaultCharsPerToken = 4.0

const (
	roleOverhead         = 1
	messageOverhead      = 3
	conversationOverhead = 3

	minCompletion = 100
	maxCompletion = 1000
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Estimate is a token estimate for one request.
type Estimate struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Estimator implements character-based token estimation. It is immutable
// and safe for concurrent use.
type Estimator struct {
	charsPerToken float64
}

// New creates an Estimator. A non-positive ratio uses DefaultCharsPerToken.
func New(charsPerToken float64) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Estimator{charsPerToken: charsPerToken}
}

// CharsPerToken returns the configured ratio.
func (e *Estimator) CharsPerToken() float64 {
	return e.charsPerToken
}

// EstimateText estimates tokens for a single string. Non-empty text is at
// least one token.
func (e *Estimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	tokens := float64(utf8.RuneCountInString(text)) / e.charsPerToken
	if tokens < 1 {
		return 1
	}
	return int(tokens + 0.5)
}

// EstimateMessages estimates prompt tokens for a conversation including
// role and framing overhead.
func (e *Estimator) EstimateMessages(messages []Message) int {
	if len(messages) == 0 {
		return 0
	}

	total := 0
	for _, msg := range messages {
		total += roleOverhead
		total += e.EstimateText(msg.Content)
		if msg.Name != "" {
			total += e.EstimateText(msg.Name)
		}
		total += messageOverhead
	}
	return total + conversationOverhead
}

// EstimateCompletion returns maxTokens when positive, otherwise a third of
// the prompt clamped to [100, 1000].
func (e *Estimator) EstimateCompletion(promptTokens, maxTokens int) int {
	if maxTokens > 0 {
		return maxTokens
	}
	out := promptTokens / 3
	if out < minCompletion {
		out = minCompletion
	}
	if out > maxCompletion {
		out = maxCompletion
	}
	return out
}

// EstimateRequest estimates a request given either messages or a bare
// prompt. Messages take precedence when both are set.
func (e *Estimator) EstimateRequest(messages []Message, prompt string, maxTokens int) Estimate {
	var in int
	if len(messages) > 0 {
		in = e.EstimateMessages(messages)
	} else {
		in = e.EstimateText(prompt)
	}
	out := e.EstimateCompletion(in, maxTokens)
	return Estimate{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
	}
}
