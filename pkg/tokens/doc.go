// Package tokens estimates prompt and completion token counts before a
// request is sent, so that per-model costs can be compared up front.
//
// Estimation is character based. A configurable characters-per-token ratio
// (4.0 by default) converts text length to tokens, and small fixed overheads
// account for message framing:
//
//	est := tokens.New(cfg.Selection.CharsPerToken)
//	e := est.EstimateRequest(messages, "", 0)
//	fmt.Println(e.PromptTokens, e.CompletionTokens)
//
// When the caller does not bound the completion, the completion estimate is
// a third of the prompt clamped to [100, 1000].
package tokens
