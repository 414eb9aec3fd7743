package provider

import (
	"fmt"
	"strings"
)

// FriendlyError is the caller-facing form of a provider failure: a short
// summary, a hint phrased in terms of this runtime (dialects, the models
// catalog, session state), and the raw detail kept for debugging.
type FriendlyError struct {
	Summary string
	Hint    string
	Detail  string
	Err     error
}

func (e *FriendlyError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Summary)
	if e.Hint != "" {
		sb.WriteString("\nhint: ")
		sb.WriteString(e.Hint)
	}
	if e.Detail != "" {
		sb.WriteString("\ndetail: ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

func (e *FriendlyError) Unwrap() error {
	return e.Err
}

// FormatProviderError wraps a dialect failure for display, classifying it
// first if the dialect has not already done so. Already-friendly errors
// pass through untouched.
func FormatProviderError(dialect, model string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*FriendlyError); ok {
		return fe
	}

	ce, ok := err.(*ClassifiedError)
	if !ok {
		ce = ClassifyError(err, 0, "")
	}

	fe := friendlyFromClassified(ce, dialect, model)
	fe.Detail = fmt.Sprintf("dialect=%s model=%s: %s", dialect, model, ce.Message)
	return fe
}

func friendlyFromClassified(ce *ClassifiedError, dialect, model string) *FriendlyError {
	switch ce.Type {
	case ErrorTypeContextOverflow:
		return &FriendlyError{
			Summary: fmt.Sprintf("the session history no longer fits %s's context window", model),
			Hint: "older tool outputs are pruned and the request retried once automatically; " +
				"if it still overflows, start or fork a fresh session, or switch the " +
				"catalog entry to a larger-context model",
			Err: ce,
		}

	case ErrorTypeAuth:
		return &FriendlyError{
			Summary: fmt.Sprintf("the %s dialect rejected this API key", dialect),
			Hint: "set OPENAI_API_KEY or GEMINI_API_KEY, add the key to credentials.json, " +
				"or point the model's api_key_file at a key file in the models catalog",
			Err: ce,
		}

	case ErrorTypeRateLimit:
		return &FriendlyError{
			Summary: fmt.Sprintf("the %s endpoint is rate limiting this key", dialect),
			Hint: "wait before retrying; if it persists, " +
				"move the catalog entry to a different key",
			Err: ce,
		}

	case ErrorTypeNotFound:
		return &FriendlyError{
			Summary: fmt.Sprintf("%s was not found by the %s dialect", model, dialect),
			Hint: "check the entry's model_id in the models catalog; 'dcode models' " +
				"lists each entry with the dialect it resolves to",
			Err: ce,
		}

	case ErrorTypeTimeout:
		return &FriendlyError{
			Summary: fmt.Sprintf("the %s request timed out", dialect),
			Hint: "retry, or reduce the request size; long tool outputs in the history " +
				"can be cleared by starting a fresh session",
			Err: ce,
		}

	default:
		return &FriendlyError{
			Summary: fmt.Sprintf("the %s dialect returned an error", dialect),
			Err:     ce,
		}
	}
}
