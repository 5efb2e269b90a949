package relay

import "linerelay/internal/domain"

// Fixed user-facing fallback texts. The mapping is deterministic: the same
// event kind and failure kind always produce the same string, and raw
// provider detail never appears here (it goes to the log only).
const (
	fallbackTextReply  = "Sorry, I couldn't process your message right now. Please try again later."
	fallbackImageReply = "Sorry, I couldn't process that image right now. Please try again later."
	fallbackBusyReply  = "I'm handling a lot of messages at the moment. Please try again in a minute."
)

// FallbackText picks the reply shown to the user when the pipeline failed.
func FallbackText(event domain.EventKind, kind domain.FailureKind) string {
	if kind == domain.FailRateLimited {
		return fallbackBusyReply
	}
	if event == domain.EventImage {
		return fallbackImageReply
	}
	return fallbackTextReply
}
