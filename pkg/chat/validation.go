package chat

import "fmt"

// ValidationConfig holds configurable limits for conversation validation.
type ValidationConfig struct {
	MaxMessages    int
	MaxContentSize int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxMessages:    500,
		MaxContentSize: 1 << 20, // 1MB
	}
}

// ValidateConversation checks a conversation received from a client. It
// returns an *APIError describing the first failure, or nil.
func ValidateConversation(msgs []Message, cfg ValidationConfig) *APIError {
	if len(msgs) == 0 {
		return NewInvalidRequestError("messages", "messages must contain at least one message")
	}

	if cfg.MaxMessages > 0 && len(msgs) > cfg.MaxMessages {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("messages exceeds maximum of %d", cfg.MaxMessages))
	}

	total := 0
	for i, m := range msgs {
		if !m.Role.Valid() {
			return NewInvalidRequestError(fmt.Sprintf("messages[%d].role", i),
				fmt.Sprintf("unknown role %q", m.Role))
		}
		total += len(m.Content)
	}

	if cfg.MaxContentSize > 0 && total > cfg.MaxContentSize {
		return NewInvalidRequestError("messages",
			fmt.Sprintf("total content size exceeds maximum of %d bytes", cfg.MaxContentSize))
	}

	return nil
}
