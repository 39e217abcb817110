package chat

// EnsureSystemMessage returns a conversation that starts with a system
// message. If msgs is empty or its first message is not a system message,
// the result is a system message with the given prompt followed by msgs in
// their original order. Otherwise the result is a copy of msgs.
//
// The returned slice never aliases msgs. An empty prompt selects
// DefaultSystemPrompt.
func EnsureSystemMessage(msgs []Message, prompt string) []Message {
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		out := make([]Message, len(msgs))
		copy(out, msgs)
		return out
	}

	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: RoleSystem, Content: prompt})
	return append(out, msgs...)
}
