package agent

// Event is one item of a run's stream. Exactly one of the three
// concrete types flows on Handle.Events; adapters type-switch to emit
// wire events.
type Event interface {
	isEvent()
}

// Delta is a chunk of assistant text.
type Delta struct {
	Text string
}

// ToolCall announces that the model requested a tool invocation.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolResult carries a tool's output back to the stream.
type ToolResult struct {
	CallID string
	Name   string
	Output string
}

func (Delta) isEvent()      {}
func (ToolCall) isEvent()   {}
func (ToolResult) isEvent() {}
