package types

// StreamEventType discriminates the events yielded by one answer stream.
// Text deltas, tool calls, and lifecycle events arrive interleaved on a
// single channel; consumers switch on the type instead of mutating shared
// state from inside stream iteration.
type StreamEventType string

const (
	// EventTextDelta carries one increment of prose text.
	EventTextDelta StreamEventType = "text_delta"
	// EventToolCall carries one complete tool invocation extracted from the
	// model output.
	EventToolCall StreamEventType = "tool_call"
	// EventSources carries the final source attributions, emitted once
	// before EventDone.
	EventSources StreamEventType = "sources"
	// EventDone terminates a successful stream. Answer and ToolCalls hold
	// the accumulated result.
	EventDone StreamEventType = "done"
	// EventFailed terminates a failed or aborted stream. Err is non-nil;
	// IsAborted(Err) distinguishes user cancellation from pipeline errors.
	EventFailed StreamEventType = "failed"
)

// StreamEvent is one event of an answer stream.
type StreamEvent struct {
	Type      StreamEventType     `json:"type"`
	Text      string              `json:"text,omitempty"`
	ToolCall  *ToolCall           `json:"tool_call,omitempty"`
	Sources   []SourceAttribution `json:"sources,omitempty"`
	Answer    string              `json:"answer,omitempty"`
	ToolCalls []ToolCall          `json:"tool_calls,omitempty"`
	Err       error               `json:"-"`
}
