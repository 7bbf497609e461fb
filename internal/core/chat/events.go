package chat

// Event names of a streaming turn, in emission order.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
	EventHeartbeat         = "heartbeat"
)

// Error types carried by an error event.
const (
	ErrorTypeGeneration = "generation_error"
	ErrorTypeStorage    = "storage_error"
)

// Event is one named SSE event with a single JSON payload.
type Event struct {
	Name    string
	Payload any
}

type messageInfo struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Model string `json:"model"`
}

type messageStartPayload struct {
	Type    string      `json:"type"`
	Message messageInfo `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock contentBlock `json:"content_block"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type contentBlockDeltaPayload struct {
	Type  string    `json:"type"`
	Index int       `json:"index"`
	Delta textDelta `json:"delta"`
}

type contentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type stopDelta struct {
	StopReason string `json:"stop_reason"`
}

type outputUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type messageDeltaPayload struct {
	Type  string      `json:"type"`
	Delta stopDelta   `json:"delta"`
	Usage outputUsage `json:"usage"`
}

type typeOnlyPayload struct {
	Type string `json:"type"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

type heartbeatPayload struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

func MessageStart(id, model string) Event {
	return Event{EventMessageStart, messageStartPayload{
		Type:    EventMessageStart,
		Message: messageInfo{ID: id, Role: "assistant", Model: model},
	}}
}

func ContentBlockStart() Event {
	return Event{EventContentBlockStart, contentBlockStartPayload{
		Type:         EventContentBlockStart,
		ContentBlock: contentBlock{Type: "text"},
	}}
}

func ContentBlockDelta(text string) Event {
	return Event{EventContentBlockDelta, contentBlockDeltaPayload{
		Type:  EventContentBlockDelta,
		Delta: textDelta{Type: "text_delta", Text: text},
	}}
}

func ContentBlockStop() Event {
	return Event{EventContentBlockStop, contentBlockStopPayload{Type: EventContentBlockStop}}
}

// MessageDelta reports the stop reason and the approximate output token count.
func MessageDelta(outputTokens int) Event {
	return Event{EventMessageDelta, messageDeltaPayload{
		Type:  EventMessageDelta,
		Delta: stopDelta{StopReason: "end_turn"},
		Usage: outputUsage{OutputTokens: outputTokens},
	}}
}

func MessageStop() Event {
	return Event{EventMessageStop, typeOnlyPayload{Type: EventMessageStop}}
}

func ErrorEvent(errType, message string) Event {
	return Event{EventError, errorPayload{
		Type:  EventError,
		Error: errorBody{Type: errType, Message: message},
	}}
}

func Heartbeat(conversationID string) Event {
	return Event{EventHeartbeat, heartbeatPayload{Type: EventHeartbeat, ConversationID: conversationID}}
}
