package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3/realtime"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types. Where the beta and GA protocols spell a tag
// differently both spellings are listed and decode to the same variant.
const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeConversationItemCreated                          ServerEventType = "conversation.item.created"
	ServerEventTypeConversationItemAdded                            ServerEventType = "conversation.item.added"
	ServerEventTypeConversationItemDone                             ServerEventType = "conversation.item.done"
	ServerEventTypeConversationItemRetrieved                        ServerEventType = "conversation.item.retrieved"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeConversationItemInputAudioTranscriptionDelta     ServerEventType = "conversation.item.input_audio_transcription.delta"
	ServerEventTypeConversationItemInputAudioTranscriptionSegment   ServerEventType = "conversation.item.input_audio_transcription.segment"
	ServerEventTypeConversationItemInputAudioTranscriptionFailed    ServerEventType = "conversation.item.input_audio_transcription.failed"
	ServerEventTypeConversationItemTruncated                        ServerEventType = "conversation.item.truncated"
	ServerEventTypeConversationItemDeleted                          ServerEventType = "conversation.item.deleted"
	ServerEventTypeInputAudioBufferCommitted                        ServerEventType = "input_audio_buffer.committed"
	ServerEventTypeInputAudioBufferCleared                          ServerEventType = "input_audio_buffer.cleared"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeInputAudioBufferTimeoutTriggered                 ServerEventType = "input_audio_buffer.timeout_triggered"
	ServerEventTypeOutputAudioBufferStarted                         ServerEventType = "output_audio_buffer.started"
	ServerEventTypeOutputAudioBufferStopped                         ServerEventType = "output_audio_buffer.stopped"
	ServerEventTypeOutputAudioBufferCleared                         ServerEventType = "output_audio_buffer.cleared"
	ServerEventTypeResponseCreated                                  ServerEventType = "response.created"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseOutputItemAdded                          ServerEventType = "response.output_item.added"
	ServerEventTypeResponseOutputItemDone                           ServerEventType = "response.output_item.done"
	ServerEventTypeResponseContentPartAdded                         ServerEventType = "response.content_part.added"
	ServerEventTypeResponseContentPartDone                          ServerEventType = "response.content_part.done"
	ServerEventTypeResponseTextDelta                                ServerEventType = "response.text.delta"
	ServerEventTypeResponseTextDone                                 ServerEventType = "response.text.done"
	ServerEventTypeResponseOutputTextDelta                          ServerEventType = "response.output_text.delta"
	ServerEventTypeResponseOutputTextDone                           ServerEventType = "response.output_text.done"
	ServerEventTypeResponseAudioTranscriptDelta                     ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone                      ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseOutputAudioTranscriptDelta               ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone                ServerEventType = "response.output_audio_transcript.done"
	ServerEventTypeResponseAudioDelta                               ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                                ServerEventType = "response.audio.done"
	ServerEventTypeResponseOutputAudioDelta                         ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone                          ServerEventType = "response.output_audio.done"
	ServerEventTypeResponseFunctionCallArgumentsDelta               ServerEventType = "response.function_call_arguments.delta"
	ServerEventTypeResponseFunctionCallArgumentsDone                ServerEventType = "response.function_call_arguments.done"
	ServerEventTypeRatelimitsUpdated                                ServerEventType = "rate_limits.updated"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

// Status values carried by items and responses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// observedEventTypes are recognized but carry nothing the engine acts on.
var observedEventTypes = map[ServerEventType]struct{}{
	ServerEventTypeConversationItemAdded:                            {},
	ServerEventTypeConversationItemRetrieved:                        {},
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted: {},
	ServerEventTypeConversationItemInputAudioTranscriptionDelta:     {},
	ServerEventTypeConversationItemInputAudioTranscriptionSegment:   {},
	ServerEventTypeConversationItemInputAudioTranscriptionFailed:    {},
	ServerEventTypeConversationItemTruncated:                        {},
	ServerEventTypeConversationItemDeleted:                          {},
	ServerEventTypeInputAudioBufferCommitted:                        {},
	ServerEventTypeInputAudioBufferCleared:                          {},
	ServerEventTypeInputAudioBufferTimeoutTriggered:                 {},
	ServerEventTypeOutputAudioBufferCleared:                         {},
	ServerEventTypeResponseOutputItemAdded:                          {},
	ServerEventTypeResponseOutputItemDone:                           {},
	ServerEventTypeResponseContentPartAdded:                         {},
	ServerEventTypeResponseContentPartDone:                          {},
	ServerEventTypeResponseTextDone:                                 {},
	ServerEventTypeResponseOutputTextDone:                           {},
	ServerEventTypeResponseAudioDelta:                               {},
	ServerEventTypeResponseAudioDone:                                {},
	ServerEventTypeResponseOutputAudioDelta:                         {},
	ServerEventTypeResponseOutputAudioDone:                          {},
	ServerEventTypeResponseFunctionCallArgumentsDelta:               {},
	ServerEventTypeResponseFunctionCallArgumentsDone:                {},
	ServerEventTypeRatelimitsUpdated:                                {},
}

// ServerEvent is the closed set of inbound control channel events. Use a
// type switch on the concrete pointer types below.
type ServerEvent interface {
	EventType() ServerEventType
	ID() string
	isServerEvent()
}

type eventHeader struct {
	EventId string          `json:"event_id"`
	Type    ServerEventType `json:"type"`
}

func (h eventHeader) EventType() ServerEventType { return h.Type }

func (h eventHeader) ID() string { return h.EventId }

func (eventHeader) isServerEvent() {}

type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Tools []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"tools"`
}

// session.created, session.updated
type SessionLifecycleEvent struct {
	eventHeader
	Session SessionInfo `json:"session"`
}

// input_audio_buffer.speech_started
type SpeechStartedEvent struct {
	eventHeader
	AudioStartMs int    `json:"audio_start_ms"`
	ItemId       string `json:"item_id"`
}

// input_audio_buffer.speech_stopped
type SpeechStoppedEvent struct {
	eventHeader
	AudioEndMs int    `json:"audio_end_ms"`
	ItemId     string `json:"item_id"`
}

// conversation.item.created, conversation.item.done
type ItemCompletedEvent struct {
	eventHeader
	PreviousItemId string `json:"previous_item_id"`
	Item           Item   `json:"item"`
}

// response.created
type ResponseCreatedEvent struct {
	eventHeader
	Response Response `json:"response"`
}

// output_audio_buffer.started
type OutputAudioStartedEvent struct {
	eventHeader
	ResponseId string `json:"response_id"`
}

// output_audio_buffer.stopped
type OutputAudioStoppedEvent struct {
	eventHeader
	ResponseId string `json:"response_id"`
}

// response.{output_,}text.delta, response.{output_,}audio_transcript.delta
type TranscriptDeltaEvent struct {
	eventHeader
	ResponseId string `json:"response_id"`
	ItemId     string `json:"item_id"`
	Delta      string `json:"delta"`
}

// response.{output_,}audio_transcript.done
type TranscriptDoneEvent struct {
	eventHeader
	ResponseId string `json:"response_id"`
	ItemId     string `json:"item_id"`
	// Transcript is nil when the field is absent or null.
	Transcript *string `json:"transcript"`
}

// response.done
type ResponseDoneEvent struct {
	eventHeader
	Response Response `json:"response"`
}

// error
type ErrorEvent struct {
	eventHeader
	Error *ErrorDetail `json:"error"`
	// Flattened form used by some server builds.
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ObservedEvent is a recognized lifecycle marker without engine semantics.
type ObservedEvent struct {
	eventHeader
}

// UnknownEvent holds a tag this package does not recognize.
type UnknownEvent struct {
	eventHeader
	Raw []byte
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventId string `json:"event_id"`
}

type StatusDetails struct {
	Type    string       `json:"type"`
	Reason  string       `json:"reason"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Error   *ErrorDetail `json:"error"`
}

type Response struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *StatusDetails `json:"status_details"`
	Output        []Item         `json:"output"`
}

type Item struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Role      string        `json:"role"`
	Status    string        `json:"status"`
	Name      string        `json:"name"`
	CallId    string        `json:"call_id"`
	Arguments string        `json:"arguments"`
	Content   []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
	// Transcript is a string on audio parts; some payloads nest it as
	// {"text": "..."}.
	Transcript any `json:"transcript"`
}

// TranscriptText returns the part's transcript in either encoding.
func (p ContentPart) TranscriptText() string {
	switch t := p.Transcript.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	return ""
}

// FirstText returns the first non-empty text across the item's content
// parts in part order.
func (it Item) FirstText() string {
	for _, part := range it.Content {
		if s := strings.TrimSpace(part.TranscriptText()); s != "" {
			return s
		}
		if s := strings.TrimSpace(part.Text); s != "" {
			return s
		}
	}
	return ""
}

// JoinedText concatenates every non-empty text of the item's content parts.
func (it Item) JoinedText() string {
	texts := make([]string, 0, len(it.Content))
	for _, part := range it.Content {
		s := strings.TrimSpace(part.Text)
		if s == "" {
			s = strings.TrimSpace(part.TranscriptText())
		}
		if s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, " ")
}

// Reason returns the most specific human readable failure reason.
func (r Response) Reason() string {
	d := r.StatusDetails
	if d == nil {
		return "unknown error"
	}
	switch {
	case d.Error != nil && d.Error.Message != "":
		return d.Error.Message
	case d.Message != "":
		return d.Message
	case d.Error != nil && d.Error.Code != "":
		return d.Error.Code
	case d.Reason != "":
		return d.Reason
	case d.Code != "":
		return d.Code
	}
	return "unknown error"
}

// Text returns the error message, falling back to the code.
func (e *ErrorEvent) Text() string {
	if e.Error != nil {
		if e.Error.Message != "" {
			return e.Error.Message
		}
		if e.Error.Code != "" {
			return e.Error.Code
		}
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "unknown error from API"
}

// ParseServerEvent decodes one control channel message. Unrecognized tags
// yield an *UnknownEvent, never an error.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var header eventHeader
	if err := sonic.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("decoding event header: %w", err)
	}
	if header.Type == "" {
		return nil, errors.New("missing type")
	}
	if _, ok := observedEventTypes[header.Type]; ok {
		return &ObservedEvent{eventHeader: header}, nil
	}
	var event ServerEvent
	switch header.Type {
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		event = new(SessionLifecycleEvent)
	case ServerEventTypeInputAudioBufferSpeechStarted:
		event = new(SpeechStartedEvent)
	case ServerEventTypeInputAudioBufferSpeechStopped:
		event = new(SpeechStoppedEvent)
	case ServerEventTypeConversationItemCreated, ServerEventTypeConversationItemDone:
		event = new(ItemCompletedEvent)
	case ServerEventTypeResponseCreated:
		event = new(ResponseCreatedEvent)
	case ServerEventTypeOutputAudioBufferStarted:
		event = new(OutputAudioStartedEvent)
	case ServerEventTypeOutputAudioBufferStopped:
		event = new(OutputAudioStoppedEvent)
	case ServerEventTypeResponseTextDelta,
		ServerEventTypeResponseOutputTextDelta,
		ServerEventTypeResponseAudioTranscriptDelta,
		ServerEventTypeResponseOutputAudioTranscriptDelta:
		event = new(TranscriptDeltaEvent)
	case ServerEventTypeResponseAudioTranscriptDone, ServerEventTypeResponseOutputAudioTranscriptDone:
		event = new(TranscriptDoneEvent)
	case ServerEventTypeResponseDone:
		event = new(ResponseDoneEvent)
	case ServerEventTypeError:
		event = new(ErrorEvent)
	default:
		return &UnknownEvent{eventHeader: header, Raw: data}, nil
	}
	if err := sonic.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", header.Type, err)
	}
	return event, nil
}

type SessionUpdateEvent struct {
	EventId string          `json:"event_id"`
	Type    ClientEventType `json:"type"`
	Session json.RawMessage `json:"session"`
}

type FunctionCallOutputItem struct {
	Type   string `json:"type"`
	CallId string `json:"call_id"`
	Output string `json:"output"`
}

type ConversationItemCreateEvent struct {
	EventId string                 `json:"event_id"`
	Type    ClientEventType        `json:"type"`
	Item    FunctionCallOutputItem `json:"item"`
}

type ResponseCreateEvent struct {
	EventId string          `json:"event_id"`
	Type    ClientEventType `json:"type"`
}

func newEventId() string {
	return "event_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewSessionUpdateEvent wraps cfg (tools, tool choice) in a session.update.
func NewSessionUpdateEvent(cfg realtime.RealtimeSessionCreateRequestParam) (*SessionUpdateEvent, error) {
	sessBytes, err := cfg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling session config: %w", err)
	}
	return &SessionUpdateEvent{
		EventId: newEventId(),
		Type:    ClientEventTypeSessionUpdate,
		Session: sessBytes,
	}, nil
}

func NewFunctionCallOutputEvent(callId, output string) *ConversationItemCreateEvent {
	return &ConversationItemCreateEvent{
		EventId: newEventId(),
		Type:    ClientEventTypeConversationItemCreate,
		Item: FunctionCallOutputItem{
			Type:   "function_call_output",
			CallId: callId,
			Output: output,
		},
	}
}

func NewResponseCreateEvent() *ResponseCreateEvent {
	return &ResponseCreateEvent{
		EventId: newEventId(),
		Type:    ClientEventTypeResponseCreate,
	}
}
