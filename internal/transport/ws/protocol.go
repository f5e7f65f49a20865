// Package ws implements transport.Client over a WebSocket connection using
// a small request/response/event frame protocol.
package ws

import (
	"encoding/json"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/transport"
)

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Request methods understood by the endpoint.
const (
	MethodConnect        = "connect"
	MethodDisconnect     = "disconnect"
	MethodSendMessage    = "message.send"
	MethodSendEvent      = "event.send"
	MethodSendAttachment = "attachment.send"
	MethodGetTranscript  = "transcript.get"
	MethodAttachmentURL  = "attachment.url"
)

// Event names pushed by the endpoint.
const (
	EventMessage          = "message"
	EventTyping           = "typing"
	EventReadReceipt      = "receipt.read"
	EventDeliveredReceipt = "receipt.delivered"
	EventEnded            = "chat.ended"
)

// Frame is the envelope for all WebSocket messages. Type discriminates
// between request, response, and event frames.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	// Error (response only)
	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the standard error format in response frames.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectParams authenticate and bind the connection to a contact.
type ConnectParams struct {
	Token       string             `json:"token,omitempty"`
	ContactID   string             `json:"contactId"`
	Participant domain.Participant `json:"participant"`
}

// SendMessageParams carry an outbound message or protocol event.
type SendMessageParams struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// SendAttachmentParams carry an outbound attachment reference.
type SendAttachmentParams struct {
	Attachment domain.Attachment `json:"attachment"`
}

// AttachmentURLParams request a download handle for an attachment.
type AttachmentURLParams struct {
	AttachmentID string `json:"attachmentId"`
}

// AttachmentURLResult is the endpoint's download-handle response.
type AttachmentURLResult struct {
	URL string `json:"url"`
}

// NewRequest creates a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse creates a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, errShape ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &errShape}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}

// Error codes carried in ErrorShape.Code, mapped onto transport error kinds.
const (
	CodeValidation    = "validation"
	CodeQuotaExceeded = "quota_exceeded"
	CodeNotFound      = "not_found"
	CodeInternal      = "internal"
)

func kindForCode(code string) transport.ErrorKind {
	switch code {
	case CodeValidation:
		return transport.ErrorKindValidation
	case CodeQuotaExceeded:
		return transport.ErrorKindQuotaExceeded
	case CodeNotFound:
		return transport.ErrorKindNotFound
	default:
		return transport.ErrorKindTransport
	}
}
