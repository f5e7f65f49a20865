// Package transport defines the client interface to the real-time chat
// endpoint. The session layer only ever talks to this interface; the
// concrete connection lives in the ws subpackage.
package transport

import (
	"context"
	"time"

	"github.com/tamsinv/parley/internal/domain"
)

// Scan directions and sort orders for transcript pagination.
const (
	ScanBackward = "BACKWARD"
	ScanForward  = "FORWARD"

	SortAscending  = "ASCENDING"
	SortDescending = "DESCENDING"
)

// Item is the wire shape of a transcript entry as the endpoint reports it.
// The session layer maps it into a domain.TranscriptItem.
type Item struct {
	ID               string             `json:"id"`
	Kind             string             `json:"kind"`
	ParticipantID    string             `json:"participantId"`
	ParticipantRole  string             `json:"participantRole"`
	DisplayName      string             `json:"displayName,omitempty"`
	ContentType      string             `json:"contentType"`
	Content          string             `json:"content,omitempty"`
	SentTime         float64            `json:"sentTime"`
	RelatedMessageID string             `json:"relatedMessageId,omitempty"`
	Attachment       *domain.Attachment `json:"attachment,omitempty"`
}

// TypingEvent is a remote participant's composing notification.
type TypingEvent struct {
	ParticipantID   string `json:"participantId"`
	ParticipantRole string `json:"participantRole,omitempty"`
	DisplayName     string `json:"displayName,omitempty"`
}

// ReceiptEvent acknowledges delivery or reading of a prior message.
type ReceiptEvent struct {
	MessageID     string  `json:"messageId"`
	ParticipantID string  `json:"participantId,omitempty"`
	Timestamp     float64 `json:"timestamp,omitempty"`
}

// ReceiptContent is the payload of an outbound receipt event.
type ReceiptContent struct {
	MessageID       string `json:"messageId"`
	DisableThrottle bool   `json:"disableThrottle,omitempty"`
}

// ConnectAck is the endpoint's response to a successful connect.
type ConnectAck struct {
	ConnectionID  string    `json:"connectionId"`
	ParticipantID string    `json:"participantId,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt,omitempty"`
}

// SendAck acknowledges a sent message, event, or attachment.
type SendAck struct {
	ID       string  `json:"id"`
	SentTime float64 `json:"sentTime"`
}

// Page is one page of transcript history.
type Page struct {
	Items     []Item `json:"items"`
	NextToken string `json:"nextToken,omitempty"`
}

// FetchArgs parameterize a transcript page fetch.
type FetchArgs struct {
	ScanDirection     string `json:"scanDirection,omitempty"`
	SortOrder         string `json:"sortOrder,omitempty"`
	MaxResults        int    `json:"maxResults,omitempty"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// Handlers are the subscription hooks for endpoint-pushed events. Unset
// fields are simply not invoked.
type Handlers struct {
	Message               func(Item)
	Typing                func(TypingEvent)
	ReadReceipt           func(ReceiptEvent)
	DeliveredReceipt      func(ReceiptEvent)
	Ended                 func()
	ConnectionEstablished func()
	ConnectionBroken      func()
}

// Client is the narrow interface the session controller consumes. Request
// operations run to completion or failure; the context bounds them.
type Client interface {
	Connect(ctx context.Context) (ConnectAck, error)
	Disconnect(ctx context.Context) error
	SendMessage(ctx context.Context, contentType, content string) (SendAck, error)
	SendEvent(ctx context.Context, contentType, content string) (SendAck, error)
	SendAttachment(ctx context.Context, att domain.Attachment) (SendAck, error)
	FetchTranscriptPage(ctx context.Context, args FetchArgs) (Page, error)
	DownloadAttachment(ctx context.Context, attachmentID string) (string, error)
	SetHandlers(h Handlers)
}
