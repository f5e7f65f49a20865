// Package domain defines the transcript data model shared by all parley components.
package domain

import "strings"

// ItemKind classifies a transcript entry.
type ItemKind string

const (
	KindMessage    ItemKind = "message"
	KindEvent      ItemKind = "event"
	KindAttachment ItemKind = "attachment"
)

// Direction indicates whether an item originated locally or remotely.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ItemStatus is the delivery state of a transcript item.
type ItemStatus string

const (
	StatusSending     ItemStatus = "sending"
	StatusSendSuccess ItemStatus = "sent"
	StatusSendFailed  ItemStatus = "failed"
	StatusDelivered   ItemStatus = "delivered"
	StatusRead        ItemStatus = "read"
)

// ReceiptType distinguishes read from delivered acknowledgments.
type ReceiptType string

const (
	ReceiptRead      ReceiptType = "read"
	ReceiptDelivered ReceiptType = "delivered"
)

// Content types carried on transcript items. Event types share the
// "application/vnd.parley.event." prefix so they can be classified
// without enumerating every variant.
const (
	ContentTypeTextPlain    = "text/plain"
	ContentTypeTextMarkdown = "text/markdown"
	ContentTypeInteractive  = "application/vnd.parley.message.interactive"

	contentTypeEventPrefix = "application/vnd.parley.event."

	ContentTypeEventTyping            = contentTypeEventPrefix + "typing"
	ContentTypeEventMessageDelivered  = contentTypeEventPrefix + "message.delivered"
	ContentTypeEventMessageRead       = contentTypeEventPrefix + "message.read"
	ContentTypeEventParticipantJoined = contentTypeEventPrefix + "participant.joined"
	ContentTypeEventParticipantLeft   = contentTypeEventPrefix + "participant.left"
	ContentTypeEventChatEnded         = contentTypeEventPrefix + "chat.ended"
)

// IsEventContentType reports whether the content type is a protocol event
// rather than user-visible message content.
func IsEventContentType(contentType string) bool {
	return strings.HasPrefix(contentType, contentTypeEventPrefix)
}

// Attachment references a file carried by an attachment item.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// TranscriptItem is one unit of the conversation log. Items are identified
// by ID: two items with the same ID are the same logical item, and a later
// merge of that ID replaces the earlier entry.
type TranscriptItem struct {
	ID              string          `json:"id"`
	Kind            ItemKind        `json:"kind"`
	ParticipantID   string          `json:"participantId"`
	ParticipantRole ParticipantRole `json:"participantRole"`
	DisplayName     string          `json:"displayName,omitempty"`
	ContentType     string          `json:"contentType"`
	Content         string          `json:"content,omitempty"`
	Direction       Direction       `json:"direction"`
	Status          ItemStatus      `json:"status"`

	// SentTime is epoch seconds and the sole sort key for the transcript.
	SentTime float64 `json:"sentTime"`

	// ReceiptType is set only on synthetic receipt-update items and is used
	// for outgoing-direction receipt lookups.
	ReceiptType ReceiptType `json:"receiptType,omitempty"`

	Attachment *Attachment `json:"attachment,omitempty"`

	// FailureMessage is a human-readable reason on failed sends.
	FailureMessage string `json:"failureMessage,omitempty"`

	// Retry re-issues the send that produced a failed item. Nil on items
	// that are not retryable.
	Retry func() `json:"-"`

	// Derived receipt flags, recomputed on every merge. Never input.
	LastReadReceipt      bool `json:"lastReadReceipt,omitempty"`
	LastDeliveredReceipt bool `json:"lastDeliveredReceipt,omitempty"`
}

// IsUserContent reports whether the item carries content a participant
// authored (a message or attachment, not a protocol event).
func (it TranscriptItem) IsUserContent() bool {
	return it.Kind == KindMessage || it.Kind == KindAttachment
}
