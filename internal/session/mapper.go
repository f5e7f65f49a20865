package session

import (
	"fmt"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/transport"
)

// Mapper converts between wire items and domain transcript items. The
// default implementation covers the standard endpoint shapes; tests and
// alternate endpoints can substitute their own.
type Mapper interface {
	// FromIncoming decodes an endpoint-pushed item. Direction is derived by
	// comparing the item's participant against self.
	FromIncoming(raw transport.Item, self domain.Participant) (domain.TranscriptItem, error)

	// FromSendSuccess settles a provisional item using the endpoint's ack.
	FromSendSuccess(provisional domain.TranscriptItem, ack transport.SendAck) domain.TranscriptItem

	// FromFailure marks a provisional item failed. fallbackSentTime keeps
	// the failed item at the tail of the sorted transcript.
	FromFailure(provisional domain.TranscriptItem, fallbackSentTime float64) domain.TranscriptItem
}

// DefaultMapper implements Mapper for the standard endpoint item shape.
type DefaultMapper struct{}

func (DefaultMapper) FromIncoming(raw transport.Item, self domain.Participant) (domain.TranscriptItem, error) {
	if raw.ID == "" {
		return domain.TranscriptItem{}, fmt.Errorf("incoming item missing id")
	}
	if raw.SentTime <= 0 {
		return domain.TranscriptItem{}, fmt.Errorf("incoming item %s missing sentTime", raw.ID)
	}

	direction := domain.DirectionIncoming
	if raw.ParticipantID == self.ID {
		direction = domain.DirectionOutgoing
	}

	return domain.TranscriptItem{
		ID:              raw.ID,
		Kind:            itemKind(raw),
		ParticipantID:   raw.ParticipantID,
		ParticipantRole: domain.ParticipantRole(raw.ParticipantRole),
		DisplayName:     raw.DisplayName,
		ContentType:     raw.ContentType,
		Content:         raw.Content,
		Direction:       direction,
		Status:          domain.StatusSendSuccess,
		SentTime:        raw.SentTime,
		Attachment:      raw.Attachment,
	}, nil
}

func (DefaultMapper) FromSendSuccess(provisional domain.TranscriptItem, ack transport.SendAck) domain.TranscriptItem {
	settled := provisional
	settled.ID = ack.ID
	settled.SentTime = ack.SentTime
	settled.Status = domain.StatusSendSuccess
	settled.FailureMessage = ""
	settled.Retry = nil
	return settled
}

func (DefaultMapper) FromFailure(provisional domain.TranscriptItem, fallbackSentTime float64) domain.TranscriptItem {
	failed := provisional
	failed.Status = domain.StatusSendFailed
	failed.SentTime = fallbackSentTime
	return failed
}

func itemKind(raw transport.Item) domain.ItemKind {
	switch raw.Kind {
	case string(domain.KindMessage):
		return domain.KindMessage
	case string(domain.KindEvent):
		return domain.KindEvent
	case string(domain.KindAttachment):
		return domain.KindAttachment
	}
	// Classify by content when the endpoint omits the kind.
	if raw.Attachment != nil {
		return domain.KindAttachment
	}
	if domain.IsEventContentType(raw.ContentType) {
		return domain.KindEvent
	}
	return domain.KindMessage
}
