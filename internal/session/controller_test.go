package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/logging"
	"github.com/tamsinv/parley/internal/transport"
)

// fakeTransport is a scriptable transport.Client. Tests push endpoint
// events through the captured handlers.
type fakeTransport struct {
	mu       sync.Mutex
	handlers transport.Handlers
	seq      int

	connectErr    error
	disconnectErr error
	fetchErr      error
	page          transport.Page

	sendMessageFn    func(contentType, content string) (transport.SendAck, error)
	sendAttachmentFn func(att domain.Attachment) (transport.SendAck, error)

	events      []sentEvent
	disconnects int
}

type sentEvent struct {
	contentType string
	content     string
}

func (f *fakeTransport) SetHandlers(h transport.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
}

func (f *fakeTransport) Connect(ctx context.Context) (transport.ConnectAck, error) {
	if f.connectErr != nil {
		return transport.ConnectAck{}, f.connectErr
	}
	return transport.ConnectAck{ConnectionID: "conn-1"}, nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return f.disconnectErr
}

func (f *fakeTransport) ack() transport.SendAck {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return transport.SendAck{ID: fmt.Sprintf("srv-%d", f.seq), SentTime: float64(1000 + f.seq)}
}

func (f *fakeTransport) SendMessage(ctx context.Context, contentType, content string) (transport.SendAck, error) {
	if f.sendMessageFn != nil {
		return f.sendMessageFn(contentType, content)
	}
	return f.ack(), nil
}

func (f *fakeTransport) SendEvent(ctx context.Context, contentType, content string) (transport.SendAck, error) {
	f.mu.Lock()
	f.events = append(f.events, sentEvent{contentType: contentType, content: content})
	f.mu.Unlock()
	return f.ack(), nil
}

func (f *fakeTransport) SendAttachment(ctx context.Context, att domain.Attachment) (transport.SendAck, error) {
	if f.sendAttachmentFn != nil {
		return f.sendAttachmentFn(att)
	}
	return f.ack(), nil
}

func (f *fakeTransport) FetchTranscriptPage(ctx context.Context, args transport.FetchArgs) (transport.Page, error) {
	if f.fetchErr != nil {
		return transport.Page{}, f.fetchErr
	}
	return f.page, nil
}

func (f *fakeTransport) DownloadAttachment(ctx context.Context, attachmentID string) (string, error) {
	return "https://files.test.invalid/" + attachmentID, nil
}

func (f *fakeTransport) sentEvents() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.events...)
}

func (f *fakeTransport) pushMessage(item transport.Item) {
	f.mu.Lock()
	h := f.handlers.Message
	f.mu.Unlock()
	h(item)
}

var self = domain.Participant{ID: "cust-1", DisplayName: "Pat"}

func newController(t *testing.T, ft *fakeTransport, cb Callbacks) *Controller {
	t.Helper()
	return New(Options{
		Transport: ft,
		ContactID: "contact-1",
		Self:      self,
		Callbacks: cb,
		TypingTTL: time.Minute,
		Logger:    logging.New(nil, "silent"),
	})
}

func rawItem(id string, sentTime float64, participantID, role string) transport.Item {
	return transport.Item{
		ID:              id,
		Kind:            "message",
		ParticipantID:   participantID,
		ParticipantRole: role,
		ContentType:     domain.ContentTypeTextPlain,
		Content:         "body " + id,
		SentTime:        sentTime,
	}
}

func agentItem(id string, sentTime float64) transport.Item {
	return rawItem(id, sentTime, "agent-1", string(domain.RoleAgent))
}

func TestOpen_Success(t *testing.T) {
	ft := &fakeTransport{page: transport.Page{
		Items:     []transport.Item{agentItem("h1", 1), agentItem("h2", 2)},
		NextToken: "tok-1",
	}}

	var statuses []domain.ContactStatus
	c := newController(t, ft, Callbacks{
		ContactStatusChanged: func(s domain.ContactStatus) { statuses = append(statuses, s) },
	})

	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, []domain.ContactStatus{domain.ContactConnecting, domain.ContactConnected}, statuses)
	assert.Equal(t, domain.ContactConnected, c.Status())
	assert.Len(t, c.Transcript(), 2, "initial page merged")
}

func TestOpen_ConnectFailure(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("dial refused")}
	c := newController(t, ft, Callbacks{})

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ContactDisconnected, c.Status())
}

func TestOpen_FetchFailureDegradesSilently(t *testing.T) {
	ft := &fakeTransport{fetchErr: errors.New("page boom")}
	c := newController(t, ft, Callbacks{})

	require.NoError(t, c.Open(context.Background()))
	assert.Empty(t, c.Transcript())
	assert.Equal(t, domain.ContactConnected, c.Status())
}

func TestSendMessage_OptimisticThenSettled(t *testing.T) {
	ft := &fakeTransport{}

	var snapshots [][]domain.TranscriptItem
	c := newController(t, ft, Callbacks{
		TranscriptChanged: func(items []domain.TranscriptItem) { snapshots = append(snapshots, items) },
	})

	c.SendMessage(context.Background(), domain.ContentTypeTextPlain, "hello")

	require.GreaterOrEqual(t, len(snapshots), 2)
	first := snapshots[0]
	require.Len(t, first, 1)
	assert.Equal(t, domain.StatusSending, first[0].Status, "provisional item visible before the send completes")

	final := c.Transcript()
	require.Len(t, final, 1)
	assert.Equal(t, "srv-1", final[0].ID)
	assert.Equal(t, domain.StatusSendSuccess, final[0].Status)
}

func TestSendMessage_FailureProducesRetryableItem(t *testing.T) {
	ft := &fakeTransport{}
	failing := true
	ft.sendMessageFn = func(contentType, content string) (transport.SendAck, error) {
		if failing {
			return transport.SendAck{}, errors.New("network down")
		}
		return ft.ack(), nil
	}

	c := newController(t, ft, Callbacks{})
	c.SendMessage(context.Background(), domain.ContentTypeTextPlain, "hello")

	items := c.Transcript()
	require.Len(t, items, 1)
	failed := items[0]
	assert.Equal(t, domain.StatusSendFailed, failed.Status)
	assert.NotEmpty(t, failed.FailureMessage)
	require.NotNil(t, failed.Retry)

	// The failed item keeps its tail position: one tick past the last entry.
	assert.Greater(t, failed.SentTime, float64(0))

	failing = false
	failed.Retry()

	items = c.Transcript()
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status, "retry resends an equivalent item")
}

func TestSendMessage_FailureFallbackTimestamp(t *testing.T) {
	ft := &fakeTransport{}
	ft.sendMessageFn = func(contentType, content string) (transport.SendAck, error) {
		return transport.SendAck{}, errors.New("boom")
	}

	c := newController(t, ft, Callbacks{})
	c.SendMessage(context.Background(), domain.ContentTypeTextPlain, "hello")

	items := c.Transcript()
	require.Len(t, items, 1)
	prov := items[0]

	// Transcript otherwise empty, so the fallback is the provisional's own
	// sentTime plus the ordering tick.
	got := c.Transcript()[0].SentTime
	assert.InDelta(t, prov.SentTime, got, 0.002)
}

func TestSendAttachment_QuotaFailureNotRetryable(t *testing.T) {
	ft := &fakeTransport{}
	ft.sendAttachmentFn = func(att domain.Attachment) (transport.SendAck, error) {
		return transport.SendAck{}, &transport.RequestError{
			Kind: transport.ErrorKindQuotaExceeded, Message: "too big",
		}
	}

	c := newController(t, ft, Callbacks{})
	c.SendAttachment(context.Background(), domain.Attachment{Filename: "big.png", MimeType: "image/png", Size: 1 << 30})

	items := c.Transcript()
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusSendFailed, items[0].Status)
	assert.Contains(t, items[0].FailureMessage, "quota")
	assert.Nil(t, items[0].Retry, "quota failures are final")
}

func TestSendAttachment_ValidationFailureNotRetryable(t *testing.T) {
	ft := &fakeTransport{}
	ft.sendAttachmentFn = func(att domain.Attachment) (transport.SendAck, error) {
		return transport.SendAck{}, &transport.RequestError{
			Kind: transport.ErrorKindValidation, Message: "bad type",
		}
	}

	c := newController(t, ft, Callbacks{})
	c.SendAttachment(context.Background(), domain.Attachment{Filename: "x.exe", MimeType: "application/x-msdownload"})

	items := c.Transcript()
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Retry)
}

func TestSendAttachment_TransportFailureRetryable(t *testing.T) {
	ft := &fakeTransport{}
	ft.sendAttachmentFn = func(att domain.Attachment) (transport.SendAck, error) {
		return transport.SendAck{}, errors.New("connection reset")
	}

	c := newController(t, ft, Callbacks{})
	c.SendAttachment(context.Background(), domain.Attachment{Filename: "note.txt", MimeType: "text/plain"})

	items := c.Transcript()
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].Retry)
}

func TestIncomingAgentMessage_MergedAndDeliveredReceiptSent(t *testing.T) {
	ft := &fakeTransport{}

	var incoming []domain.TranscriptItem
	c := newController(t, ft, Callbacks{
		Incoming: func(item domain.TranscriptItem) { incoming = append(incoming, item) },
	})
	require.NoError(t, c.Open(context.Background()))

	ft.pushMessage(agentItem("a1", 10))

	items := c.Transcript()
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ID)
	assert.Equal(t, domain.DirectionIncoming, items[0].Direction)
	require.Len(t, incoming, 1)

	require.Eventually(t, func() bool {
		for _, ev := range ft.sentEvents() {
			if ev.contentType == domain.ContentTypeEventMessageDelivered {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "delivered receipt emitted for agent message")
}

func TestInFlightEchoSuppression(t *testing.T) {
	ft := &fakeTransport{}
	started := make(chan struct{})
	release := make(chan struct{})
	ft.sendMessageFn = func(contentType, content string) (transport.SendAck, error) {
		close(started)
		<-release
		return ft.ack(), nil
	}

	c := newController(t, ft, Callbacks{})

	done := make(chan struct{})
	go func() {
		c.SendMessage(context.Background(), domain.ContentTypeTextPlain, "hello")
		close(done)
	}()

	<-started
	// Server echoes the customer's own message while the send is in flight.
	ft.pushMessage(rawItem("echo-1", 50, "other-customer-conn", string(domain.RoleCustomer)))

	items := c.Transcript()
	require.Len(t, items, 1, "echo suppressed; only the provisional item is present")
	assert.Equal(t, domain.StatusSending, items[0].Status)

	close(release)
	<-done

	items = c.Transcript()
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusSendSuccess, items[0].Status)
}

func TestCustomerMessageMergedWhenNoSendInFlight(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))

	ft.pushMessage(rawItem("c1", 5, "cust-other", string(domain.RoleCustomer)))
	assert.Len(t, c.Transcript(), 1)
}

func TestSelfEventEchoNeverMerged(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))

	echo := transport.Item{
		ID:              "ev-1",
		Kind:            "event",
		ParticipantID:   self.ID,
		ParticipantRole: string(domain.RoleCustomer),
		ContentType:     domain.ContentTypeEventParticipantJoined,
		SentTime:        5,
	}
	ft.pushMessage(echo)

	assert.Empty(t, c.Transcript(), "self-originated event echo is filtered before merge")
}

func TestReadReceiptTriggerOnPageLoad(t *testing.T) {
	ft := &fakeTransport{page: transport.Page{Items: []transport.Item{
		rawItem("o1", 1, self.ID, string(domain.RoleCustomer)),
		agentItem("i1", 2),
		agentItem("i2", 3),
		rawItem("o2", 4, self.ID, string(domain.RoleCustomer)),
		rawItem("o3", 5, self.ID, string(domain.RoleCustomer)),
	}}}

	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))

	require.Eventually(t, func() bool {
		for _, ev := range ft.sentEvents() {
			if ev.contentType == domain.ContentTypeEventMessageRead {
				assert.Contains(t, ev.content, "i2")
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "read receipt emitted for the last incoming item")
}

func TestReceiptForUnknownMessageIsNoOp(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))

	ft.pushMessage(agentItem("a1", 1))
	before := c.Transcript()

	ft.handlers.ReadReceipt(transport.ReceiptEvent{MessageID: "zzz", Timestamp: 99})

	assert.Equal(t, before, c.Transcript(), "unknown-id receipt leaves the transcript unchanged")
}

func TestReceiptUpdatesItem(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Callbacks{})

	c.SendMessage(context.Background(), domain.ContentTypeTextPlain, "hello")
	sent := c.Transcript()[0]

	ft.handlers.DeliveredReceipt(transport.ReceiptEvent{MessageID: sent.ID, Timestamp: sent.SentTime + 2})

	items := c.Transcript()
	require.Len(t, items, 1)
	assert.Equal(t, domain.StatusDelivered, items[0].Status)
	assert.Equal(t, domain.ReceiptDelivered, items[0].ReceiptType)
	assert.True(t, items[0].LastDeliveredReceipt)

	ft.handlers.ReadReceipt(transport.ReceiptEvent{MessageID: sent.ID, Timestamp: sent.SentTime + 3})

	items = c.Transcript()
	assert.Equal(t, domain.StatusRead, items[0].Status)
	assert.True(t, items[0].LastReadReceipt)
	assert.False(t, items[0].LastDeliveredReceipt, "read takes priority over delivered")
}

func TestTypingEvents(t *testing.T) {
	ft := &fakeTransport{}

	var mu sync.Mutex
	var lastSet []string
	c := newController(t, ft, Callbacks{
		TypingChanged: func(p []string) {
			mu.Lock()
			lastSet = p
			mu.Unlock()
		},
	})
	require.NoError(t, c.Open(context.Background()))

	ft.handlers.Typing(transport.TypingEvent{ParticipantID: self.ID})
	assert.Empty(t, c.TypingParticipants(), "own typing events are round-trip noise")

	ft.handlers.Typing(transport.TypingEvent{ParticipantID: "agent-1"})
	assert.Equal(t, []string{"agent-1"}, c.TypingParticipants())
	mu.Lock()
	assert.Equal(t, []string{"agent-1"}, lastSet)
	mu.Unlock()

	// An identity-bearing message clears all typing indicators.
	ft.pushMessage(agentItem("a1", 1))
	assert.Empty(t, c.TypingParticipants())
}

func TestChatEnded(t *testing.T) {
	ft := &fakeTransport{}

	closed := false
	disconnected := false
	c := newController(t, ft, Callbacks{
		ChatClosed:       func() { closed = true },
		ChatDisconnected: func() { disconnected = true },
	})
	require.NoError(t, c.Open(context.Background()))

	ft.handlers.Typing(transport.TypingEvent{ParticipantID: "agent-1"})
	ft.handlers.Ended()

	assert.Equal(t, domain.ContactEnded, c.Status())
	assert.True(t, closed)
	assert.True(t, disconnected)
	assert.Empty(t, c.TypingParticipants(), "typing state torn down with the session")
}

func TestEndChat_DisconnectFailureStillEnds(t *testing.T) {
	ft := &fakeTransport{disconnectErr: errors.New("already gone")}
	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))

	c.EndChat(context.Background())

	assert.Equal(t, domain.ContactEnded, c.Status())
	assert.Equal(t, 1, ft.disconnects)
}

func TestLoadEarlierMessages_UsesContinuationToken(t *testing.T) {
	ft := &fakeTransport{page: transport.Page{
		Items:     []transport.Item{agentItem("h1", 1)},
		NextToken: "tok-1",
	}}
	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))
	require.Len(t, c.Transcript(), 1)

	ft.page = transport.Page{Items: []transport.Item{agentItem("h0", 0.5)}}
	c.LoadEarlierMessages(context.Background())

	items := c.Transcript()
	require.Len(t, items, 2)
	assert.Equal(t, "h0", items[0].ID, "older page merges ahead of the existing items")
}

func TestMalformedIncomingDropped(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Callbacks{})
	require.NoError(t, c.Open(context.Background()))

	ft.pushMessage(transport.Item{ID: "", SentTime: 0})
	assert.Empty(t, c.Transcript())
}
