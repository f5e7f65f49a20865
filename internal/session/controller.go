// Package session orchestrates transport events into transcript and typing
// state, and exposes the typed callback surface UI collaborators consume.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/logging"
	"github.com/tamsinv/parley/internal/transcript"
	"github.com/tamsinv/parley/internal/transport"
	"github.com/tamsinv/parley/internal/typing"
)

const defaultPageSize = 15

// Options configure a Controller. Transport, ContactID, and Self are
// required; everything else has defaults.
type Options struct {
	Transport transport.Client
	ContactID string
	Self      domain.Participant
	Mapper    Mapper
	Callbacks Callbacks
	TypingTTL time.Duration
	PageSize  int
	Logger    *logging.Logger
}

// Controller owns one chat contact's session state. All mutations to the
// transcript route through the transcript package's merge primitive, so the
// ordering and receipt-flag invariants hold after every event.
type Controller struct {
	transport transport.Client
	mapper    Mapper
	typing    *typing.Registry
	cb        Callbacks
	log       *logging.Logger

	contactID string
	self      domain.Participant
	pageSize  int

	mu              sync.Mutex
	status          domain.ContactStatus
	items           []domain.TranscriptItem
	nextToken       string
	sendInFlight    bool
	lastReadReceipt string // message ID of the last outbound read receipt
}

// New creates a controller for one contact and wires the transport's event
// hooks. Call Open to start the session.
func New(opts Options) *Controller {
	if opts.Mapper == nil {
		opts.Mapper = DefaultMapper{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	log := opts.Logger.Sub("session")
	c := &Controller{
		transport: opts.Transport,
		mapper:    opts.Mapper,
		typing:    typing.NewRegistry(opts.TypingTTL, opts.Logger),
		cb:        opts.Callbacks,
		log:       log,
		contactID: opts.ContactID,
		self:      opts.Self,
		pageSize:  opts.PageSize,
		status:    domain.ContactDisconnected,
	}

	c.typing.OnChange(func(participants []string) {
		if c.cb.TypingChanged != nil {
			c.cb.TypingChanged(participants)
		}
	})

	c.transport.SetHandlers(transport.Handlers{
		Message:          c.handleIncomingMessage,
		Typing:           c.handleTyping,
		ReadReceipt:      func(ev transport.ReceiptEvent) { c.handleReceipt(domain.ReceiptRead, ev) },
		DeliveredReceipt: func(ev transport.ReceiptEvent) { c.handleReceipt(domain.ReceiptDelivered, ev) },
		Ended:            c.handleEnded,
		ConnectionBroken: c.handleConnectionBroken,
	})

	return c
}

// Open connects the transport and loads the most recent transcript page.
// On connect failure the status reverts to disconnected and the error
// propagates; a failed initial page load only degrades (logged, empty).
func (c *Controller) Open(ctx context.Context) error {
	c.setStatus(domain.ContactConnecting)

	if _, err := c.transport.Connect(ctx); err != nil {
		c.setStatus(domain.ContactDisconnected)
		return fmt.Errorf("session open: %w", err)
	}

	c.setStatus(domain.ContactConnected)
	c.log.Info().Str("contact", c.contactID).Msg("session connected")
	c.loadPage(ctx, "")
	return nil
}

// Status returns the current contact status.
func (c *Controller) Status() domain.ContactStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcript returns a snapshot of the reconciled transcript.
func (c *Controller) Transcript() []domain.TranscriptItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TranscriptItem(nil), c.items...)
}

// TypingParticipants returns the currently-typing participant IDs.
func (c *Controller) TypingParticipants() []string {
	return c.typing.Active()
}

// SendMessage sends text optimistically: a provisional Sending item lands
// in the transcript before the network call, and is replaced by the settled
// or failed item when the call completes. Send failures never propagate;
// they surface as a failed transcript item with a retry affordance.
func (c *Controller) SendMessage(ctx context.Context, contentType, text string) {
	prov := c.provisionalItem(domain.KindMessage, contentType, text, nil)
	c.mergeOptimistic(prov)

	ack, err := c.transport.SendMessage(ctx, contentType, text)
	if err != nil {
		c.log.Warn().Err(err).Str("item", prov.ID).Msg("message send failed")
		c.settleFailure(prov, "message could not be sent", func() {
			c.removeItem(prov.ID)
			c.SendMessage(context.Background(), contentType, text)
		})
		return
	}
	c.settleSuccess(prov, ack)
}

// SendAttachment sends an attachment with the same optimistic pattern.
// Failures are classified: quota and validation rejections are final, while
// transport failures carry a retry affordance.
func (c *Controller) SendAttachment(ctx context.Context, att domain.Attachment) {
	prov := c.provisionalItem(domain.KindAttachment, att.MimeType, att.Filename, &att)
	c.mergeOptimistic(prov)

	ack, err := c.transport.SendAttachment(ctx, att)
	if err != nil {
		kind := transport.KindOf(err)
		c.log.Warn().Err(err).Str("item", prov.ID).Str("kind", string(kind)).Msg("attachment send failed")

		var msg string
		var retry func()
		switch kind {
		case transport.ErrorKindQuotaExceeded:
			msg = "attachment rejected: the size quota for this conversation is exhausted"
		case transport.ErrorKindValidation:
			msg = "attachment rejected by the endpoint's content policy"
		default:
			msg = "attachment could not be uploaded"
			retry = func() {
				c.removeItem(prov.ID)
				c.SendAttachment(context.Background(), att)
			}
		}
		c.settleFailure(prov, msg, retry)
		return
	}
	c.settleSuccess(prov, ack)
}

// LoadEarlierMessages fetches the next older transcript page using the
// stored continuation token. Fetch failures degrade silently.
func (c *Controller) LoadEarlierMessages(ctx context.Context) {
	c.mu.Lock()
	token := c.nextToken
	c.mu.Unlock()
	c.loadPage(ctx, token)
}

// EndChat tears the session down. Disconnect failures are logged, never
// propagated: the local session ends unconditionally.
func (c *Controller) EndChat(ctx context.Context) {
	if err := c.transport.Disconnect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("disconnect failed, tearing down anyway")
	}
	c.finish(domain.ContactEnded)
}

// --- transport event handlers ---

// handleIncomingMessage decodes an endpoint-pushed item and folds it into
// the transcript, unless it is the server echo of a send still in flight.
func (c *Controller) handleIncomingMessage(raw transport.Item) {
	item, err := c.mapper.FromIncoming(raw, c.self)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed incoming item")
		return
	}

	if item.Direction == domain.DirectionIncoming {
		if c.cb.Incoming != nil {
			c.cb.Incoming(item)
		}
		if item.IsUserContent() && item.ParticipantRole != domain.RoleSystem {
			// Attachments bypass receipt throttling so the sender learns
			// promptly that the upload landed.
			go c.sendReceipt(domain.ContentTypeEventMessageDelivered, item.ID, item.Kind == domain.KindAttachment)
		}
	} else if c.cb.Outgoing != nil {
		c.cb.Outgoing(item)
	}

	if item.IsUserContent() {
		c.typing.OnParticipantMessageArrived(item.ParticipantID)
	}

	c.mu.Lock()
	if c.sendInFlight && item.ParticipantRole == domain.RoleCustomer {
		// Server echo of the optimistic item already on screen.
		c.mu.Unlock()
		c.log.Debug().Str("item", item.ID).Msg("suppressing in-flight echo")
		return
	}
	res, err := transcript.MergeItems(c.items, []domain.TranscriptItem{item}, c.suppressSelfEvents)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("merge rejected incoming item")
		return
	}
	c.items = res.Items
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	receiptTarget := c.takeReadReceiptTarget(res)
	c.mu.Unlock()

	c.notifyTranscript(snapshot)
	if receiptTarget != "" {
		go c.sendReceipt(domain.ContentTypeEventMessageRead, receiptTarget, false)
	}
}

// handleReceipt resolves a delivered/read acknowledgment against the local
// transcript. Unknown message IDs are a no-op: the referenced item may live
// on a page that has not been fetched yet.
func (c *Controller) handleReceipt(rt domain.ReceiptType, ev transport.ReceiptEvent) {
	c.mu.Lock()
	item, ok := transcript.FindByID(c.items, ev.MessageID)
	if !ok {
		c.mu.Unlock()
		c.log.Debug().Str("messageId", ev.MessageID).Str("receipt", string(rt)).Msg("receipt for unknown message")
		return
	}

	if ev.Timestamp > 0 {
		// Observability only; the value never affects reconciliation.
		latency := ev.Timestamp - item.SentTime
		c.log.Debug().Str("messageId", ev.MessageID).Str("receipt", string(rt)).Float64("latencySec", latency).Msg("receipt")
	}

	updated := item
	updated.ReceiptType = rt
	if rt == domain.ReceiptRead {
		updated.Status = domain.StatusRead
	} else {
		updated.Status = domain.StatusDelivered
	}

	res, err := transcript.ReplaceItem(c.items, item.ID, updated, c.suppressSelfEvents)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("merge rejected receipt update")
		return
	}
	c.items = res.Items
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	c.mu.Unlock()

	c.notifyTranscript(snapshot)
}

func (c *Controller) handleTyping(ev transport.TypingEvent) {
	c.typing.OnTypingEvent(ev.ParticipantID, func(id string) bool {
		return id == c.self.ID
	})
}

func (c *Controller) handleEnded() {
	c.finish(domain.ContactEnded)
}

func (c *Controller) handleConnectionBroken() {
	c.setStatus(domain.ContactDisconnected)
	if c.cb.ChatDisconnected != nil {
		c.cb.ChatDisconnected()
	}
}

// --- send bookkeeping ---

func (c *Controller) provisionalItem(kind domain.ItemKind, contentType, content string, att *domain.Attachment) domain.TranscriptItem {
	return domain.TranscriptItem{
		ID:              uuid.New().String(),
		Kind:            kind,
		ParticipantID:   c.self.ID,
		ParticipantRole: domain.RoleCustomer,
		DisplayName:     c.self.DisplayName,
		ContentType:     contentType,
		Content:         content,
		Direction:       domain.DirectionOutgoing,
		Status:          domain.StatusSending,
		SentTime:        nowSeconds(),
		Attachment:      att,
	}
}

// mergeOptimistic puts the provisional item in the transcript and raises
// the in-flight flag before the network call starts, so the completion
// callback always finds its replace target and echoes are suppressed.
func (c *Controller) mergeOptimistic(prov domain.TranscriptItem) {
	c.mu.Lock()
	res, err := transcript.MergeItems(c.items, []domain.TranscriptItem{prov}, nil)
	if err != nil {
		// Provisional items are constructed locally; this cannot happen
		// unless the construction itself is buggy.
		c.mu.Unlock()
		panic(err)
	}
	c.items = res.Items
	c.sendInFlight = true
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	c.mu.Unlock()

	c.notifyTranscript(snapshot)
}

func (c *Controller) settleSuccess(prov domain.TranscriptItem, ack transport.SendAck) {
	settled := c.mapper.FromSendSuccess(prov, ack)

	c.mu.Lock()
	res, err := transcript.ReplaceItem(c.items, prov.ID, settled, nil)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("merge rejected settled item")
		c.clearInFlight()
		return
	}
	c.items = res.Items
	c.sendInFlight = false
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	c.mu.Unlock()

	c.notifyTranscript(snapshot)
}

func (c *Controller) settleFailure(prov domain.TranscriptItem, msg string, retry func()) {
	c.mu.Lock()
	// Keep the failed item at the tail: one tick past the last entry
	// (normally the provisional itself), or 0.001 on an empty transcript.
	fallback := transcript.LastSentTime(c.items) + 0.001
	failed := c.mapper.FromFailure(prov, fallback)
	failed.FailureMessage = msg
	failed.Retry = retry

	res, err := transcript.ReplaceItem(c.items, prov.ID, failed, nil)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("merge rejected failed item")
		c.clearInFlight()
		return
	}
	c.items = res.Items
	c.sendInFlight = false
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	c.mu.Unlock()

	c.notifyTranscript(snapshot)
}

func (c *Controller) clearInFlight() {
	c.mu.Lock()
	c.sendInFlight = false
	c.mu.Unlock()
}

func (c *Controller) removeItem(id string) {
	c.mu.Lock()
	c.items = transcript.RemoveItem(c.items, id)
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	c.mu.Unlock()
	c.notifyTranscript(snapshot)
}

// --- pagination ---

func (c *Controller) loadPage(ctx context.Context, token string) {
	page, err := c.transport.FetchTranscriptPage(ctx, transport.FetchArgs{
		ScanDirection:     transport.ScanBackward,
		SortOrder:         transport.SortAscending,
		MaxResults:        c.pageSize,
		ContinuationToken: token,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("transcript page fetch failed")
		return
	}

	mapped := make([]domain.TranscriptItem, 0, len(page.Items))
	for _, raw := range page.Items {
		item, err := c.mapper.FromIncoming(raw, c.self)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed transcript item")
			continue
		}
		mapped = append(mapped, item)
	}

	c.mu.Lock()
	res, err := transcript.MergeItems(c.items, mapped, c.suppressSelfEvents)
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("merge rejected transcript page")
		return
	}
	c.items = res.Items
	c.nextToken = page.NextToken
	snapshot := append([]domain.TranscriptItem(nil), c.items...)
	receiptTarget := c.takeReadReceiptTarget(res)
	c.mu.Unlock()

	c.notifyTranscript(snapshot)
	if receiptTarget != "" {
		go c.sendReceipt(domain.ContentTypeEventMessageRead, receiptTarget, false)
	}
}

// --- shared helpers ---

// suppressSelfEvents drops round-trip echoes of the local participant's own
// system events before they reach the transcript.
func (c *Controller) suppressSelfEvents(it domain.TranscriptItem) bool {
	return domain.IsEventContentType(it.ContentType) && it.ParticipantID == c.self.ID
}

// takeReadReceiptTarget dedupes the merge's read-receipt trigger so the
// same incoming item is acknowledged at most once. Caller holds c.mu.
func (c *Controller) takeReadReceiptTarget(res transcript.MergeResult) string {
	if res.ReadReceiptFor == nil {
		return ""
	}
	id := res.ReadReceiptFor.ID
	if id == c.lastReadReceipt {
		return ""
	}
	c.lastReadReceipt = id
	return id
}

// sendReceipt emits an outbound receipt event. Always called off the
// transport's event goroutine so the read loop never blocks waiting for its
// own response.
func (c *Controller) sendReceipt(contentType, messageID string, disableThrottle bool) {
	content, err := json.Marshal(transport.ReceiptContent{
		MessageID:       messageID,
		DisableThrottle: disableThrottle,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("marshal receipt content")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.transport.SendEvent(ctx, contentType, string(content)); err != nil {
		c.log.Warn().Err(err).Str("messageId", messageID).Msg("receipt send failed")
	}
}

func (c *Controller) setStatus(status domain.ContactStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.cb.ContactStatusChanged != nil {
		c.cb.ContactStatusChanged(status)
	}
}

// finish moves the contact to a terminal state and tears down typing state.
func (c *Controller) finish(status domain.ContactStatus) {
	c.typing.Clear()
	c.setStatus(status)
	if c.cb.ChatDisconnected != nil {
		c.cb.ChatDisconnected()
	}
	if c.cb.ChatClosed != nil {
		c.cb.ChatClosed()
	}
}

func (c *Controller) notifyTranscript(snapshot []domain.TranscriptItem) {
	if c.cb.TranscriptChanged != nil {
		c.cb.TranscriptChanged(snapshot)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}
