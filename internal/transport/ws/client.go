package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/logging"
	"github.com/tamsinv/parley/internal/transport"
)

// ErrNotConnected is returned for requests issued before Connect succeeds
// or after the connection is torn down.
var ErrNotConnected = errors.New("ws: not connected")

const defaultRequestTimeout = 30 * time.Second

// Config holds the connection parameters for a chat endpoint.
type Config struct {
	URL            string
	Token          string
	ContactID      string
	Participant    domain.Participant
	RequestTimeout time.Duration
}

// Client implements transport.Client over a WebSocket connection. Requests
// are correlated to responses by frame ID; endpoint-pushed events are
// dispatched to the registered handlers from the read loop.
type Client struct {
	cfg Config
	log *logging.Logger

	writeMu sync.Mutex // serializes WriteJSON
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	pending map[string]chan Frame

	hmu      sync.RWMutex
	handlers transport.Handlers
}

// NewClient creates a client for the given endpoint. Connect must be called
// before any request.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Client{
		cfg:     cfg,
		log:     log.Sub("ws"),
		pending: make(map[string]chan Frame),
	}
}

// SetHandlers registers the event subscription hooks. Call before Connect.
func (c *Client) SetHandlers(h transport.Handlers) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers = h
}

// Connect dials the endpoint, starts the read loop, and performs the
// connect handshake.
func (c *Client) Connect(ctx context.Context) (transport.ConnectAck, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return transport.ConnectAck{}, fmt.Errorf("ws dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)

	payload, err := c.request(ctx, MethodConnect, ConnectParams{
		Token:       c.cfg.Token,
		ContactID:   c.cfg.ContactID,
		Participant: c.cfg.Participant,
	})
	if err != nil {
		c.teardown(conn)
		return transport.ConnectAck{}, err
	}

	var ack transport.ConnectAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		c.teardown(conn)
		return transport.ConnectAck{}, fmt.Errorf("ws connect ack: %w", err)
	}

	c.log.Info().Str("connectionId", ack.ConnectionID).Msg("connected")

	c.hmu.RLock()
	established := c.handlers.ConnectionEstablished
	c.hmu.RUnlock()
	if established != nil {
		established()
	}
	return ack, nil
}

// Disconnect tells the endpoint the session is over and closes the socket.
// The local teardown happens regardless of the endpoint's answer.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.request(ctx, MethodDisconnect, struct{}{})

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.teardown(conn)
	}
	return err
}

// SendMessage delivers an outbound message.
func (c *Client) SendMessage(ctx context.Context, contentType, content string) (transport.SendAck, error) {
	return c.sendAck(ctx, MethodSendMessage, SendMessageParams{ContentType: contentType, Content: content})
}

// SendEvent delivers a protocol event (typing, receipts).
func (c *Client) SendEvent(ctx context.Context, contentType, content string) (transport.SendAck, error) {
	return c.sendAck(ctx, MethodSendEvent, SendMessageParams{ContentType: contentType, Content: content})
}

// SendAttachment delivers an attachment reference.
func (c *Client) SendAttachment(ctx context.Context, att domain.Attachment) (transport.SendAck, error) {
	return c.sendAck(ctx, MethodSendAttachment, SendAttachmentParams{Attachment: att})
}

// FetchTranscriptPage requests one page of transcript history.
func (c *Client) FetchTranscriptPage(ctx context.Context, args transport.FetchArgs) (transport.Page, error) {
	payload, err := c.request(ctx, MethodGetTranscript, args)
	if err != nil {
		return transport.Page{}, err
	}
	var page transport.Page
	if err := json.Unmarshal(payload, &page); err != nil {
		return transport.Page{}, fmt.Errorf("ws transcript page: %w", err)
	}
	return page, nil
}

// DownloadAttachment resolves an attachment ID to a download URL.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentID string) (string, error) {
	payload, err := c.request(ctx, MethodAttachmentURL, AttachmentURLParams{AttachmentID: attachmentID})
	if err != nil {
		return "", err
	}
	var res AttachmentURLResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", fmt.Errorf("ws attachment url: %w", err)
	}
	return res.URL, nil
}

func (c *Client) sendAck(ctx context.Context, method string, params any) (transport.SendAck, error) {
	payload, err := c.request(ctx, method, params)
	if err != nil {
		return transport.SendAck{}, err
	}
	var ack transport.SendAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return transport.SendAck{}, fmt.Errorf("ws send ack: %w", err)
	}
	return ack, nil
}

// request writes a request frame and blocks until the matching response
// frame arrives, the context is cancelled, or the request timeout elapses.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.New().String()
	frame, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.conn == nil || c.closed {
		c.mu.Unlock()
		return nil, &transport.RequestError{Kind: transport.ErrorKindTransport, Err: ErrNotConnected}
	}
	conn := c.conn
	ch := make(chan Frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, &transport.RequestError{Kind: transport.ErrorKindTransport, Message: "write failed", Err: err}
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Error != nil {
			return nil, &transport.RequestError{Kind: kindForCode(res.Error.Code), Message: res.Error.Message}
		}
		return res.Payload, nil
	case <-ctx.Done():
		return nil, &transport.RequestError{Kind: transport.ErrorKindTransport, Message: method + " cancelled", Err: ctx.Err()}
	case <-timer.C:
		return nil, &transport.RequestError{Kind: transport.ErrorKindTransport, Message: method + " timed out"}
	}
}

// readLoop pumps frames off the socket until it closes, routing responses
// to their pending requests and events to the registered handlers.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.closed
			c.mu.Unlock()
			if !deliberate {
				c.log.Warn().Err(err).Msg("connection broken")
				c.hmu.RLock()
				broken := c.handlers.ConnectionBroken
				c.hmu.RUnlock()
				if broken != nil {
					broken()
				}
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}

		switch f.Type {
		case FrameTypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case FrameTypeEvent:
			c.dispatchEvent(f)
		}
	}
}

func (c *Client) dispatchEvent(f Frame) {
	c.hmu.RLock()
	h := c.handlers
	c.hmu.RUnlock()

	switch f.Event {
	case EventMessage:
		if h.Message == nil {
			return
		}
		var item transport.Item
		if err := json.Unmarshal(f.Payload, &item); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message event")
			return
		}
		h.Message(item)
	case EventTyping:
		if h.Typing == nil {
			return
		}
		var ev transport.TypingEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed typing event")
			return
		}
		h.Typing(ev)
	case EventReadReceipt, EventDeliveredReceipt:
		var ev transport.ReceiptEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed receipt event")
			return
		}
		if f.Event == EventReadReceipt && h.ReadReceipt != nil {
			h.ReadReceipt(ev)
		} else if f.Event == EventDeliveredReceipt && h.DeliveredReceipt != nil {
			h.DeliveredReceipt(ev)
		}
	case EventEnded:
		if h.Ended != nil {
			h.Ended()
		}
	default:
		c.log.Debug().Str("event", f.Event).Msg("ignoring unknown event")
	}
}

// teardown marks the client closed and closes the socket. Pending requests
// fail on their timeouts.
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()
	c.log.Info().Msg("disconnected")
}
