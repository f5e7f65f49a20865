package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/logging"
	"github.com/tamsinv/parley/internal/transport"
)

// SimulatorConfig tunes the loopback endpoint.
type SimulatorConfig struct {
	Agent             domain.Participant
	ReplyDelay        time.Duration
	AutoReply         bool
	MaxAttachmentSize int64
}

// Simulator is a loopback chat endpoint speaking the same frame protocol as
// a production endpoint. It lets the CLI run a full session locally and
// gives the client tests a real socket to talk to.
type Simulator struct {
	cfg      SimulatorConfig
	log      *logging.Logger
	upgrader websocket.Upgrader
	seq      atomic.Int64

	httpServer *http.Server
	listener   net.Listener

	mu    sync.Mutex
	items []transport.Item
}

// NewSimulator creates a simulator with sensible defaults.
func NewSimulator(cfg SimulatorConfig, log *logging.Logger) *Simulator {
	if cfg.Agent.ID == "" {
		cfg.Agent = domain.Participant{ID: "agent-sim", DisplayName: "Sim Agent"}
	}
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = 5 << 20
	}
	return &Simulator{
		cfg: cfg,
		log: log.Sub("simulator"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port).
func (s *Simulator) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("simulator listen: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleWS)
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("simulator serve failed")
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("simulator listening")
	return nil
}

// URL returns the WebSocket endpoint URL.
func (s *Simulator) URL() string {
	return "ws://" + s.listener.Addr().String() + "/chat"
}

// Stop shuts the simulator down.
func (s *Simulator) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// simConn wraps a connection with a write lock so event pushes and request
// responses never interleave mid-frame.
type simConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *simConn) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

func (s *Simulator) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	conn := &simConn{conn: raw}
	defer raw.Close()

	var customer domain.Participant
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != FrameTypeRequest {
			continue
		}

		switch f.Method {
		case MethodConnect:
			var params ConnectParams
			if err := json.Unmarshal(f.Params, &params); err != nil {
				s.respondError(conn, f.ID, CodeValidation, "bad connect params")
				continue
			}
			customer = params.Participant
			s.respond(conn, f.ID, transport.ConnectAck{
				ConnectionID:  "sim-" + strconv.FormatInt(s.seq.Add(1), 10),
				ParticipantID: customer.ID,
				ConnectedAt:   time.Now(),
			})

		case MethodDisconnect:
			s.respond(conn, f.ID, struct{}{})
			return

		case MethodSendMessage:
			var params SendMessageParams
			if err := json.Unmarshal(f.Params, &params); err != nil {
				s.respondError(conn, f.ID, CodeValidation, "bad message params")
				continue
			}
			item := s.storeItem(customer, string(domain.RoleCustomer), "message", params.ContentType, params.Content, nil)
			s.respond(conn, f.ID, transport.SendAck{ID: item.ID, SentTime: item.SentTime})
			s.pushEvent(conn, EventMessage, item)
			if s.cfg.AutoReply {
				go s.agentReply(conn, item)
			}

		case MethodSendEvent:
			var params SendMessageParams
			if err := json.Unmarshal(f.Params, &params); err != nil {
				s.respondError(conn, f.ID, CodeValidation, "bad event params")
				continue
			}
			s.respond(conn, f.ID, transport.SendAck{
				ID:       "e-" + strconv.FormatInt(s.seq.Add(1), 10),
				SentTime: nowSeconds(),
			})

		case MethodSendAttachment:
			var params SendAttachmentParams
			if err := json.Unmarshal(f.Params, &params); err != nil {
				s.respondError(conn, f.ID, CodeValidation, "bad attachment params")
				continue
			}
			att := params.Attachment
			if att.Size > s.cfg.MaxAttachmentSize {
				s.respondError(conn, f.ID, CodeQuotaExceeded, "attachment exceeds the size quota")
				continue
			}
			if !allowedMime(att.MimeType) {
				s.respondError(conn, f.ID, CodeValidation, "attachment type not permitted")
				continue
			}
			item := s.storeItem(customer, string(domain.RoleCustomer), "attachment", att.MimeType, att.Filename, &att)
			s.respond(conn, f.ID, transport.SendAck{ID: item.ID, SentTime: item.SentTime})
			s.pushEvent(conn, EventMessage, item)

		case MethodGetTranscript:
			var args transport.FetchArgs
			if err := json.Unmarshal(f.Params, &args); err != nil {
				s.respondError(conn, f.ID, CodeValidation, "bad fetch args")
				continue
			}
			s.respond(conn, f.ID, s.page(args))

		case MethodAttachmentURL:
			var params AttachmentURLParams
			if err := json.Unmarshal(f.Params, &params); err != nil {
				s.respondError(conn, f.ID, CodeValidation, "bad attachment-url params")
				continue
			}
			s.respond(conn, f.ID, AttachmentURLResult{
				URL: "https://files.sim.invalid/" + params.AttachmentID,
			})

		default:
			s.respondError(conn, f.ID, CodeNotFound, "unknown method "+f.Method)
		}
	}
}

// agentReply plays the remote side: typing, a delivered receipt for the
// customer message, a reply, then a read receipt.
func (s *Simulator) agentReply(conn *simConn, customerMsg transport.Item) {
	delay := s.cfg.ReplyDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	s.pushEvent(conn, EventTyping, transport.TypingEvent{
		ParticipantID:   s.cfg.Agent.ID,
		ParticipantRole: string(domain.RoleAgent),
		DisplayName:     s.cfg.Agent.DisplayName,
	})
	s.pushEvent(conn, EventDeliveredReceipt, transport.ReceiptEvent{
		MessageID:     customerMsg.ID,
		ParticipantID: s.cfg.Agent.ID,
		Timestamp:     nowSeconds(),
	})

	time.Sleep(delay)

	reply := s.storeItem(s.cfg.Agent, string(domain.RoleAgent), "message",
		domain.ContentTypeTextPlain, "You said: "+customerMsg.Content, nil)
	s.pushEvent(conn, EventMessage, reply)
	s.pushEvent(conn, EventReadReceipt, transport.ReceiptEvent{
		MessageID:     customerMsg.ID,
		ParticipantID: s.cfg.Agent.ID,
		Timestamp:     nowSeconds(),
	})
}

func (s *Simulator) storeItem(p domain.Participant, role, kind, contentType, content string, att *domain.Attachment) transport.Item {
	item := transport.Item{
		ID:              "m-" + strconv.FormatInt(s.seq.Add(1), 10),
		Kind:            kind,
		ParticipantID:   p.ID,
		ParticipantRole: role,
		DisplayName:     p.DisplayName,
		ContentType:     contentType,
		Content:         content,
		SentTime:        nowSeconds(),
		Attachment:      att,
	}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return item
}

// page slices the stored transcript. The continuation token is the index of
// the first item of the previous page, so backward scans walk toward the
// start of the history.
func (s *Simulator) page(args transport.FetchArgs) transport.Page {
	s.mu.Lock()
	defer s.mu.Unlock()

	max := args.MaxResults
	if max <= 0 {
		max = 15
	}

	end := len(s.items)
	if args.ContinuationToken != "" {
		if n, err := strconv.Atoi(args.ContinuationToken); err == nil && n >= 0 && n <= end {
			end = n
		}
	}
	start := end - max
	if start < 0 {
		start = 0
	}

	page := transport.Page{Items: append([]transport.Item(nil), s.items[start:end]...)}
	if start > 0 {
		page.NextToken = strconv.Itoa(start)
	}
	return page
}

func (s *Simulator) respond(conn *simConn, id string, payload any) {
	f, err := NewResponse(id, payload)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal response")
		return
	}
	if err := conn.write(f); err != nil {
		s.log.Warn().Err(err).Msg("write response")
	}
}

func (s *Simulator) respondError(conn *simConn, id, code, msg string) {
	if err := conn.write(NewErrorResponse(id, ErrorShape{Code: code, Message: msg})); err != nil {
		s.log.Warn().Err(err).Msg("write error response")
	}
}

func (s *Simulator) pushEvent(conn *simConn, event string, payload any) {
	f, err := NewEvent(event, payload, s.seq.Add(1))
	if err != nil {
		s.log.Error().Err(err).Msg("marshal event")
		return
	}
	if err := conn.write(f); err != nil {
		s.log.Warn().Err(err).Msg("write event")
	}
}

func allowedMime(mime string) bool {
	if strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/pdf", "application/zip":
		return true
	}
	return false
}

func nowSeconds() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}
