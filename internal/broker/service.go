// Package broker implements Gantry's in-process message bus: a small
// JSON-RPC-over-TCP hub that agents connect to, publish BrokerMessages on a
// subject, and subscribe to receive them. Request/reply is layered on top of
// plain pub/sub entirely by convention: a caller subscribes to its own
// inbox subject, publishes a request whose reply_to names that inbox, and
// the handler publishes its reply directly to reply_to as an ordinary
// subject. The broker itself never special-cases reply_to; it only ever
// delivers a publish to its stated subject's subscribers.
package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/gantryio/gantry/internal/token"
)

// Config holds the broker's startup parameters.
type Config struct {
	Port  string
	Debug bool
}

// Service is the broker's TCP server: one Subscription list per subject,
// one Connection per attached agent.
type Service struct {
	port  string
	debug bool

	listener net.Listener

	subjectsMux sync.RWMutex
	subjects    map[string][]*Connection

	connMux     sync.RWMutex
	connections map[string]*Connection
}

// Connection represents one agent's TCP link to the broker.
type Connection struct {
	ID      string
	Conn    net.Conn
	Encoder *json.Encoder
	Decoder *json.Decoder
	AgentID string
}

// Request is a JSON-RPC-shaped call from an agent to the broker.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the broker's reply to a Request.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error mirrors JSON-RPC's error shape.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Delivery is an unsolicited push from the broker to a subscriber: a
// DeliverMessage for a subject it's subscribed to.
type Delivery struct {
	Subject string               `json:"subject"`
	Message *token.DeliverMessage `json:"message"`
}

// NewService builds a broker ready to Start.
func NewService(cfg Config) *Service {
	if cfg.Port == "" {
		cfg.Port = ":9091"
	}
	return &Service{
		port:        cfg.Port,
		debug:       cfg.Debug,
		subjects:    make(map[string][]*Connection),
		connections: make(map[string]*Connection),
	}
}

// Start listens for agent connections until the listener is closed by Stop.
func (s *Service) Start() error {
	listener, err := net.Listen("tcp", s.port)
	if err != nil {
		return fmt.Errorf("broker: listen on %s: %w", s.port, err)
	}
	s.listener = listener
	if s.debug {
		log.Printf("broker: listening on %s", s.port)
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			return nil
		}
		go s.handleConnection(conn)
	}
}

// Stop closes the listener, ending Start's accept loop.
func (s *Service) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Service) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	connID := "conn_" + uuid.NewString()
	conn := &Connection{
		ID:      connID,
		Conn:    netConn,
		Encoder: json.NewEncoder(netConn),
		Decoder: json.NewDecoder(netConn),
	}

	s.connMux.Lock()
	s.connections[connID] = conn
	s.connMux.Unlock()

	defer func() {
		s.connMux.Lock()
		delete(s.connections, connID)
		s.connMux.Unlock()
		s.unsubscribeAll(conn)
	}()

	for {
		var req Request
		if err := conn.Decoder.Decode(&req); err != nil {
			return
		}
		resp := s.handleRequest(conn, &req)
		if err := conn.Encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Service) handleRequest(conn *Connection, req *Request) *Response {
	switch req.Method {
	case "connect":
		return s.handleConnect(conn, req)
	case "subscribe":
		return s.handleSubscribe(conn, req)
	case "publish":
		return s.handlePublish(conn, req)
	default:
		return &Response{ID: req.ID, Error: &Error{Code: -32601, Message: "method not found: " + req.Method}}
	}
}

func (s *Service) handleConnect(conn *Connection, req *Request) *Response {
	var params struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{ID: req.ID, Error: &Error{Code: -32602, Message: "invalid params"}}
	}
	conn.AgentID = params.AgentID
	return &Response{ID: req.ID, Result: "connected"}
}

func (s *Service) handleSubscribe(conn *Connection, req *Request) *Response {
	var params struct {
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Subject == "" {
		return &Response{ID: req.ID, Error: &Error{Code: -32602, Message: "invalid params"}}
	}

	s.subjectsMux.Lock()
	s.subjects[params.Subject] = append(s.subjects[params.Subject], conn)
	s.subjectsMux.Unlock()

	return &Response{ID: req.ID, Result: "subscribed"}
}

func (s *Service) handlePublish(conn *Connection, req *Request) *Response {
	var params struct {
		Subject string                `json:"subject"`
		Message *token.DeliverMessage `json:"message"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Message == nil {
		return &Response{ID: req.ID, Error: &Error{Code: -32602, Message: "invalid params"}}
	}

	// A publish always goes to its subject's subscribers. reply_to is just
	// metadata the message carries for its eventual handler to read and
	// address its own, separate reply publish to — it never redirects this
	// publish itself, or every request/reply exchange would misdeliver
	// straight back to the caller's own inbox instead of the service it was
	// meant for.
	s.deliverToSubject(params.Subject, params.Message)

	return &Response{ID: req.ID, Result: "published"}
}

// deliverToSubject pushes a Delivery to every current subscriber of subject.
// Delivery happens outside any lock so a slow subscriber can't stall the
// broker's request loop.
func (s *Service) deliverToSubject(subject string, msg *token.DeliverMessage) {
	s.subjectsMux.RLock()
	subs := append([]*Connection(nil), s.subjects[subject]...)
	s.subjectsMux.RUnlock()

	delivery := &Delivery{Subject: subject, Message: msg}
	for _, sub := range subs {
		_ = sub.Encoder.Encode(delivery)
	}
}

func (s *Service) unsubscribeAll(conn *Connection) {
	s.subjectsMux.Lock()
	defer s.subjectsMux.Unlock()
	for subject, subs := range s.subjects {
		filtered := subs[:0]
		for _, sub := range subs {
			if sub.ID != conn.ID {
				filtered = append(filtered, sub)
			}
		}
		s.subjects[subject] = filtered
	}
}

