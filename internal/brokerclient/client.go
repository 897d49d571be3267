// Package brokerclient is the client side of Gantry's message bus: it
// connects to a broker.Service over TCP, registers an agent ID, and lets a
// service publish and subscribe to subjects.
package brokerclient

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantryio/gantry/internal/token"
)

// Client is a connected handle to the broker.
type Client struct {
	address string
	agentID string

	mux     sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder

	reqID int64

	subjectMux sync.RWMutex
	subjects   map[string]chan *token.DeliverMessage

	pendingMux sync.Mutex
	pending    map[string]chan response
}

type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// delivery mirrors broker.Delivery without importing the broker package, so
// the client side has no dependency on the server's internals.
type delivery struct {
	Subject string                `json:"subject"`
	Message *token.DeliverMessage `json:"message"`
}

// New creates a client bound to address, not yet connected.
func New(address, agentID string) *Client {
	return &Client{
		address:  address,
		agentID:  agentID,
		subjects: make(map[string]chan *token.DeliverMessage),
		pending:  make(map[string]chan response),
	}
}

// Connect dials the broker and performs the agent handshake.
func (c *Client) Connect() error {
	c.mux.Lock()
	if c.conn != nil {
		c.mux.Unlock()
		return nil
	}

	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		c.mux.Unlock()
		return fmt.Errorf("brokerclient: dial %s: %w", c.address, err)
	}

	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	go c.listen()
	c.mux.Unlock()

	time.Sleep(10 * time.Millisecond)

	_, err = c.call("connect", map[string]interface{}{"agent_id": c.agentID})
	if err != nil {
		c.mux.Lock()
		conn.Close()
		c.conn = nil
		c.mux.Unlock()
		return fmt.Errorf("brokerclient: register: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Publish sends msg on subject. The broker delivers it to subject's
// subscribers; msg.Message.ReplyTo, if set, travels with the message for the
// handler to publish its reply to and does not change where msg is delivered.
func (c *Client) Publish(subject string, msg *token.DeliverMessage) error {
	params := map[string]interface{}{
		"subject": subject,
		"message": msg,
	}
	_, err := c.call("publish", params)
	return err
}

// Subscribe registers for delivery on subject and returns a channel fed by
// the background listener goroutine.
func (c *Client) Subscribe(subject string) (<-chan *token.DeliverMessage, error) {
	if _, err := c.call("subscribe", map[string]interface{}{"subject": subject}); err != nil {
		return nil, err
	}

	ch := make(chan *token.DeliverMessage, 100)
	c.subjectMux.Lock()
	c.subjects[subject] = ch
	c.subjectMux.Unlock()
	return ch, nil
}

// Request publishes msg with a reply_to inbox built from the agent ID and a
// fresh UUID, then blocks for the matching reply or until timeout
// elapses.
func (c *Client) Request(subject string, msg *token.DeliverMessage, timeout time.Duration) (*token.DeliverMessage, error) {
	inbox := fmt.Sprintf("_inbox.%s.%s", c.agentID, uuid.NewString())
	msg.Message.ReplyTo = inbox

	replies, err := c.Subscribe(inbox)
	if err != nil {
		return nil, err
	}

	if err := c.Publish(subject, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("brokerclient: request to %s timed out after %s", subject, timeout)
	}
}

func (c *Client) call(method string, params interface{}) (string, error) {
	c.mux.Lock()
	conn := c.conn
	encoder := c.encoder
	c.mux.Unlock()

	if conn == nil {
		return "", fmt.Errorf("brokerclient: not connected")
	}

	c.reqID++
	id := fmt.Sprintf("req_%d", c.reqID)

	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("brokerclient: marshal params: %w", err)
	}

	respCh := make(chan response, 1)
	c.pendingMux.Lock()
	c.pending[id] = respCh
	c.pendingMux.Unlock()

	if err := encoder.Encode(request{ID: id, Method: method, Params: paramsBytes}); err != nil {
		c.pendingMux.Lock()
		delete(c.pending, id)
		c.pendingMux.Unlock()
		return "", fmt.Errorf("brokerclient: send: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return "", fmt.Errorf("brokerclient: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-time.After(30 * time.Second):
		c.pendingMux.Lock()
		delete(c.pending, id)
		c.pendingMux.Unlock()
		return "", fmt.Errorf("brokerclient: call %s timed out", method)
	}
}

// listen reads everything the broker sends: JSON-RPC responses to our own
// calls, and unsolicited deliveries for subjects we've subscribed to.
func (c *Client) listen() {
	defer func() { recover() }()

	for {
		c.mux.Lock()
		decoder := c.decoder
		c.mux.Unlock()
		if decoder == nil {
			return
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return
		}

		var probe struct {
			ID      string `json:"id"`
			Subject string `json:"subject"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}

		if probe.Subject != "" {
			var d delivery
			if err := json.Unmarshal(raw, &d); err != nil {
				continue
			}
			c.subjectMux.RLock()
			ch, ok := c.subjects[d.Subject]
			c.subjectMux.RUnlock()
			if ok {
				select {
				case ch <- d.Message:
				default:
				}
			}
			continue
		}

		if probe.ID != "" {
			var resp response
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			c.pendingMux.Lock()
			ch, ok := c.pending[resp.ID]
			if ok {
				delete(c.pending, resp.ID)
			}
			c.pendingMux.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}
