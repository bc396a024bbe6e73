// Package gateway is the chat-platform client: a websocket connection that
// receives message events and sends replies. Embeds, reactions, and richer
// platform features live on the platform side, not here.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/splintertree/splintertree/internal/dispatch"
)

// Handler consumes inbound platform messages, fire-and-forget.
type Handler interface {
	HandleIncomingMessage(authorID, channelID, guildID, text string, attachments []dispatch.Attachment)
}

// maxMessageLength is the platform's hard limit for one outbound message.
const maxMessageLength = 2000

// Client is the websocket gateway connection.
type Client struct {
	url     string
	token   string
	handler Handler
	log     *logrus.Entry

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// Wire format.
type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type messageCreated struct {
	ID          string           `json:"id"`
	AuthorID    string           `json:"author_id"`
	ChannelID   string           `json:"channel_id"`
	GuildID     string           `json:"guild_id,omitempty"`
	Content     string           `json:"content"`
	Attachments []wireAttachment `json:"attachments,omitempty"`
}

type wireAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
}

type messageSend struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// NewClient creates a gateway client for the given websocket URL.
func NewClient(url, token string, logger *logrus.Logger) *Client {
	return &Client{
		url:   url,
		token: token,
		log:   logger.WithField("component", "gateway"),
		done:  make(chan struct{}),
	}
}

// SetHandler installs the inbound message consumer. Must be called before
// Run; the router and gateway reference each other, so wiring happens in two
// steps.
func (c *Client) SetHandler(h Handler) {
	c.handler = h
}

// Connect dials the gateway.
func (c *Client) Connect() error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.WithField("url", c.url).Info("connected to gateway")
	return nil
}

// Run reads gateway events until Close, reconnecting on transport failure
// with doubling delay. Each inbound message is handled on its own goroutine.
func (c *Client) Run() {
	delay := time.Second
	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			if err := c.Connect(); err != nil {
				c.log.WithError(err).WithField("retry_in", delay.String()).Warn("gateway reconnect failed")
				select {
				case <-time.After(delay):
				case <-c.done:
					return
				}
				if delay *= 2; delay > 30*time.Second {
					delay = 30 * time.Second
				}
				continue
			}
			delay = time.Second
		}

		if err := c.readLoop(); err != nil {
			c.log.WithError(err).Warn("gateway connection lost")
		}
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}
}

func (c *Client) readLoop() error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return nil
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatchEvent(data)
	}
}

// dispatchEvent decodes one gateway frame and forwards message events.
// Unknown or malformed frames are logged and skipped.
func (c *Client) dispatchEvent(data []byte) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.WithError(err).Warn("failed to decode gateway event")
		return
	}

	switch ev.Type {
	case "message.created":
		if c.handler == nil {
			return
		}
		var msg messageCreated
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			c.log.WithError(err).Warn("failed to decode message event")
			return
		}
		attachments := make([]dispatch.Attachment, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			attachments = append(attachments, dispatch.Attachment{
				URL:         a.URL,
				ContentType: a.ContentType,
				Filename:    a.Filename,
			})
		}
		go c.handler.HandleIncomingMessage(msg.AuthorID, msg.ChannelID, msg.GuildID, msg.Content, attachments)
	case "ping":
		// Keepalive, nothing to do.
	default:
		c.log.WithField("type", ev.Type).Debug("ignoring gateway event")
	}
}

// Send delivers one outbound message to a channel.
func (c *Client) Send(channelID, text string) error {
	payload, err := json.Marshal(messageSend{ChannelID: channelID, Content: truncate(text, maxMessageLength)})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wireEvent{Type: "message.send", Payload: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close shuts the connection down and stops Run.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
