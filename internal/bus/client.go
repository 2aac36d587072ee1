// Package bus carries the hub's outbound delivery over an embedded NATS
// server. The hub publishes every frame to a subject and each connection's
// writer goroutine subscribes to the subjects addressed to it, so while the
// bus is attached no component hands another a socket. The hub falls back
// to writing connections directly when no bus is attached or a publish
// fails.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
)

const (
	broadcastPrefix   = "agentmesh.broadcast."
	broadcastWildcard = "agentmesh.broadcast.>"
	directPrefix      = "agentmesh.direct."
)

// BroadcastSubject returns the subject a broadcast frame of the given kind
// travels on. Connection writers subscribe to every kind at once; an
// external observer can subscribe to a single one.
func BroadcastSubject(kind string) string {
	return broadcastPrefix + kind
}

func directSubject(sessionID string) string {
	return directPrefix + sessionID
}

// Delivery is the wire shape a frame travels in on the bus: the serialized
// outbound frame plus, for broadcasts, the session the origin excluded.
type Delivery struct {
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Client is one process-side handle on the delivery bus. The hub holds one
// for publishing; the connection frontend holds one for subscribing its
// sessions.
type Client struct {
	conn *nc.Conn
}

// NewClient connects to the bus with unbounded reconnect, so a briefly
// restarted embedded server doesn't strand the delivery path.
func NewClient(url string) (*Client, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[BUS] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Printf("[BUS] reconnected to %s", conn.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// PublishBroadcast fans a frame out to every subscribed connection writer
// except the excluded session ("" excludes nobody).
func (c *Client) PublishBroadcast(kind, excludeSessionID string, frame []byte) error {
	data, err := json.Marshal(Delivery{Exclude: excludeSessionID, Frame: frame})
	if err != nil {
		return fmt.Errorf("bus: marshal delivery: %w", err)
	}
	if err := c.conn.Publish(BroadcastSubject(kind), data); err != nil {
		return fmt.Errorf("bus: publish broadcast %s: %w", kind, err)
	}
	return nil
}

// PublishDirect addresses a frame to a single session's writer.
func (c *Client) PublishDirect(sessionID string, frame []byte) error {
	data, err := json.Marshal(Delivery{Frame: frame})
	if err != nil {
		return fmt.Errorf("bus: marshal delivery: %w", err)
	}
	if err := c.conn.Publish(directSubject(sessionID), data); err != nil {
		return fmt.Errorf("bus: publish direct %s: %w", sessionID, err)
	}
	return nil
}

// SessionSub is one connection writer's pair of bus subscriptions, torn down
// together when the connection goes away.
type SessionSub struct {
	broadcast *nc.Subscription
	direct    *nc.Subscription
}

// Unsubscribe detaches both subscriptions.
func (s *SessionSub) Unsubscribe() {
	if s.broadcast != nil {
		_ = s.broadcast.Unsubscribe()
	}
	if s.direct != nil {
		_ = s.direct.Unsubscribe()
	}
}

// SubscribeSession attaches a connection writer to the bus: write is called
// with every broadcast frame whose exclusion doesn't name sessionID, and
// with every frame addressed directly to it. The subscriptions are flushed
// to the server before returning, so frames published after SubscribeSession
// returns are guaranteed to be seen.
func (c *Client) SubscribeSession(sessionID string, write func(frame []byte)) (*SessionSub, error) {
	bsub, err := c.conn.Subscribe(broadcastWildcard, func(msg *nc.Msg) {
		var d Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return
		}
		if d.Exclude == sessionID {
			return
		}
		write(d.Frame)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe broadcast: %w", err)
	}

	dsub, err := c.conn.Subscribe(directSubject(sessionID), func(msg *nc.Msg) {
		var d Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return
		}
		write(d.Frame)
	})
	if err != nil {
		_ = bsub.Unsubscribe()
		return nil, fmt.Errorf("bus: subscribe direct: %w", err)
	}

	if err := c.conn.Flush(); err != nil {
		_ = bsub.Unsubscribe()
		_ = dsub.Unsubscribe()
		return nil, fmt.Errorf("bus: flush subscriptions: %w", err)
	}

	return &SessionSub{broadcast: bsub, direct: dsub}, nil
}
