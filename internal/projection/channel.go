package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// Channel carries projection commands to every subscriber of a room.
type Channel interface {
	Publish(ctx context.Context, room string, cmd Command) error
	// Subscribe registers handler for room and returns a function that
	// removes it.
	Subscribe(room string, handler func(Command)) (func(), error)
	Close() error
}

// LocalChannel delivers commands in-process, synchronously, to the
// subscribers registered at publish time.
type LocalChannel struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(Command)
}

// NewLocalChannel creates an in-process channel.
func NewLocalChannel() *LocalChannel {
	return &LocalChannel{subs: make(map[string]map[int]func(Command))}
}

func (c *LocalChannel) Publish(_ context.Context, room string, cmd Command) error {
	c.mu.Lock()
	handlers := make([]func(Command), 0, len(c.subs[room]))
	for _, h := range c.subs[room] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(cmd)
	}
	return nil
}

func (c *LocalChannel) Subscribe(room string, handler func(Command)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	if c.subs[room] == nil {
		c.subs[room] = make(map[int]func(Command))
	}
	c.subs[room][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[room], id)
			if len(c.subs[room]) == 0 {
				delete(c.subs, room)
			}
		})
	}, nil
}

func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = make(map[string]map[int]func(Command))
	return nil
}

// SubjectPrefix is the NATS subject namespace for projection rooms.
const SubjectPrefix = "versecast.projection."

// NATSChannel fans commands out through NATS so operator and display sockets
// may land on different server instances.
type NATSChannel struct {
	conn   *nats.Conn
	logger *log.Logger
}

// NewNATSChannel wraps an established connection. Close drains it.
func NewNATSChannel(conn *nats.Conn, logger *log.Logger) *NATSChannel {
	if logger == nil {
		logger = log.Default()
	}
	return &NATSChannel{conn: conn, logger: logger}
}

// ConnectNATS dials url and returns a channel that owns the connection.
func ConnectNATS(url string, logger *log.Logger) (*NATSChannel, error) {
	conn, err := nats.Connect(url, nats.Name("versecast-projection"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSChannel(conn, logger), nil
}

func subject(room string) string {
	return SubjectPrefix + room
}

func (c *NATSChannel) Publish(_ context.Context, room string, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := c.conn.Publish(subject(room), data); err != nil {
		return fmt.Errorf("publish %s: %w", subject(room), err)
	}
	return nil
}

func (c *NATSChannel) Subscribe(room string, handler func(Command)) (func(), error) {
	sub, err := c.conn.Subscribe(subject(room), func(msg *nats.Msg) {
		cmd, err := ParseCommand(msg.Data)
		if err != nil {
			c.logger.Printf("projection: dropping bad command on %s: %v", msg.Subject, err)
			return
		}
		handler(cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject(room), err)
	}
	if err := c.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return func() { sub.Unsubscribe() }, nil
}

// Healthy reports whether the NATS connection is up.
func (c *NATSChannel) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *NATSChannel) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
