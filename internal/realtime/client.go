package realtime

import (
	"sync"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/google/uuid"
)

type Domain int

const (
	DomainAuthenticated Domain = iota
	DomainPublic
)

func (d Domain) String() string {
	if d == DomainPublic {
		return "public"
	}
	return "authenticated"
}

// Client is one connection's membership and outbound queue. The transport
// drains Outbound and stops when Done is closed.
type Client struct {
	id       string
	domain   Domain
	identity models.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newClient(d Domain, identity models.Identity, buffer int) *Client {
	return &Client{
		id:       uuid.NewString(),
		domain:   d,
		identity: identity,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Domain() Domain            { return c.domain }
func (c *Client) Identity() models.Identity { return c.identity }
func (c *Client) Outbound() <-chan []byte   { return c.send }
func (c *Client) Done() <-chan struct{}     { return c.done }

func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// enqueue never blocks. false means the message was not queued, either
// because the client is closed or because its buffer is full.
func (c *Client) enqueue(msg []byte) (queued, full bool) {
	select {
	case <-c.done:
		return false, false
	default:
	}
	select {
	case c.send <- msg:
		return true, false
	default:
		return false, true
	}
}

func (c *Client) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		closed = true
	})
	return closed
}

func (c *Client) addRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

func (c *Client) removeRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	return true
}

func (c *Client) drainRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	c.rooms = make(map[string]struct{})
	return out
}
