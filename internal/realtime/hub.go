package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrWrongDomain  = errors.New("operation not allowed in this channel domain")
	ErrClientClosed = errors.New("client is closed")
	ErrBadRoom      = errors.New("invalid room")
)

const DefaultBuffer = 64

type Options struct {
	// Buffer is the per-connection outbound queue length. A client whose
	// queue is full is disconnected rather than slowing down publishers.
	Buffer int
}

type Stats struct {
	Connections       int    `json:"connections"`
	PublicConnections int    `json:"publicConnections"`
	Rooms             int    `json:"rooms"`
	PublicRooms       int    `json:"publicRooms"`
	Delivered         uint64 `json:"delivered"`
	Evicted           uint64 `json:"evicted"`
}

type domain struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
}

func newDomain() *domain {
	return &domain{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Hub keeps room membership for the authenticated and the public channel
// domains. Rooms of the two domains never mix even when names coincide.
type Hub struct {
	buffer int

	auth   *domain
	public *domain

	delivered atomic.Uint64
	evicted   atomic.Uint64
}

func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Hub{
		buffer: opts.Buffer,
		auth:   newDomain(),
		public: newDomain(),
	}
}

func (h *Hub) domainOf(d Domain) *domain {
	if d == DomainPublic {
		return h.public
	}
	return h.auth
}

// Register adds an authenticated connection and places it in its role room.
func (h *Hub) Register(id models.Identity) (*Client, error) {
	room := RoleRoom(id)
	if id.UserID == "" || room == "" {
		return nil, models.ErrNotAuthorized
	}
	c := newClient(DomainAuthenticated, id, h.buffer)

	h.auth.mu.Lock()
	h.auth.clients[c] = struct{}{}
	h.auth.mu.Unlock()

	if err := h.join(h.auth, c, room); err != nil {
		return nil, err
	}
	return c, nil
}

// RegisterPublic adds an anonymous connection. It belongs to no room until
// JoinPublic succeeds.
func (h *Hub) RegisterPublic() *Client {
	c := newClient(DomainPublic, models.Identity{}, h.buffer)
	h.public.mu.Lock()
	h.public.clients[c] = struct{}{}
	h.public.mu.Unlock()
	return c
}

// Join is idempotent. Whether the identity may see the room is the
// caller's decision.
func (h *Hub) Join(c *Client, room string) error {
	if c.domain != DomainAuthenticated {
		return ErrWrongDomain
	}
	if room == "" {
		return ErrBadRoom
	}
	return h.join(h.auth, c, room)
}

// JoinPublic subscribes an anonymous connection to one order's room. The
// tracking token must have been verified by the caller.
func (h *Hub) JoinPublic(c *Client, orderNumber string) error {
	if c.domain != DomainPublic {
		return ErrWrongDomain
	}
	room := OrderRoom(orderNumber)
	if !isOrderRoom(room) {
		return ErrBadRoom
	}
	return h.join(h.public, c, room)
}

func (h *Hub) join(d *domain, c *Client, room string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if _, ok := d.clients[c]; !ok {
		return ErrClientClosed
	}
	if !c.addRoom(room) {
		return nil
	}
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		d.rooms[room] = members
	}
	members[c] = struct{}{}
	return nil
}

func (h *Hub) Leave(c *Client, room string) {
	d := h.domainOf(c.domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.removeRoom(room) {
		d.removeMember(room, c)
	}
}

// Unregister drops the client from every room and closes it. Safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	c.close()
	d := h.domainOf(c.domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, room := range c.drainRooms() {
		d.removeMember(room, c)
	}
	delete(d.clients, c)
}

func (d *domain) removeMember(room string, c *Client) {
	members, ok := d.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(d.rooms, room)
	}
}

// Publish sends payload to every member of an authenticated room.
func (h *Hub) Publish(room string, kind Kind, payload any) (int, error) {
	msg, err := Frame(kind, payload)
	if err != nil {
		return 0, err
	}
	return h.fanout(h.auth, []string{room}, msg), nil
}

// Send writes directly to one connection.
func (h *Hub) Send(c *Client, kind Kind, payload any) error {
	msg, err := Frame(kind, payload)
	if err != nil {
		return err
	}
	queued, full := c.enqueue(msg)
	if full {
		h.evict(c)
	}
	if !queued {
		return ErrClientClosed
	}
	h.delivered.Add(1)
	return nil
}

// Dispatch routes an event through the routing table.
func (h *Hub) Dispatch(kind Kind, target Target, payload any) (int, error) {
	env, err := NewEnvelope(kind, target, payload)
	if err != nil {
		return 0, err
	}
	return h.Deliver(env), nil
}

// Deliver fans an already encoded event out to both domains and returns
// the number of connections it was queued for. A connection that is in
// several target rooms gets the event once.
func (h *Hub) Deliver(env Envelope) int {
	rooms, public := RoomsFor(env.Kind, env.Target)
	n := 0
	if len(rooms) > 0 && len(env.Data) > 0 {
		n += h.fanout(h.auth, rooms, encodeFrame(env.Kind, env.Data))
	}
	if len(public) > 0 && len(env.Public) > 0 {
		n += h.fanout(h.public, public, encodeFrame(env.Kind, env.Public))
	}
	return n
}

func (h *Hub) fanout(d *domain, rooms []string, msg []byte) int {
	if msg == nil {
		return 0
	}
	var slow []*Client
	n := 0

	d.mu.RLock()
	seen := make(map[*Client]struct{})
	for _, room := range rooms {
		for c := range d.rooms[room] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			queued, full := c.enqueue(msg)
			if queued {
				n++
			}
			if full {
				slow = append(slow, c)
			}
		}
	}
	d.mu.RUnlock()

	for _, c := range slow {
		h.evict(c)
	}
	h.delivered.Add(uint64(n))
	return n
}

func (h *Hub) evict(c *Client) {
	h.evicted.Add(1)
	slog.Warn("realtime: dropping slow subscriber",
		"client_id", c.id, "domain", c.domain.String(), "user_id", c.identity.UserID)
	h.Unregister(c)
}

func (h *Hub) RoomSize(d Domain, room string) int {
	dom := h.domainOf(d)
	dom.mu.RLock()
	defer dom.mu.RUnlock()
	return len(dom.rooms[room])
}

func (h *Hub) Stats() Stats {
	h.auth.mu.RLock()
	s := Stats{Connections: len(h.auth.clients), Rooms: len(h.auth.rooms)}
	h.auth.mu.RUnlock()

	h.public.mu.RLock()
	s.PublicConnections = len(h.public.clients)
	s.PublicRooms = len(h.public.rooms)
	h.public.mu.RUnlock()

	s.Delivered = h.delivered.Load()
	s.Evicted = h.evicted.Load()
	return s
}

// Close disconnects every client in both domains.
func (h *Hub) Close() {
	for _, d := range []*domain{h.auth, h.public} {
		d.mu.RLock()
		all := make([]*Client, 0, len(d.clients))
		for c := range d.clients {
			all = append(all, c)
		}
		d.mu.RUnlock()
		for _, c := range all {
			h.Unregister(c)
		}
	}
}
