package projection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lukasbauer/versecast/internal/observe"
)

const displayBuffer = 16

// Defaults used when HubConfig leaves a field zero.
const (
	DefaultRoomIdleTimeout  = 10 * time.Minute
	DefaultRoomReapInterval = time.Minute
)

// ErrHubClosed is returned once the hub has shut down.
var ErrHubClosed = errors.New("projection hub closed")

// Display is one attached display surface.
type Display struct {
	// Initial is the room state at attach time. Frames with a Seq at or
	// below Initial.Seq are already reflected in it.
	Initial Frame

	room   string
	frames chan Frame
}

// Frames delivers display updates. It is closed on Detach.
func (d *Display) Frames() <-chan Frame {
	return d.frames
}

type room struct {
	projector   *Projector
	unsubscribe func()

	// lastUsed is guarded by Hub.mu.
	lastUsed time.Time

	mu       sync.Mutex
	displays map[*Display]struct{}
}

func (r *room) broadcast(f Frame, logger *log.Logger, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for d := range r.displays {
		select {
		case d.frames <- f:
		default:
			// Each frame carries the full state, so a lagging display
			// recovers with the next one.
			logger.Printf("projection: room %s: display lagging, dropped frame %d", name, f.Seq)
		}
	}
}

// Hub owns one projector per room and fans its frames out to the room's
// displays. Commands reach projectors only through the channel, so every
// instance sharing the channel converges on the same state.
//
// A room is created on first use. Sweep evicts rooms with no displays whose
// projector is idle and that have not been touched for the idle timeout; an
// evicted room comes back from its defaults on next use.
type Hub struct {
	channel      Channel
	clock        Clock
	defaults     func(ctx context.Context, room string) Settings
	metrics      *observe.Metrics
	logger       *log.Logger
	idleTimeout  time.Duration
	reapInterval time.Duration

	now func() time.Time

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// HubConfig configures a Hub.
type HubConfig struct {
	Channel Channel
	Clock   Clock
	// Defaults returns the starting settings for a room, typically the
	// operator's saved projection settings. Nil uses DefaultSettings.
	Defaults     func(ctx context.Context, room string) Settings
	Metrics      *observe.Metrics
	Logger       *log.Logger
	IdleTimeout  time.Duration
	ReapInterval time.Duration
}

// NewHub creates a hub. A nil Channel uses a LocalChannel.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Channel == nil {
		cfg.Channel = NewLocalChannel()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Defaults == nil {
		cfg.Defaults = func(context.Context, string) Settings { return DefaultSettings() }
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultRoomIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultRoomReapInterval
	}
	return &Hub{
		channel:      cfg.Channel,
		clock:        cfg.Clock,
		defaults:     cfg.Defaults,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		idleTimeout:  cfg.IdleTimeout,
		reapInterval: cfg.ReapInterval,
		now:          time.Now,
		rooms:        make(map[string]*room),
	}
}

// Publish validates cmd and sends it to every projector for name.
func (h *Hub) Publish(ctx context.Context, name string, cmd Command) error {
	cmd, err := cmd.normalize()
	if err != nil {
		return err
	}
	if _, err := h.room(ctx, name); err != nil {
		return err
	}
	if err := h.channel.Publish(ctx, name, cmd); err != nil {
		return fmt.Errorf("publish projection command: %w", err)
	}
	h.metrics.RecordProjectionCommand(ctx, string(cmd.Type))
	return nil
}

// Attach registers a display for name.
func (h *Hub) Attach(ctx context.Context, name string) (*Display, error) {
	r, err := h.room(ctx, name)
	if err != nil {
		return nil, err
	}
	d := &Display{room: name, frames: make(chan Frame, displayBuffer)}

	r.mu.Lock()
	r.displays[d] = struct{}{}
	r.mu.Unlock()

	// Taken after registration so no frame falls between the snapshot and
	// the first delivered frame.
	d.Initial = r.projector.Snapshot()
	h.metrics.DisplayAttached(ctx, 1)
	return d, nil
}

// Detach removes a display and closes its frame stream.
func (h *Hub) Detach(d *Display) {
	h.mu.Lock()
	r, ok := h.rooms[d.room]
	h.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	_, attached := r.displays[d]
	delete(r.displays, d)
	r.mu.Unlock()
	if attached {
		close(d.frames)
		h.metrics.DisplayAttached(context.Background(), -1)
	}
}

// Snapshot returns the current frame for name.
func (h *Hub) Snapshot(ctx context.Context, name string) (Frame, error) {
	r, err := h.room(ctx, name)
	if err != nil {
		return Frame{}, err
	}
	return r.projector.Snapshot(), nil
}

func (h *Hub) room(ctx context.Context, name string) (*room, error) {
	h.mu.Lock()
	if r, ok := h.rooms[name]; ok {
		r.lastUsed = h.now()
		h.mu.Unlock()
		return r, nil
	}
	h.mu.Unlock()

	// Loading defaults may hit the database; do it outside the lock.
	settings := h.defaults(ctx, name)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if r, ok := h.rooms[name]; ok {
		r.lastUsed = h.now()
		return r, nil
	}

	r := &room{displays: make(map[*Display]struct{}), lastUsed: h.now()}
	r.projector = NewProjector(settings, h.clock, func(f Frame) {
		r.broadcast(f, h.logger, name)
	})
	unsub, err := h.channel.Subscribe(name, func(cmd Command) {
		h.mu.Lock()
		r.lastUsed = h.now()
		h.mu.Unlock()
		if err := r.projector.Apply(cmd); err != nil {
			h.logger.Printf("projection: room %s: %v", name, err)
		}
	})
	if err != nil {
		r.projector.Close()
		return nil, fmt.Errorf("subscribe room %s: %w", name, err)
	}
	r.unsubscribe = unsub
	h.rooms[name] = r
	return r, nil
}

// Sweep evicts idle rooms and returns how many it removed.
func (h *Hub) Sweep() int {
	h.mu.Lock()
	cutoff := h.now().Add(-h.idleTimeout)
	var evicted []*room
	for name, r := range h.rooms {
		if r.lastUsed.After(cutoff) {
			continue
		}
		r.mu.Lock()
		attached := len(r.displays)
		r.mu.Unlock()
		if attached > 0 || !r.projector.Idle() {
			continue
		}
		delete(h.rooms, name)
		evicted = append(evicted, r)
		h.logger.Printf("projection: evicted idle room %s", name)
	}
	h.mu.Unlock()

	for _, r := range evicted {
		r.unsubscribe()
		r.projector.Close()
	}
	return len(evicted)
}

// RunReaper sweeps idle rooms every ReapInterval until ctx is done.
func (h *Hub) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(h.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Close unsubscribes every room, stops timers and closes display streams.
func (h *Hub) Close() error {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.closed = true
	h.mu.Unlock()

	for _, r := range rooms {
		r.unsubscribe()
		r.projector.Close()
		r.mu.Lock()
		for d := range r.displays {
			close(d.frames)
			delete(r.displays, d)
		}
		r.mu.Unlock()
	}
	return h.channel.Close()
}
