// Package forward streams delivered messages to remote subscribers over
// gRPC. Each stream carries flatcodec envelopes; slow subscribers lose
// messages rather than slowing the delivering driver.
package forward

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/sensorapi/internal/flatcodec"
	"github.com/banshee-data/sensorapi/internal/monitoring"
	"github.com/banshee-data/sensorapi/internal/scanmsg"
)

// Config holds configuration for the forwarding server.
type Config struct {
	// ListenAddr is the TCP address Start binds, e.g. "localhost:50061".
	ListenAddr string

	// MaxClients caps concurrent streams. Zero means no cap.
	MaxClients int

	// QueueSize is the depth of the shared publish queue.
	QueueSize int

	// ClientBuffer is the per-subscriber queue depth.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		QueueSize:    100,
		ClientBuffer: 10,
	}
}

var ErrNotRunning = errors.New("forward: publisher not running")

type frame struct {
	kind scanmsg.Kind
	data []byte
}

type client struct {
	id     string
	kinds  map[scanmsg.Kind]bool
	frames chan frame
	done   chan struct{}
}

func (c *client) wants(k scanmsg.Kind) bool {
	return len(c.kinds) == 0 || c.kinds[k]
}

// Publisher owns the gRPC server and the subscriber set.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	queue     chan frame
	clients   map[string]*client
	clientsMu sync.RWMutex

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a Publisher. Unset sizes take DefaultConfig values.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	return &Publisher{
		config:  cfg,
		queue:   make(chan frame, cfg.QueueSize),
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
}

// Start binds Config.ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves on lis in the background. The Publisher owns lis from here.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	p.server.RegisterService(&serviceDesc, p)

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[forward] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[forward] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server. It is idempotent.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.Stop()
	p.listener.Close()
	p.wg.Wait()
	monitoring.Logf("[forward] gRPC server stopped")
}

// Publish encodes msg and queues it for every subscriber that asked for
// kind. It never blocks: a full queue drops the message.
func (p *Publisher) Publish(kind scanmsg.Kind, msg any) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	b, err := flatcodec.Encode(kind, msg)
	if err != nil {
		return err
	}
	select {
	case p.queue <- frame{kind: kind, data: b}:
		p.published.Add(1)
	default:
		dropped := p.dropped.Add(1)
		monitoring.Debugf("[forward] dropped %v message (total dropped: %d), queue full", kind, dropped)
	}
	return nil
}

// Sink adapts Publish to a multi-kind listener, logging encode errors.
func (p *Publisher) Sink() func(kind scanmsg.Kind, msg any) {
	return func(kind scanmsg.Kind, msg any) {
		if err := p.Publish(kind, msg); err != nil && !errors.Is(err, ErrNotRunning) {
			monitoring.Logf("[forward] %v: %v", kind, err)
		}
	}
}

// Stats reports messages accepted, messages dropped (queue or slow
// subscriber) and current subscribers.
func (p *Publisher) Stats() (published, dropped uint64, clients int) {
	return p.published.Load(), p.dropped.Load(), int(p.clientCount.Load())
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.queue:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				if !c.wants(f.kind) {
					continue
				}
				select {
				case c.frames <- f:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(kinds []scanmsg.Kind) (*client, error) {
	c := &client{
		id:     uuid.NewString(),
		kinds:  make(map[scanmsg.Kind]bool, len(kinds)),
		frames: make(chan frame, p.config.ClientBuffer),
		done:   make(chan struct{}),
	}
	for _, k := range kinds {
		c.kinds[k] = true
	}

	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, fmt.Errorf("max clients (%d) reached", p.config.MaxClients)
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Logf("[forward] client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	c, ok := p.clients[id]
	if ok {
		close(c.done)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		monitoring.Logf("[forward] client disconnected: %s (remaining: %d)", id, n)
	}
}
