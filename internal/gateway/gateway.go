// Package gateway exposes the WebSocket endpoint a chat-platform bridge
// connects to, together with the Prometheus and health endpoints.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cory-johannsen/gamehost/internal/bot"
	"github.com/cory-johannsen/gamehost/internal/chat"
)

// Frame types exchanged with bridges.
const (
	FrameReady   = "ready"
	FrameMessage = "message"
)

// outboundQueue bounds the frames buffered for one slow bridge.
const outboundQueue = 64

// inboundQueue bounds the message frames waiting on one community's worker.
const inboundQueue = 64

const writeTimeout = 5 * time.Second

// Inbound is a frame sent by a bridge.
type Inbound struct {
	Type        string   `json:"type"`
	Community   string   `json:"community,omitempty"`
	Room        string   `json:"room,omitempty"`
	User        string   `json:"user,omitempty"`
	Text        string   `json:"text,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Outbound is a frame sent to every bridge when the host changes a room.
type Outbound struct {
	Type      string `json:"type"`
	Community string `json:"community"`
	Room      string `json:"room"`
	ID        string `json:"id"`
	Content   string `json:"content,omitempty"`
}

// Dispatcher receives inbound platform events. Lines from communities it does
// not accept are neither recorded nor dispatched.
type Dispatcher interface {
	OnReady(ctx context.Context)
	Accepts(community string) bool
	OnMessage(ctx context.Context, msg bot.Message) error
}

// Options configures a Server. Gatherer and LogLevel are optional; the
// matching route is only served when set.
type Options struct {
	Addr       string
	Token      string
	Platform   *chat.Memory
	Dispatcher Dispatcher
	Gatherer   prometheus.Gatherer
	// LogLevel serves /loglevel, typically a zap.AtomicLevel.
	LogLevel http.Handler
	Logger   *zap.Logger
}

type bridge struct {
	conn *ws.Conn
	out  chan Outbound
}

// Server is the gateway HTTP server. It implements server.Service.
type Server struct {
	opts   Options
	logger *zap.Logger
	http   *http.Server

	mu      sync.Mutex
	bridges map[*bridge]struct{}
	wg      sync.WaitGroup
}

// NewServer creates a Server and installs it as the platform's change listener.
//
// Precondition: Platform, Dispatcher and Logger must be non-nil.
// Postcondition: Host-originated room changes are fanned out to connected bridges.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		bridges: make(map[*bridge]struct{}),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	opts.Platform.OnChange(s.broadcast)
	return s
}

// Handler returns the HTTP routes served by the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", s.handleGateway)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.LogLevel != nil {
		mux.Handle("/loglevel", s.opts.LogLevel)
	}
	return mux
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("gateway listening", zap.String("addr", lis.Addr().String()))
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes every bridge and shuts the HTTP server down.
func (s *Server) Stop() {
	s.mu.Lock()
	for b := range s.bridges {
		_ = b.conn.Close(ws.StatusGoingAway, "shutting down")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("gateway shutdown", zap.Error(err))
	}
	s.wg.Wait()
}

// Bridges returns the number of connected bridges.
func (s *Server) Bridges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bridges)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) == 1
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}
	c, err := ws.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway accept", zap.Error(err))
		return
	}

	b := &bridge{conn: c, out: make(chan Outbound, outboundQueue)}
	s.mu.Lock()
	s.bridges[b] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("bridge connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(ctx, b)
	}()

	s.read(ctx, b)

	cancel()
	s.mu.Lock()
	delete(s.bridges, b)
	s.mu.Unlock()
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.logger.Info("bridge disconnected", zap.String("remote", r.RemoteAddr))
}

// read decodes frames until the bridge goes away. Message frames are handed
// to one worker per community, so each community sees its lines in order
// while a slow game hook only stalls its own community.
func (s *Server) read(ctx context.Context, b *bridge) {
	workers := newCommunityWorkers(ctx, s)
	defer workers.close()
	for {
		var in Inbound
		if err := wsjson.Read(ctx, b.conn, &in); err != nil {
			var ce ws.CloseError
			if !errors.As(err, &ce) && ctx.Err() == nil {
				s.logger.Debug("bridge read ended", zap.Error(err))
			}
			return
		}
		s.handle(ctx, in, workers)
	}
}

func (s *Server) handle(ctx context.Context, in Inbound, workers *communityWorkers) {
	switch in.Type {
	case FrameReady:
		s.opts.Dispatcher.OnReady(ctx)
	case FrameMessage:
		if in.Community == "" || in.Room == "" {
			s.logger.Warn("message frame missing community or room")
			return
		}
		if !s.opts.Dispatcher.Accepts(in.Community) {
			s.logger.Debug("dropping message from community not accepted", zap.String("community", in.Community))
			return
		}
		workers.submit(in)
	default:
		s.logger.Warn("unknown frame type", zap.String("type", in.Type))
	}
}

// dispatch records an accepted user line and hands it to the dispatcher.
func (s *Server) dispatch(ctx context.Context, in Inbound) {
	s.opts.Platform.Post(in.Community, in.Room, in.User, in.Text)
	err := s.opts.Dispatcher.OnMessage(ctx, bot.Message{
		Community:   in.Community,
		Room:        in.Room,
		User:        in.User,
		Text:        in.Text,
		Permissions: in.Permissions,
	})
	if err != nil {
		s.logger.Warn("dispatching message",
			zap.String("community", in.Community),
			zap.String("room", in.Room),
			zap.Error(err),
		)
	}
}

// communityWorkers serializes message frames per community for one bridge.
// Only the bridge's read loop calls submit and close.
type communityWorkers struct {
	ctx    context.Context
	srv    *Server
	queues map[string]chan Inbound
	wg     sync.WaitGroup
}

func newCommunityWorkers(ctx context.Context, srv *Server) *communityWorkers {
	return &communityWorkers{ctx: ctx, srv: srv, queues: make(map[string]chan Inbound)}
}

// submit queues in on its community's worker, starting the worker on first use.
// It blocks while that community's queue is full.
func (w *communityWorkers) submit(in Inbound) {
	q, ok := w.queues[in.Community]
	if !ok {
		q = make(chan Inbound, inboundQueue)
		w.queues[in.Community] = q
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for f := range q {
				w.srv.dispatch(w.ctx, f)
			}
		}()
	}
	select {
	case q <- in:
	case <-w.ctx.Done():
	}
}

// close stops every worker after it drains its queue.
func (w *communityWorkers) close() {
	for _, q := range w.queues {
		close(q)
	}
	w.wg.Wait()
}

func (s *Server) write(ctx context.Context, b *bridge) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-b.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, b.conn, f)
			cancel()
			if err != nil {
				s.logger.Debug("bridge write failed", zap.Error(err))
				return
			}
		}
	}
}

// broadcast queues a change for every bridge. Changes authored by platform
// users originate at a bridge and are not echoed.
func (s *Server) broadcast(c chat.Change) {
	if c.Op == chat.OpSend && c.Author != "" {
		return
	}
	f := Outbound{
		Type:      string(c.Op),
		Community: c.Community,
		Room:      c.Room,
		ID:        string(c.ID),
		Content:   c.Content,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for b := range s.bridges {
		select {
		case b.out <- f:
		default:
			s.logger.Warn("bridge queue full; dropping frame",
				zap.String("community", c.Community),
				zap.String("room", c.Room),
			)
		}
	}
}
