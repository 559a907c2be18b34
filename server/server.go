package server

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/foreman/config"
	"github.com/teranos/foreman/dispatch"
	"github.com/teranos/foreman/metrics"
)

// Server exposes the dispatch engine over REST and WebSocket. The hub
// loop in Run owns the client set and every client send channel; handlers
// only talk to it through the register, unregister, and broadcast
// channels, so channel closes never race with sends.
type Server struct {
	engine   *dispatch.Engine
	pool     *dispatch.Pool
	store    *dispatch.Store
	dispatch *config.Manager
	srvCfg   config.ServerConfig
	metrics  *metrics.Collector
	logger   *zap.SugaredLogger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan interface{}

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options carries the wired services the server fronts
type Options struct {
	Engine   *dispatch.Engine
	Pool     *dispatch.Pool
	Store    *dispatch.Store
	Dispatch *config.Manager
	Server   config.ServerConfig
	Metrics  *metrics.Collector
	Logger   *zap.SugaredLogger
}

// NewServer creates a server around an already-wired engine
func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:     opts.Engine,
		pool:       opts.Pool,
		store:      opts.Store,
		dispatch:   opts.Dispatch,
		srvCfg:     opts.Server,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan interface{}, 64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run is the hub event loop. Single goroutine; sole owner of s.clients
// and of closing client send channels.
func (s *Server) Run() {
	for {
		select {
		case <-s.ctx.Done():
			for client := range s.clients {
				delete(s.clients, client)
				client.close()
			}
			s.logger.Debugw("Server hub stopped")
			return
		case client := <-s.register:
			s.clients[client] = true
			s.logger.Infow("Stats client connected",
				"client_id", client.id,
				"total_clients", len(s.clients))
		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.close()
				s.logger.Infow("Stats client disconnected",
					"client_id", client.id,
					"total_clients", len(s.clients))
			}
		case msg := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- msg:
				default:
					// Send buffer full; the client is not keeping up.
					delete(s.clients, client)
					client.close()
					s.logger.Warnw("Dropping slow stats client",
						"client_id", client.id,
						"total_clients", len(s.clients))
				}
			}
		}
	}
}

// broadcastMessage queues a message for every connected client.
// Safe from any goroutine; drops the message when the hub is saturated.
func (s *Server) broadcastMessage(msg interface{}) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Debugw("Broadcast queue full, dropping message")
	}
}
