// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/coapgw/pkg/codec"
	gwerrors "github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/absmach/coapgw/pkg/metrics"
	"github.com/absmach/coapgw/pkg/responder"
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

const (
	// DefaultSessionTimeout is the default timeout for idle UDP sessions.
	DefaultSessionTimeout = 5 * time.Minute

	// DefaultShutdownTimeout is the default timeout for graceful shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// MaxDatagramSize is the maximum size of a UDP datagram.
	MaxDatagramSize = 65535

	// DefaultBufferSize is the default buffer size for UDP packets.
	DefaultBufferSize = 8192

	// DefaultWorkerPoolSize is the default number of workers for packet processing.
	DefaultWorkerPoolSize = 100

	// workerQueueSize is the number of datagrams a worker can hold queued.
	workerQueueSize = 16
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Dispatcher routes decoded requests to responders.
// *responder.Manager implements it.
type Dispatcher interface {
	Dispatch(conn responder.Conn, req *message.Request) error
	Waiter
}

// Config holds the UDP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// SessionTimeout is the idle timeout for UDP sessions.
	// Closing a session stops every responder bound to it, so this also
	// bounds how long an observation survives without client traffic.
	SessionTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for responders to stop
	// during graceful shutdown
	ShutdownTimeout time.Duration

	// MaxSessions is the maximum number of concurrent UDP sessions allowed.
	// If 0, no limit is enforced. Default is 0 (unlimited).
	MaxSessions int

	// BufferSize is the size of datagram read buffers in bytes.
	// If 0, uses DefaultBufferSize (8192 bytes).
	// Must not exceed MaxDatagramSize (65535).
	BufferSize int

	// WorkerPoolSize is the number of goroutines in the packet processing pool.
	// If 0, uses DefaultWorkerPoolSize (100).
	WorkerPoolSize int

	// ReadBufferSize sets the socket receive buffer size (SO_RCVBUF).
	// If 0, uses system default.
	ReadBufferSize int

	// WriteBufferSize sets the socket send buffer size (SO_SNDBUF).
	// If 0, uses system default.
	WriteBufferSize int

	// Logger for server events
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// packetJob represents a packet processing job for the worker pool.
type packetJob struct {
	conn       *net.UDPConn
	clientAddr *net.UDPAddr
	data       []byte
}

// Server is a CoAP over UDP server. It keeps one session per client
// address and hands decoded requests to a Dispatcher.
type Server struct {
	config     Config
	codec      codec.Codec
	dispatcher Dispatcher
	sessions   *SessionManager
	bufferPool *sync.Pool
	workerChs  []chan packetJob
	workerWg   sync.WaitGroup
	addr       atomic.Pointer[net.UDPAddr]
	ready      chan struct{}
}

// New creates a new UDP server with the given configuration, codec, and dispatcher.
func New(cfg Config, c codec.Codec, d Dispatcher) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DefaultWorkerPoolSize
	}

	// Create buffer pool for efficient memory reuse
	bufferPool := &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, cfg.BufferSize)
			return &buf
		},
	}

	workerChs := make([]chan packetJob, cfg.WorkerPoolSize)
	for i := range workerChs {
		workerChs[i] = make(chan packetJob, workerQueueSize)
	}

	return &Server{
		config:     cfg,
		codec:      c,
		dispatcher: d,
		sessions:   NewSessionManager(cfg.Logger, cfg.Metrics, cfg.MaxSessions),
		bufferPool: bufferPool,
		workerChs:  workerChs,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or nil before Listen has bound it.
func (s *Server) Addr() *net.UDPAddr {
	return s.addr.Load()
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	return s.sessions.Count()
}

// Listen starts the UDP server and blocks until the context is cancelled.
// It implements graceful shutdown with session draining.
func (s *Server) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address %s: %w", s.config.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	defer conn.Close()

	// Configure socket buffer sizes if specified
	if s.config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBufferSize); err != nil {
			s.config.Logger.Warn("failed to set read buffer size",
				slog.String("error", err.Error()))
		}
	}
	if s.config.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(s.config.WriteBufferSize); err != nil {
			s.config.Logger.Warn("failed to set write buffer size",
				slog.String("error", err.Error()))
		}
	}

	if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		s.addr.Store(local)
	}
	close(s.ready)

	s.config.Logger.Info("CoAP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Duration("session_timeout", s.config.SessionTimeout),
		slog.Int("worker_pool_size", s.config.WorkerPoolSize),
		slog.Int("buffer_size", s.config.BufferSize))

	// Sessions outlive the listen context so that shutdown can close them
	// in order rather than all at once.
	sessCtx := context.WithoutCancel(ctx)

	// Start worker pool for packet processing
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	s.startWorkerPool(workerCtx, sessCtx)

	// Start session cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go s.sessions.Cleanup(cleanupCtx, s.config.SessionTimeout)

	// Read loop
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// Get buffer from pool
			bufPtr := s.bufferPool.Get().(*[]byte)
			buffer := *bufPtr

			n, clientAddr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				s.bufferPool.Put(bufPtr) // Return buffer to pool
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to read UDP packet",
						slog.String("error", err.Error()))
					continue
				}
			}

			// Make a copy of the data for processing
			datagram := make([]byte, n)
			copy(datagram, buffer[:n])
			s.bufferPool.Put(bufPtr) // Return buffer to pool immediately

			// Send packet to the client's worker (non-blocking)
			select {
			case s.workerFor(clientAddr) <- packetJob{
				conn:       conn,
				clientAddr: clientAddr,
				data:       datagram,
			}:
			case <-ctx.Done():
				return
			default:
				// Worker pool is full, drop packet and log warning
				s.config.Metrics.Datagram(codec.Inbound.String(), "dropped")
				s.config.Logger.Warn("worker pool full, dropping packet",
					slog.String("client", clientAddr.String()))
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	// Close the connection to stop reading
	if err := conn.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	// Wait for read loop to finish
	<-readDone

	// Close worker channels and wait for workers to finish
	for _, ch := range s.workerChs {
		close(ch)
	}
	workerCancel()
	s.workerWg.Wait()
	s.config.Logger.Info("all workers stopped")

	// Close sessions and wait for their responders
	return s.sessions.DrainAll(s.config.ShutdownTimeout, s.dispatcher)
}

// startWorkerPool starts the worker goroutines for packet processing.
func (s *Server) startWorkerPool(ctx, sessCtx context.Context) {
	for i := 0; i < s.config.WorkerPoolSize; i++ {
		s.workerWg.Add(1)
		go func(workerID int) {
			defer s.workerWg.Done()
			s.packetWorker(ctx, sessCtx, workerID)
		}(i)
	}
	s.config.Logger.Info("worker pool started", slog.Int("workers", s.config.WorkerPoolSize))
}

// workerFor returns the queue of the worker owning clientAddr. Every
// datagram from one client goes to the same worker, so its requests
// reach the responders in arrival order.
func (s *Server) workerFor(clientAddr *net.UDPAddr) chan packetJob {
	h := fnv.New32a()
	h.Write([]byte(clientAddr.String()))
	return s.workerChs[h.Sum32()%uint32(len(s.workerChs))]
}

// packetWorker processes packets from its own channel.
func (s *Server) packetWorker(ctx, sessCtx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.workerChs[workerID]:
			if !ok {
				// Channel closed, worker should exit
				return
			}
			if err := s.handlePacket(sessCtx, job.conn, job.clientAddr, job.data); err != nil {
				s.config.Logger.Debug("packet handler error",
					slog.Int("worker", workerID),
					slog.String("client", job.clientAddr.String()),
					slog.String("error", err.Error()))
			}
		}
	}
}

// handlePacket processes a single UDP datagram by:
// 1. Decoding it with the codec
// 2. Getting or creating a session for the client
// 3. Answering empty messages and filtering duplicates
// 4. Dispatching requests to the responder for their path.
func (s *Server) handlePacket(ctx context.Context, listener *net.UDPConn, clientAddr *net.UDPAddr, data []byte) error {
	req, err := s.codec.Decode(ctx, data)
	if err != nil {
		s.config.Metrics.Datagram(codec.Inbound.String(), "malformed")
		return err
	}

	sess, _, err := s.sessions.GetOrCreate(ctx, clientAddr, listener, s.codec)
	if err != nil {
		// Session limit reached
		s.config.Metrics.Datagram(codec.Inbound.String(), "rejected")
		s.config.Logger.Warn("failed to get/create session",
			slog.String("client", clientAddr.String()),
			slog.String("error", err.Error()))
		return err
	}
	s.config.Metrics.Datagram(codec.Inbound.String(), "ok")

	if req.Method == codes.Empty {
		return s.handleEmpty(sess, req)
	}

	if req.Type == coapmsg.Confirmable && !sess.Dedupe(req.MessageID) {
		s.config.Metrics.Datagram(codec.Inbound.String(), "duplicate")
		return nil
	}

	if err := s.dispatcher.Dispatch(sess, req); err != nil {
		if gwerrors.Is(err, gwerrors.ErrNotFound) {
			return nil
		}
		return gwerrors.New("dispatch", req.Path(), sess.RemoteAddr(), err)
	}
	return nil
}

// handleEmpty answers CoAP pings and consumes acknowledgements of
// notifications.
func (s *Server) handleEmpty(sess *Session, req *message.Request) error {
	switch req.Type {
	case coapmsg.Confirmable:
		sess.Send(message.ResetFor(req))
	case coapmsg.Reset:
		sess.logger.Debug("notification rejected by client", slog.Int("mid", int(req.MessageID)))
	}
	return nil
}
