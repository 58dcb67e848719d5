package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/castellan-io/castellan/internal/logging"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// HostRegistrar is the domain-side port invoked when a host controller
// registers or unregisters over the wire.
type HostRegistrar interface {
	RegisterHost(name, remoteAddr string) error
	UnregisterHost(name string)
}

// Server accepts management connections and dispatches framed requests
// to the controller. It issues request ids for asynchronous operations
// and keeps their cancellation handles until the terminal is written.
type Server struct {
	controller ports.Controller
	snapshot   func() *model.Value
	hosts      HostRegistrar
	logger     *slog.Logger

	requestIDs atomic.Int32
	mu         sync.Mutex
	inflight   map[int32]ports.Cancellable

	listener net.Listener
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHostRegistrar enables host-controller registration (domain mode).
func WithHostRegistrar(hosts HostRegistrar) ServerOption {
	return func(s *Server) {
		s.hosts = hosts
	}
}

// WithSnapshot supplies the model snapshot returned to registering hosts.
func WithSnapshot(snapshot func() *model.Value) ServerOption {
	return func(s *Server) {
		s.snapshot = snapshot
	}
}

// WithServerLogger sets the structured logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a protocol server for the controller.
func NewServer(controller ports.Controller, opts ...ServerOption) *Server {
	s := &Server{
		controller: controller,
		logger:     logging.NewNop(),
		inflight:   map[int32]ports.Cancellable{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds addr and serves until Close.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and waits for in-flight connections.
func (s *Server) Close() error {
	s.closed.Store(true)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

// serveConn handles one connection: a sequence of framed requests. A
// protocol violation is reported with a framed error, then the stream is
// closed.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := &lockedWriter{w: bufio.NewWriter(conn)}

	for {
		handlerID, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.logger.Debug("connection read failed", "err", err)
			}
			return
		}
		if handlerID != HandlerController && handlerID != HandlerDomain && handlerID != HandlerHost {
			s.frameError(w, "unknown handler id 0x%02x", handlerID)
			return
		}
		if err := expectHeader(r, RequestOperation); err != nil {
			s.frameError(w, "%v", err)
			return
		}
		code, err := r.ReadByte()
		if err != nil {
			return
		}
		if err := s.handleRequest(handlerID, code, conn, r, w); err != nil {
			var perr *protocolError
			if errors.As(err, &perr) {
				s.frameError(w, "%s", perr.msg)
			} else if !errors.Is(err, io.EOF) {
				s.logger.Warn("request handling failed", "err", err)
			}
			return
		}
	}
}

func (s *Server) handleRequest(handlerID, code byte, conn net.Conn, r *bufio.Reader, w *lockedWriter) error {
	switch code {
	case RequestExecuteSync:
		return s.executeSync(r, w)
	case RequestExecuteAsync:
		return s.executeAsync(r, w)
	case RequestCancelAsync:
		return s.cancelAsync(r, w)
	case RequestRegisterHost:
		if handlerID != HandlerDomain || s.hosts == nil {
			return protocolErrorf("host registration is not available here")
		}
		return s.registerHost(conn, r, w)
	case RequestUnregisterHost:
		if handlerID != HandlerDomain || s.hosts == nil {
			return protocolErrorf("host registration is not available here")
		}
		return s.unregisterHost(r, w)
	}
	return protocolErrorf("unknown request code 0x%02x", code)
}

func (s *Server) executeSync(r *bufio.Reader, w *lockedWriter) error {
	if err := expectHeader(r, ParamOperation); err != nil {
		return err
	}
	operation, err := model.ReadBinary(r)
	if err != nil {
		return protocolErrorf("bad operation payload: %v", err)
	}
	result := s.controller.Execute(context.Background(), operation)
	w.Lock()
	defer w.Unlock()
	if err := w.w.WriteByte(ResponseExecuteSync); err != nil {
		return err
	}
	if err := w.w.WriteByte(ParamOperation); err != nil {
		return err
	}
	if err := result.WriteBinary(w.w); err != nil {
		return err
	}
	return w.w.Flush()
}

// executeAsync streams the operation's output. The request id record is
// written only when the operation has not completed inline by the time
// the dispatcher checks, so clients must treat it as optional.
func (s *Server) executeAsync(r *bufio.Reader, w *lockedWriter) error {
	if err := expectHeader(r, ParamOperation); err != nil {
		return err
	}
	operation, err := model.ReadBinary(r)
	if err != nil {
		return protocolErrorf("bad operation payload: %v", err)
	}

	w.Lock()
	err = w.w.WriteByte(ResponseExecuteAsync)
	if err == nil {
		err = w.w.Flush()
	}
	w.Unlock()
	if err != nil {
		return err
	}

	requestID := s.requestIDs.Add(1)
	sink := &streamSink{w: w, done: make(chan struct{})}
	result := s.controller.ExecuteAsync(operation, sink)

	select {
	case <-sink.done:
		// Completed inline; no request id needed.
	default:
		s.mu.Lock()
		s.inflight[requestID] = result.Cancellable
		s.mu.Unlock()
		w.Lock()
		err = w.w.WriteByte(ParamRequestID)
		if err == nil {
			err = writeInt(w.w, requestID)
		}
		if err == nil {
			err = w.w.Flush()
		}
		w.Unlock()
		if err != nil {
			s.prune(requestID)
			return err
		}
		<-sink.done
	}
	s.prune(requestID)

	if sink.writeErr != nil {
		return sink.writeErr
	}

	w.Lock()
	defer w.Unlock()
	switch sink.status {
	case 1:
		if err := w.w.WriteByte(ParamHandleResultComplete); err != nil {
			return err
		}
		if err := w.w.WriteByte(ParamOperation); err != nil {
			return err
		}
		if err := result.CompensatingOperation.WriteBinary(w.w); err != nil {
			return err
		}
	case 2:
		if err := w.w.WriteByte(ParamHandleResultFailed); err != nil {
			return err
		}
		if err := w.w.WriteByte(ParamOperation); err != nil {
			return err
		}
		if err := sink.failure.WriteBinary(w.w); err != nil {
			return err
		}
	case 3:
		if err := w.w.WriteByte(ParamHandleCancellation); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

func (s *Server) cancelAsync(r *bufio.Reader, w *lockedWriter) error {
	if err := expectHeader(r, ParamRequestID); err != nil {
		return err
	}
	requestID, err := readInt(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	cancellable := s.inflight[requestID]
	s.mu.Unlock()
	cancelled := cancellable != nil && cancellable.Cancel()

	w.Lock()
	defer w.Unlock()
	if err := w.w.WriteByte(ResponseCancelAsync); err != nil {
		return err
	}
	if err := writeBoolean(w.w, cancelled); err != nil {
		return err
	}
	return w.w.Flush()
}

func (s *Server) registerHost(conn net.Conn, r *bufio.Reader, w *lockedWriter) error {
	if err := expectHeader(r, ParamHostID); err != nil {
		return err
	}
	name, err := readUTFZ(r)
	if err != nil {
		return err
	}
	if err := s.hosts.RegisterHost(name, conn.RemoteAddr().String()); err != nil {
		return protocolErrorf("host registration rejected: %v", err)
	}
	s.logger.Info("host controller registered", "host", name, "remote", conn.RemoteAddr().String())

	root := model.New()
	if s.snapshot != nil {
		root = s.snapshot()
	}
	w.Lock()
	defer w.Unlock()
	if err := w.w.WriteByte(ResponseRegisterHost); err != nil {
		return err
	}
	if err := w.w.WriteByte(ParamModel); err != nil {
		return err
	}
	if err := root.WriteBinary(w.w); err != nil {
		return err
	}
	return w.w.Flush()
}

func (s *Server) unregisterHost(r *bufio.Reader, w *lockedWriter) error {
	if err := expectHeader(r, ParamHostID); err != nil {
		return err
	}
	name, err := readUTFZ(r)
	if err != nil {
		return err
	}
	s.hosts.UnregisterHost(name)
	s.logger.Info("host controller unregistered", "host", name)

	w.Lock()
	defer w.Unlock()
	if err := w.w.WriteByte(ResponseUnregisterHost); err != nil {
		return err
	}
	return w.w.Flush()
}

func (s *Server) prune(requestID int32) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	s.mu.Unlock()
}

func (s *Server) frameError(w *lockedWriter, format string, args ...any) {
	w.Lock()
	defer w.Unlock()
	if err := w.w.WriteByte(ResponseError); err != nil {
		return
	}
	if err := writeUTFZ(w.w, protocolErrorf(format, args...).Error()); err != nil {
		return
	}
	_ = w.w.Flush()
}

// lockedWriter serializes concurrent writers on one stream: the request
// goroutine and the handler's fragment emissions.
type lockedWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (l *lockedWriter) Lock()   { l.mu.Lock() }
func (l *lockedWriter) Unlock() { l.mu.Unlock() }

// streamSink writes fragments straight to the wire, each record atomic
// under the stream's write mutex, and records the terminal for the
// request goroutine to frame.
type streamSink struct {
	w        *lockedWriter
	mu       sync.Mutex
	status   int // 0 pending, 1 complete, 2 failed, 3 cancelled
	failure  *model.Value
	writeErr error
	done     chan struct{}
}

func (s *streamSink) ResultFragment(location []string, fragment *model.Value) {
	s.mu.Lock()
	terminal := s.status != 0
	s.mu.Unlock()
	if terminal {
		return
	}
	s.w.Lock()
	defer s.w.Unlock()
	err := s.w.w.WriteByte(ParamHandleResultFragment)
	if err == nil {
		err = s.w.w.WriteByte(ParamLocation)
	}
	if err == nil {
		err = writeInt(s.w.w, int32(len(location)))
	}
	for _, loc := range location {
		if err != nil {
			break
		}
		err = writeUTFZ(s.w.w, loc)
	}
	if err == nil {
		err = s.w.w.WriteByte(ParamOperation)
	}
	if err == nil {
		err = fragment.WriteBinary(s.w.w)
	}
	if err == nil {
		err = s.w.w.Flush()
	}
	if err != nil {
		s.mu.Lock()
		s.writeErr = err
		s.mu.Unlock()
	}
}

func (s *streamSink) Complete() {
	s.terminate(1, nil)
}

func (s *streamSink) Failed(description *model.Value) {
	s.terminate(2, description)
}

func (s *streamSink) Cancelled() {
	s.terminate(3, nil)
}

func (s *streamSink) terminate(status int, failure *model.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != 0 {
		return
	}
	s.status = status
	s.failure = failure
	close(s.done)
}
