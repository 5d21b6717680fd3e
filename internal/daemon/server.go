package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/watchsync/internal/bser"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/pkg/version"
)

// RequestHandler handles incoming RPC requests.
type RequestHandler interface {
	Status() StatusResult
	Watch(ctx context.Context, root string) (WatchResult, error)
	Unwatch(ctx context.Context, root string) error
	WatchList() WatchListResult
	Sync(ctx context.Context, params SyncParams) (SyncResult, error)
	Cookies(root string) (CookiesResult, error)
	Recrawl(root string) (RecrawlResult, error)
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath  string
	idleTimeout time.Duration
	listener    net.Listener
	handler     RequestHandler

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
// Connections idle for longer than idleTimeout are closed.
func NewServer(socketPath string, idleTimeout time.Duration) *Server {
	return &Server{
		socketPath:  socketPath,
		idleTimeout: idleTimeout,
	}
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return werrors.New(werrors.ErrCodeSocket, fmt.Sprintf("failed to listen on %s", s.socketPath), err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		slog.Warn("Failed to restrict socket permissions", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("Server listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isShutdown() {
				break
			}
			slog.Error("Accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// handleConnection serves requests on conn until the peer hangs up, goes
// idle, or the server shuts down.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock reads and in-flight writes on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	r := bufio.NewReader(conn)
	if _, err := r.Peek(1); err != nil {
		return
	}
	c := newCodec(r, conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		var req Request
		if err := c.read(&req); err != nil {
			if !errors.Is(err, io.EOF) && !isTimeout(err) && ctx.Err() == nil {
				slog.Debug("Malformed request",
					slog.String("codec", c.name()),
					slog.String("error", err.Error()))
				_ = c.write(parseErrorResponse(err))
			}
			return
		}

		// Syncs may legitimately outlast the idle timeout.
		_ = conn.SetReadDeadline(time.Time{})
		reqCtx, cancel := context.WithCancel(ctx)
		hangup := watchHangup(r, cancel)
		resp := s.handleRequest(reqCtx, req)

		_ = conn.SetReadDeadline(time.Now())
		gone := <-hangup
		cancel()
		if gone {
			slog.Debug("Client hung up mid-request", slog.String("method", req.Method))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.idleTimeout))
		if err := c.write(resp); err != nil {
			slog.Debug("Failed to write response", slog.String("error", err.Error()))
			return
		}
	}
}

// watchHangup cancels a request when the peer closes the connection before
// the response is written. Bytes it reads stay buffered in r. The caller must
// expire the read deadline and receive from the returned channel before
// reading from r again.
func watchHangup(r *bufio.Reader, cancel context.CancelFunc) <-chan bool {
	done := make(chan bool, 1)
	go func() {
		_, err := r.Peek(1)
		gone := err != nil && !isTimeout(err)
		if gone {
			cancel()
		}
		done <- gone
	}()
	return done
}

func parseErrorResponse(err error) Response {
	resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
	var de *bser.DecodeError
	if errors.As(err, &de) {
		resp.Error.Data = &ErrorData{Code: werrors.ErrCodeMalformedPDU}
		resp.Error.Message = de.Error()
	}
	return resp
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.Method == "" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "method is required")
	}
	if req.Method == MethodPing {
		return NewSuccessResponse(req.ID, PingResult{Pong: true, Version: version.Short()})
	}
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodStatus:
		result = s.handler.Status()

	case MethodWatchList:
		result = s.handler.WatchList()

	case MethodWatch, MethodWatchDel, MethodCookies, MethodRecrawl:
		var p RootParams
		if err = decodeParams(req.Params, &p); err == nil {
			err = p.Validate()
		}
		if err != nil {
			break
		}
		switch req.Method {
		case MethodWatch:
			result, err = s.handler.Watch(ctx, p.Root)
		case MethodWatchDel:
			err = s.handler.Unwatch(ctx, p.Root)
			result = p
		case MethodCookies:
			result, err = s.handler.Cookies(p.Root)
		case MethodRecrawl:
			result, err = s.handler.Recrawl(p.Root)
		}

	case MethodSync:
		var p SyncParams
		if err = decodeParams(req.Params, &p); err == nil {
			err = p.Validate()
		}
		if err == nil {
			result, err = s.handler.Sync(ctx, p)
		}

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	if err != nil {
		slog.Debug("Request failed",
			append([]any{slog.String("method", req.Method)}, werrors.LogAttrs(err)...)...)
		return errorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
