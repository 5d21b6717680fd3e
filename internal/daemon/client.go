package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	werrors "github.com/Aman-CERP/watchsync/internal/errors"
)

// Wire encodings understood by the daemon.
const (
	EncodingJSON = "json"
	EncodingBSER = "bser"
)

// Client talks to the daemon. Each call uses its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
	encoding   string
	requestID  atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEncoding selects EncodingJSON (default) or EncodingBSER.
func WithEncoding(enc string) ClientOption {
	return func(c *Client) {
		c.encoding = enc
	}
}

// NewClient creates a new daemon client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
		encoding:   EncodingJSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, werrors.New(werrors.ErrCodeSocket, "failed to connect to daemon", err).
			WithSuggestion("Start it with: watchsync daemon start")
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitReady pings until the daemon answers or retries run out. Without a
// ShouldRetry in cfg only retryable errors, such as a socket that is not
// listening yet, are retried.
func (c *Client) WaitReady(ctx context.Context, cfg werrors.RetryConfig) error {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = werrors.IsRetryable
	}
	return werrors.Retry(ctx, cfg, func() error {
		_, err := c.Ping(ctx)
		return err
	})
}

// Ping checks if the daemon is responsive and returns its version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var res PingResult
	if err := c.call(ctx, MethodPing, nil, &res); err != nil {
		return "", err
	}
	if !res.Pong {
		return "", fmt.Errorf("unexpected ping response")
	}
	return res.Version, nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.call(ctx, MethodStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Watch starts watching root.
func (c *Client) Watch(ctx context.Context, root string) (*WatchResult, error) {
	var res WatchResult
	if err := c.call(ctx, MethodWatch, RootParams{Root: root}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Unwatch stops watching root.
func (c *Client) Unwatch(ctx context.Context, root string) error {
	return c.call(ctx, MethodWatchDel, RootParams{Root: root}, nil)
}

// WatchList lists watched roots.
func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var res WatchListResult
	if err := c.call(ctx, MethodWatchList, nil, &res); err != nil {
		return nil, err
	}
	return res.Roots, nil
}

// Sync blocks until every change to root made before the call has been
// observed by the daemon. A zero timeout uses the daemon default.
func (c *Client) Sync(ctx context.Context, root string, timeout time.Duration) (*SyncResult, error) {
	params := SyncParams{Root: root, TimeoutMS: timeout.Milliseconds()}
	var res SyncResult
	if err := c.call(ctx, MethodSync, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Cookies lists root's outstanding cookie files.
func (c *Client) Cookies(ctx context.Context, root string) ([]string, error) {
	var res CookiesResult
	if err := c.call(ctx, MethodCookies, RootParams{Root: root}, &res); err != nil {
		return nil, err
	}
	return res.Files, nil
}

// Recrawl forces root to rebuild its watches, aborting pending syncs.
func (c *Client) Recrawl(ctx context.Context, root string) (*RecrawlResult, error) {
	var res RecrawlResult
	if err := c.call(ctx, MethodRecrawl, RootParams{Root: root}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// call performs one request/response exchange. Calls without a context
// deadline are bounded by the client timeout. Sync calls rely on the
// server-side timeout instead.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, ok := ctx.Deadline(); !ok && method != MethodSync {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	// ctx.Err is set before this runs, so a read failure can be told apart
	// from a dead daemon.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	cd := c.codec(conn)
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := cd.write(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	resp := Response{Result: result}
	if err := cd.read(&resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %w", method, resp.Error.Err())
	}
	return nil
}

func (c *Client) codec(conn net.Conn) codec {
	if c.encoding == EncodingBSER {
		return &bserCodec{r: bufio.NewReader(conn), w: conn, header: bserHeaderV1}
	}
	return newJSONCodec(conn)
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.requestID.Add(1))
}

// IsNotRunning reports whether err means no daemon is listening.
func IsNotRunning(err error) bool {
	return werrors.GetCode(err) == werrors.ErrCodeSocket || errors.Is(err, net.ErrClosed)
}
