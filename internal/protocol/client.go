package protocol

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/castellan-io/castellan/internal/logging"
	"github.com/castellan-io/castellan/pkg/model"
	"github.com/castellan-io/castellan/pkg/ports"
)

// Client talks the management protocol to a remote controller. Each
// request runs on its own connection; cancellation travels on a separate
// connection keyed by the server-issued request id.
type Client struct {
	addr      string
	handlerID byte
	timeout   time.Duration
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHandlerID selects the server-side handler addressed by requests.
func WithHandlerID(id byte) ClientOption {
	return func(c *Client) {
		c.handlerID = id
	}
}

// WithConnectTimeout overrides the dial timeout.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the controller at addr.
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{
		addr:      addr,
		handlerID: HandlerController,
		timeout:   DefaultConnectTimeout * time.Millisecond,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) dial() (net.Conn, *bufio.Reader, *bufio.Writer, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect %s: %w", c.addr, err)
	}
	return conn, bufio.NewReader(conn), bufio.NewWriter(conn), nil
}

func (c *Client) writeRequest(w *bufio.Writer, code byte) error {
	if err := w.WriteByte(c.handlerID); err != nil {
		return err
	}
	if err := w.WriteByte(RequestOperation); err != nil {
		return err
	}
	return w.WriteByte(code)
}

// readResponseCode consumes the response code, converting a framed error
// into a Go error.
func readResponseCode(r *bufio.Reader, expected byte) error {
	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	if code == ResponseError {
		msg, err := readUTFZ(r)
		if err != nil {
			return fmt.Errorf("remote error (unreadable): %w", err)
		}
		return fmt.Errorf("remote error: %s", msg)
	}
	if code != expected {
		return protocolErrorf("expected response 0x%02x, got 0x%02x", expected, code)
	}
	return nil
}

// ExecuteSync runs the operation remotely and returns the full envelope.
func (c *Client) ExecuteSync(operation *model.Value) (*model.Value, error) {
	conn, r, w, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := c.writeRequest(w, RequestExecuteSync); err != nil {
		return nil, err
	}
	if err := w.WriteByte(ParamOperation); err != nil {
		return nil, err
	}
	if err := operation.WriteBinary(w); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	if err := readResponseCode(r, ResponseExecuteSync); err != nil {
		return nil, err
	}
	if err := expectHeader(r, ParamOperation); err != nil {
		return nil, err
	}
	return model.ReadBinary(r)
}

// AsyncOperation is a remote in-flight operation. The request id becomes
// available only if the server sent one (it is omitted for operations
// that completed inline).
type AsyncOperation struct {
	client *Client

	mu        sync.Mutex
	requestID int32
	hasID     bool
	result    ports.OperationResult
	err       error

	done chan struct{}
}

// ExecuteAsync starts the operation remotely, forwarding fragments and
// the terminal to sink as they arrive. The returned handle cancels via
// the request id and waits for the terminal.
func (c *Client) ExecuteAsync(operation *model.Value, sink ports.ResultSink) (*AsyncOperation, error) {
	conn, r, w, err := c.dial()
	if err != nil {
		return nil, err
	}

	if err := c.writeRequest(w, RequestExecuteAsync); err != nil {
		conn.Close()
		return nil, err
	}
	if err := w.WriteByte(ParamOperation); err != nil {
		conn.Close()
		return nil, err
	}
	if err := operation.WriteBinary(w); err != nil {
		conn.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		conn.Close()
		return nil, err
	}

	op := &AsyncOperation{client: c, done: make(chan struct{})}
	go op.readLoop(conn, r, sink)
	return op, nil
}

func (op *AsyncOperation) readLoop(conn net.Conn, r *bufio.Reader, sink ports.ResultSink) {
	defer close(op.done)
	defer conn.Close()

	fail := func(err error) {
		op.mu.Lock()
		op.err = err
		op.mu.Unlock()
		sink.Failed(model.NewString(err.Error()))
	}

	if err := readResponseCode(r, ResponseExecuteAsync); err != nil {
		fail(err)
		return
	}

	for {
		tag, err := r.ReadByte()
		if err != nil {
			fail(err)
			return
		}
		switch tag {
		case ParamRequestID:
			id, err := readInt(r)
			if err != nil {
				fail(err)
				return
			}
			op.mu.Lock()
			op.requestID = id
			op.hasID = true
			op.mu.Unlock()
		case ParamHandleResultFragment:
			if err := expectHeader(r, ParamLocation); err != nil {
				fail(err)
				return
			}
			count, err := readInt(r)
			if err != nil {
				fail(err)
				return
			}
			location := make([]string, count)
			for i := range location {
				if location[i], err = readUTFZ(r); err != nil {
					fail(err)
					return
				}
			}
			if err := expectHeader(r, ParamOperation); err != nil {
				fail(err)
				return
			}
			fragment, err := model.ReadBinary(r)
			if err != nil {
				fail(err)
				return
			}
			sink.ResultFragment(location, fragment)
		case ParamHandleResultComplete:
			if err := expectHeader(r, ParamOperation); err != nil {
				fail(err)
				return
			}
			compensating, err := model.ReadBinary(r)
			if err != nil {
				fail(err)
				return
			}
			op.mu.Lock()
			op.result = ports.OperationResult{CompensatingOperation: compensating, Cancellable: ports.NotCancellable}
			op.mu.Unlock()
			sink.Complete()
			return
		case ParamHandleResultFailed:
			if err := expectHeader(r, ParamOperation); err != nil {
				fail(err)
				return
			}
			description, err := model.ReadBinary(r)
			if err != nil {
				fail(err)
				return
			}
			sink.Failed(description)
			return
		case ParamHandleCancellation:
			sink.Cancelled()
			return
		default:
			fail(protocolErrorf("unexpected tag 0x%02x", tag))
			return
		}
	}
}

// RequestID returns the server-issued id, if one was sent.
func (op *AsyncOperation) RequestID() (int32, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.requestID, op.hasID
}

// Cancel delivers a cancellation for the in-flight operation. It reports
// false when no request id is known or the terminal already fired.
func (op *AsyncOperation) Cancel() bool {
	id, ok := op.RequestID()
	if !ok {
		return false
	}
	cancelled, err := op.client.Cancel(id)
	if err != nil {
		op.client.logger.Debug("cancel request failed", "err", err)
		return false
	}
	return cancelled
}

// Wait blocks until the terminal and returns the operation result; the
// compensating operation is set after a successful completion.
func (op *AsyncOperation) Wait() (ports.OperationResult, error) {
	<-op.done
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.result.Cancellable == nil {
		op.result.Cancellable = ports.NotCancellable
	}
	return op.result, op.err
}

// Cancel asks the server to cancel the identified operation. True means
// the cancel was delivered before the terminal.
func (c *Client) Cancel(requestID int32) (bool, error) {
	conn, r, w, err := c.dial()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := c.writeRequest(w, RequestCancelAsync); err != nil {
		return false, err
	}
	if err := w.WriteByte(ParamRequestID); err != nil {
		return false, err
	}
	if err := writeInt(w, requestID); err != nil {
		return false, err
	}
	if err := w.Flush(); err != nil {
		return false, err
	}

	if err := readResponseCode(r, ResponseCancelAsync); err != nil {
		return false, err
	}
	return readBoolean(r)
}
