package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// DefaultDialTimeout bounds connection setup.
const DefaultDialTimeout = 5 * time.Second

// ClientConfig controls Dial.
type ClientConfig struct {
	// Timeout for connecting. Zero means DefaultDialTimeout.
	Timeout time.Duration
	// TrustedUID must own the server end of the socket.
	TrustedUID int
}

// Client talks to a Server. It implements sequence.Service and is safe for
// concurrent use; requests are serialized over one connection.
//
// A failed exchange leaves the stream position unknown, so the connection is
// closed and every later call fails with ErrConnect.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID uint64
	broken error
}

var _ sequence.Service = (*Client)(nil)

// Dial connects to the server at path and verifies that the process on the
// other end runs as cfg.TrustedUID before any request is sent.
func Dial(ctx context.Context, path string, cfg ClientConfig) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	uid, err := peerUID(conn, path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUntrusted, err)
	}
	if uid != cfg.TrustedUID {
		conn.Close()
		return nil, fmt.Errorf("%w: uid %d", ErrUntrusted, uid)
	}
	return &Client{conn: conn, reader: bufio.NewReaderSize(conn, 4096)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, c.broken)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(dl)
	} else {
		c.conn.SetDeadline(time.Time{})
	}
	// a cancelled ctx unblocks the pending read
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	c.nextID++
	req.ID = c.nextID
	if err := writeMessage(c.conn, req); err != nil {
		return nil, c.fail(ctx, fmt.Errorf("failed to send request: %w", err))
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("failed to read response: %w", err))
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, c.fail(ctx, fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	if resp.ID != req.ID || resp.Type != req.Type {
		return nil, c.fail(ctx, fmt.Errorf("%w: response %d %s for request %d %s",
			ErrProtocol, resp.ID, resp.Type, req.ID, req.Type))
	}
	if err := responseError(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// fail closes the connection and records err. A cancelled ctx takes
// precedence so callers see context.Canceled or DeadlineExceeded.
func (c *Client) fail(ctx context.Context, err error) error {
	c.broken = err
	c.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (c *Client) CreateSequence(ctx context.Context, driveID, authID string) error {
	_, err := c.roundTrip(ctx, &Request{Type: CreateSequence, DriveID: driveID, AuthID: authID})
	return err
}

func (c *Client) InitSequence(ctx context.Context, driveID, authID string, start, max []byte) error {
	_, err := c.roundTrip(ctx, &Request{Type: InitSequence, DriveID: driveID, AuthID: authID, NextNonce: start, MaxNonce: max})
	return err
}

func (c *Client) SetMaxNonce(ctx context.Context, driveID, authID string, max []byte) error {
	_, err := c.roundTrip(ctx, &Request{Type: SetMaxNonce, DriveID: driveID, AuthID: authID, MaxNonce: max})
	return err
}

func (c *Client) NextNonce(ctx context.Context, driveID string) ([]byte, error) {
	resp, err := c.roundTrip(ctx, &Request{Type: NextNonce, DriveID: driveID})
	if err != nil {
		return nil, err
	}
	if len(resp.NextNonce) != sequence.NonceSize {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrProtocol, len(resp.NextNonce))
	}
	return resp.NextNonce, nil
}

func (c *Client) RevokeSequence(ctx context.Context, driveID string) error {
	_, err := c.roundTrip(ctx, &Request{Type: RevokeSequence, DriveID: driveID})
	return err
}

func (c *Client) GetSequence(ctx context.Context, driveID string) (*sequence.Sequence, error) {
	resp, err := c.roundTrip(ctx, &Request{Type: GetSequence, DriveID: driveID})
	if err != nil {
		return nil, err
	}
	status, err := sequence.ParseStatus(resp.SeqStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &sequence.Sequence{
		ID:        resp.DriveID,
		AuthID:    resp.AuthID,
		NextNonce: resp.NextNonce,
		MaxNonce:  resp.MaxNonce,
		Status:    status,
	}, nil
}
