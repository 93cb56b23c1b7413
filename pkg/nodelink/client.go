// Package nodelink is the router's client for storage nodes. Every call
// opens its own connection, sends one request and reads one reply.
package nodelink

import (
	"context"
	"fmt"
	"net"
	"time"

	"shardfs/pkg/fserrors"
	"shardfs/pkg/wire"
)

type Options struct {
	DialTimeout time.Duration
	// Timeout bounds a whole call when ctx carries no deadline.
	Timeout    time.Duration
	MaxContent int64
}

func DefaultOptions() Options {
	return Options{
		DialTimeout: 3 * time.Second,
		Timeout:     10 * time.Second,
		MaxContent:  wire.DefaultMaxContent,
	}
}

// Client talks to one storage node.
type Client struct {
	addr   string
	opts   Options
	dialer net.Dialer
}

func New(addr string, opts Options) *Client {
	if opts.MaxContent <= 0 {
		opts.MaxContent = wire.DefaultMaxContent
	}
	return &Client{
		addr:   addr,
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.DialTimeout},
	}
}

func (c *Client) Addr() string { return c.addr }

// Store uploads content to a node-local path and returns the node's
// confirmation message.
func (c *Client) Store(ctx context.Context, path string, content []byte) (string, error) {
	var msg string
	err := c.call(ctx, wire.Request{Op: wire.OpStore, Path: path, Content: content}, func(r *wire.Reader) (err error) {
		msg, err = wire.ReadMessage(r)
		return err
	})
	return msg, err
}

func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := c.call(ctx, wire.Request{Op: wire.OpFetch, Path: path}, func(r *wire.Reader) (err error) {
		content, err = wire.ReadContent(r)
		return err
	})
	return content, err
}

func (c *Client) Delete(ctx context.Context, path string) (string, error) {
	var msg string
	err := c.call(ctx, wire.Request{Op: wire.OpDelete, Path: path}, func(r *wire.Reader) (err error) {
		msg, err = wire.ReadMessage(r)
		return err
	})
	return msg, err
}

// Archive asks the node for a tar of every file of the given type.
func (c *Client) Archive(ctx context.Context, fileType string) ([]byte, error) {
	var content []byte
	err := c.call(ctx, wire.Request{Op: wire.OpArchive, Type: fileType}, func(r *wire.Reader) (err error) {
		content, err = wire.ReadContent(r)
		return err
	})
	return content, err
}

// List returns the names directly under a node-local directory. A node
// with nothing to report answers with no names.
func (c *Client) List(ctx context.Context, dir string) ([]string, error) {
	var names []string
	err := c.call(ctx, wire.Request{Op: wire.OpList, Path: dir}, func(r *wire.Reader) (err error) {
		names, err = wire.ReadList(r)
		return err
	})
	return names, err
}

func (c *Client) call(ctx context.Context, req wire.Request, read func(*wire.Reader) error) error {
	if _, ok := ctx.Deadline(); !ok && c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", fserrors.ErrTransport, c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("%w: set deadline: %w", fserrors.ErrTransport, err)
		}
	}
	// отмена контекста рвёт соединение, блокирующее чтение сразу возвращается
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := wire.WriteRequest(wire.NewWriter(conn), req); err != nil {
		return fmt.Errorf("%s %s: %w", req.Op, c.addr, err)
	}

	r := wire.NewReader(conn)
	r.MaxContent = c.opts.MaxContent
	if err := read(r); err != nil {
		if _, ok := err.(*fserrors.Failure); ok {
			return err
		}
		return fmt.Errorf("%s %s: %w", req.Op, c.addr, err)
	}
	return nil
}
