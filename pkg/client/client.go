// Package client speaks the router's command protocol.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"shardfs/pkg/fserrors"
	"shardfs/pkg/wire"
)

// Client holds one router session. Calls are serialized.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", fserrors.ErrTransport, addr, err)
	}
	return New(conn), nil
}

func New(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    wire.NewReader(bufio.NewReader(conn)),
		w:    wire.NewWriter(conn),
	}
}

// command builds a command line, refusing arguments the router would split.
func command(verb string, args ...string) (string, error) {
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\r\n") {
			return "", fmt.Errorf("%w: %s: invalid argument %q", fserrors.ErrUsage, verb, a)
		}
	}
	return strings.Join(append([]string{verb}, args...), " "), nil
}

// Store uploads content as name into the directory destDir.
func (c *Client) Store(destDir, name string, content []byte) (string, error) {
	line, err := command("store", name, destDir)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteCommand(c.w, line); err != nil {
		return "", err
	}
	if err := wire.WriteUpload(c.w, content); err != nil {
		return "", err
	}
	return wire.ReadClientMessage(c.r)
}

func (c *Client) Fetch(path string) ([]byte, error) {
	line, err := command("fetch", path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteCommand(c.w, line); err != nil {
		return nil, err
	}
	return wire.ReadClientContent(c.r)
}

func (c *Client) Delete(path string) (string, error) {
	line, err := command("delete", path)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteCommand(c.w, line); err != nil {
		return "", err
	}
	return wire.ReadClientMessage(c.r)
}

// Archive returns a tar of every stored file of fileType.
func (c *Client) Archive(fileType string) ([]byte, error) {
	line, err := command("archive", fileType)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteCommand(c.w, line); err != nil {
		return nil, err
	}
	return wire.ReadClientContent(c.r)
}

func (c *Client) List(dir string) ([]string, error) {
	line, err := command("list", dir)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteCommand(c.w, line); err != nil {
		return nil, err
	}
	return wire.ReadClientList(c.r)
}

// Close ends the session politely and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = wire.WriteCommand(c.w, "terminate")
	return c.conn.Close()
}

// ArchiveName is the local file name an archive of fileType is saved as.
func ArchiveName(fileType string) string {
	return strings.TrimPrefix(fileType, ".") + "files.tar"
}
