package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"
)

const (
	socketWaitRetries = 50
	socketWaitDelay   = 100 * time.Millisecond
	writeDeadline     = 2 * time.Second
)

// process is a running engine binary.
type process interface {
	Wait() error
	Kill() error
}

// starter launches an engine binary. Tests replace it.
type starter func(bin string, args []string) (process, error)

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// startExec runs bin with explicit args and no shell. Standard streams are
// detached so the engine cannot corrupt the terminal UI.
func startExec(bin string, args []string) (process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}
	return &execProcess{cmd: cmd}, nil
}

// ipcMessage is one newline-delimited JSON line from mpv: either an event or
// a command reply.
type ipcMessage struct {
	Event     string          `json:"event"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
	RequestID int             `json:"request_id"`
	Error     string          `json:"error"`
}

// ipcCommand is the JSON structure sent to mpv's IPC socket.
type ipcCommand struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id"`
}

// ipcConn is a persistent connection to mpv's JSON IPC socket. Commands are
// fire-and-forget; replies arrive on the read loop with the events.
type ipcConn struct {
	conn   net.Conn
	mu     sync.Mutex // protects writes and nextID
	nextID int
}

// dialIPC waits until the socket accepts connections, the process exits, or
// ctx is done.
func dialIPC(ctx context.Context, socketPath string, exited <-chan struct{}) (*ipcConn, error) {
	var lastErr error
	for i := 0; i < socketWaitRetries; i++ {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			return &ipcConn{conn: conn}, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-exited:
			return nil, fmt.Errorf("engine exited before socket was ready")
		case <-time.After(socketWaitDelay):
		}
	}
	return nil, fmt.Errorf("socket %s not ready after %d attempts: %w", socketPath, socketWaitRetries, lastErr)
}

// send writes one command.
func (c *ipcConn) send(args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	payload, err := json.Marshal(ipcCommand{Command: args, RequestID: c.nextID})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readLoop hands every message to handle until the connection closes.
func (c *ipcConn) readLoop(handle func(ipcMessage)) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		handle(msg)
	}
}

func (c *ipcConn) Close() error {
	return c.conn.Close()
}
