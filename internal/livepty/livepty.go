// Package livepty spawns a child process attached to a pseudo-terminal
// and exposes its output as a pull-based stream of timestamped chunks.
// Unlike a write/flush callback hook, one goroutine owns the PTY read
// loop and pushes each chunk onto a bounded channel; consumers pull
// from the channel, and closing it is the cancellation signal.
package livepty

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Chunk is one contiguous burst of PTY output.
type Chunk struct {
	Data      []byte
	Timestamp time.Time
	IsUTF8    bool
}

// Size is a PTY window size in rows/cols.
type Size struct {
	Rows, Cols uint16
}

// defaultRows/defaultCols are used when the controlling terminal's
// size can't be discovered (not a tty, or stdin isn't one).
const (
	defaultRows = 24
	defaultCols = 80
)

// DefaultSize discovers the size of the terminal attached to stdin,
// falling back to 80x24 when stdin isn't a terminal (e.g. running
// under a test harness or piped input).
func DefaultSize() Size {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return Size{Rows: defaultRows, Cols: defaultCols}
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return Size{Rows: defaultRows, Cols: defaultCols}
	}
	return Size{Rows: uint16(rows), Cols: uint16(cols)}
}

// Session wraps a live PTY-attached child process.
type Session struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	chunks chan Chunk

	mu       sync.Mutex
	exitCode int
	signal   string
	exited   bool
	exitCh   chan struct{}
}

// Start spawns program with args attached to a new PTY of the given
// size. The returned Session's Chunks channel receives every
// non-empty read from the PTY master until the process exits or the
// session is closed.
func Start(program string, args []string, env []string, cwd string, size Size, bufSize int) (*Session, error) {
	cmd := exec.Command(program, args...)
	cmd.Env = env
	cmd.Dir = cwd

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, err
	}

	s := &Session{
		cmd:    cmd,
		ptmx:   ptmx,
		chunks: make(chan Chunk, bufSize),
		exitCh: make(chan struct{}),
	}

	go s.readLoop()
	go s.waitLoop()

	return s, nil
}

// Chunks returns the channel of captured output chunks. It is closed
// when the PTY read loop terminates (EOF on process exit or Close).
func (s *Session) Chunks() <-chan Chunk { return s.chunks }

// Done is closed once the process has exited and its status recorded.
func (s *Session) Done() <-chan struct{} { return s.exitCh }

func (s *Session) readLoop() {
	defer close(s.chunks)
	buf := make([]byte, 64*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.chunks <- Chunk{
				Data:      data,
				Timestamp: time.Now(),
				IsUTF8:    utf8.Valid(data),
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.exited = true
	if err == nil {
		s.exitCode = 0
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		s.exitCode = exitErr.ExitCode()
		s.signal = exitSignal(exitErr)
	} else {
		s.exitCode = -1
	}
	s.mu.Unlock()
	close(s.exitCh)
}

// ExitStatus returns the exit code/signal once the process has exited.
func (s *Session) ExitStatus() (code int, signal string, exited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.signal, s.exited
}

// Write sends bytes to the child's PTY stdin.
func (s *Session) Write(b []byte) (int, error) {
	return s.ptmx.Write(b)
}

// Resize changes the PTY window size.
func (s *Session) Resize(size Size) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Pid returns the child process id.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// Close terminates the child process (if still running) and releases
// the PTY. Safe to call after the process has already exited.
func (s *Session) Close(ctx context.Context) error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.exitCh:
	case <-ctx.Done():
	}
	return s.ptmx.Close()
}
