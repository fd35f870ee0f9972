package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tbendali/taskdeck/internal/observability"
)

const (
	DefaultCallTimeout    = 5 * time.Second
	DefaultRespawnBackoff = 1 * time.Second

	stopGracePeriod = 700 * time.Millisecond

	// Engine responses are single lines; allow generous room for getAll payloads.
	maxResponseLine = 4 << 20
)

// Config controls the supervised engine process.
type Config struct {
	// BinPath is the engine executable. Args are passed verbatim.
	BinPath string
	Args    []string

	// CallTimeout bounds one round trip; RespawnBackoff is the delay
	// before restarting after an unexpected exit.
	CallTimeout    time.Duration
	RespawnBackoff time.Duration
}

// Bridge owns the lifecycle of one engine process and is the single
// point of contact with it. The channel is not multiplexed: calls are
// serialized here, one in flight at a time, with a single pending
// waiter slot for the matching response line.
type Bridge struct {
	binPath string
	args    []string

	callTimeout    time.Duration
	respawnBackoff time.Duration
	metrics        *observability.Metrics

	callMu sync.Mutex // serializes Call; at most one request in flight

	mu      sync.Mutex // guards process state below
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending chan []byte
	down    chan struct{}
	gen     int
	stale   int // response lines owed to abandoned calls
	running bool
	closed  bool
}

func NewBridge(cfg Config, metrics *observability.Metrics) *Bridge {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.RespawnBackoff <= 0 {
		cfg.RespawnBackoff = DefaultRespawnBackoff
	}
	return &Bridge{
		binPath:        strings.TrimSpace(cfg.BinPath),
		args:           cfg.Args,
		callTimeout:    cfg.CallTimeout,
		respawnBackoff: cfg.RespawnBackoff,
		metrics:        metrics,
	}
}

// Start spawns the engine process. Safe to call once at startup; later
// respawns are handled internally.
func (b *Bridge) Start() error {
	return b.spawn()
}

func (b *Bridge) spawn() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrUnavailable
	}
	if b.running {
		return nil
	}

	cmd := exec.Command(b.binPath, b.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	b.gen++
	b.cmd = cmd
	b.stdin = stdin
	b.pending = nil
	b.stale = 0 // a fresh process owes nothing
	b.down = make(chan struct{})
	b.running = true

	go b.readLoop(stdout, b.gen)
	go drainStderr(stderr)
	go b.supervise(cmd, b.down)

	log.Printf("engine: started %s (pid %d)", b.binPath, cmd.Process.Pid)
	return nil
}

// readLoop pumps response lines to the pending waiter. The engine
// answers strictly in request order, so lines owed to abandoned calls
// (timeouts, cancellations) are counted and dropped before anything is
// delivered — a late response must never be attributed to a later call.
func (b *Bridge) readLoop(stdout io.Reader, gen int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		b.mu.Lock()
		if b.gen != gen {
			b.mu.Unlock()
			return
		}
		if b.stale > 0 {
			b.stale--
			b.mu.Unlock()
			log.Printf("engine: dropping stale response: %s", line)
			continue
		}
		waiter := b.pending
		b.pending = nil
		b.mu.Unlock()

		if waiter != nil {
			waiter <- line
		} else if len(line) > 0 {
			log.Printf("engine: dropping unsolicited response: %s", line)
		}
	}
}

func drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Printf("engine stderr: %s", scanner.Text())
	}
}

// supervise waits for the process to exit. A non-zero exit is
// unexpected: the pending call (if any) is failed and a respawn is
// scheduled. A zero exit means the engine chose to stop; it stays down.
func (b *Bridge) supervise(cmd *exec.Cmd, down chan struct{}) {
	err := cmd.Wait()
	code := exitCode(err)

	b.mu.Lock()
	if b.cmd == cmd {
		b.running = false
		b.pending = nil
	}
	closed := b.closed
	b.mu.Unlock()
	close(down)

	if closed {
		return
	}
	if code == 0 {
		log.Printf("engine: exited cleanly, not respawning")
		return
	}

	log.Printf("engine: exited with code %d, respawning in %s", code, b.respawnBackoff)
	if b.metrics != nil {
		b.metrics.EngineRestarts.Inc()
	}
	time.AfterFunc(b.respawnBackoff, b.respawn)
}

func (b *Bridge) respawn() {
	if err := b.spawn(); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return
		}
		log.Printf("engine: respawn failed: %v, retrying in %s", err, b.respawnBackoff)
		time.AfterFunc(b.respawnBackoff, b.respawn)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Call writes one request line and waits for exactly one response line.
// Concurrent callers are serialized; a call issued while the process is
// down or mid-respawn fails immediately with ErrUnavailable.
func (b *Bridge) Call(ctx context.Context, req Request) (Response, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	b.mu.Lock()
	if b.closed || !b.running {
		b.mu.Unlock()
		b.observe(req.Action, "unavailable", 0)
		return Response{}, ErrUnavailable
	}
	waiter := make(chan []byte, 1)
	b.pending = waiter
	down := b.down
	stdin := b.stdin
	b.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		b.clearPending(waiter)
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')

	started := time.Now()
	if _, err := stdin.Write(payload); err != nil {
		b.clearPending(waiter)
		b.observe(req.Action, "unavailable", time.Since(started))
		return Response{}, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}

	timer := time.NewTimer(b.callTimeout)
	defer timer.Stop()

	select {
	case line := <-waiter:
		latency := time.Since(started)
		var resp Response
		if err := sonic.Unmarshal(line, &resp); err != nil {
			log.Printf("engine: %s failed after %s: unparseable response: %s", req.Action, latency, line)
			b.observe(req.Action, "protocol_error", latency)
			return Response{}, fmt.Errorf("%w: %s", ErrProtocol, line)
		}
		log.Printf("engine: %s completed in %s", req.Action, latency)
		b.observe(req.Action, "ok", latency)
		return resp, nil
	case <-down:
		b.observe(req.Action, "unavailable", time.Since(started))
		return Response{}, ErrUnavailable
	case <-timer.C:
		b.abandonPending(waiter)
		log.Printf("engine: %s timed out after %s", req.Action, b.callTimeout)
		b.observe(req.Action, "timeout", time.Since(started))
		return Response{}, ErrTimeout
	case <-ctx.Done():
		b.abandonPending(waiter)
		b.observe(req.Action, "cancelled", time.Since(started))
		return Response{}, ctx.Err()
	}
}

// clearPending unregisters a waiter whose request never reached the
// engine; no response line is owed.
func (b *Bridge) clearPending(waiter chan []byte) {
	b.mu.Lock()
	if b.pending == waiter {
		b.pending = nil
	}
	b.mu.Unlock()
}

// abandonPending unregisters a waiter whose request was written. The
// engine will still answer it eventually, so the owed line is counted
// for readLoop to drop instead of handing it to the next call.
func (b *Bridge) abandonPending(waiter chan []byte) {
	b.mu.Lock()
	if b.pending == waiter {
		b.pending = nil
		b.stale++
	}
	b.mu.Unlock()
}

func (b *Bridge) observe(action, outcome string, d time.Duration) {
	if b.metrics != nil {
		b.metrics.ObserveEngineCall(action, outcome, d)
	}
}

// Shutdown stops the engine and suppresses auto-respawn. Idempotent.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cmd := b.cmd
	stdin := b.stdin
	down := b.down
	running := b.running
	b.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return
	}

	// Closing stdin lets a well-behaved engine exit on EOF before we
	// escalate to signals.
	if stdin != nil {
		_ = stdin.Close()
	}
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-down:
	case <-time.After(stopGracePeriod):
		_ = cmd.Process.Kill()
		<-down
	}
	log.Printf("engine: stopped")
}
