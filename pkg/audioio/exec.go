package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// firstFrameWait bounds how long Start waits for the recorder's first frame
// before treating the device as live.
const firstFrameWait = 500 * time.Millisecond

// command builds the recorder (capture) or player invocation for backend.
// SoX takes the device from AUDIODEV, ALSA from -D.
func command(backend Backend, cfg Config, capture bool) *exec.Cmd {
	rate := strconv.Itoa(cfg.SampleRate)
	ch := strconv.Itoa(cfg.Channels)

	var name string
	var args []string
	if backend == BackendSox {
		name = "play"
		if capture {
			name = "rec"
		}
		args = []string{"-q", "-r", rate, "-c", ch, "-b", "16", "-e", "signed-integer", "-L", "-t", "raw", "-"}
	} else {
		name = "aplay"
		if capture {
			name = "arecord"
		}
		args = []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", ch}
		if cfg.Device != "" {
			args = append(args, "-D", cfg.Device)
		}
	}

	cmd := exec.Command(name, args...)
	if backend == BackendSox && cfg.Device != "" {
		cmd.Env = append(os.Environ(), "AUDIODEV="+cfg.Device)
	}
	return cmd
}

func lookup(cmd *exec.Cmd) error {
	if cmd.Err != nil {
		return cmd.Err
	}
	_, err := exec.LookPath(cmd.Path)
	return err
}

// ExecSource reads raw PCM from arecord or rec.
type ExecSource struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	chunks chan Chunk
	done   chan struct{}
	closed bool

	stopping atomic.Bool
	errMu    sync.Mutex
	err      error

	captured atomic.Int64
	dropped  atomic.Int64
}

// NewExecSource creates a recorder-backed source.
func NewExecSource(backend Backend, cfg Config, logger *slog.Logger) *ExecSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSource{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With("component", "audioio.source", "backend", backend),
	}
}

// Start runs the recorder and waits for its first frame, so permission
// and device errors surface here rather than as a silent stream.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.cmd != nil {
		return nil
	}

	cmd := command(s.backend, s.cfg, true)
	if err := lookup(cmd); err != nil {
		return s.deviceError(err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.deviceError(err)
	}
	if err := cmd.Start(); err != nil {
		return s.deviceError(err)
	}

	s.stopping.Store(false)
	s.setErr(nil)

	chunks := make(chan Chunk, 10)
	done := make(chan struct{})
	first := make(chan error, 1)
	go s.capture(cmd, stdout, &stderr, chunks, done, first)

	select {
	case err := <-first:
		if err != nil {
			<-done
			return s.deviceError(err)
		}
	case <-time.After(firstFrameWait):
	case <-ctx.Done():
		s.stopping.Store(true)
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}

	s.cmd, s.chunks, s.done = cmd, chunks, done
	s.logger.Info("capture device open", "device", s.cfg.Device, "sample_rate", s.cfg.SampleRate)
	return nil
}

func (s *ExecSource) capture(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, chunks chan<- Chunk, done chan<- struct{}, first chan<- error) {
	defer close(done)
	defer close(chunks)

	buf := make([]byte, s.cfg.FrameBytes())
	for n := 0; ; n++ {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			failure := recorderFailure(cmd.Wait(), err, stderr)
			if n == 0 {
				first <- failure
			}
			if !s.stopping.Load() {
				s.setErr(s.deviceError(failure))
				s.logger.Warn("recorder exited",
					"error", failure,
					"stderr", strings.TrimSpace(stderr.String()),
					"chunks", n,
				)
			}
			return
		}
		if n == 0 {
			first <- nil
		}

		select {
		case chunks <- DecodeChunk(buf, s.cfg.SampleRate, s.cfg.Channels):
			s.captured.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// recorderFailure prefers the recorder's own message, which names the
// real cause (for example "Permission denied").
func recorderFailure(waitErr, readErr error, stderr *bytes.Buffer) error {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return errors.New(msg)
	}
	if waitErr != nil {
		return waitErr
	}
	return fmt.Errorf("recorder produced no audio: %w", readErr)
}

func (s *ExecSource) deviceError(err error) error {
	return &DeviceError{Backend: string(s.backend), Device: s.cfg.Device, Cause: err}
}

// Stop kills the recorder and waits for the reader to drain.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	s.stopping.Store(true)
	_ = cmd.Process.Kill()
	<-done

	s.logger.Info("capture device released", "chunks", s.captured.Load(), "dropped", s.dropped.Load())
	return nil
}

// Chunks implements Source. It returns nil before Start.
func (s *ExecSource) Chunks() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Err implements Source.
func (s *ExecSource) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *ExecSource) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

func (s *ExecSource) Config() Config { return s.cfg }
func (s *ExecSource) Name() string   { return string(s.backend) }

// Close stops capture; the source cannot be restarted.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

var _ Source = (*ExecSource)(nil)

// ExecSink pipes raw PCM into aplay or play. The player starts on the
// first write after Start or Clear; Clear kills it, so whatever it had
// buffered is never heard.
type ExecSink struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	ready  bool
	closed bool
	cmd    *exec.Cmd
	stdin  io.WriteCloser
}

// NewExecSink creates a player-backed sink.
func NewExecSink(backend Backend, cfg Config, logger *slog.Logger) *ExecSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSink{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With("component", "audioio.sink", "backend", backend),
	}
}

// Start checks that the player is installed.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if err := lookup(command(s.backend, s.cfg, false)); err != nil {
		return &DeviceError{Backend: string(s.backend), Device: s.cfg.Device, Cause: err}
	}
	s.ready = true
	return nil
}

// Write implements Sink.
func (s *ExecSink) Write(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.ready {
		return io.ErrClosedPipe
	}
	if s.stdin == nil {
		cmd := command(s.backend, s.cfg, false)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("audioio: player stdin: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return &DeviceError{Backend: string(s.backend), Device: s.cfg.Device, Cause: err}
		}
		s.cmd, s.stdin = cmd, stdin
		s.logger.Debug("player started", "device", s.cfg.Device)
	}

	if _, err := s.stdin.Write(pcm); err != nil {
		s.killLocked()
		return fmt.Errorf("audioio: write to player: %w", err)
	}
	return nil
}

// Clear implements Sink.
func (s *ExecSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

func (s *ExecSink) killLocked() {
	if s.cmd == nil {
		return
	}
	s.stdin.Close()
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	s.cmd, s.stdin = nil, nil
}

func (s *ExecSink) Config() Config { return s.cfg }
func (s *ExecSink) Name() string   { return string(s.backend) }

// Close kills the player; the sink cannot be restarted.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.killLocked()
	return nil
}

var _ Sink = (*ExecSink)(nil)
