package mpv

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures the mpv process and its IPC channel.
type Config struct {
	// Binary is the mpv executable. Empty means mpv is managed elsewhere and
	// only the socket is used.
	Binary          string
	SocketPath      string
	AudioOutput     string
	InitialVolume   int
	Cache           bool
	DemuxerMaxBytes string

	CommandTimeout time.Duration
	LoadTimeout    time.Duration
	ConnectRetries int
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	StopGrace      time.Duration
}

func (c Config) withDefaults() Config {
	if c.SocketPath == "" {
		c.SocketPath = "/tmp/mpv-socket"
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 15 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 10
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	return c
}

// Args returns the mpv command line for this configuration.
func (c Config) Args() []string {
	args := []string{
		"--input-ipc-server=" + c.SocketPath,
		"--idle=yes",
		"--no-video",
		"--no-terminal",
	}
	if c.AudioOutput != "" {
		args = append(args, "--ao="+c.AudioOutput)
	}
	args = append(args, "--volume="+strconv.Itoa(c.InitialVolume))
	if c.Cache {
		args = append(args, "--cache=yes")
		if c.DemuxerMaxBytes != "" {
			args = append(args, "--demuxer-max-bytes="+c.DemuxerMaxBytes)
		}
	}
	return args
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// stop asks mpv to exit and kills it if it has not done so within grace.
func (p *process) stop(grace time.Duration) {
	if !p.running() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		log.Warn().Int("pid", p.cmd.Process.Pid).Msg("mpv did not exit in time, killing")
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

// ensureProcess spawns mpv when a binary is configured and none is running.
func (c *Client) ensureProcess() error {
	if c.cfg.Binary == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil && c.proc.running() {
		return nil
	}
	if c.proc != nil {
		log.Warn().Err(c.proc.err).Msg("mpv process exited, respawning")
	}

	removeSocket(c.cfg.SocketPath)

	cmd := exec.Command(c.cfg.Binary, c.cfg.Args()...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.cfg.Binary, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	c.proc = p

	log.Info().Int("pid", cmd.Process.Pid).Strs("args", c.cfg.Args()).Msg("Started mpv")
	return nil
}

func removeSocket(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("socket", path).Msg("Failed to remove stale mpv socket")
	}
}
