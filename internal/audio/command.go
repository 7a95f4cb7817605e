package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"sightline/internal/domain"
)

const (
	DefaultRecordCommand = "arecord -q -f S16_LE -r 16000 -c 1 {output}"
	DefaultPlayCommand   = "ffplay -nodisp -autoexit -loglevel quiet {input}"

	outputPlaceholder = "{output}"
	inputPlaceholder  = "{input}"

	stopGrace = 3 * time.Second
)

// parseCommand splits a command template and checks it references placeholder.
func parseCommand(template, placeholder string) ([]string, error) {
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, errors.New("audio: command must not be empty")
	}
	for _, a := range argv[1:] {
		if strings.Contains(a, placeholder) {
			return argv, nil
		}
	}
	return nil, fmt.Errorf("audio: command %q must contain %s", template, placeholder)
}

func expand(argv []string, placeholder, value string) []string {
	out := make([]string, len(argv)-1)
	for i, a := range argv[1:] {
		out[i] = strings.ReplaceAll(a, placeholder, value)
	}
	return out
}

func startError(name string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, name, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, name, err)
	default:
		return fmt.Errorf("audio: start %s: %w", name, err)
	}
}

// process tracks a started command until it exits.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProcess(argv0 string, args []string) (*process, error) {
	cmd := exec.Command(argv0, args...)
	if err := cmd.Start(); err != nil {
		return nil, startError(argv0, err)
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// CommandRecorder records by running an external capture command.
type CommandRecorder struct {
	argv []string
}

func NewCommandRecorder(template string) (*CommandRecorder, error) {
	if strings.TrimSpace(template) == "" {
		template = DefaultRecordCommand
	}
	argv, err := parseCommand(template, outputPlaceholder)
	if err != nil {
		return nil, err
	}
	return &CommandRecorder{argv: argv}, nil
}

func (r *CommandRecorder) Start(_ context.Context, path string) (Recording, error) {
	p, err := startProcess(r.argv[0], expand(r.argv, outputPlaceholder, path))
	if err != nil {
		return nil, err
	}
	return &commandRecording{proc: p, path: path}, nil
}

type commandRecording struct {
	proc *process
	path string
}

func (c *commandRecording) Path() string { return c.path }

// Stop sends SIGINT so the recorder writes its header, then waits for exit.
func (c *commandRecording) Stop(ctx context.Context) error {
	if !c.proc.exited() {
		if err := c.proc.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("signal recorder: %w", err)
		}
		select {
		case <-c.proc.done:
		case <-ctx.Done():
			_ = c.proc.cmd.Process.Kill()
			<-c.proc.done
			return ctx.Err()
		case <-time.After(stopGrace):
			_ = c.proc.cmd.Process.Kill()
			<-c.proc.done
		}
	} else if c.proc.err != nil {
		return fmt.Errorf("recorder exited early: %w", c.proc.err)
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("recording file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("recording file %s is empty", c.path)
	}
	return nil
}

func (c *commandRecording) Discard() error {
	if !c.proc.exited() {
		_ = c.proc.cmd.Process.Kill()
		<-c.proc.done
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove recording: %w", err)
	}
	return nil
}

// CommandPlayer plays clips by running an external player command.
type CommandPlayer struct {
	argv []string
}

func NewCommandPlayer(template string) (*CommandPlayer, error) {
	if strings.TrimSpace(template) == "" {
		template = DefaultPlayCommand
	}
	argv, err := parseCommand(template, inputPlaceholder)
	if err != nil {
		return nil, err
	}
	return &CommandPlayer{argv: argv}, nil
}

func (p *CommandPlayer) Play(_ context.Context, ref domain.AudioRef) (Sound, error) {
	if _, err := os.Stat(ref.Path); err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}
	proc, err := startProcess(p.argv[0], expand(p.argv, inputPlaceholder, ref.Path))
	if err != nil {
		return nil, err
	}
	return &commandSound{proc: proc}, nil
}

type commandSound struct {
	proc *process
	once sync.Once
}

func (s *commandSound) Done() <-chan struct{} { return s.proc.done }

func (s *commandSound) Stop() error {
	var err error
	s.once.Do(func() {
		if s.proc.exited() {
			return
		}
		if kerr := s.proc.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill player: %w", kerr)
			return
		}
		<-s.proc.done
	})
	return err
}
