// Command narrator runs one photo session on this device: it describes the
// photo aloud and answers spoken or typed follow-up questions.
//
// Usage:
//
//	narrator <photo.jpg>
//
// Commands on stdin: talk, done, ask <question>, replay, stop, quit.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sightline/internal/audio"
	"sightline/internal/config"
	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
	"sightline/internal/models"
	"sightline/internal/speech"
	"sightline/internal/usecase"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: narrator <photo>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		slog.Error("narrator failed", "err", err)
		os.Exit(1)
	}
}

func run(photoPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireDevice(); err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	data, err := os.ReadFile(photoPath)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	img, err := domain.NewImage(data, "")
	if err != nil {
		return fmt.Errorf("load photo: %w", err)
	}

	client, err := openai.NewClient(nil, "", openai.WithAPIKey(cfg.OpenAIAPIKey), openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		return fmt.Errorf("create OpenAI client: %w", err)
	}
	coordinator, err := usecase.NewCoordinator(client,
		usecase.WithModels(cfg.ClassifyModel, cfg.DescribeModel),
		usecase.WithAdapterTimeout(cfg.AdapterTimeout),
		usecase.WithMaxAttempts(cfg.AdapterMaxAttempts),
		usecase.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	transcriber, err := newTranscriber(ctx, cfg, client, logger)
	if err != nil {
		return err
	}
	voice, err := speech.NewVoice(client, cfg.TTSModel, cfg.TTSVoice)
	if err != nil {
		return fmt.Errorf("create voice: %w", err)
	}

	sessionDir := filepath.Join(cfg.DataDir, "sessions", uuid.NewString())
	synth, err := speech.NewFileSynthesizer(voice, filepath.Join(sessionDir, "answers"))
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	recorder, err := audio.NewCommandRecorder(cfg.RecordCommand)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}
	player, err := audio.NewCommandPlayer(cfg.PlayCommand)
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	sounds, err := audio.NewManager(recorder, player, filepath.Join(sessionDir, "recordings"), audio.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create audio manager: %w", err)
	}

	session, err := usecase.NewPhotoSession(usecase.PhotoSessionConfig{
		Image:          img,
		Describer:      coordinator,
		Audio:          sounds,
		Transcriber:    transcriber,
		Synthesizer:    synth,
		AudioDir:       sessionDir,
		Observer:       logObserver{logger: logger},
		Logger:         logger,
		AdapterTimeout: cfg.AdapterTimeout,
		MaxAttempts:    cfg.AdapterMaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("create photo session: %w", err)
	}
	defer session.Close(context.WithoutCancel(ctx))

	// The stdin reader is not part of the group: a blocked read must not hold up shutdown.
	lines := make(chan string)
	go readLines(os.Stdin, lines, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if err := sounds.StopAudio(); err != nil {
			logger.Warn("stop playback on shutdown", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		printAnswer(session.Describe(gctx))
		return nil
	})
	g.Go(func() error {
		return commandLoop(gctx, g, session, lines)
	})

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newTranscriber(ctx context.Context, cfg *config.Config, client *openai.Client, logger *slog.Logger) (speech.Transcriber, error) {
	if cfg.Transcriber != "local" {
		return speech.NewCloudTranscriber(client, cfg.TranscribeModel, cfg.TranscribeLanguage)
	}
	whisper, err := models.NewManager(cfg.DataDir, models.WhisperBaseEn,
		models.WithLogger(logger),
		models.WithProgress(func(s domain.DownloadState) {
			logger.Debug("model download", "progress", s.Progress, "initialized", s.Initialized)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create model manager: %w", err)
	}
	if _, err := whisper.Ensure(ctx); err != nil {
		return nil, err
	}
	return speech.NewLocalTranscriber(cfg.WhisperBin, whisper, cfg.TranscribeLanguage)
}

var errQuit = errors.New("quit")

// photoSession is the part of *usecase.PhotoSession the command loop drives.
type photoSession interface {
	StartTalkBack(ctx context.Context) error
	FinishTalkBack(ctx context.Context) (string, error)
	Ask(ctx context.Context, question string) (string, error)
	Replay(ctx context.Context) error
	StopAudio() error
}

func readLines(r io.Reader, out chan<- string, logger *slog.Logger) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Error("read stdin", "err", err)
	}
}

// commandLoop keeps reading while describe and follow-up requests run on the
// group, so a command issued during a pending request is rejected with BUSY.
func commandLoop(ctx context.Context, g *errgroup.Group, session photoSession, lines <-chan string) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = l
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch strings.ToLower(cmd) {
		case "":
			continue
		case "talk":
			err = session.StartTalkBack(ctx)
		case "done":
			g.Go(func() error {
				printAnswer(session.FinishTalkBack(ctx))
				return nil
			})
		case "ask":
			g.Go(func() error {
				printAnswer(session.Ask(ctx, arg))
				return nil
			})
		case "replay":
			err = session.Replay(ctx)
		case "stop":
			err = session.StopAudio()
		case "quit", "exit":
			return errQuit
		default:
			fmt.Println("commands: talk, done, ask <question>, replay, stop, quit")
			continue
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}

func printAnswer(answer string, err error) {
	if answer != "" {
		fmt.Println(answer)
	}
	if err != nil {
		fmt.Println("error:", err)
	}
}

type logObserver struct {
	logger *slog.Logger
}

func (o logObserver) OnState(s usecase.State) { o.logger.Info("session state", "state", s) }
func (o logObserver) OnBusy(b bool)           { o.logger.Debug("session busy", "busy", b) }
func (o logObserver) OnError(err error)       { o.logger.Warn("session error", "err", err) }
