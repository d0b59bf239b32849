package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/iburimskiy/stroop-dots/internal/config"
	"github.com/iburimskiy/stroop-dots/internal/dots"
	"github.com/iburimskiy/stroop-dots/internal/game"
	"github.com/iburimskiy/stroop-dots/internal/platform"
	"github.com/iburimskiy/stroop-dots/internal/questionnaire"
	"github.com/iburimskiy/stroop-dots/internal/stimulus"
	"github.com/iburimskiy/stroop-dots/internal/trial"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const windowTitle = "Dot Experiment"

var (
	// Global flags
	verbose    bool
	configPath string
	serverURL  string
	uniqueID   string
	seed       int64

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stroop",
	Short: "Participant client for the blue/yellow dot experiment",
	Long: `Registers with the experiment server, shows each transmitted dot field
or social hint, reports the participant's answers, and finishes with the
post-experiment questionnaire.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, levelErr := logLevel()
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if levelErr != nil {
			logger.Warn("ignoring logging.level", zap.Error(levelErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runExperiment,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "stroop.yaml", "config file")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "experiment server url (overrides config)")
	rootCmd.Flags().StringVar(&uniqueID, "unique-id", "", "participant id, workerId:assignmentId (generated when empty)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "random seed for dot layouts, 0 for time-seeded")

	rootCmd.AddCommand(layoutCmd, configCmd)
	configCmd.AddCommand(configInitCmd)
}

// logLevel reads logging.level from the config file; --verbose wins. A config
// that fails to load leaves the level at info and is reported by the command.
func logLevel() (zapcore.Level, error) {
	if verbose {
		return zapcore.DebugLevel, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return zapcore.InfoLevel, nil
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return zapcore.InfoLevel, err
	}
	return level, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}
	if uniqueID != "" {
		cfg.Server.UniqueID = uniqueID
	}
	if seed != 0 {
		cfg.Stimulus.Seed = seed
	}
	if cfg.Server.UniqueID == "" {
		cfg.Server.UniqueID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fieldParams(cfg *config.Config) dots.Params {
	return dots.Params{
		Total:  cfg.Stimulus.Dots,
		Bounds: dots.Bounds{Width: cfg.Stimulus.Width, Height: cfg.Stimulus.Height},
		Radius: dots.RadiusRange{Min: cfg.Stimulus.MinRadius, Max: cfg.Stimulus.MaxRadius},
	}
}

func newGenerator(cfg *config.Config) *dots.Generator {
	s := cfg.Stimulus.Seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	return dots.NewGenerator(rand.NewSource(s), dots.WithMaxAttempts(cfg.Stimulus.MaxAttempts))
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := platform.NewClient(cfg.Server.BaseURL, cfg.Server.UniqueID, cfg.ServerTimeout(), logger.Named("platform"))
	if err != nil {
		return err
	}
	log := logger.With(zap.String("unique_id", client.UniqueID()))

	g, err := game.New(cfg, log.Named("game"))
	if err != nil {
		return err
	}
	dialogs := &game.Dialogs{Title: windowTitle, Log: log.Named("dialogs"), Game: g}

	presenter := stimulus.NewPresenter(g, log.Named("stimulus"))
	if cfg.Audio.Cue {
		cue, err := game.NewCue(cfg.Audio.Frequency, cfg.CueLength())
		if err != nil {
			log.Warn("audio cue disabled", zap.Error(err))
		} else {
			presenter.OnShown = cue.Play
		}
	}

	rec := platform.NewRecorder()
	ctrl := trial.New(trial.Options{
		API:       client,
		Display:   g,
		Generator: newGenerator(cfg),
		Presenter: presenter,
		Prompter:  dialogs,
		Recorder:  rec,
		Responses: trial.NewResponses(cfg.Responses),
		Field:     fieldParams(cfg),
		Duration:  cfg.StimulusDuration(),
		Logger:    log.Named("trial"),
	})
	q := questionnaire.New(cfg.Questionnaire.Questions, dialogs, client, rec, cfg.ResubmitTimeout(), log.Named("questionnaire"))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer g.Close()
		n, err := ctrl.Run(ctx)
		if err != nil {
			done <- err
			return
		}
		log.Info("trials finished", zap.Int("trials", n))
		g.ShowInstructions("Thank you! Please answer a few questions about the experiment.")
		done <- q.Run(ctx)
	}()

	ebiten.SetWindowSize(config.WindowWidth, config.WindowHeight)
	ebiten.SetWindowTitle(windowTitle + " - B/Y or click to answer, Esc/Q: Quit")
	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}

	cancel()
	err = <-done
	if errors.Is(err, context.Canceled) {
		log.Info("experiment closed by participant")
		return nil
	}
	if err != nil {
		dialogs.Fatal(err)
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
