package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/phasegate/internal/backend"
	"github.com/aristath/phasegate/internal/checkpoint"
	"github.com/aristath/phasegate/internal/config"
	"github.com/aristath/phasegate/internal/events"
	"github.com/aristath/phasegate/internal/logging"
	"github.com/aristath/phasegate/internal/orchestrator"
	"github.com/aristath/phasegate/internal/persistence"
	"github.com/aristath/phasegate/internal/project"
	"github.com/aristath/phasegate/internal/tracing"
	"github.com/aristath/phasegate/internal/tui"
	"github.com/aristath/phasegate/internal/vcs"
	"github.com/aristath/phasegate/internal/verify"
	"github.com/aristath/phasegate/internal/worker"
)

// runFlags are the overrides accepted by `phasegate run`.
type runFlags struct {
	configPath   string
	workDir      string
	projectType  string
	deployTarget string
	vcs          string
	traceFile    string
	logLevel     string
	verbose      bool
}

var runOpts runFlags

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.configPath, "config", "", "extra config file, applied over the global and project files")
	f.StringVarP(&runOpts.workDir, "work-dir", "C", ".", "project directory the workers operate in")
	f.StringVar(&runOpts.projectType, "project-type", "", "new or existing; skips the question during setup")
	f.StringVar(&runOpts.deployTarget, "deploy-target", "", "deployment platform, or skip")
	f.StringVar(&runOpts.vcs, "vcs", "", "git or unmanaged")
	f.StringVar(&runOpts.traceFile, "trace-file", "", "write OpenTelemetry spans to this file")
	f.StringVar(&runOpts.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVarP(&runOpts.verbose, "verbose", "v", false, "print every worker dispatch")
}

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Run a request through every phase",
	Long: `Run a request through setup, explore, requirements, design, plan,
scaffold, implement, test, review and deploy.

Examples:
  # Start a new project
  phasegate run --project-type new "a todo REST API in Go"

  # Extend the codebase in another directory without deploying
  phasegate run -C ../shop --deploy-target skip "add CSV export to orders"

  # Ask for the request interactively
  phasegate run`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workDir, err := filepath.Abs(runOpts.workDir)
	if err != nil {
		return fmt.Errorf("resolving work dir: %w", err)
	}
	cfg, err := loadConfig(workDir, runOpts.configPath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
		return err
	}
	if err := applyFlags(cfg, runOpts, workDir); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Tracing.Enabled {
		if err := tracing.Init("phasegate", version, cfg.Tracing.File); err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(shutdownCtx)
		}()
	}

	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "" {
		if request, err = tui.PromptRequest(ctx); err != nil {
			return err
		}
	}

	// Kill every worker subprocess on shutdown.
	pm := backend.NewProcessManager()
	go func() {
		<-ctx.Done()
		if err := pm.KillAll(); err != nil {
			logger.Warn("failed to kill worker processes", zap.Error(err))
		}
	}()

	// Progress lines wait while a prompt owns the terminal.
	printer := tui.NewPrinter(cmd.OutOrStdout(), runOpts.verbose)
	approver := tui.NewApprover(tui.ApproverOptions{AltScreen: true})
	r, err := newRun(ctx, runDeps{
		cfg:     cfg,
		request: request,
		procs:   pm,
		approver: checkpoint.ApproverFunc(func(ctx context.Context, cp checkpoint.Checkpoint) (checkpoint.Decision, error) {
			defer printer.Hold()()
			return approver.Review(ctx, cp)
		}),
		ask: func(ctx context.Context, subject, question string) (string, error) {
			defer printer.Hold()()
			return tui.AskOperator(ctx, subject, question)
		},
		logger: logger,
	})
	if err != nil {
		return err
	}
	defer r.Close()
	approver.SetStatus(func(p project.PhaseID) string { return string(r.ctrl.Status(p)) })

	progress := r.bus.SubscribeAll(256)
	printed := make(chan struct{})
	go func() {
		printer.Run(ctx, progress)
		close(printed)
	}()

	runErr := r.ctrl.Run(ctx)
	r.bus.Close()
	<-printed

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Run cancelled.")
			return runErr
		}
		fmt.Fprintln(cmd.ErrOrStderr(), tui.RenderEscalation(runErr))
		return runErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.StyleStatusComplete.Render("All phases complete."))
	return nil
}

func loadConfig(workDir, extra string) (*config.Config, error) {
	global, projectPath, err := config.Paths(workDir)
	if err != nil {
		return nil, err
	}
	if extra == "" {
		return config.Load(global, projectPath)
	}
	// The extra file takes the project slot's precedence over the global one.
	if _, err := os.Stat(extra); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return config.Load(global, extra)
}

// applyFlags lays command-line overrides over the loaded configuration.
func applyFlags(cfg *config.Config, f runFlags, workDir string) error {
	cfg.Run.WorkDir = workDir
	if f.projectType != "" {
		switch f.projectType {
		case project.ProjectNew, project.ProjectExisting:
		default:
			return fmt.Errorf("--project-type must be %s or %s", project.ProjectNew, project.ProjectExisting)
		}
		cfg.Run.ProjectType = f.projectType
	}
	if f.deployTarget != "" {
		cfg.Run.DeployTarget = f.deployTarget
	}
	if f.vcs != "" {
		switch f.vcs {
		case project.VCSManaged, project.VCSUnmanaged:
		default:
			return fmt.Errorf("--vcs must be %s or %s", project.VCSManaged, project.VCSUnmanaged)
		}
		cfg.Run.VersionControl = f.vcs
	}
	if f.traceFile != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.File = f.traceFile
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	return nil
}

type runDeps struct {
	cfg      *config.Config
	request  string
	procs    *backend.ProcessManager
	approver checkpoint.Approver
	ask      worker.AnswerFunc
	logger   *zap.Logger
}

// run holds the wired collaborators of one run.
type run struct {
	ctrl  *orchestrator.Controller
	bus   *events.Bus
	store *persistence.SQLiteStore
	qa    *worker.QAChannel
	stop  context.CancelFunc
}

func newRun(ctx context.Context, d runDeps) (*run, error) {
	cfg := d.cfg
	logger := logging.OrNop(d.logger)

	var (
		store *persistence.SQLiteStore
		err   error
	)
	if cfg.Tracker.Path == "" {
		store, err = persistence.NewMemoryStore(ctx)
	} else {
		store, err = persistence.NewSQLiteStore(ctx, cfg.Tracker.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening task tracker: %w", err)
	}

	state := project.New(project.Settings{
		Request:        d.request,
		ProjectType:    cfg.Run.ProjectType,
		DeployTarget:   cfg.Run.DeployTarget,
		VersionControl: cfg.Run.VersionControl,
	})

	qaCtx, stop := context.WithCancel(ctx)
	qa := worker.NewQAChannel(worker.MaxTeam, orchestrator.StateAnswerer(state, d.ask))
	qa.Start(qaCtx)

	bus := events.NewBus()
	dispatcher, err := worker.NewDispatcher(worker.Config{
		Factory:           backendFactory(cfg, d.procs),
		Breakers:          worker.NewBreakerRegistry(logger),
		BreakerKey:        providerKey(cfg),
		Timeout:           cfg.Run.WorkerTimeout.Std(),
		RetryDelay:        cfg.Run.RetryDelay.Std(),
		MaxClarifications: cfg.Run.MaxClarifications,
		QA:                qa,
		Transcript:        store,
		Bus:               bus,
		Logger:            logger,
	})
	if err != nil {
		stop()
		store.Close()
		return nil, err
	}

	opts := orchestrator.Options{
		State:      state,
		Dispatcher: dispatcher,
		Approver:   d.approver,
		Committer: &vcs.Lazy{
			Dir:    cfg.Run.WorkDir,
			Author: vcs.Author{Name: cfg.VCS.AuthorName, Email: cfg.VCS.AuthorEmail},
			Logger: logger,
		},
		Tracker:       store,
		Angles:        angles(cfg),
		ReviewCeiling: cfg.Run.ReviewCeiling,
		CheckpointCap: cfg.Run.CheckpointCap,
		Bus:           bus,
		Logger:        logger,
	}
	if len(cfg.Verify.Commands) > 0 {
		opts.Checker = &verify.CommandChecker{
			Commands: cfg.Verify.Commands,
			WorkDir:  cfg.Run.WorkDir,
			Timeout:  cfg.Verify.Timeout.Std(),
			Procs:    d.procs,
		}
	}

	ctrl, err := orchestrator.New(opts)
	if err != nil {
		stop()
		store.Close()
		return nil, err
	}
	return &run{ctrl: ctrl, bus: bus, store: store, qa: qa, stop: stop}, nil
}

// Close stops the question loop and closes the tracker.
func (r *run) Close() {
	r.stop()
	r.qa.Stop()
	r.store.Close()
}

// backendFactory creates a fresh adapter per call from the role's agent config.
func backendFactory(cfg *config.Config, pm *backend.ProcessManager) worker.Factory {
	return func(role worker.Role) (backend.Backend, error) {
		bcfg, err := cfg.Backend(string(role), cfg.Run.WorkDir)
		if err != nil {
			return nil, err
		}
		return backend.New(bcfg, pm)
	}
}

// providerKey shares one circuit breaker between roles on the same provider.
func providerKey(cfg *config.Config) func(worker.Role) string {
	return func(role worker.Role) string {
		if agent, ok := cfg.Agents[string(role)]; ok {
			return agent.Provider
		}
		return string(role)
	}
}

func angles(cfg *config.Config) map[project.PhaseID][]string {
	out := make(map[project.PhaseID][]string)
	for name, pc := range cfg.Phases {
		if p, ok := project.ParsePhase(name); ok && len(pc.Angles) > 0 {
			out[p] = pc.Angles
		}
	}
	return out
}
