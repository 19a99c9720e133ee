package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mbourmaud/conductor/internal/activity"
	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/config"
	"github.com/mbourmaud/conductor/internal/embed"
	"github.com/mbourmaud/conductor/internal/event"
	"github.com/mbourmaud/conductor/internal/hub"
	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/metrics"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/runtime"
	"github.com/mbourmaud/conductor/internal/ui"
	"github.com/mbourmaud/conductor/internal/workitem"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conductor hub",
	Long: `Start the orchestrator, the worker pool and the HTTP hub.

The hub exposes:
  - A REST API for tasks, agents, mail, leases and work items
  - Live events over Server-Sent Events (/events) and WebSocket (/ws)
  - Prometheus metrics (/metrics)

Examples:
  conductor serve                       # Use ./conductor.yaml or defaults
  conductor serve --port 9000           # Custom port
  conductor serve --runtime scripted    # Offline demo runtime, no API key
  conductor serve --max-agents 8        # Raise the concurrency ceiling`,
	RunE: runServe,
}

var (
	servePort      int
	serveRuntime   string
	serveMaxAgents int
	serveRedis     string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Hub port (overrides hub.port)")
	serveCmd.Flags().StringVar(&serveRuntime, "runtime", "", "Runtime provider: anthropic or scripted (overrides runtime.provider)")
	serveCmd.Flags().IntVar(&serveMaxAgents, "max-agents", 0, "Concurrency ceiling (overrides pool.max_concurrent_agents)")
	serveCmd.Flags().StringVar(&serveRedis, "redis", "", "Redis address; enables Redis mailbox and activity stream")
}

// stack is everything serve starts, in dependency order.
type stack struct {
	cfg      *config.Config
	log      *logger.Logger
	rdb      *redis.Client
	items    workitem.Store
	metrics  *metrics.Metrics
	mail     *event.Broker[mailbox.Event]
	leases   *lease.Manager
	router   *mailbox.Router
	pool     *agent.Pool
	orch     *orchestrator.Orchestrator
	hub      *hub.Hub
	recorder *activity.Recorder
}

func applyServeFlags(cfg *config.Config) error {
	if servePort != 0 {
		cfg.Hub.Port = servePort
	}
	if serveRuntime != "" {
		cfg.Runtime.Provider = serveRuntime
	}
	if serveMaxAgents != 0 {
		cfg.Pool.MaxConcurrentAgents = serveMaxAgents
	}
	if serveRedis != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = serveRedis
	}
	return cfg.Validate()
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	log := logger.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetJSON(cfg.Logging.JSON)
	return log, nil
}

func newAdapter(cfg *config.Config, log *logger.Logger) (runtime.Adapter, error) {
	switch cfg.Runtime.Provider {
	case "scripted":
		return runtime.NewScripted(nil), nil
	default:
		return runtime.NewAnthropic(runtime.AnthropicConfig{
			APIKey:        cfg.APIKey(),
			Model:         cfg.Runtime.Model,
			MaxTokens:     cfg.Runtime.MaxTokens,
			MaxIterations: cfg.Runtime.MaxIterations,
			Logger:        log,
		})
	}
}

// buildStack wires the configured components. adapter may be nil to build
// the one named by runtime.provider.
func buildStack(ctx context.Context, cfg *config.Config, log *logger.Logger, adapter runtime.Adapter) (*stack, error) {
	s := &stack{cfg: cfg, log: log, metrics: metrics.New()}

	var err error
	if adapter == nil {
		if adapter, err = newAdapter(cfg, log); err != nil {
			return nil, fmt.Errorf("creating runtime: %w", err)
		}
	}

	promptDir := filepath.Join(cfg.Hub.StateDir, "prompts")
	workerPrompt, err := embed.Prompt(embed.PromptAgent, promptDir)
	if err != nil {
		return nil, err
	}
	orchPrompt, err := embed.Prompt(embed.PromptOrchestrator, promptDir)
	if err != nil {
		return nil, err
	}

	if cfg.Store.WorkItemsPath != "" {
		store, err := workitem.NewSQLiteStore(cfg.Store.WorkItemsPath, log)
		if err != nil {
			return nil, err
		}
		s.items = store
	} else {
		s.items = workitem.NewMemoryStore()
	}

	var mailStore mailbox.Store
	if cfg.Redis.Enabled {
		s.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		mailStore = mailbox.NewRedisStore(s.rdb, "")
		s.recorder = activity.NewRecorder(s.rdb, activity.DefaultMaxLen, log)
	}

	s.mail = event.NewBroker[mailbox.Event]()
	s.router = mailbox.NewRouter(mailStore, func(ev mailbox.Event) {
		s.metrics.ObserveMail(ev)
		s.mail.Publish(ev)
	})

	leaseLog := log.Component("leases")
	s.leases = lease.NewManager(lease.Options{
		DefaultTTL: cfg.Leases.TTL(),
		Strict:     cfg.Leases.Strict,
	}, func(ev lease.Event) {
		if ev.Type == lease.EventConflict {
			leaseLog.Warn("%s overlaps %d claim(s) held by other agents", ev.AgentName, len(ev.Conflicts))
		}
	})

	s.pool = agent.NewPool(agent.PoolConfig{
		MaxConcurrentAgents: cfg.Pool.MaxConcurrentAgents,
		BasePrompt:          workerPrompt,
		Logger:              log,
	}, adapter, s.leases, s.router)

	s.orch = orchestrator.New(orchestrator.Config{
		SystemPrompt: orchPrompt,
		AutoReport:   cfg.Orchestrator.AutoReport,
		Logger:       log,
	}, s.pool, s.items, adapter)

	s.hub, err = hub.New(hub.Config{
		Port:     cfg.Hub.Port,
		StateDir: cfg.Hub.StateDir,
	}, s.orch, hub.Deps{
		Metrics: s.metrics,
		Mail:    s.mail,
		Logger:  log,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// run serves on ln until ctx is done, then shuts everything down.
func (s *stack) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.hub.Serve(gctx, ln)
	})

	poolCh, orchCh := s.pool.Subscribe(256), s.orch.Subscribe(256)
	g.Go(func() error {
		s.metrics.Run(gctx, poolCh, orchCh)
		return nil
	})

	if s.recorder != nil {
		recPool, recOrch := s.pool.Subscribe(256), s.orch.Subscribe(256)
		g.Go(func() error {
			s.recorder.Run(gctx, recPool, recOrch)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// The snapshot is taken before the pool goes away.
		err := s.hub.Stop(shutdownCtx)
		s.close()
		return err
	})

	return g.Wait()
}

// close releases the orchestrator, pool and stores. Safe on a partial stack.
func (s *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.orch != nil {
		if err := s.orch.Close(ctx); err != nil {
			s.log.Warn("closing orchestrator: %v", err)
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(ctx); err != nil {
			s.log.Warn("closing pool: %v", err)
		}
	}
	if s.router != nil {
		s.router.Close()
	}
	if s.leases != nil {
		s.leases.Close()
	}
	if s.mail != nil {
		s.mail.Close()
	}
	if s.items != nil {
		if err := s.items.Close(); err != nil {
			s.log.Warn("closing work-item store: %v", err)
		}
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildStack(ctx, cfg, log, nil)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Hub.Port))
	if err != nil {
		s.close()
		return fmt.Errorf("listening on port %d: %w", cfg.Hub.Port, err)
	}

	printBanner(cfg)

	if err := s.run(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("hub error: %w", err)
	}
	fmt.Println(ui.Success("Hub stopped"))
	return nil
}

func printBanner(cfg *config.Config) {
	base := fmt.Sprintf("http://localhost:%d", cfg.Hub.Port)

	fmt.Print(ui.Header("conductor hub"))
	fmt.Print(ui.KeyValue("API", base))
	fmt.Print(ui.KeyValue("Events", base+"/events"))
	fmt.Print(ui.KeyValue("Metrics", base+"/metrics"))
	fmt.Print(ui.KeyValue("Runtime", cfg.Runtime.Provider))
	fmt.Print(ui.KeyValue("Max agents", cfg.Pool.MaxConcurrentAgents))
	if cfg.Store.WorkItemsPath != "" {
		fmt.Print(ui.KeyValue("Work items", cfg.Store.WorkItemsPath))
	}
	if cfg.Redis.Enabled {
		fmt.Print(ui.KeyValue("Redis", cfg.Redis.Addr))
	}
	fmt.Println()
	fmt.Println(ui.StyleDim.Render("Press Ctrl+C to stop"))
	fmt.Println()
}
