// Package hub provides the conductor HTTP server: pool and orchestrator
// control, mail, file claims, the work-item board and a server-sent event
// stream.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/event"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/metrics"
	"github.com/mbourmaud/conductor/internal/orchestrator"
)

// Config holds the hub configuration.
type Config struct {
	Port     int    `yaml:"port"`
	StateDir string `yaml:"state_dir"`
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		Port:     7433,
		StateDir: ".conductor",
	}
}

// Deps are the optional collaborators of a Hub.
type Deps struct {
	Metrics *metrics.Metrics
	// Mail carries mailbox events to the event stream.
	Mail   *event.Broker[mailbox.Event]
	Logger *logger.Logger
}

// Hub serves the API over one orchestrator and its pool.
type Hub struct {
	config  Config
	orch    *orchestrator.Orchestrator
	pool    *agent.Pool
	metrics *metrics.Metrics
	mail    *event.Broker[mailbox.Event]
	events  *event.Broker[Event]
	state   *StateManager
	log     *logger.Logger
	started time.Time

	mu      sync.Mutex
	server  *http.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a hub. Events start flowing on Start or Forward.
func New(cfg Config, orch *orchestrator.Orchestrator, deps Deps) (*Hub, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultConfig().Port
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultConfig().StateDir
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}

	h := &Hub{
		config:  cfg,
		orch:    orch,
		pool:    orch.Pool(),
		metrics: deps.Metrics,
		mail:    deps.Mail,
		events:  event.NewBroker[Event](),
		state:   NewStateManager(cfg.StateDir),
		log:     deps.Logger.Component("hub"),
		started: time.Now(),
	}
	if h.metrics != nil {
		leases, mail := h.pool.Leases(), h.pool.Mail()
		err := h.metrics.Watch(metrics.Sources{
			StreamClients: h.events.ClientCount,
			LeaseWaiters:  func() int { return len(leases.Waiting()) },
			QueuedEvents:  func() int { return leases.QueuedEvents() + mail.QueuedEvents() },
			DroppedEvents: func() int64 { return leases.DroppedEvents() + mail.DroppedEvents() },
		})
		if err != nil {
			h.log.Warn("registering live metrics: %v", err)
		}
	}
	return h, nil
}

// Handler returns the routed API with middleware applied.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()

	// Status endpoints
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /events", h.handleEvents)
	mux.HandleFunc("GET /ws", h.handleWebSocket)
	mux.HandleFunc("GET /metrics", h.handleMetrics)

	// Orchestrator endpoints
	mux.HandleFunc("POST /tasks", h.handleSubmitTask)
	mux.HandleFunc("GET /tasks", h.handleListTasks)
	mux.HandleFunc("GET /conversation", h.handleConversation)
	mux.HandleFunc("POST /consistency", h.handleConsistency)

	// Agent endpoints
	mux.HandleFunc("GET /agents", h.handleListAgents)
	mux.HandleFunc("POST /agents", h.handleSpawnAgent)
	mux.HandleFunc("GET /agents/{name}", h.handleGetAgent)
	mux.HandleFunc("DELETE /agents/{name}", h.handleDestroyAgent)
	mux.HandleFunc("GET /agents/{name}/messages", h.handleAgentMessages)
	mux.HandleFunc("POST /agents/{name}/prompt", h.handlePromptAgent)
	mux.HandleFunc("POST /agents/{name}/pause", h.handlePauseAgent)
	mux.HandleFunc("POST /agents/{name}/resume", h.handleResumeAgent)
	mux.HandleFunc("POST /agents/{name}/complete", h.handleCompleteAgent)

	// Mail endpoints
	mux.HandleFunc("GET /mail", h.handleListMail)
	mux.HandleFunc("POST /mail", h.handleSendMail)
	mux.HandleFunc("GET /mail/{id}", h.handleGetMail)
	mux.HandleFunc("POST /mail/{id}/read", h.handleReadMail)
	mux.HandleFunc("POST /mail/{id}/archive", h.handleArchiveMail)
	mux.HandleFunc("POST /mail/{id}/unarchive", h.handleUnarchiveMail)
	mux.HandleFunc("DELETE /mail/{id}", h.handleDeleteMail)

	// Lease endpoints
	mux.HandleFunc("GET /leases", h.handleListLeases)
	mux.HandleFunc("POST /leases", h.handleAcquireLeases)
	mux.HandleFunc("DELETE /leases/{id}", h.handleReleaseLease)

	// Work item endpoints
	mux.HandleFunc("GET /items", h.handleListItems)
	mux.HandleFunc("POST /items", h.handleCreateItem)
	mux.HandleFunc("GET /items/{id}", h.handleGetItem)
	mux.HandleFunc("POST /items/{id}/move", h.handleMoveItem)

	// Tool endpoints
	mux.HandleFunc("GET /tools", h.handleListTools)
	mux.HandleFunc("POST /tools/{name}", h.handleCallTool)

	return h.withMiddleware(mux)
}

// Forward relays pool, orchestrator and mail events to the event stream
// until ctx is done or Stop is called.
func (h *Hub) Forward(ctx context.Context) {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	poolCh := h.pool.Subscribe(256)
	orchCh := h.orch.Subscribe(256)
	var mailCh chan mailbox.Event
	if h.mail != nil {
		mailCh = h.mail.Subscribe(64)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.pool.Unsubscribe(poolCh)
		defer h.orch.Unsubscribe(orchCh)
		if mailCh != nil {
			defer h.mail.Unsubscribe(mailCh)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-poolCh:
				if !ok {
					return
				}
				h.Broadcast(Event{Type: string(ev.Type), Data: ev, Timestamp: ev.Timestamp})
			case ev, ok := <-orchCh:
				if !ok {
					return
				}
				h.Broadcast(Event{Type: string(ev.Type), Data: ev, Timestamp: ev.Timestamp})
			case ev, ok := <-mailCh:
				if !ok {
					mailCh = nil
					continue
				}
				h.Broadcast(Event{Type: string(ev.Type), Data: ev, Timestamp: ev.Timestamp})
			}
		}
	}()
}

// Start serves the API until the server is shut down.
func (h *Hub) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.config.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", h.config.Port, err)
	}
	return h.Serve(ctx, ln)
}

// Serve serves the API on ln.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	h.Forward(ctx)

	srv := &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ln.Close()
	}
	h.server = srv
	h.mu.Unlock()

	h.log.Info("listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, persists a state snapshot and closes the
// event stream. The orchestrator and pool are left to their owner.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	srv := h.server
	cancel := h.cancel
	h.mu.Unlock()

	// SSE clients hold their requests open until the broker closes.
	h.events.Close()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down server: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()

	if err := h.state.SaveState(h.Snapshot(ctx)); err != nil {
		errs = append(errs, err)
	} else {
		h.log.Info("state saved to %s", h.state.StatePath())
	}
	return errors.Join(errs...)
}

// Broadcast publishes an event to every stream subscriber.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.events.Publish(ev)
}

// State returns the state manager.
func (h *Hub) State() *StateManager { return h.state }

// withMiddleware adds common middleware to all requests.
func (h *Hub) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// JSON response helpers
func (h *Hub) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("encoding response: %v", err)
	}
}

func (h *Hub) jsonError(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, ErrorResponse{Error: message})
}

// fail writes err with the status its kind maps to.
func (h *Hub) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed: %v", err)
	}
	h.jsonError(w, status, err.Error())
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", errBadRequest)
	}
	return nil
}
