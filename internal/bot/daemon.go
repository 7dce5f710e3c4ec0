package bot

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/fortysix/internal/completion"
	"github.com/zulandar/fortysix/internal/config"
	"github.com/zulandar/fortysix/internal/conversation"
	"github.com/zulandar/fortysix/internal/metrics"
	"github.com/zulandar/fortysix/internal/status"
)

// Daemon is the bot process. It wires the session manager, command router
// and AI gate behind a Supervisor, and serves the optional status endpoint.
type Daemon struct {
	cfg      *config.Config
	version  string
	started  time.Time
	sessions *conversation.Manager
	sup      *Supervisor
	router   *Router
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config       *config.Config
	Transport    Transport
	Store        CredentialStore
	Client       completion.Client
	SystemPrompt string
	Version      string

	OnPairingCode func(code string)
	OnQR          func(code string)
	OnOpen        func(info OpenInfo)

	Metrics *metrics.Metrics // optional
	Logger  *zap.Logger
	Clock   Clock // optional; for tests
}

// routerRef lets the supervisor be built before the router it delivers to;
// the gate and commands need the supervisor for self address and status.
type routerRef struct {
	r atomic.Pointer[Router]
}

func (h *routerRef) Handle(ctx context.Context, s Sender, env Envelope) {
	if r := h.r.Load(); r != nil {
		r.Handle(ctx, s, env)
	}
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errorf("daemon: config is required")
	}
	if opts.Transport == nil {
		return nil, errorf("daemon: transport is required")
	}
	if opts.Store == nil {
		return nil, errorf("daemon: credential store is required")
	}
	if opts.Client == nil {
		return nil, errorf("daemon: completion client is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config
	started := time.Now()

	sessions := conversation.NewManager(conversation.ManagerOpts{MaxExchanges: cfg.AI.MaxHistory})
	opts.Metrics.RegisterSessions(sessions.Count)

	ref := &routerRef{}
	sup, err := NewSupervisor(SupervisorOpts{
		Transport:     opts.Transport,
		Store:         opts.Store,
		Handler:       ref,
		PairingMethod: cfg.Bot.PairingMethod,
		Phone:         cfg.PhoneDigits(),
		Backoff:       Backoff{Base: cfg.Reconnect.Base(), Max: cfg.Reconnect.Max()},
		PairingDelay:  cfg.Reconnect.PairingDelay(),
		PairingRetry:  cfg.Reconnect.PairingRetry(),
		RestartDelay:  cfg.Reconnect.RestartDelay(),
		Welcome:       cfg.Bot.WelcomeMessage,
		BotName:       cfg.Bot.Name,
		Prefix:        cfg.Commands.Prefix,
		OnPairingCode: opts.OnPairingCode,
		OnQR:          opts.OnQR,
		OnOpen:        opts.OnOpen,
		Metrics:       opts.Metrics,
		Logger:        log,
		Clock:         opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	policy := Policy{
		InGroups:      cfg.AI.InGroups,
		InDirect:      cfg.AI.InDirect,
		SelfOnly:      cfg.AI.SelfOnly,
		PrefixEnabled: cfg.AI.QueryPrefixEnabled,
		Prefix:        cfg.AI.QueryPrefix,
	}
	gate, err := NewGate(GateOpts{
		Policy:       policy,
		Client:       opts.Client,
		Sessions:     sessions,
		SystemPrompt: opts.SystemPrompt,
		Model:        cfg.AI.Model,
		Self:         sup.Self,
		Metrics:      opts.Metrics,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	lister, _ := opts.Client.(completion.ModelLister)
	commands, err := NewCommandHandler(CommandHandlerOpts{
		Prefix: cfg.Commands.Prefix,
		Info: BotInfo{
			Name:    cfg.Bot.Name,
			Version: opts.Version,
			Model:   cfg.AI.Model,
			Phone:   cfg.PhoneDigits(),
		},
		Policy:   policy,
		Sessions: sessions,
		Status:   sup,
		Models:   lister,
		Started:  started,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(RouterOpts{
		Prefix:   cfg.Commands.Prefix,
		Commands: commands,
		Gate:     gate,
		Metrics:  opts.Metrics,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	ref.r.Store(router)

	return &Daemon{
		cfg:      cfg,
		version:  opts.Version,
		started:  started,
		sessions: sessions,
		sup:      sup,
		router:   router,
		metrics:  opts.Metrics,
		log:      log,
	}, nil
}

// Supervisor returns the daemon's connection supervisor.
func (d *Daemon) Supervisor() *Supervisor { return d.sup }

// Sessions returns the conversation session manager.
func (d *Daemon) Sessions() *conversation.Manager { return d.sessions }

// Health implements status.Provider.
func (d *Daemon) Health() status.Health {
	st := d.sup.ConnectionState()
	return status.Health{
		State:     st.String(),
		Connected: st == StateOpen,
		Self:      d.sup.Self(),
		Session:   d.sup.SessionLabel(),
		Sessions:  d.sessions.Count(),
		Started:   d.started,
		Version:   d.version,
	}
}

// Run blocks until ctx is cancelled or the supervisor stops for good. The
// status server, when configured, is shut down with it.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("starting",
		zap.String("name", d.cfg.Bot.Name),
		zap.String("version", d.version),
		zap.String("model", d.cfg.AI.Model),
		zap.String("pairing", d.cfg.Bot.PairingMethod))

	g, gctx := errgroup.WithContext(ctx)
	stop, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return d.sup.Run(stop)
	})
	if addr := d.cfg.Status.Addr; addr != "" {
		g.Go(func() error {
			return status.Start(stop, status.StartOpts{
				Addr:     addr,
				Provider: d,
				Registry: d.metrics.Registry(),
				Logger:   d.log,
			})
		})
	}

	err := g.Wait()
	d.log.Info("stopped", zap.Error(err))
	return err
}
