// Package app wires all voxrelay subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/internal/discord/commands"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/history"
	"github.com/MrWong99/voxrelay/internal/localllm"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/turn"
)

const (
	statsWindow       = 100
	readHeaderTimeout = 10 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	metrics  *observe.Metrics
	level    *slog.LevelVar
	cfgPath  string
	registry *config.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	providers *Providers
	localLLM  *localllm.Manager
	history   *history.Log
	settings  *config.SettingsStore
	bot       *discord.Bot
	stats     *discord.TurnStats
	coord     *turn.Coordinator
	sessions  *SessionManager
	health    *health.Handler
	watcher   *config.Watcher

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch reloads path while running. Log level changes are applied
// to level.
func WithConfigWatch(path string, level *slog.LevelVar) Option {
	return func(a *App) {
		a.cfgPath = path
		a.level = level
	}
}

// WithRegistry creates providers from reg instead of the built-in set.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App: it starts the local model server when configured,
// creates the providers, loads the conversation history, and connects the
// Discord bot.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Local model server ────────────────────────────────────────────
	if err := a.initLocalLLM(ctx); err != nil {
		return nil, err
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterProviders(a.registry, a.localURL())
	}
	ps, err := BuildProviders(ctx, cfg.Providers, a.registry, a.metrics)
	if err != nil {
		a.stopLocalLLM(ctx)
		return nil, err
	}
	a.providers = ps

	// ── 3. Conversation state ────────────────────────────────────────────
	store := history.NewFileStore(cfg.Conversation.HistoryPath)
	a.history = history.NewLog(ctx, store)
	a.settings = config.NewSettingsStore(config.SettingsFromConfig(cfg))
	slog.Info("conversation history loaded", "path", store.Path(), "messages", a.history.Snapshot().Len())

	// ── 4. Discord ───────────────────────────────────────────────────────
	a.bot, err = discord.New(ctx, discord.Config{
		Token:          cfg.Discord.Token,
		CommandPrefix:  cfg.Discord.CommandPrefix,
		TextTurnPrefix: cfg.Discord.TextTurnPrefix,
		AdminRoleID:    cfg.Discord.AdminRoleID,
	})
	if err != nil {
		a.stopLocalLLM(ctx)
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 5. Turn pipeline ─────────────────────────────────────────────────
	a.stats = discord.NewTurnStats(statsWindow)
	notifier := turn.Notifiers{
		turn.LogNotifier{},
		discord.NewNotifier(a.bot.Session(), BotName(cfg.Providers.LLM.Name)),
		a.stats,
	}
	a.coord = turn.New(ps.STT, ps.LLM, ps.TTS, a.history, a.turnSettings,
		turn.WithNotifier(notifier),
		turn.WithMetrics(a.metrics),
		turn.WithHistoryLimit(cfg.Conversation.HistoryLimit),
		turn.WithTurnHook(a.stats.ObserveTurn),
		turn.WithTurnHook(func(res turn.Result) { a.sessions.ObserveTurn(res) }),
	)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Platform: a.bot.Platform(),
		Turns:    a.coord,
		Members:  a.bot,
		Audio:    cfg.Audio,
		Idle:     cfg.Idle,
		Metrics:  a.metrics,
	})

	commands.Register(a.bot.Router(), commands.Deps{
		Sessions: a.sessions,
		Voice:    a.bot,
		Settings: a.settings,
		History:  a.history,
		Clearer:  a.coord,
		TTS:      ps.TTS,
		Stats:    a.stats,
	})

	// ── 6. Health ────────────────────────────────────────────────────────
	checks := append([]health.Checker{{Name: "discord", Check: a.bot.Check}}, ps.Checks...)
	if a.localLLM != nil {
		checks = append(checks, health.Checker{Name: "local_llm", Check: a.localLLM.Check, Optional: true})
	}
	a.health = health.New(checks...)

	// ── 7. Config reload ─────────────────────────────────────────────────
	if a.cfgPath != "" {
		if _, err := os.Stat(a.cfgPath); err == nil {
			a.watcher, err = config.NewWatcher(a.cfgPath, a.onConfigChange)
			if err != nil {
				slog.Warn("config reload disabled", "path", a.cfgPath, "err", err)
			}
		}
	}

	return a, nil
}

func (a *App) localURL() string {
	if a.cfg.Providers.LLM.Name == "local" && a.cfg.Providers.LLM.BaseURL != "" {
		return a.cfg.Providers.LLM.BaseURL
	}
	return a.cfg.LocalLLM.URL
}

// initLocalLLM starts the local model server when the LLM provider is
// "local" and auto start is enabled.
func (a *App) initLocalLLM(ctx context.Context) error {
	lc := a.cfg.LocalLLM
	if a.cfg.Providers.LLM.Name != "local" || !lc.AutoStart {
		return nil
	}
	mgr := localllm.New(localllm.Config{
		ScriptPath:     lc.ScriptPath,
		BaseURL:        a.localURL(),
		Python:         lc.Python,
		StartupTimeout: lc.StartupTimeout,
	})
	slog.Info("starting local model server", "script", lc.ScriptPath, "url", a.localURL(), "python", mgr.Python())
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("app: start local model server: %w", err)
	}
	a.localLLM = mgr
	return nil
}

func (a *App) stopLocalLLM(ctx context.Context) {
	if a.localLLM == nil {
		return
	}
	if err := a.localLLM.Stop(ctx); err != nil {
		slog.Warn("local model server stop error", "err", err)
	}
}

// turnSettings converts the runtime settings for one turn.
func (a *App) turnSettings() turn.Settings {
	s := a.settings.Snapshot()
	return turn.Settings{
		VoiceID:        s.VoiceID,
		NoContext:      s.NoContext,
		SystemPrompt:   s.SystemPrompt,
		MaxVoiceLength: s.MaxVoiceLength,
		MaxTokens:      s.MaxTokens,
	}
}

// onConfigChange applies a reloaded config file.
func (a *App) onConfigChange(old, new *config.Config) {
	ApplyConfigChange(config.Diff(old, new), new, a.settings, a.sessions, a.level)
}

// ApplyConfigChange applies the hot-reloadable part of d. Runtime settings
// changed by commands but untouched in the file are kept.
func ApplyConfigChange(d config.ConfigDiff, cfg *config.Config, settings *config.SettingsStore, sessions *SessionManager, level *slog.LevelVar) {
	if !d.HasChanges() {
		return
	}
	if d.LogLevelChanged && level != nil {
		level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SettingsChanged() {
		s := settings.Update(func(s *config.Settings) { d.Apply(cfg, s) })
		slog.Info("runtime settings reloaded",
			"speaker", s.VoiceID,
			"max_tokens", s.MaxTokens,
			"max_voice_length", s.MaxVoiceLength,
		)
	}
	if d.IdleChanged && sessions != nil {
		sessions.SetIdle(cfg.Idle)
		slog.Info("idle settings reloaded; they apply from the next join")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "keys", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled. When a listen address is configured,
// /healthz, /readyz and /metrics are served on it.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.bot.Run(ctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		a.health.Register(mux)
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			slog.Info("observability server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: observability server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("voxrelay running", "prefix", a.cfg.Discord.CommandPrefix)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown leaves voice, waits for running turns, closes the bot, and stops
// the local model server. It respects the context deadline while waiting
// for turns.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.coord.Close()
		if err := a.sessions.Close(); err != nil {
			slog.Warn("voice disconnect error", "err", err)
		}

		done := make(chan struct{})
		go func() {
			a.coord.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while waiting for turns", "pending", a.coord.Pending())
			shutdownErr = ctx.Err()
		}

		if err := a.bot.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
		a.stopLocalLLM(context.WithoutCancel(ctx))

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// BotName is the label used for model replies.
func BotName(llmName string) string {
	switch llmName {
	case "local":
		return "Local LLM"
	case "":
		return "LLM"
	case "openai":
		return "OpenAI"
	case "deepseek":
		return "DeepSeek"
	case "llamacpp":
		return "llama.cpp"
	default:
		return strings.ToUpper(llmName[:1]) + llmName[1:]
	}
}

// SlogLevel converts a config log level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
