package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"vassist/internal/bus"
	"vassist/internal/config"
	"vassist/internal/metrics"
	"vassist/internal/session"
	"vassist/internal/speech"
	"vassist/internal/svc"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// speaker remembers who sent the last final utterance, so questions go back to them.
type speaker struct {
	mu   sync.Mutex
	name string
}

func (s *speaker) set(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *speaker) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func main() {
	configFile := cli.StringP("config", "c", config.DefaultPath, "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides config)")
	busURL := cli.StringP("url", "u", "", "Url of the speech bus (default from config or BUS_URL)")
	metricsAddr := cli.String("metrics", "", "Serve prometheus metrics on this address")
	cli.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cli.CommandLine.Changed("log") {
		cfg.LogLevel = *logLevel
	}
	if cli.CommandLine.Changed("metrics") {
		cfg.MetricsAddr = *metricsAddr
	}
	switch {
	case *busURL != "":
		cfg.Bus.URL = *busURL
	case os.Getenv("BUS_URL") != "":
		cfg.Bus.URL = os.Getenv("BUS_URL")
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[cfg.LogLevel],
	})))

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	log.Info("Starting Vox shard", "bus", cfg.Bus.URL, "shard", cfg.Bus.Shard)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bus.NewBus(cfg.Bus.URL)
	if err != nil {
		log.Error("Failed to connect to bus", "err", err)
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		b.Close()
	}()

	var last speaker
	sc, err := svc.NewServiceContext(ctx, cfg, svc.WithQuestions(func(q string) {
		err := b.Write(&bus.Message{From: cfg.Bus.Shard, To: last.get(), Kind: bus.KindPrompt, Content: q})
		if err != nil {
			log.Error("Failed to send question", "err", err)
		}
	}))
	if err != nil {
		log.Error("Failed to boot", "err", err)
		os.Exit(1)
	}
	defer sc.Close()

	metrics.Serve(cfg.MetricsAddr)

	src := speech.NewBusSource(b, sc.Desk.Answer)
	sess := session.New(cfg.SessionConfig(), sc.Orchestrator, src,
		session.WithReporters(session.LogReporter, session.BusReporter{W: b, From: cfg.Bus.Shard}),
		session.WithPartials(func(p string) { log.Debug("Partial", "text", p) }),
		session.WithSpeaker(last.set),
	)
	sc.OnTimer(sess.TimerAnnouncer(ctx))

	log.Info("Vox ready")
	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Bus read failed", "err", err)
		os.Exit(1)
	}
}
