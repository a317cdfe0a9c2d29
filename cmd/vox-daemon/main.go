package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"vassist/internal/config"
	"vassist/internal/ipc"
	"vassist/internal/metrics"
	"vassist/internal/session"
	"vassist/internal/speech"
	"vassist/internal/svc"
	"vassist/internal/tts"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configFile := cli.StringP("config", "c", config.DefaultPath, "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides config)")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address for the LLM endpoint")
	metricsAddr := cli.String("metrics", "", "Serve prometheus metrics on this address")
	socket := cli.String("socket", ipc.SocketPath, "Control socket path")
	noStdin := cli.Bool("no-stdin", false, "Take utterances from the control socket only")

	allowExec := cli.Bool("allow-exec", false, "Allow real side effects")
	allowDangerous := cli.Bool("allow-exec-dangerous", false, "Skip confirmation for dangerous actions")
	alwaysListen := cli.Bool("always-listen", false, "Disable the wake word and process all input")
	allowTTS := cli.Bool("allow-tts", false, "Speak outcomes aloud")
	useLLM := cli.Bool("use-llm", false, "Let the LLM decide intents, with rule fallback")
	useDecider := cli.Bool("use-llm-decider", false, "Like --use-llm, and enable execution unless --allow-exec=false")
	llmModel := cli.String("llm-model", "", "LLM model name")
	llmURL := cli.String("llm-url", "", "OpenAI-compatible base url")
	debugLLM := cli.Bool("debug-llm", false, "Log raw LLM replies")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [run|test] [flags]\n", os.Args[0])
		cli.PrintDefaults()
	}
	cli.Parse()

	mode := cli.Arg(0)
	if mode == "" {
		mode = "run"
	}
	if mode != "run" && mode != "test" {
		cli.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		cfg *config.Config
		err error
	)
	if cli.CommandLine.Changed("config") {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadOrDefault(*configFile)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	changed := cli.CommandLine.Changed
	if changed("log") {
		cfg.LogLevel = *logLevel
	}
	if changed("proxy") {
		cfg.LLM.Proxy = *proxyAddr
	}
	if changed("metrics") {
		cfg.MetricsAddr = *metricsAddr
	}
	if changed("allow-exec") {
		cfg.Policy.AllowExecution = *allowExec
	}
	if changed("allow-exec-dangerous") {
		cfg.Policy.AllowExecDangerous = *allowDangerous
	}
	if changed("always-listen") {
		cfg.Policy.AlwaysListen = *alwaysListen
	}
	if changed("allow-tts") {
		cfg.AllowTTS = *allowTTS
	}
	if *useLLM || *useDecider {
		cfg.LLM.Enabled = true
	}
	if changed("llm-model") {
		cfg.LLM.Model = *llmModel
	}
	if changed("llm-url") {
		cfg.LLM.BaseURL = *llmURL
	}
	if changed("debug-llm") {
		cfg.LLM.Debug = *debugLLM
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[cfg.LogLevel],
	})))

	if *useDecider && !changed("allow-exec") && !cfg.Policy.AllowExecution {
		log.Warn("LLM decider requested, enabling execution. Pass --allow-exec=false to keep dry-run")
		cfg.Policy.AllowExecution = true
	}

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}

	log.Info("Booting up", "mode", mode, "allow_exec", cfg.Policy.AllowExecution, "llm", cfg.LLM.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.NewServiceContext(ctx, cfg, svc.WithQuestions(func(q string) {
		fmt.Println("?", q)
	}))
	if err != nil {
		log.Error("Failed to boot", "err", err)
		os.Exit(1)
	}
	defer sc.Close()

	if mode == "test" {
		runTest(ctx, cfg, sc)
		return
	}

	metrics.Serve(cfg.MetricsAddr)

	var stdin *os.File
	if !*noStdin {
		stdin = os.Stdin
	}
	src := newSource(stdin, sc.Desk.Answer)
	defer src.Close()

	reporters := []session.Reporter{session.LogReporter, consoleReporter(cfg.WakeWord)}
	if cfg.AllowTTS {
		if !tts.Enabled {
			log.Warn("TTS requested but this build has no speech engine (build with -tags espeak)")
		}
		reporters = append(reporters, session.SpeakReporter)
	}
	sess := session.New(cfg.SessionConfig(), sc.Orchestrator, src, session.WithReporters(reporters...))
	sc.OnTimer(sess.TimerAnnouncer(ctx))
	sc.OnUtterance(src.Feed)

	ln, err := ipc.StartServer(*socket, controlHandler(cfg, sc, src))
	if err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}
	defer ln.Close()

	log.Info("Boot up - successful", "socket", *socket)
	if !*noStdin {
		fmt.Printf("Type simulated speech and press Enter (wake word: %q, Ctrl+C to quit)\n", cfg.WakeWord)
	}

	if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("Session stopped", "err", err)
		os.Exit(1)
	}
	log.Info("Exiting")
}

// newSource keeps a typed nil reader from reaching the line source.
func newSource(f *os.File, intercept speech.Intercept) *speech.LineSource {
	if f == nil {
		return speech.NewLineSource(nil, intercept)
	}
	return speech.NewLineSource(f, intercept)
}

func consoleReporter(wake string) session.Reporter {
	return session.ReporterFunc(func(_ context.Context, t session.Turn) {
		if !t.Handled {
			fmt.Printf("(wake word not detected, say: %s)\n", wake)
			return
		}
		fmt.Println("Response:", t.Text())
	})
}

func controlHandler(cfg *config.Config, sc *svc.ServiceContext, src *speech.LineSource) ipc.Handler {
	return func(msg ipc.ControlMessage) ipc.ControlReply {
		switch msg.Cmd {
		case ipc.CmdSay:
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				return ipc.ControlReply{Message: "nothing to say"}
			}
			if !src.Feed(text) {
				return ipc.ControlReply{Message: "session closed"}
			}
			return ipc.ControlReply{OK: true, Message: "queued"}

		case ipc.CmdAnswer:
			if !sc.Desk.Answer(msg.Text) {
				return ipc.ControlReply{Message: "no question pending"}
			}
			return ipc.ControlReply{OK: true, Message: "answered"}

		case ipc.CmdStatus:
			p := sc.Orchestrator.Policy()
			status := fmt.Sprintf("wake_word=%q allow_exec=%t allow_exec_dangerous=%t always_listen=%t llm=%t timers=%d",
				cfg.WakeWord, p.AllowExecution, p.AllowExecDangerous, p.AlwaysListen, cfg.LLM.Enabled, sc.Executor.PendingTimers())
			if q, ok := sc.Desk.Pending(); ok {
				status += fmt.Sprintf(" pending=%q", q)
			}
			return ipc.ControlReply{OK: true, Message: status}

		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.ControlReply{Message: "unknown command " + msg.Cmd}
		}
	}
}

func runTest(ctx context.Context, cfg *config.Config, sc *svc.ServiceContext) {
	input := cfg.WakeWord + " open github"
	fmt.Println("[test] simulating input:", input)

	sess := session.New(cfg.SessionConfig(), sc.Orchestrator, nil)
	turn := sess.Process(ctx, input)

	out, err := json.MarshalIndent(turn, "", "  ")
	if err != nil {
		log.Error("Failed to encode result", "err", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
