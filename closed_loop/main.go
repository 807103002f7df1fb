package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"sca-ctrl-core/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "closed_loop/config.yaml", "Controller configuration file")
		iface    = flag.String("iface", "", "SocketCAN interface name (overrides config)")
		logLevel = flag.String("log", "", "trace|debug|info|warn|error|critical (overrides config)")
		sim      = flag.Bool("sim", false, "Drive simulated actuators instead of the bus")
		shell    = flag.Bool("shell", false, "Open the interactive actuator shell instead of running the loop")
	)
	flag.Parse()

	cfg, err := LoadConfig(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: config " + *cfgPath + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			cfg.Interface = *iface
		case "log":
			cfg.LogLevel = *logLevel
		case "sim":
			cfg.Simulate = *sim
		}
	})

	log, err := utils.NewFileLogger(cfg.LogFile, utils.ParseLevel(cfg.LogLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.LogFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Error("Close: %v", err)
		}
	}()

	if *shell {
		go func() {
			if err := runner.Listen(ctx); err != nil {
				log.Error("RX: %v", err)
			}
		}()
		RunShell(ctx, runner)
		return
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}
