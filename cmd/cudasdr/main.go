package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/logutils"
	flag "github.com/spf13/pflag"

	"github.com/zl2brg/cudasdr/internal/config"
	"github.com/zl2brg/cudasdr/internal/engine"
	"github.com/zl2brg/cudasdr/internal/network"
)

const (
	VERSION        = "0.3.0"
	DEFAULT_CONFIG = "cudasdr.ini"
)

var logLevels = []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"}

func main() {
	var (
		configFile = flag.StringP("config", "c", getDefaultConfig(), "Configuration file path")
		debug      = flag.BoolP("debug", "d", false, "Emit debug log messages")
		version    = flag.Bool("version", false, "Show version information")
		discover   = flag.Bool("discover", false, "List the radios that answer discovery and exit")
		dspKind    = flag.String("dsp", "", "DSP engine (null)")
	)
	flag.Parse()

	if *version {
		fmt.Printf("cudasdr v%s\n", VERSION)
		return
	}
	if flag.NArg() > 0 {
		*configFile = flag.Arg(0)
	}

	filter := &logutils.LevelFilter{
		Levels:   logLevels,
		MinLevel: "INFO",
		Writer:   os.Stderr,
	}
	log.SetOutput(filter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.NewConfig(*configFile)
	if err := cfg.Load(); err != nil {
		log.Fatalf("[ERROR] Failed to load config: %v", err)
	}

	level := cfg.GetLogLevel()
	if *debug {
		level = "DEBUG"
	}
	filter.SetMinLevel(logutils.LogLevel(level))

	if *dspKind != "" {
		cfg.SetDSP(*dspKind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *discover {
		if err := listRadios(ctx, cfg); err != nil {
			log.Fatalf("[ERROR] Discovery failed: %v", err)
		}
		return
	}

	log.Printf("[INFO] cudasdr v%s starting with config: %s", VERSION, *configFile)

	if err := run(ctx, cfg); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Printf("[INFO] cudasdr stopped")
}

// run starts the engine and blocks until SIGINT or SIGTERM
func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	e, err := engine.New(svc.engineOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Printf("[INFO] Received signal %v, shutting down...", sig)
	case err := <-svc.failed:
		log.Printf("[ERROR] %v, shutting down...", err)
	}

	if err := e.Stop(); err != nil {
		return fmt.Errorf("engine stop: %w", err)
	}

	if svc.keyer != nil {
		mean, stddev, n := svc.keyer.Jitter()
		if n > 0 {
			log.Printf("[INFO] Keyer: %d elements, deadline lateness mean %v stddev %v", n, mean, stddev)
		}
	}
	return nil
}

func listRadios(ctx context.Context, cfg *config.Config) error {
	var (
		devices []network.Device
		err     error
	)
	if cfg.GetAddress() == "" {
		devices, err = network.Discover(ctx, cfg.GetPort(), cfg.GetDiscoveryTimeout())
	} else {
		addr, perr := network.ParseUDPAddr(cfg.GetAddress(), cfg.GetPort())
		if perr != nil {
			return perr
		}
		devices, err = network.DiscoverAt(ctx, addr, cfg.GetDiscoveryTimeout())
	}
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No radios found")
		return nil
	}
	for _, d := range devices {
		fmt.Println(d)
	}
	return nil
}

func getDefaultConfig() string {
	if _, err := os.Stat(DEFAULT_CONFIG); err == nil {
		return DEFAULT_CONFIG
	}
	return "/etc/cudasdr.ini"
}
