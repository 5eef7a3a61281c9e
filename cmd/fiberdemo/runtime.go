package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	fibersched "github.com/Swind/go-fiber-scheduler"
	"github.com/Swind/go-fiber-scheduler/core"
	obs "github.com/Swind/go-fiber-scheduler/observability/prometheus"
)

// demo is the scheduler plus the metrics plumbing around it.
type demo struct {
	logger core.Logger
	poller *obs.SnapshotPoller
	server *http.Server
	linger time.Duration
}

func loadConfig(c *cli.Context) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := core.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if n := c.Int("workers"); n >= 0 {
		cfg.WorkerCount = n
	}

	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg.Logger = core.NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger())
	cfg.PanicHandler = &core.DefaultPanicHandler{Logger: cfg.Logger}
	return cfg, cfg.Validate()
}

// startDemo initializes the global scheduler, wires metrics when requested and
// starts the workers.
func startDemo(c *cli.Context) (*demo, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Invalid config: %v", err), 1)
	}
	d := &demo{logger: cfg.Logger, linger: c.Duration("linger")}

	addr := c.String("metrics-addr")
	var reg *prom.Registry
	if addr != "" {
		reg = prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter("fibersched", reg, obs.ExporterOptions{})
		if err != nil {
			return nil, err
		}
		cfg.Metrics = exporter
		if d.poller, err = obs.NewSnapshotPoller(reg, 100*time.Millisecond); err != nil {
			return nil, err
		}
	}

	if err := fibersched.InitializeTaskScheduler(cfg); err != nil {
		return nil, cli.Exit(fmt.Sprintf("Failed to initialize scheduler: %v", err), 1)
	}
	s := fibersched.GetTaskScheduler()

	if reg != nil {
		d.poller.AddScheduler(s.Name(), s)
		d.poller.Start(context.Background())

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			d.stop()
			return nil, cli.Exit(fmt.Sprintf("Failed to listen on %s: %v", addr, err), 1)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		d.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("Metrics server failed", core.F("error", err))
			}
		}()
		d.logger.Info("Serving metrics", core.F("addr", ln.Addr().String()))
	}

	if err := fibersched.StartWorkers(); err != nil {
		d.stop()
		return nil, cli.Exit(fmt.Sprintf("Failed to start workers: %v", err), 1)
	}
	return d, nil
}

// stop lingers for scrapers, then tears everything down.
func (d *demo) stop() {
	if d.server != nil && d.linger > 0 {
		d.logger.Info("Lingering for scrapes", core.F("duration", d.linger))
		time.Sleep(d.linger)
	}
	if d.poller != nil {
		d.poller.Stop()
	}
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.server.Shutdown(ctx)
	}
	if err := fibersched.DestroyTaskScheduler(); err != nil {
		d.logger.Error("Scheduler teardown failed", core.F("error", err))
	}
}

func waitMain(counter *core.TaskCounter) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fibersched.WaitForCounter(ctx, counter, 0)
}
