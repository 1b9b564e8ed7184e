package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/acquire"
	"github.com/banshee-data/pitwall/internal/carconfig"
	"github.com/banshee-data/pitwall/internal/db"
	"github.com/banshee-data/pitwall/internal/display"
	"github.com/banshee-data/pitwall/internal/fsutil"
	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
	"github.com/banshee-data/pitwall/internal/seriallink"
	"github.com/banshee-data/pitwall/internal/timeutil"
	"github.com/banshee-data/pitwall/internal/transmit"
)

type settings struct {
	CarConfig   string
	Port        string
	Serial      seriallink.PortOptions
	ReadTimeout time.Duration
	PacketSize  int
	DataDir     string
	Listen      string

	DisableLocal   bool
	DisableRemote  bool
	DisableDisplay bool
	DisableArchive bool
	ArchivePath    string
	ArchiveEvery   int

	MQTT transmit.RemoteConfig
	NATS transmit.BusConfig

	Dev      bool
	LogLevel string

	// set by tests
	factory seriallink.PortFactory
	fs      fsutil.FileSystem
	clock   timeutil.Clock
}

func newLogger(s settings) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if s.Dev {
		cfg = zap.NewDevelopmentConfig()
	}
	if s.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(s.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
		}
		cfg.Level = level
	}
	return cfg.Build()
}

// simulatedFrame is the fixed reading the simulated controller reports.
func simulatedFrame() []byte {
	return packet.Encode(packet.Frame{
		Speed:      25.3,
		Airspeed:   5.2,
		EngineTemp: 78.2,
		RadTemp:    65.4,
		Digital:    [5]uint8{0, 1, 0, 1, 0},
		Analog:     100,
	})
}

// pipeline is the wired process: the link, the decoder, every enabled sink
// and the dashboard.
type pipeline struct {
	log     *zap.Logger
	link    *seriallink.Link
	decoder *packet.Decoder
	fanout  *transmit.Fanout
	archive *transmit.ArchiveSink
	archDB  *db.DB
	hub     *display.Hub
	server  *display.Server
	loop    *acquire.Loop
}

func run(ctx context.Context, s settings) error {
	log, err := newLogger(s)
	if err != nil {
		return err
	}
	monitoring.SetLogger(log)
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p, err := newPipeline(ctx, s, log, reg)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer p.close()
	return p.run(ctx, s.Listen)
}

func newPipeline(ctx context.Context, s settings, log *zap.Logger, reg *prometheus.Registry) (*pipeline, error) {
	metrics := monitoring.NewMetrics(reg)
	clock := s.clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	// an unreadable configuration is the only fatal startup error
	store, err := carconfig.NewStore(&carconfig.FileSource{Path: s.CarConfig, FS: s.fs}, carconfig.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("load car configuration: %w", err)
	}
	var (
		sensorNames []string
		car         string
	)
	if active, ok := store.Document().Active(); ok {
		sensorNames = active.Sensors.Names()
		car = active.Name
	} else {
		log.Warn("no active car; records carry only the fixed fields")
	}

	p := &pipeline{
		log:     log,
		decoder: packet.NewDecoder(store, clock),
		fanout:  transmit.NewFanout(log, metrics),
	}

	if !s.DisableLocal {
		local, err := transmit.NewLocalSink(transmit.LocalConfig{Dir: s.DataDir, Sensors: sensorNames, FS: s.fs, Clock: clock})
		if err != nil {
			log.Error("local sink unavailable", zap.Error(err))
		} else {
			log.Info("writing session file", zap.String("path", local.Path()))
			p.fanout.Add("local", local)
		}
	}
	if !s.DisableRemote {
		remote, err := transmit.NewRemoteSink(s.MQTT, store,
			transmit.WithRemoteLogger(log), transmit.WithRemoteMetrics(metrics))
		if err != nil {
			log.Error("remote sink unavailable", zap.Error(err))
		} else {
			p.fanout.Add("remote", remote)
		}
	}
	if s.NATS.URL != "" {
		bus, err := transmit.NewBusSink(s.NATS, store, log, metrics)
		if err != nil {
			log.Error("bus sink unavailable", zap.Error(err))
		} else {
			p.fanout.Add("bus", bus)
		}
	}
	if !s.DisableArchive {
		p.openArchive(ctx, s, car, clock)
	}
	log.Info("sinks ready", zap.Strings("sinks", p.fanout.Names()))

	if !s.DisableDisplay {
		p.hub = display.NewHub()
		p.server = display.NewServer(p.hub, p.reset, reg, log)
		p.server.SetCarSource(store)
	}

	factory := s.factory
	if factory == nil && s.Dev {
		log.Info("dev mode: simulating the controller")
		factory = seriallink.SimulatedFactory{Next: simulatedFrame}
	}
	p.link, err = seriallink.Open(ctx, seriallink.Options{
		Port:        s.Port,
		Serial:      s.Serial,
		ReadTimeout: s.ReadTimeout,
		CrashLoop:   true,
		Factory:     factory,
		Clock:       clock,
		Logger:      log,
	})
	if err != nil {
		p.close()
		return nil, err
	}

	p.loop = &acquire.Loop{
		Link:       p.link,
		Decoder:    p.decoder,
		Sink:       p.fanout,
		PacketSize: s.PacketSize,
		Clock:      clock,
		Log:        log,
		Metrics:    metrics,
	}
	if p.hub != nil {
		p.loop.Display = p.hub
	}
	return p, nil
}

func (p *pipeline) openArchive(ctx context.Context, s settings, car string, clock timeutil.Clock) {
	archDB, err := db.Open(s.ArchivePath, p.log)
	if err != nil {
		p.log.Error("archive unavailable", zap.Error(err))
		return
	}
	archive, err := transmit.NewArchiveSink(ctx, archDB, transmit.ArchiveConfig{
		Every: s.ArchiveEvery,
		Car:   car,
		Clock: clock,
		Log:   p.log,
	})
	if err != nil {
		p.log.Error("archive unavailable", zap.Error(err))
		archDB.Close()
		return
	}
	p.archDB = archDB
	p.archive = archive
	p.fanout.Add("archive", archive)
}

// reset starts a new session: distance restarts from zero and archived
// rows get a fresh session id.
func (p *pipeline) reset(ctx context.Context) error {
	p.decoder.Reset()
	if p.archive != nil {
		return p.archive.NewSession(ctx, "reset")
	}
	return nil
}

func (p *pipeline) run(ctx context.Context, listen string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	fail := func(err error) {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
		cancel()
	}

	if p.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.server.ListenAndServe(ctx, listen); err != nil {
				fail(fmt.Errorf("dashboard server: %w", err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fail(err)
		}
	}()

	wg.Wait()
	return errs
}

func (p *pipeline) close() {
	if p.link != nil {
		if err := p.link.Close(); err != nil {
			p.log.Warn("serial close failed", zap.Error(err))
		}
	}
	if err := p.fanout.Close(); err != nil {
		p.log.Warn("sink close failed", zap.Error(err))
	}
	if p.archDB != nil {
		if err := p.archDB.Close(); err != nil {
			p.log.Warn("archive close failed", zap.Error(err))
		}
	}
}
