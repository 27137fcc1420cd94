package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/emberlab/devgate/internal/assets"
	"github.com/emberlab/devgate/internal/config"
	"github.com/emberlab/devgate/internal/device"
	"github.com/emberlab/devgate/internal/events"
	"github.com/emberlab/devgate/internal/gpio"
	"github.com/emberlab/devgate/internal/httpserver"
	"github.com/emberlab/devgate/internal/logging"
	"github.com/emberlab/devgate/internal/mdns"
	"github.com/emberlab/devgate/internal/metrics"
	"github.com/emberlab/devgate/internal/mqtt"
	"github.com/emberlab/devgate/internal/reloader"
	"github.com/emberlab/devgate/internal/sdcard"
	"github.com/emberlab/devgate/internal/sensor"
	"github.com/emberlab/devgate/internal/shell"
	"github.com/emberlab/devgate/internal/watchdog"
	"github.com/emberlab/devgate/internal/wifi"
	"github.com/emberlab/devgate/pkg/sdk"
)

var version = "dev"

func main() {
	cfgPath := os.Getenv("DEVGATE_CONFIG")
	if cfgPath == "" {
		cfgPath = "/etc/devgate/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	logger, level := logging.New(logging.Cfg{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	defer logger.Sync()

	// Banner
	fmt.Println(`
      _                        _
   __| | _____   ____ _  __ _| |_ ___
  / _' |/ _ \ \ / / _' |/ _' | __/ _ \
 | (_| |  __/\ V / (_| | (_| | ||  __/
  \__,_|\___| \_/ \__, |\__,_|\__\___|
                  |___/
devgate ` + version + ` - device gateway
------------------------------------------
Config:  ` + cfgPath + `
`)

	bus := events.NewBus()
	wd := watchdog.New(cfg.Watchdog.Timeout)
	m := metrics.New()
	m.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())

	reg := device.NewRegistry(logger, bus, device.Policy{
		InitAttempts:    cfg.Devices.InitAttempts,
		InitBackoff:     cfg.Devices.InitBackoff,
		MaxBackoff:      cfg.Devices.MaxBackoff,
		MaxPollFailures: cfg.Devices.MaxPollFailures,
	})
	card := registerDevices(reg, cfg, wd, logger)
	registerCardMetrics(m, card, logger)
	reg.Start(ctx)

	poller := device.NewPoller(reg, cfg.Devices.PollInterval, logger)
	if err := poller.Start(ctx); err != nil {
		logger.Fatal("poller", zap.Error(err))
	}

	table, err := assets.LoadBundle(cfg.UI.Dir)
	if err != nil {
		logger.Fatal("assets", zap.Error(err))
	}
	logger.Info("assets loaded", zap.Int("count", table.Len()))

	srv := httpserver.New(cfg, logger, httpserver.Deps{
		Bus:     bus,
		Devices: reg,
		Assets:  table,
		AP:      accessPoint(cfg, logger),
		Health:  wd,
		Metrics: m,
	})
	sh := shell.New(bus, logger, srv.Hub())

	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge, err = mqtt.Connect(cfg.MQTT, logger, bus, reg)
		if err != nil {
			logger.Error("mqtt bridge disabled", zap.Error(err))
		}
	}

	var adv *mdns.Advertiser
	if cfg.MDNS.Enabled {
		adv = mdns.New(logger)
		if err := adv.Advertise(mdns.Info{Instance: cfg.MDNS.Instance, Port: cfg.HTTP.Port, Version: version}); err != nil {
			logger.Warn("mdns advertisement failed", zap.Error(err))
		}
	}

	// Hot reload on SIGHUP
	stopReload := reloader.OnSIGHUP(func() {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		if err := logging.SetLevel(level, newCfg.Logging.Level); err != nil {
			logger.Warn("invalid log level", zap.String("level", newCfg.Logging.Level), zap.Error(err))
		}
		srv.Reload(newCfg)
		logger.Info("reloaded config")
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// HTTP server
	go func() {
		logger.Info("http listening", zap.String("addr", addr))
		if cfg.HTTP.TLS.Enabled {
			if err := httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("http tls", zap.Error(err))
			}
		} else {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("http", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	stopReload()
	if adv != nil {
		adv.Stop()
	}
	if bridge != nil {
		bridge.Close()
	}

	ctxTimeout, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	srv.Close()
	_ = httpSrv.Shutdown(ctxTimeout)
	_ = poller.Stop(ctxTimeout)
	cancel()
	reg.Close()
	sh.Close()
	logger.Info("bye")
}

// registerDevices adds the configured devices. The returned pointer
// tracks the most recently constructed card.
func registerDevices(reg *device.Registry, cfg *config.Config, wd *watchdog.Monitor, log *zap.Logger) *atomic.Pointer[sdcard.Card] {
	var current atomic.Pointer[sdcard.Card]

	if sc := cfg.Devices.SDCard; sc.Enabled {
		open := func(onEdge gpio.EdgeFunc) (gpio.DigitalPin, error) {
			return gpio.OpenLine(sc.Chip, sc.Pin, gpio.LineOptions{ActiveLow: sc.ActiveLow, PullUp: sc.PullUp}, onEdge)
		}
		err := reg.Register(sc.Name, func() (sdk.Device, error) {
			c := sdcard.New(open, sdcard.SysMounter{}, sdcard.Options{
				Name:      sc.Name,
				Source:    sc.Source,
				Target:    sc.Target,
				FSType:    sc.FSType,
				Settle:    sc.Settle,
				Heartbeat: wd,
			})
			current.Store(c)
			return c, nil
		})
		if err != nil {
			log.Fatal("register sdcard", zap.Error(err))
		}
	}

	for _, s := range cfg.Devices.Sensors {
		ch := gpio.NewIIOChannel(s.IIORoot, s.IIODevice, s.Channel)
		opts := sensor.Options{Name: s.Name, Samples: s.Samples, Scale: s.Scale, Offset: s.Offset, Precision: s.Precision}
		err := reg.Register(s.Name, func() (sdk.Device, error) {
			return sensor.New(ch, opts), nil
		})
		if err != nil {
			log.Fatal("register sensor", zap.String("sensor", s.Name), zap.Error(err))
		}
	}
	return &current
}

func registerCardMetrics(m *metrics.Metrics, card *atomic.Pointer[sdcard.Card], log *zap.Logger) {
	stat := func(pick func(c *sdcard.Card) uint64) func() float64 {
		return func() float64 {
			c := card.Load()
			if c == nil {
				return 0
			}
			return float64(pick(c))
		}
	}
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"edges_received", "Card-detect edges queued for debouncing.", stat(func(c *sdcard.Card) uint64 { return c.Stats().Received })},
		{"commands_published", "Debounced card commands published.", stat(func(c *sdcard.Card) uint64 { return c.Stats().Published })},
		{"edges_dropped", "Card-detect edges dropped on a full queue.", stat(func(c *sdcard.Card) uint64 { return c.Stats().Dropped })},
	}
	for _, g := range gauges {
		if err := m.RegisterFunc("debounce", g.name, g.help, g.fn); err != nil {
			log.Warn("register metric", zap.String("name", g.name), zap.Error(err))
		}
	}
}

func accessPoint(cfg *config.Config, log *zap.Logger) wifi.AccessPoint {
	if !cfg.Captive.Enabled {
		return wifi.Static{}
	}
	ap, err := wifi.FromConfig(cfg.Captive.APInterface, cfg.Captive.APAddress)
	if err != nil {
		log.Warn("captive portal disabled", zap.Error(err))
		return wifi.Static{}
	}
	return ap
}
