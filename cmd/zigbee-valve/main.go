package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-valve/internal/hal"
	"zigbee-valve/internal/metrics"
	"zigbee-valve/internal/ncp"
	"zigbee-valve/internal/node"
	"zigbee-valve/internal/power"
	"zigbee-valve/internal/store"
	"zigbee-valve/internal/valve"
	"zigbee-valve/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	NCP struct {
		Type string `yaml:"type"` // "nrf52840" or "sim"
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"ncp"`
	Network struct {
		ChannelMask       uint32        `yaml:"channel_mask"`
		EDTimeout         time.Duration `yaml:"ed_timeout"`
		KeepAlive         time.Duration `yaml:"keep_alive"`
		InstallCodePolicy bool          `yaml:"install_code_policy"`
	} `yaml:"network"`
	HAL struct {
		Backend       string `yaml:"backend"` // "rpio" or "sim"
		ValveOnPin    uint8  `yaml:"valve_on_pin"`
		ValveOffPin   uint8  `yaml:"valve_off_pin"`
		ADCChipSelect uint8  `yaml:"adc_chip_select"`
		SimBatteryRaw int    `yaml:"sim_battery_raw"`
	} `yaml:"hal"`
	Battery struct {
		Channel     uint8         `yaml:"channel"`
		WidthBits   uint8         `yaml:"width_bits"`
		RefVoltage  float64       `yaml:"ref_voltage"`
		R1          float64       `yaml:"r1"`
		R2          float64       `yaml:"r2"`
		VoltageMin  float64       `yaml:"voltage_min"`
		VoltageMax  float64       `yaml:"voltage_max"`
		ReportEvery time.Duration `yaml:"report_every"`
	} `yaml:"battery"`
	Dispatch struct {
		StatusPolicy string `yaml:"status_policy"` // "always" or "success_only"
	} `yaml:"dispatch"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Web struct {
		Enabled        bool     `yaml:"enabled"`
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		DeviceName  string `yaml:"device_name"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	switch c.NCP.Type {
	case "nrf52840":
		if c.NCP.Port == "" {
			return fmt.Errorf("ncp.port is required")
		}
	case "sim":
	default:
		return fmt.Errorf("unknown ncp.type %q (supported: nrf52840, sim)", c.NCP.Type)
	}
	switch c.HAL.Backend {
	case "rpio", "sim":
	default:
		return fmt.Errorf("unknown hal.backend %q (supported: rpio, sim)", c.HAL.Backend)
	}
	if c.HAL.ValveOnPin == c.HAL.ValveOffPin {
		return fmt.Errorf("hal.valve_on_pin and hal.valve_off_pin must differ")
	}
	if c.Network.ChannelMask&^ncp.AllChannelsMask != 0 || c.Network.ChannelMask == 0 {
		return fmt.Errorf("network.channel_mask 0x%08X must select channels 11-26 only", c.Network.ChannelMask)
	}
	if _, err := ncp.EDTimeoutFromDuration(c.Network.EDTimeout); err != nil {
		return fmt.Errorf("network.ed_timeout: %w", err)
	}
	if c.Network.KeepAlive <= 0 {
		return fmt.Errorf("network.keep_alive must be positive")
	}
	if _, err := node.ParseStatusPolicy(c.Dispatch.StatusPolicy); err != nil {
		return fmt.Errorf("dispatch.status_policy: %w", err)
	}
	if err := c.powerConfig().Validate(); err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func (c *Config) powerConfig() power.Config {
	return power.Config{
		Channel:     hal.Channel(c.Battery.Channel),
		Attenuation: hal.Atten0dB,
		WidthBits:   c.Battery.WidthBits,
		RefVoltage:  c.Battery.RefVoltage,
		R1:          c.Battery.R1,
		R2:          c.Battery.R2,
		VoltageMin:  c.Battery.VoltageMin,
		VoltageMax:  c.Battery.VoltageMax,
	}
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("zigbee-valve starting", "version", version)

	// Persistent storage must come up before anything touches the network.
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	boots, err := db.IncrementBootCount()
	if err != nil {
		logger.Error("boot counter", "err", err)
		os.Exit(1)
	}
	logger.Info("store opened", "path", cfg.Store.Path, "boot", boots)

	board, err := openBoard(cfg)
	if err != nil {
		logger.Error("open board", "err", err)
		os.Exit(1)
	}
	defer board.Close()

	drv, err := valve.New(board, valve.Pins{On: hal.Pin(cfg.HAL.ValveOnPin), Off: hal.Pin(cfg.HAL.ValveOffPin)}, logger.With("component", "valve"))
	if err != nil {
		logger.Error("init valve", "err", err)
		os.Exit(1)
	}
	sensor, err := power.NewSensor(board, cfg.powerConfig())
	if err != nil {
		logger.Error("battery sensor", "err", err)
		os.Exit(1)
	}
	if err := sensor.Init(); err != nil {
		logger.Error("init battery sensor", "err", err)
		os.Exit(1)
	}

	stack, err := createNCP(cfg, db, logger)
	if err != nil {
		logger.Error("create NCP backend", "err", err)
		os.Exit(1)
	}
	defer stack.Close()

	edTimeout, _ := ncp.EDTimeoutFromDuration(cfg.Network.EDTimeout)
	policy, _ := node.ParseStatusPolicy(cfg.Dispatch.StatusPolicy)
	events := node.NewEventBus(logger.With("component", "events"))

	collector := metrics.NewCollector()
	collector.SetBootCount(boots)
	collector.Attach(events)

	n, err := node.New(node.Deps{
		Stack:  stack,
		Valve:  drv,
		Sensor: sensor,
		Store:  db,
		Events: events,
		Logger: logger,
	}, node.Config{
		Stack: ncp.Config{
			Role:              ncp.RoleEndDevice,
			InstallCodePolicy: cfg.Network.InstallCodePolicy,
			EDTimeout:         edTimeout,
			KeepAlive:         cfg.Network.KeepAlive,
			ChannelMask:       cfg.Network.ChannelMask,
		},
		StatusPolicy: policy,
		ReportPeriod: cfg.Battery.ReportEvery,
	})
	if err != nil {
		logger.Error("build node", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := n.RunStack(ctx); err != nil && ctx.Err() == nil {
			logger.Error("stack loop stopped", "err", err)
			os.Exit(1)
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := n.Start(startCtx); err != nil {
		logger.Error("start node", "err", err)
		startCancel()
		stack.Close()
		os.Exit(1)
	}
	startCancel()

	var webServer *web.Server
	var httpServer *http.Server
	if cfg.Web.Enabled {
		webOpts := []web.ServerOption{
			web.WithVersion(version),
			web.WithMetrics(metrics.Handler(metrics.Registry(collector))),
		}
		if cfg.Web.APIKey != "" {
			webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
		}
		if len(cfg.Web.AllowedOrigins) > 0 {
			webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
		}
		webServer = web.NewServer(n, n.Attributes(), logger, webOpts...)
		httpServer = &http.Server{
			Addr:         cfg.Web.Listen,
			Handler:      webServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("web server starting", "addr", cfg.Web.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", "err", err)
			}
		}()
	}

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(n, cfg, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		signal.Stop(sigCh)
		logger.Info("shutting down", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		mqtt.Stop()
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown", "err", err)
			}
			webServer.Stop()
		}
		collector.Detach()
		cancel()
		stack.Close()
		board.Close()
		db.Close()
		logger.Info("goodbye")
		os.Exit(0)
	}()

	// The reporting loop owns the main goroutine and never returns.
	n.Reporter().Run()
}

func openBoard(cfg *Config) (hal.Board, error) {
	switch cfg.HAL.Backend {
	case "rpio":
		return hal.OpenRPIO(hal.RPIOConfig{ChipSelect: cfg.HAL.ADCChipSelect})
	case "sim":
		sim := hal.NewSim()
		sim.SetSample(hal.Channel(cfg.Battery.Channel), cfg.HAL.SimBatteryRaw)
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown hal backend %q", cfg.HAL.Backend)
	}
}

func createNCP(cfg *Config, db store.Store, logger *slog.Logger) (ncp.NCP, error) {
	commissioned := func() bool { return node.Commissioned(db) }
	switch cfg.NCP.Type {
	case "nrf52840":
		logger.Info("using nRF52840 NCP (ZBOSS)", "port", cfg.NCP.Port, "baud", cfg.NCP.Baud)
		return ncp.NewNRF52840NCP(ncp.NRF52840Config{
			Port:         cfg.NCP.Port,
			BaudRate:     cfg.NCP.Baud,
			Commissioned: commissioned,
		}, logger.With("component", "ncp"))
	case "sim":
		logger.Info("using simulated NCP")
		return ncp.NewSimNCP(ncp.SimConfig{
			Commissioned: commissioned(),
			Network:      ncp.NetworkInfo{Channel: 15, PanID: 0x1A62, ShortAddr: 0x4F21},
			Latency:      200 * time.Millisecond,
		}, logger.With("component", "ncp")), nil
	default:
		return nil, fmt.Errorf("unknown NCP type: %q (supported: nrf52840, sim)", cfg.NCP.Type)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	def := power.DefaultConfig()
	var cfg Config
	// Channel 0 is a valid ADC input, so its default is set before decoding
	// instead of being inferred from the zero value.
	cfg.Battery.Channel = uint8(def.Channel)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.NCP.Type == "" {
		cfg.NCP.Type = "nrf52840"
	}
	if cfg.NCP.Baud == 0 {
		cfg.NCP.Baud = 460800
	}
	if cfg.Network.ChannelMask == 0 {
		cfg.Network.ChannelMask = ncp.AllChannelsMask
	}
	if cfg.Network.EDTimeout == 0 {
		cfg.Network.EDTimeout = ncp.EDTimeout64Min.Duration()
	}
	if cfg.Network.KeepAlive == 0 {
		cfg.Network.KeepAlive = 3 * time.Second
	}
	if cfg.HAL.Backend == "" {
		cfg.HAL.Backend = "rpio"
	}
	if cfg.HAL.ValveOnPin == 0 && cfg.HAL.ValveOffPin == 0 {
		cfg.HAL.ValveOnPin = 4
		cfg.HAL.ValveOffPin = 5
	}

	if cfg.Battery.WidthBits == 0 {
		cfg.Battery.WidthBits = def.WidthBits
	}
	if cfg.Battery.RefVoltage == 0 {
		cfg.Battery.RefVoltage = def.RefVoltage
	}
	if cfg.Battery.R1 == 0 && cfg.Battery.R2 == 0 {
		cfg.Battery.R1, cfg.Battery.R2 = def.R1, def.R2
	}
	if cfg.Battery.VoltageMin == 0 && cfg.Battery.VoltageMax == 0 {
		cfg.Battery.VoltageMin, cfg.Battery.VoltageMax = def.VoltageMin, def.VoltageMax
	}
	if cfg.Battery.ReportEvery == 0 {
		cfg.Battery.ReportEvery = node.DefaultReportPeriod
	}

	if cfg.Dispatch.StatusPolicy == "" {
		cfg.Dispatch.StatusPolicy = string(node.StatusAlways)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-valve.db"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if cfg.MQTT.DeviceName == "" {
		cfg.MQTT.DeviceName = "valve"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
