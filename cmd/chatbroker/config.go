package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	workers         int
	logFormat       string
	logLevel        string
	metricsAddr     string
	slabCapacity    int
	sendQueueCap    int
	maxFrame        int
	shellQueueCap   int
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("addr", "0.0.0.0:20053", "TCP listen address")
	workers := flag.Int("workers", 1, "Number of worker reactors")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	slabCapacity := flag.Int("slab-capacity", 4096, "Maximum connections a single worker may own")
	sendQueueCap := flag.Int("send-queue-cap", 256, "Per-connection outbound frame queue capacity")
	maxFrame := flag.Int("max-frame", 16<<20, "Maximum accepted frame body size, in bytes")
	shellQueueCap := flag.Int("shell-queue-cap", 64, "Shell bridge task queue capacity")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the listen port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default chatbroker-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.workers = *workers
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.slabCapacity = *slabCapacity
	cfg.sendQueueCap = *sendQueueCap
	cfg.maxFrame = *maxFrame
	cfg.shellQueueCap = *shellQueueCap
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open a listener – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.workers < 1 {
		return fmt.Errorf("workers must be >= 1 (got %d)", c.workers)
	}
	if c.slabCapacity <= 0 {
		return fmt.Errorf("slab-capacity must be > 0 (got %d)", c.slabCapacity)
	}
	if c.sendQueueCap <= 0 {
		return fmt.Errorf("send-queue-cap must be > 0 (got %d)", c.sendQueueCap)
	}
	if c.maxFrame <= 0 {
		return fmt.Errorf("max-frame must be > 0 (got %d)", c.maxFrame)
	}
	if c.shellQueueCap <= 0 {
		return fmt.Errorf("shell-queue-cap must be > 0 (got %d)", c.shellQueueCap)
	}
	return nil
}

// applyEnvOverrides maps CHATBROKER_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins over
// env). Boolean & numeric parsing is lax: empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["addr"]; !ok {
		if v, ok := get("CHATBROKER_ADDR"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["workers"]; !ok {
		if v, ok := get("CHATBROKER_WORKERS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.workers = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHATBROKER_WORKERS: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CHATBROKER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CHATBROKER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CHATBROKER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["slab-capacity"]; !ok {
		if v, ok := get("CHATBROKER_SLAB_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.slabCapacity = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHATBROKER_SLAB_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["send-queue-cap"]; !ok {
		if v, ok := get("CHATBROKER_SEND_QUEUE_CAP"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.sendQueueCap = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHATBROKER_SEND_QUEUE_CAP: %w", err)
			}
		}
	}
	if _, ok := set["max-frame"]; !ok {
		if v, ok := get("CHATBROKER_MAX_FRAME"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxFrame = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHATBROKER_MAX_FRAME: %w", err)
			}
		}
	}
	if _, ok := set["shell-queue-cap"]; !ok {
		if v, ok := get("CHATBROKER_SHELL_QUEUE_CAP"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.shellQueueCap = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHATBROKER_SHELL_QUEUE_CAP: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CHATBROKER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CHATBROKER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CHATBROKER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CHATBROKER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
