// Package config describes how the server is started and rejects settings
// it cannot run with.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/freekieb7/quarry/dump"
	"github.com/freekieb7/quarry/http"
	"github.com/freekieb7/quarry/validation"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	IP               string
	Port             uint16
	Mode             http.ServerMode
	Workers          int
	QueueSize        int
	KeepAlive        bool
	KeepAliveTimeout time.Duration
	Greeting         string
	DocumentRoot     string
	DumpPath         string
	DumpS3           dump.S3Config

	// AdminAddr enables the metrics and health listener when set.
	AdminAddr string
	// OTLP enables exporting traces, metrics and logs.
	OTLP bool
}

func Default() Config {
	return Config{
		IP:               "127.0.0.1",
		Port:             8080,
		Mode:             http.ModeDebug,
		Workers:          http.DefaultWorkers,
		QueueSize:        http.DefaultQueueSize,
		KeepAlive:        true,
		KeepAliveTimeout: http.DefaultKeepAliveTimeout,
		DocumentRoot:     "./",
		DumpPath:         dump.DefaultPath,
	}
}

// Addr is the listen address in host:port form.
func (cfg Config) Addr() string {
	return net.JoinHostPort(cfg.IP, strconv.Itoa(int(cfg.Port)))
}

func (cfg Config) Validate() error {
	violations := validation.ValidateMap(
		map[string]any{
			"ip":                 cfg.IP,
			"workers":            cfg.Workers,
			"queue_size":         cfg.QueueSize,
			"keep_alive_timeout": cfg.KeepAliveTimeout,
		},
		map[string][]string{
			"ip":                 {"required", "ipv4", "unicast", "not-documentation"},
			"workers":            {"positive"},
			"queue_size":         {"non-negative"},
			"keep_alive_timeout": {"positive"},
		},
	)
	if !violations.IsEmpty() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, violations)
	}

	if cfg.Mode == http.ModeProxy {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, http.ErrProxyNotImplemented)
	}

	return nil
}

// ParseMode maps a mode flag value to a server mode.
func ParseMode(name string) (http.ServerMode, error) {
	mode, err := http.ParseServerMode(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return mode, nil
}
