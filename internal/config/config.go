// Package config aggregates the server's configuration surface: CLI flags
// for local/dev use (grounded in the teacher's main.go flag block) with
// environment-variable overrides for the deployment knobs the spec names in
// §6, the way the teacher's main.go-adjacent code reads os.Getenv for values
// that matter more in production than on a developer's laptop.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vcsfu/core/internal/session"
)

// Config holds every value the server needs to start, after flags and
// environment overrides have both been applied. A set, non-empty env var
// wins over the corresponding flag, whether or not that flag was given on
// the command line.
type Config struct {
	ListenAddr          string
	JWTSecret           []byte
	ClientTimeout       time.Duration
	HeartbeatInterval   time.Duration
	MaxRoomSize         int
	EnableWebTransport  bool
	OutboundQueueBytes  int
	OutboundQueueFrames int
	CertValidity        time.Duration
	DiagAddr            string
	LoadBotName         string
	LoadBotRoom         string
}

// Load parses args (normally os.Args[1:]) and layers environment-variable
// overrides on top, returning a fully-populated Config or an error if a
// numeric environment value fails to parse.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("sfu-server", flag.ContinueOnError)

	listenAddr := fs.String("addr", ":8443", "WebSocket/WebTransport listen address")
	diagAddr := fs.String("diag-addr", ":8090", "diagnostics HTTP listen address (empty to disable)")
	jwtSecret := fs.String("jwt-secret", "", "HMAC secret for validating join tokens (required)")
	clientTimeout := fs.Duration("client-timeout", 15*time.Second, "inbound heartbeat timeout before a session is force-disconnected")
	heartbeatInterval := fs.Duration("heartbeat-interval", session.DefaultHeartbeatInterval, "outbound heartbeat cadence")
	maxRoomSize := fs.Int("max-room-size", 64, "maximum participants per room")
	enableWebTransport := fs.Bool("enable-webtransport", true, "serve the WebTransport/QUIC listener alongside WebSocket")
	outboundBytes := fs.Int("outbound-queue-bytes", 8<<20, "per-connection outbound queue byte cap")
	outboundFrames := fs.Int("outbound-queue-frames", 256, "per-connection outbound queue frame cap")
	certValidity := fs.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	loadBotName := fs.String("loadbot-name", "", "name for a virtual load-test participant that emits a 440 Hz tone (empty to disable)")
	loadBotRoom := fs.String("loadbot-room", "", "room the load-test participant joins")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:          *listenAddr,
		JWTSecret:           []byte(*jwtSecret),
		ClientTimeout:       *clientTimeout,
		HeartbeatInterval:   *heartbeatInterval,
		MaxRoomSize:         *maxRoomSize,
		EnableWebTransport:  *enableWebTransport,
		OutboundQueueBytes:  *outboundBytes,
		OutboundQueueFrames: *outboundFrames,
		CertValidity:        *certValidity,
		DiagAddr:            *diagAddr,
		LoadBotName:         *loadBotName,
		LoadBotRoom:         *loadBotRoom,
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.JWTSecret) == 0 {
		return Config{}, fmt.Errorf("config: JWT_SECRET (or -jwt-secret) is required")
	}
	return cfg, nil
}

// applyEnvOverrides mirrors LISTEN_ADDR / JWT_SECRET / CLIENT_TIMEOUT_MS /
// HEARTBEAT_INTERVAL_MS / MAX_ROOM_SIZE / ENABLE_WEBTRANSPORT /
// OUTBOUND_QUEUE_BYTES / OUTBOUND_QUEUE_FRAMES from §6 onto cfg, following
// the same os.Getenv-plus-strconv pattern the teacher's environment-aware
// helpers use rather than a third-party config/env library: this corpus
// doesn't carry one, and eight Getenv lookups don't earn a new dependency.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = []byte(v)
	}
	if v := os.Getenv("CLIENT_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CLIENT_TIMEOUT_MS: %w", err)
		}
		cfg.ClientTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: HEARTBEAT_INTERVAL_MS: %w", err)
		}
		cfg.HeartbeatInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("MAX_ROOM_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_ROOM_SIZE: %w", err)
		}
		cfg.MaxRoomSize = n
	}
	if v := os.Getenv("ENABLE_WEBTRANSPORT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ENABLE_WEBTRANSPORT: %w", err)
		}
		cfg.EnableWebTransport = b
	}
	if v := os.Getenv("OUTBOUND_QUEUE_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OUTBOUND_QUEUE_BYTES: %w", err)
		}
		cfg.OutboundQueueBytes = n
	}
	if v := os.Getenv("OUTBOUND_QUEUE_FRAMES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OUTBOUND_QUEUE_FRAMES: %w", err)
		}
		cfg.OutboundQueueFrames = n
	}
	return nil
}
