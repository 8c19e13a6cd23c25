// Command sfu-server runs the room server over both WebSocket and
// WebTransport, wiring together the packages under internal/ the way the
// teacher's main.go wires Room, Server, and the background maintenance
// goroutines (metrics, the optional test bot, graceful shutdown on
// SIGINT).
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/vcsfu/core/internal/config"
	"github.com/vcsfu/core/internal/connhandler"
	"github.com/vcsfu/core/internal/devcert"
	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/diagapi"
	"github.com/vcsfu/core/internal/loadbot"
	"github.com/vcsfu/core/internal/mediahealth"
	"github.com/vcsfu/core/internal/metrics"
	"github.com/vcsfu/core/internal/roomsrv"
	"github.com/vcsfu/core/internal/transport"

	"github.com/quic-go/webtransport-go"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("[config] %v", err)
	}

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(cfg.ListenAddr); err == nil && host != "" {
		tlsHostname = host
	}
	tlsConfig, fingerprint, err := devcert.Generate(cfg.CertValidity, tlsHostname)
	if err != nil {
		log.Fatalf("[devcert] %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	bus := diag.NewBus()
	rooms := roomsrv.New(bus)
	rooms.SetMaxRoomSize(cfg.MaxRoomSize)
	health := mediahealth.NewRouter(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go metrics.Run(ctx, bus, 5*time.Second)

	queueLimits := transport.Limits{
		MaxBytes:   cfg.OutboundQueueBytes,
		MaxFrames:  cfg.OutboundQueueFrames,
		BacklogMax: transport.DefaultLimits().BacklogMax,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := transport.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[server] websocket upgrade failed: %v", err)
			return
		}
		conn := transport.NewWSConn(wsConn, queueLimits, cfg.ClientTimeout)
		go connhandler.Handle(ctx, conn, rooms, health, cfg.JWTSecret, cfg.ClientTimeout, cfg.HeartbeatInterval)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("videocall SFU core"))
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if cfg.EnableWebTransport {
		wt := transport.NewWebTransportListener(cfg.ListenAddr, "/wt", tlsConfig)
		wt.SetSessionHandler(func(sess *webtransport.Session) {
			conn := transport.NewWTConn(sess, queueLimits, cfg.ClientTimeout)
			connhandler.Handle(ctx, conn, rooms, health, cfg.JWTSecret, cfg.ClientTimeout, cfg.HeartbeatInterval)
		})
		go func() {
			if err := wt.ListenAndServe(); err != nil {
				log.Printf("[server] webtransport listener: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = wt.Close()
		}()
	}

	if cfg.DiagAddr != "" {
		diagSrv := diagapi.NewServer(bus, rooms)
		go func() {
			if err := diagSrv.Start(cfg.DiagAddr); err != nil && err != http.ErrServerClosed {
				log.Printf("[diagapi] %v", err)
			}
		}()
	}

	if cfg.LoadBotName != "" && cfg.LoadBotRoom != "" {
		go loadbot.Run(ctx, rooms, cfg.LoadBotRoom, cfg.LoadBotName)
	}

	log.Printf("[server] listening on %s", cfg.ListenAddr)
	if err := httpSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[server] %v", err)
	}
}
