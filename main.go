package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certen/independant-validator/pkg/adminapi"
	"github.com/certen/independant-validator/pkg/audit"
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/network"
	"github.com/certen/independant-validator/pkg/session"
	"github.com/certen/independant-validator/pkg/signaling"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/timer"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides HMSC_CONFIG_FILE)")
	flag.Parse()

	if *configFile != "" {
		os.Setenv("HMSC_CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsRegistry, promReg := metrics.New()

	auditSink, err := buildAuditSink(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize audit sinks:", err)
	}
	defer auditSink.Close()

	var net network.Network
	if cfg.EVMRPCURL != "" {
		relay, err := network.Dial(network.Config{RPCURL: cfg.EVMRPCURL, ChainID: cfg.EVMChainID})
		if err != nil {
			log.Fatal("failed to connect to blockchain relay:", err)
		}
		net = relay
	} else {
		log.Printf("HMSC_EVM_RPC_URL not set, running without a blockchain relay - threshold execution will fail")
		net = noopNetwork{}
	}

	sessionStore := store.New(store.Config{})
	timers := timer.New(nil)
	manager := session.New(session.Config{
		Store:   sessionStore,
		Timers:  timers,
		Network: net,
		Metrics: metricsRegistry,
	})

	signalingServer := signaling.New(signaling.Config{
		Manager:            manager,
		Metrics:            metricsRegistry,
		Audit:              auditSink,
		Timers:             timers,
		ReconnectionWindow: cfg.ReconnectionWindow,
		OutboundQueueSize:  cfg.OutboundQueueSize,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", signalingServer)
	adminapi.New(manager, cfg.PublicURL, nil).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(promReg)}

	go func() {
		log.Printf("session coordinator listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed:", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	cancel()
	timers.CancelAll()
	signalingServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	sessionStore.Close()

	log.Printf("session coordinator stopped")
}

// buildAuditSink wires up whichever terminal-outcome audit sinks are
// enabled in cfg, fanning out to both if both are configured.
func buildAuditSink(ctx context.Context, cfg *config.Config) (audit.Sink, error) {
	var sinks []audit.Sink

	firestoreSink, err := audit.NewFirestoreSink(ctx, audit.FirestoreConfig{
		Enabled:         cfg.FirestoreEnabled,
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, firestoreSink)

	postgresSink, err := audit.NewPostgresSink(ctx, audit.PostgresConfig{
		Enabled: cfg.PostgresAuditEnabled,
		DSN:     cfg.PostgresAuditDSN,
	})
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, postgresSink)

	return audit.NewMultiSink(nil, sinks...), nil
}

// noopNetwork lets the coordinator run (authing participants, collecting
// signatures) without a configured blockchain relay; threshold execution
// reports a network error rather than panicking on a nil Network.
type noopNetwork struct{}

func (noopNetwork) Submit(ctx context.Context, frozenTx []byte, signatures map[string][]byte) (*network.SubmitResult, error) {
	return nil, errNoRelayConfigured
}

func (noopNetwork) Health(ctx context.Context) error {
	return errNoRelayConfigured
}

var errNoRelayConfigured = errors.New("network: no blockchain relay configured (set HMSC_EVM_RPC_URL)")
