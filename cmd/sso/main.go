package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mojzu/sso-sub004/internal/apikey"
	"github.com/mojzu/sso-sub004/internal/audit"
	"github.com/mojzu/sso-sub004/internal/authn"
	"github.com/mojzu/sso-sub004/internal/config"
	"github.com/mojzu/sso-sub004/internal/csrf"
	"github.com/mojzu/sso-sub004/internal/httpapi"
	"github.com/mojzu/sso-sub004/internal/obs"
	"github.com/mojzu/sso-sub004/internal/provider"
	"github.com/mojzu/sso-sub004/internal/store/pg"
	"github.com/mojzu/sso-sub004/internal/token"
)

var (
	version = "dev"
	commit  = "none"
)

func logEvent(level, msg string, kv map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range kv {
		entry[k] = v
	}
	obs.LogRequest(entry)
}

func fatal(msg string, err error) {
	logEvent("error", msg, map[string]any{"error": err.Error()})
	os.Exit(1)
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		fatal("open database", err)
	}
	defer store.Close()
	db := store.DB()

	codec := token.NewCodec()
	ledger := csrf.NewLedger(csrf.NewPGStore(db), codec)
	keys := apikey.NewService(apikey.NewPGStore(db))
	rec := audit.NewRecorder(audit.NewPGStore(db))
	auth := authn.NewAuthenticator(authn.NewPGStore(db), codec, ledger, keys, rec)
	exchange := provider.NewExchange(ledger, codec, cfg.ProviderTimeout)

	providers := make(map[string]provider.Provider)
	if cfg.GitHub.Enabled() {
		providers["github"] = provider.NewGitHub(provider.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
		})
	}
	if cfg.Microsoft.Enabled() {
		providers["microsoft"] = provider.NewMicrosoft(provider.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			RedirectURL:  cfg.Microsoft.RedirectURL,
		})
	}

	api := httpapi.New(auth, rec, keys, exchange, providers, httpapi.ReadyProbe{DB: db}, version)

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.RateLimit(
				httpapi.MaxBodyBytes(api.Handler(), cfg.MaxBodyBytes),
				cfg.RateLimitBurst, cfg.RateLimitRPS,
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		fatal("listen grpc", err)
	}
	go func() {
		logEvent("info", "grpc health listening", map[string]any{"addr": cfg.GRPCAddr})
		if err := grpcSrv.Serve(lis); err != nil {
			logEvent("error", "grpc serve", map[string]any{"error": err.Error()})
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go auditSweepLoop(sweepCtx, rec, cfg.AuditRetention, cfg.AuditSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logEvent("info", "http listening", map[string]any{"addr": cfg.HTTPAddr, "version": version})
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logEvent("info", "shutting down", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fatal("http serve", err)
		}
	}

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	obs.SetReady(false)
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logEvent("error", "http shutdown", map[string]any{"error": err.Error()})
	}
	grpcSrv.GracefulStop()
	logEvent("info", "stopped", nil)
}

// auditSweepLoop prunes audit records past the retention window.
func auditSweepLoop(ctx context.Context, rec *audit.Recorder, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			n, err := rec.RetentionSweep(sweepCtx, retention)
			cancel()
			if err != nil {
				logEvent("warn", "audit sweep failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				logEvent("info", "audit sweep", map[string]any{"deleted": n})
			}
		}
	}
}
