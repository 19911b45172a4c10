package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/breez/todo-sync/config"
	"github.com/breez/todo-sync/credentials"
	"github.com/breez/todo-sync/logging"
	"github.com/breez/todo-sync/middleware"
	"github.com/breez/todo-sync/reconciler"
	"github.com/breez/todo-sync/rpc"
	"github.com/breez/todo-sync/session"
	"github.com/breez/todo-sync/store"
	"github.com/breez/todo-sync/store/postgres"
	"github.com/breez/todo-sync/store/sqlite"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

func main() {
	config, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logCloser := logging.Setup(config.LogLevel, config.LogFormat, config.LogFile)
	defer logCloser.Close()

	todoStore, err := openStore(config)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer todoStore.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := NewApp(config, todoStore, registry)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	grpcListener, err := net.Listen("tcp", config.GrpcListenAddress)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	httpServer := &http.Server{
		Addr:              config.HttpListenAddress,
		Handler:           app.HTTPHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server listening at %s", config.GrpcListenAddress)
		if err := app.GrpcServer.Serve(grpcListener); err != nil {
			log.Fatalf("failed to serve: %v", err)
		}
	}()
	go func() {
		log.Printf("HTTP server listening at %s", config.HttpListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to serve http: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorf("failed to shut down http server: %v", err)
	}
	app.GrpcServer.GracefulStop()
}

func openStore(config *config.Config) (store.TodoStore, error) {
	if config.PgDatabaseUrl != "" {
		return postgres.NewPGTodoStore(config.PgDatabaseUrl)
	}
	if err := os.MkdirAll(config.SQLiteDirPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return sqlite.NewSQLiteTodoStore(filepath.Join(config.SQLiteDirPath, "todo.db"))
}

// App holds the two listeners' handlers built from a single config.
type App struct {
	GrpcServer  *grpc.Server
	HTTPHandler http.Handler
	Sessions    *session.Manager
}

// NewApp wires every component. It fails when the session secret, the
// signing key or the webhook secret is missing.
func NewApp(config *config.Config, todoStore store.TodoStore, registry *prometheus.Registry) (*App, error) {
	sessions, err := session.NewManager(config.SessionSecret, config.SessionIssuer, config.SessionTTL.Duration)
	if err != nil {
		return nil, err
	}

	opts := credentials.Options{
		ProjectID: config.ProjectID,
		Issuer:    config.TokenIssuer,
		Endpoint:  config.Endpoint(),
		TTL:       config.CredentialTTL.Duration,
	}
	if config.PrivateKey != nil {
		opts.PrivateKey = config.PrivateKey.Raw
	}
	issuer, err := credentials.NewIssuer(opts)
	if err != nil {
		return nil, err
	}
	verifier := credentials.NewVerifier(&opts.PrivateKey.PublicKey, config.ProjectID, config.TokenIssuer)

	webhook, err := reconciler.NewHandler(
		config.WebhookSecret,
		reconciler.NewReconciler(todoStore, reconciler.NewMetrics(registry)),
		verifier,
		int64(config.WebhookMaxBody),
	)
	if err != nil {
		return nil, err
	}

	serverMetrics := grpcprom.NewServerMetrics()
	registry.MustRegister(serverMetrics)
	grpcServer := CreateServer(NewTodoServer(todoStore, sessions), serverMetrics)

	mux := http.NewServeMux()
	mux.Handle("/sync-webhook", webhook)
	mux.Handle("/api/powersync/credentials", middleware.RequireSession(sessions)(credentials.Handler(issuer)))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &App{
		GrpcServer:  grpcServer,
		HTTPHandler: CreateHTTPHandler(config, grpcServer, mux),
		Sessions:    sessions,
	}, nil
}

func CreateServer(todoServer rpc.TodosServer, metrics *grpcprom.ServerMetrics) *grpc.Server {
	s := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Second * 5,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(metrics.StreamServerInterceptor()),
	)
	rpc.RegisterTodosServer(s, todoServer)
	metrics.InitializeMetrics(s)
	return s
}

// CreateHTTPHandler serves grpc-web requests with the gRPC server and
// everything else with mux.
func CreateHTTPHandler(config *config.Config, grpcServer *grpc.Server, mux http.Handler) http.Handler {
	origins := config.AllowedOrigins()
	allowOrigin := func(origin string) bool {
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
	wrapped := grpcweb.WrapServer(grpcServer, grpcweb.WithOriginFunc(allowOrigin))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wrapped.IsGrpcWebRequest(r) || wrapped.IsAcceptableGrpcCorsRequest(r) {
			wrapped.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Authorization", "Content-Type", "X-Request-Id", middleware.SignatureHeader,
			"X-Grpc-Web", "X-User-Agent", "Grpc-Timeout",
		},
		ExposedHeaders: []string{"Grpc-Status", "Grpc-Message"},
	})
	return middleware.Chain(
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logger,
		c.Handler,
	)(handler)
}
