package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/technosupport/flowforge/internal/api"
	"github.com/technosupport/flowforge/internal/audit"
	"github.com/technosupport/flowforge/internal/authz"
	"github.com/technosupport/flowforge/internal/cleanup"
	"github.com/technosupport/flowforge/internal/config"
	"github.com/technosupport/flowforge/internal/credential"
	"github.com/technosupport/flowforge/internal/events"
	"github.com/technosupport/flowforge/internal/executor"
	"github.com/technosupport/flowforge/internal/metrics"
	"github.com/technosupport/flowforge/internal/middleware"
	"github.com/technosupport/flowforge/internal/notifier"
	"github.com/technosupport/flowforge/internal/ratelimit"
	"github.com/technosupport/flowforge/internal/session"
	"github.com/technosupport/flowforge/internal/store"
	"github.com/technosupport/flowforge/internal/tokens"
	"github.com/technosupport/flowforge/internal/workflow"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfgPath := os.Getenv("FLOWFORGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn("failed to load config file, continuing with defaults", zap.String("path", cfgPath), zap.Error(err))
	}

	db, err := store.OpenPostgres(envOr("DATABASE_URL", cfg.Postgres.DSN))
	if err != nil {
		log.Fatal("failed to open postgres", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", cfg.Redis.Addr),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	jwtSecret := envOr("JWT_SECRET", cfg.JWT.Secret)
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	tokenMgr := tokens.NewManager(jwtSecret)
	lockout := session.NewManagerFromClient(rdb)

	roles := authz.NewRegistry(db)
	if err := roles.Load(context.Background()); err != nil {
		log.Fatal("failed to load role permission matrix", zap.Error(err))
	}

	credentials := credential.NewService(db, tokenMgr, lockout, roles)

	dirs := workflow.NewDirProvisioner(envOr("FLOWFORGE_STEP_DATA_DIR", "./data/steps"))
	workflowSvc := workflow.NewService(db, dirs, func(format string, args ...any) {
		log.Sugar().Warnf(format, args...)
	})

	runtime := &executor.ContainerRuntime{
		Binary:             envOr("FLOWFORGE_CONTAINER_BINARY", firstNonEmpty(cfg.Container.Binary, "docker")),
		ImageForScriptType: scriptImages(cfg.Container.Images),
		FallbackImage:      firstNonEmpty(cfg.Container.FallbackImage, "alpine:3.20"),
	}
	exec := executor.New(runtime)

	var publisher *events.Publisher
	natsURL := envOr("NATS_URL", cfg.NATS.URL)
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	if nc, err := nats.Connect(natsURL, nats.Name("flowforge")); err != nil {
		log.Warn("nats connect failed, workflow execution events disabled", zap.Error(err))
	} else {
		defer nc.Close()
		subject := firstNonEmpty(cfg.NATS.WorkflowSubject, "flowforge.workflow.executed")
		publisher = events.NewPublisher(nc, subject, cfg.NATS.PublishRetryMax)
	}

	auditSpoolDir := firstNonEmpty(cfg.Audit.SpoolDir, "./data/audit_spool")
	auditSvc := audit.NewService(db.DB(), audit.SpoolConfig{Dir: auditSpoolDir}, log)
	replayCtx, cancelReplay := context.WithCancel(context.Background())
	defer cancelReplay()
	auditSvc.StartReplayer(replayCtx)

	metricsCollector := metrics.NewCollector()
	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	defer cancelMetrics()
	go metricsCollector.Start(metricsCtx)

	cleanupSched := cleanup.NewScheduler(db, cleanup.DefaultInterval, log)
	cleanupSched.Start()
	defer cleanupSched.Stop()

	limiter := ratelimit.NewLimiter(rdb, envOr("RATE_LIMIT_SALT", ""))
	rlMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit, log)
	jwtMiddleware := middleware.NewJWTAuth(credentials)
	permGate := middleware.NewPermissionGate(db)
	auditMiddleware := middleware.NewAuditMiddleware(auditSvc)

	authHandler := api.NewAuthHandler(credentials, metricsCollector, log)
	userHandler := api.NewUserHandler(db, credentials, roles)
	auditHandler := api.NewAuditHandler(auditSvc, log)
	workflowHandler := api.NewWorkflowHandler(db, workflowSvc, exec, metricsCollector, publisher, log)
	wsHandler := notifier.NewHandler(tokenMgr)

	r := chi.NewRouter()
	r.Use(middleware.NewCORS(cfg.CORS))
	r.Use(middleware.RequestLogger(log))
	r.Use(rlMiddleware.GlobalLimiter)
	r.Use(auditMiddleware.LogRequest)

	r.Route("/auth", func(r chi.Router) {
		r.With(rlMiddleware.LoginLimiter).Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
		r.Post("/request-password-reset", authHandler.RequestPasswordReset)
		r.Post("/hard-reset-password", authHandler.HardResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(jwtMiddleware.Middleware)
			r.Post("/refresh-token", authHandler.RefreshToken)
			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all-devices", authHandler.LogoutAllDevices)
			r.Get("/verify-token", authHandler.VerifyToken)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Put("/edit-username", authHandler.EditUsername)
			r.Delete("/delete-account", authHandler.DeleteAccount)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(jwtMiddleware.Middleware)

		r.Route("/workflow", func(r chi.Router) {
			r.With(permGate.RequireResourcePermission(authz.PermRead, authz.ResourceWorkflow)).
				Get("/list", workflowHandler.ListWorkflows)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceWorkflow)).
				Post("/create", workflowHandler.CreateWorkflow)

			r.Route("/{id}", func(r chi.Router) {
				r.With(permGate.RequireWorkflowPermission(authz.PermRead, "id")).Get("/", workflowHandler.GetWorkflow)
				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Put("/", workflowHandler.UpdateWorkflow)
				r.With(permGate.RequireWorkflowPermission(authz.PermDelete, "id")).Delete("/", workflowHandler.DeleteWorkflow)
				r.With(permGate.RequireWorkflowPermission(authz.PermRead, "id")).Get("/permissions", workflowHandler.Permissions)

				r.With(permGate.RequireWorkflowPermission(authz.PermRead, "id")).Get("/steps", workflowHandler.ListSteps)
				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Post("/steps", workflowHandler.AppendStep)
				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Put("/steps/reorder", workflowHandler.ReorderSteps)
				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Put("/steps/id/{stepID}", workflowHandler.UpdateStepOrder)
				r.With(permGate.RequireWorkflowPermission(authz.PermDelete, "id")).Delete("/steps/id/{stepID}", workflowHandler.DeleteStep)
				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Put("/steps/{order}", workflowHandler.UpdateStepOrderByPosition)
				r.With(permGate.RequireWorkflowPermission(authz.PermDelete, "id")).Delete("/steps/{order}", workflowHandler.DeleteStepByPosition)

				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Post("/share/groups/{groupID}", workflowHandler.ShareWithGroup)
				r.With(permGate.RequireWorkflowPermission(authz.PermWrite, "id")).Delete("/share/groups/{groupID}", workflowHandler.Unshare)

				r.With(permGate.RequireWorkflowPermission(authz.PermExecute, "id")).Post("/execute", workflowHandler.Execute)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceUser)).Get("/users", userHandler.ListUsers)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceUser)).Put("/users/{id}/role", userHandler.SetRole)
			r.With(permGate.RequireResourcePermission(authz.PermDelete, authz.ResourceUser)).Post("/users/{id}/disable", userHandler.DisableUser)

			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceGroup)).Post("/groups", userHandler.CreateGroup)
			r.With(permGate.RequireResourcePermission(authz.PermRead, authz.ResourceGroup)).Get("/groups", userHandler.ListGroups)
			r.With(permGate.RequireResourcePermission(authz.PermDelete, authz.ResourceGroup)).Delete("/groups/{id}", userHandler.DeleteGroup)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceGroup)).Post("/groups/{id}/members/{userID}", userHandler.AddGroupMember)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceGroup)).Delete("/groups/{id}/members/{userID}", userHandler.RemoveGroupMember)

			r.With(permGate.RequireResourcePermission(authz.PermRead, authz.ResourceSystem)).Get("/role-permissions", userHandler.ListRolePermissions)
			r.With(permGate.RequireResourcePermission(authz.PermRead, authz.ResourceSystem)).Get("/role-permissions/{role}", userHandler.GetRolePermissionsForRole)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceSystem)).Post("/role-permissions", userHandler.AddRolePermission)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceSystem)).Delete("/role-permissions", userHandler.RemoveRolePermission)
			r.With(permGate.RequireResourcePermission(authz.PermWrite, authz.ResourceSystem)).Post("/role-permissions/reset/{role}", userHandler.ResetRolePermissions)
		})

		r.Route("/audit", func(r chi.Router) {
			r.With(permGate.RequireResourcePermission(authz.PermRead, authz.ResourceSystem)).Get("/events", auditHandler.GetEvents)
			r.With(permGate.RequireResourcePermission(authz.PermRead, authz.ResourceSystem)).Get("/export", auditHandler.ExportEvents)
		})

		r.Get("/notifications/ws", wsHandler.ServeHTTP)
	})

	r.Get("/metrics", metricsCollector.Handler().ServeHTTP)

	addr := envOr("ADDR", firstNonEmpty(cfg.Server.Addr, ":8080"))
	srv := &http.Server{Addr: addr, Handler: r}

	config.Watch(context.Background(), cfgPath, log, func(updated config.Config) {
		rlMiddleware.UpdateConfig(updated.RateLimit)
		log.Info("configuration reloaded", zap.String("path", cfgPath))
	})

	go func() {
		log.Info("starting flowforge", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("flowforge stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func scriptImages(m map[string]string) map[store.ScriptType]string {
	out := make(map[store.ScriptType]string, len(m))
	for k, v := range m {
		out[store.ScriptType(k)] = v
	}
	return out
}
