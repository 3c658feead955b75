package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/events"
	"github.com/spec-kit/salescrm/internal/observability"
	"github.com/spec-kit/salescrm/internal/permission"
	"github.com/spec-kit/salescrm/internal/persistence"
	"github.com/spec-kit/salescrm/internal/repository"
	"github.com/spec-kit/salescrm/internal/service"
	"github.com/spec-kit/salescrm/internal/worker"
)

const (
	actorIDFlag   = "actor-id"
	actorRoleFlag = "role"
	actorTeamFlag = "team"
)

// NewRootCommand holds the actor flags shared by every subcommand.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crmdata",
		Short: "Inspect and operate the role-scoped CRM data layer",
		Long: `Inspect and operate the role-scoped CRM data layer.

Every command acts as one actor, given by --actor-id, --role and --team.
Store settings come from the environment (POSTGRES_DSN, REDIS_ADDR, ...) or a .env file.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String(actorIDFlag, "", "id of the acting user")
	cmd.PersistentFlags().String(actorRoleFlag, string(domain.RoleSalesman), "manager, team_leader or salesman")
	cmd.PersistentFlags().String(actorTeamFlag, "", "team managed by a team_leader")
	return cmd
}

func actorFromFlags(cmd *cobra.Command) (domain.Actor, error) {
	id, _ := cmd.Flags().GetString(actorIDFlag)
	roleName, _ := cmd.Flags().GetString(actorRoleFlag)
	team, _ := cmd.Flags().GetString(actorTeamFlag)

	role, err := domain.ParseRole(roleName)
	if err != nil {
		return domain.Actor{}, err
	}
	actor := domain.Actor{ID: id, Role: role, ManagedTeam: team}
	return actor, actor.Validate()
}

// stack is the fully wired data layer for one command invocation.
type stack struct {
	logger  *zap.Logger
	pool    *persistence.Pool
	repo    repository.ScopedRepository
	redis   *persistence.Redis
	metrics *http.Server
}

func openStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	base, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, err
	}
	logger := withApp(base, cfg.App)
	logger.Info("data layer starting")

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(cfg.Metrics.Namespace, reg)
	if err != nil {
		return nil, err
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	pool := persistence.NewPool(pg, persistence.PoolOptionsFromConfig(cfg.Postgres), logger, metrics)

	opts := []persistence.Option{
		persistence.WithRetryPolicy(persistence.RetryPolicyFromConfig(cfg.Retry)),
		persistence.WithStatementTimeout(cfg.Postgres.StatementTimeout),
		persistence.WithLogger(logger),
		persistence.WithMetrics(metrics),
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	redis := persistence.NewRedis(cfg.Redis, logger)
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, redis, cfg.Redis))

	s := &stack{
		logger: logger,
		pool:   pool,
		redis:  redis,
		repo: repository.NewScopedRepository(repository.Deps{
			Engine:     permission.NewEngine(),
			Querier:    persistence.NewExecutor(pool, opts...),
			Transactor: persistence.NewCoordinator(pool, opts...),
			Pagination: cfg.Pagination,
			Dispatcher: dispatcher,
			Logger:     logger,
			Metrics:    metrics,
		}),
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", zap.Error(err))
			}
		}()
	}
	return s, nil
}

// withApp tags every log line with the process identity.
func withApp(logger *zap.Logger, app config.AppConfig) *zap.Logger {
	return logger.With(
		zap.String("app", app.Name),
		zap.String("env", app.Env),
		zap.String("version", app.Version))
}

func (s *stack) Close() {
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
	s.redis.Close()
	s.pool.Close()
	_ = s.logger.Sync()
}
