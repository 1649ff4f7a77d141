package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/gatehouse-io/gatehouse/internal/authz"
)

// PermissionWarmupJob pre-populates the permission cache for every
// (principal, scope) pair currently holding a role.
type PermissionWarmupJob struct {
	Repo     authz.Repository
	Resolver *authz.Resolver
	Logger   *slog.Logger
	clock    func() time.Time
}

// NewPermissionWarmupJob wires dependencies for the warmup handler.
func NewPermissionWarmupJob(repo authz.Repository, resolver *authz.Resolver, logger *slog.Logger) *PermissionWarmupJob {
	return &PermissionWarmupJob{
		Repo:     repo,
		Resolver: resolver,
		Logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes permission warmup tasks.
func (j *PermissionWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("permission warmup: handler not configured")
	}
	var payload PermissionWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MaxTargets <= 0 {
		payload.MaxTargets = 1000
	}

	logger := j.logger()
	start := j.clock()
	logger.Info("starting permission warmup")

	targets, err := j.Repo.ListAssignmentTargets(ctx)
	if err != nil {
		logger.Error("load warmup targets", slog.Any("error", err))
		return err
	}
	if len(targets) > payload.MaxTargets {
		targets = targets[:payload.MaxTargets]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, target := range targets {
		g.Go(func() error {
			if _, err := j.Resolver.Resolve(gctx, target.PrincipalID, target.ScopeID); err != nil {
				logger.Error("warm target",
					slog.Int64("principal_id", target.PrincipalID),
					slog.Int64("scope_id", target.ScopeID),
					slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("permission warmup complete",
		slog.Int("warmed", len(targets)),
		slog.Duration("elapsed", j.clock().Sub(start)))
	return nil
}

func (j *PermissionWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
