package service

import (
	"context"
	"encoding/json"
	"time"

	"togglr/internal/model"
	"togglr/internal/repository"
	v1 "togglr/pkg/api/v1"
	"togglr/pkg/constraints"
	"togglr/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Reconciler is the anti-entropy sweep: it periodically compares the
// database (source of truth) against the etcd notification keys and repairs
// whatever the outbox path failed to deliver. Only one instance runs the
// sweep at a time, guarded by a distributed lock.
type Reconciler struct {
	etcdClient  *clientv3.Client
	eventRepo   *repository.EventRepository
	featureRepo repository.FeatureInterface
	interval    time.Duration
}

func NewReconciler(client *clientv3.Client, eventRepo *repository.EventRepository, featureRepo repository.FeatureInterface, interval time.Duration) *Reconciler {
	return &Reconciler{
		etcdClient:  client,
		eventRepo:   eventRepo,
		featureRepo: featureRepo,
		interval:    interval,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Session for the distributed lock, tied to a lease
	session, err := concurrency.NewSession(r.etcdClient, concurrency.WithTTL(10))
	if err != nil {
		logger.Error("failed to create etcd concurrency session", zap.Error(err))
		return
	}
	defer session.Close()

	mutex := concurrency.NewMutex(session, "/togglr/locks/reconciler")

	logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := mutex.Lock(lockCtx)
			cancel()

			if err != nil {
				if err == context.DeadlineExceeded {
					logger.Debug("reconciliation skipped, another instance holds the lock")
				} else {
					logger.Error("failed to acquire reconciliation lock", zap.Error(err))
				}
				continue
			}

			logger.Info("lock acquired, starting reconciliation")
			r.reconcile(ctx)

			if err := mutex.Unlock(context.Background()); err != nil {
				logger.Warn("failed to release reconciliation lock", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	dbFeatures, err := r.featureRepo.GetAll(ctx)
	if err != nil {
		logger.Error("recon: failed to fetch features from db", zap.Error(err))
		return
	}
	dbMap := make(map[string]*model.Feature, len(dbFeatures))
	for _, f := range dbFeatures {
		dbMap[BuildFlagKey(f.Key)] = f
	}

	resp, err := r.eventRepo.GetWithRevision(ctx, FlagRootPrefix)
	if err != nil {
		logger.Error("recon: failed to fetch events from etcd", zap.Error(err))
		return
	}
	etcdMap := make(map[string]*v1.ChangeEvent, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ev v1.ChangeEvent
		if err := json.Unmarshal(kv.Value, &ev); err == nil {
			etcdMap[string(kv.Key)] = &ev
		}
	}

	// Database has it, etcd is missing it or lags behind.
	fixed := 0
	for fullKey, feature := range dbMap {
		stored, exists := etcdMap[fullKey]
		if exists && stored.Version >= feature.Version {
			continue
		}

		reason := "missing_in_etcd"
		if exists {
			reason = "version_behind"
		}
		logger.Warn("recon: fixing inconsistency", zap.String("key", fullKey), zap.String("reason", reason))

		event := v1.ChangeEvent{
			FeatureKey: feature.Key,
			Version:    feature.Version,
			Action:     constraints.PUT,
			Source:     constraints.SourceFeature,
		}
		if _, err := r.eventRepo.SaveEventIfNewer(ctx, fullKey, event); err != nil {
			logger.Error("recon: failed to fix etcd", zap.String("key", fullKey), zap.Error(err))
			continue
		}
		fixed++
	}

	// Etcd has it, database does not: the flag was deleted but the delete
	// event never landed. Remove the orphan so clients drop the flag.
	removed := 0
	for fullKey := range etcdMap {
		if _, exists := dbMap[fullKey]; exists {
			continue
		}
		logger.Warn("recon: removing orphan key", zap.String("key", fullKey))
		if _, err := r.eventRepo.DeleteEvent(ctx, fullKey); err != nil {
			logger.Error("recon: failed to remove orphan", zap.String("key", fullKey), zap.Error(err))
			continue
		}
		removed++
	}

	logger.Info("reconciliation finished",
		zap.Int("db_count", len(dbMap)),
		zap.Int("etcd_count", len(etcdMap)),
		zap.Int("fixed", fixed),
		zap.Int("removed", removed))
}
