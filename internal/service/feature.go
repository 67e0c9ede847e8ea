package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"togglr/internal/buffer"
	"togglr/internal/dto/resp"
	"togglr/internal/model"
	"togglr/internal/repository"
	v1 "togglr/pkg/api/v1"
	"togglr/pkg/constraints"
	"togglr/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrFeatureNotFound  = errors.New("feature not found")
	ErrOverrideNotFound = errors.New("override not found")
	ErrEtcdUnhealthy    = errors.New("etcd unhealthy")
	ErrMysqlUnhealthy   = errors.New("mysql unhealthy")
)

// ValidationError reports a request rejected before any store write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const FlagRootPrefix = "/togglr/flags/"

func BuildFlagKey(featureKey string) string {
	return FlagRootPrefix + featureKey
}

// FlagKeyFromPath recovers the feature key from a full etcd path. Needed for
// delete events, which carry no value to unmarshal.
func FlagKeyFromPath(path string) string {
	return strings.TrimPrefix(path, FlagRootPrefix)
}

// FlagService owns all admin mutations. Every write runs in one database
// transaction that also bumps the owning feature's version and appends an
// outbox row, so a change event is never lost even when etcd is down.
type FlagService struct {
	db           *gorm.DB
	eventRepo    *repository.EventRepository
	featureRepo  repository.FeatureInterface
	overrideRepo repository.OverrideInterface
	outboxRepo   repository.OutboxInterface
	buffer       *buffer.EventBuffer
	cache        *EventCache
	hub          *Hub
}

func NewFlagService(db *gorm.DB, eventRepo *repository.EventRepository, featureRepo repository.FeatureInterface, overrideRepo repository.OverrideInterface, outboxRepo repository.OutboxInterface, hub *Hub) *FlagService {
	return &FlagService{
		db:           db,
		eventRepo:    eventRepo,
		featureRepo:  featureRepo,
		overrideRepo: overrideRepo,
		outboxRepo:   outboxRepo,
		hub:          hub,
		buffer:       buffer.NewEventBuffer(1000),
		cache:        NewEventCache(),
	}
}

func validateFeatureKey(key string) error {
	if key == "" {
		return &ValidationError{Field: "key", Reason: "must not be empty"}
	}
	if len(key) > 128 {
		return &ValidationError{Field: "key", Reason: "must not exceed 128 characters"}
	}
	return nil
}

func validateTarget(targetType, targetIdentifier string) error {
	if !constraints.ValidTargetType(targetType) {
		return &ValidationError{Field: "target_type", Reason: "must be user or group"}
	}
	if targetIdentifier == "" {
		return &ValidationError{Field: "target_identifier", Reason: "must not be empty"}
	}
	if len(targetIdentifier) > 255 {
		return &ValidationError{Field: "target_identifier", Reason: "must not exceed 255 characters"}
	}
	return nil
}

func (s *FlagService) CreateFeature(ctx context.Context, key string, defaultEnabled bool, description string) (*resp.FeatureItem, error) {
	if err := validateFeatureKey(key); err != nil {
		return nil, err
	}
	traceID := TraceIDFrom(ctx)

	var created *model.Feature
	var outboxID int64
	var event v1.ChangeEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFeature := s.featureRepo.WithTx(tx)
		txOutbox := s.outboxRepo.WithTx(tx)

		feature := &model.Feature{
			Key:            key,
			DefaultEnabled: defaultEnabled,
			Description:    description,
			Version:        1,
		}
		if err := txFeature.Create(ctx, feature); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				logger.Error("failed to create feature", zap.String("key", key), zap.Error(err))
			}
			return err
		}
		created = feature

		event = v1.ChangeEvent{
			FeatureKey: key,
			Version:    feature.Version,
			Action:     constraints.PUT,
			Source:     constraints.SourceFeature,
		}
		id, err := s.enqueueEvent(ctx, txOutbox, event, traceID)
		if err != nil {
			return err
		}
		outboxID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.syncToEtcd(outboxID, event)
	return featureItem(created), nil
}

func (s *FlagService) GetFeature(ctx context.Context, key string) (*resp.FeatureItem, error) {
	m, err := s.featureRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrFeatureNotFound
	}
	return featureItem(m), nil
}

func (s *FlagService) ListFeatures(ctx context.Context, search string) ([]resp.FeatureItem, error) {
	features, err := s.featureRepo.List(ctx, search)
	if err != nil {
		return nil, err
	}
	items := make([]resp.FeatureItem, 0, len(features))
	for _, m := range features {
		items = append(items, *featureItem(m))
	}
	return items, nil
}

// UpdateFeature replaces the feature's default verdict and description. The
// key itself is immutable; there is no way to rename a flag.
func (s *FlagService) UpdateFeature(ctx context.Context, key string, defaultEnabled bool, description string) (*resp.FeatureItem, error) {
	traceID := TraceIDFrom(ctx)

	var updated *model.Feature
	var outboxID int64
	var event v1.ChangeEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFeature := s.featureRepo.WithTx(tx)
		txOutbox := s.outboxRepo.WithTx(tx)

		feature, err := txFeature.GetByKey(ctx, key)
		if err != nil {
			logger.Error("failed to load feature", zap.String("key", key), zap.Error(err))
			return err
		}
		if feature == nil {
			return ErrFeatureNotFound
		}

		feature.DefaultEnabled = defaultEnabled
		feature.Description = description
		if err := txFeature.Update(ctx, feature); err != nil {
			logger.Error("failed to update feature", zap.String("key", key), zap.Error(err))
			return err
		}

		version, err := txFeature.BumpVersion(ctx, feature.ID)
		if err != nil {
			return err
		}
		feature.Version = version
		updated = feature

		event = v1.ChangeEvent{
			FeatureKey: key,
			Version:    version,
			Action:     constraints.PUT,
			Source:     constraints.SourceFeature,
		}
		id, err := s.enqueueEvent(ctx, txOutbox, event, traceID)
		if err != nil {
			return err
		}
		outboxID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.syncToEtcd(outboxID, event)
	return featureItem(updated), nil
}

// DeleteFeature removes the feature and all of its overrides. Watchers see a
// single delete event and drop the flag; subsequent evaluations fall back to
// the inert false verdict.
func (s *FlagService) DeleteFeature(ctx context.Context, key string) error {
	traceID := TraceIDFrom(ctx)

	var outboxID int64
	var event v1.ChangeEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFeature := s.featureRepo.WithTx(tx)
		txOutbox := s.outboxRepo.WithTx(tx)

		feature, err := txFeature.GetByKey(ctx, key)
		if err != nil {
			return err
		}
		if feature == nil {
			return ErrFeatureNotFound
		}

		if err := txFeature.Delete(ctx, feature); err != nil {
			logger.Error("failed to delete feature", zap.String("key", key), zap.Error(err))
			return err
		}

		event = v1.ChangeEvent{
			FeatureKey: key,
			Version:    feature.Version,
			Action:     constraints.DELETE,
			Source:     constraints.SourceFeature,
		}
		id, err := s.enqueueEvent(ctx, txOutbox, event, traceID)
		if err != nil {
			return err
		}
		outboxID = id
		return nil
	})
	if err != nil {
		return err
	}

	go s.syncToEtcd(outboxID, event)
	return nil
}

func (s *FlagService) CreateOverride(ctx context.Context, featureKey, targetType, targetIdentifier string, enabled bool) (*resp.OverrideItem, error) {
	if err := validateTarget(targetType, targetIdentifier); err != nil {
		return nil, err
	}
	traceID := TraceIDFrom(ctx)

	var created *model.FeatureOverride
	var outboxID int64
	var event v1.ChangeEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFeature := s.featureRepo.WithTx(tx)
		txOverride := s.overrideRepo.WithTx(tx)
		txOutbox := s.outboxRepo.WithTx(tx)

		feature, err := txFeature.GetByKey(ctx, featureKey)
		if err != nil {
			return err
		}
		if feature == nil {
			return ErrFeatureNotFound
		}

		override := &model.FeatureOverride{
			FeatureID:        feature.ID,
			TargetType:       targetType,
			TargetIdentifier: targetIdentifier,
			Enabled:          enabled,
		}
		if err := txOverride.Create(ctx, override); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				logger.Error("failed to create override",
					zap.String("feature", featureKey),
					zap.String("target", targetType+"/"+targetIdentifier),
					zap.Error(err))
			}
			return err
		}
		created = override

		version, err := txFeature.BumpVersion(ctx, feature.ID)
		if err != nil {
			return err
		}

		event = v1.ChangeEvent{
			FeatureKey: featureKey,
			Version:    version,
			Action:     constraints.PUT,
			Source:     constraints.SourceOverride,
		}
		id, err := s.enqueueEvent(ctx, txOutbox, event, traceID)
		if err != nil {
			return err
		}
		outboxID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.syncToEtcd(outboxID, event)
	return overrideItem(created, featureKey), nil
}

func (s *FlagService) ListOverrides(ctx context.Context, featureKey string) ([]resp.OverrideItem, error) {
	feature, err := s.featureRepo.GetByKey(ctx, featureKey)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, ErrFeatureNotFound
	}
	overrides, err := s.overrideRepo.ListByFeature(ctx, feature.ID)
	if err != nil {
		return nil, err
	}
	items := make([]resp.OverrideItem, 0, len(overrides))
	for i := range overrides {
		items = append(items, *overrideItem(&overrides[i], featureKey))
	}
	return items, nil
}

// UpdateOverride flips an existing override's verdict in place. The override
// keeps its creation time, so its rank among group overrides is unchanged.
func (s *FlagService) UpdateOverride(ctx context.Context, featureKey string, id uint64, enabled bool) (*resp.OverrideItem, error) {
	traceID := TraceIDFrom(ctx)

	var updated *model.FeatureOverride
	var outboxID int64
	var event v1.ChangeEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFeature := s.featureRepo.WithTx(tx)
		txOverride := s.overrideRepo.WithTx(tx)
		txOutbox := s.outboxRepo.WithTx(tx)

		feature, err := txFeature.GetByKey(ctx, featureKey)
		if err != nil {
			return err
		}
		if feature == nil {
			return ErrFeatureNotFound
		}

		override, err := txOverride.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if override == nil || override.FeatureID != feature.ID {
			return ErrOverrideNotFound
		}

		if err := txOverride.UpdateEnabled(ctx, id, enabled); err != nil {
			return err
		}
		override.Enabled = enabled
		updated = override

		version, err := txFeature.BumpVersion(ctx, feature.ID)
		if err != nil {
			return err
		}

		event = v1.ChangeEvent{
			FeatureKey: featureKey,
			Version:    version,
			Action:     constraints.PUT,
			Source:     constraints.SourceOverride,
		}
		oid, err := s.enqueueEvent(ctx, txOutbox, event, traceID)
		if err != nil {
			return err
		}
		outboxID = oid
		return nil
	})
	if err != nil {
		return nil, err
	}

	go s.syncToEtcd(outboxID, event)
	return overrideItem(updated, featureKey), nil
}

// DeleteOverride is idempotent: removing an override that is already gone
// succeeds without emitting a change event, since nothing moved.
func (s *FlagService) DeleteOverride(ctx context.Context, featureKey string, id uint64) error {
	traceID := TraceIDFrom(ctx)

	var outboxID int64
	var event v1.ChangeEvent
	var deleted bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFeature := s.featureRepo.WithTx(tx)
		txOverride := s.overrideRepo.WithTx(tx)
		txOutbox := s.outboxRepo.WithTx(tx)

		feature, err := txFeature.GetByKey(ctx, featureKey)
		if err != nil {
			return err
		}
		if feature == nil {
			return ErrFeatureNotFound
		}

		override, err := txOverride.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if override == nil || override.FeatureID != feature.ID {
			return nil
		}

		if err := txOverride.Delete(ctx, id); err != nil {
			return err
		}
		deleted = true

		version, err := txFeature.BumpVersion(ctx, feature.ID)
		if err != nil {
			return err
		}

		event = v1.ChangeEvent{
			FeatureKey: featureKey,
			Version:    version,
			Action:     constraints.PUT,
			Source:     constraints.SourceOverride,
		}
		oid, err := s.enqueueEvent(ctx, txOutbox, event, traceID)
		if err != nil {
			return err
		}
		outboxID = oid
		return nil
	})
	if err != nil {
		return err
	}

	if deleted {
		go s.syncToEtcd(outboxID, event)
	}
	return nil
}

// enqueueEvent appends the change event to the outbox inside the caller's
// transaction. The returned id lets the caller attempt an eager etcd push
// after commit; the outbox worker covers the failure path.
func (s *FlagService) enqueueEvent(ctx context.Context, txOutbox repository.OutboxInterface, event v1.ChangeEvent, traceID string) (int64, error) {
	task := &model.OutboxTask{
		FeatureKey: event.FeatureKey,
		Payload:    event.ToJSON(),
		Status:     model.StatusPending,
		TraceID:    traceID,
	}
	if err := txOutbox.Create(ctx, task); err != nil {
		logger.Error("failed to create outbox task", zap.String("key", event.FeatureKey), zap.Error(err))
		return 0, err
	}
	return task.ID, nil
}

func (s *FlagService) syncToEtcd(outboxID int64, event v1.ChangeEvent) {
	fullKey := BuildFlagKey(event.FeatureKey)

	var err error
	if event.Action == constraints.DELETE {
		_, err = s.eventRepo.DeleteEvent(context.Background(), fullKey)
	} else {
		_, err = s.eventRepo.SaveEventIfNewer(context.Background(), fullKey, event)
	}
	if err != nil {
		logger.Warn("failed to sync change event to etcd", zap.String("key", event.FeatureKey), zap.Error(err))
		return
	}
	_ = s.outboxRepo.UpdateStatus(context.Background(), outboxID, model.StatusCompleted, 0)
}

// GetCompensation replays buffered events newer than lastRev. ok=false means
// the revision fell out of the ring and the client must snapshot.
func (s *FlagService) GetCompensation(lastRev int64) ([]v1.ChangeEvent, bool) {
	return s.buffer.GetSince(lastRev)
}

// Snapshot returns the latest event per flag and the high-water revision.
func (s *FlagService) Snapshot(ctx context.Context) ([]v1.ChangeEvent, int64) {
	return s.cache.GetSnapshot()
}

func (s *FlagService) Health(ctx context.Context) error {
	if s.featureRepo.PingContext(ctx) != nil {
		return ErrMysqlUnhealthy
	}
	if s.eventRepo.Health(ctx) != nil {
		return ErrEtcdUnhealthy
	}
	return nil
}

// Run keeps cache, replay buffer and hub fed from the etcd watch. The
// snapshot is taken first and the watch starts one revision later, so no
// event can slip between the two.
func (s *FlagService) Run(ctx context.Context) {
	prefix := FlagRootPrefix
	resp, err := s.eventRepo.GetWithRevision(ctx, prefix)
	if err != nil {
		logger.Error("failed to get initial flag state", zap.Error(err))
		return
	}
	rev0 := resp.Header.Revision
	for _, kv := range resp.Kvs {
		var ev v1.ChangeEvent
		if err := json.Unmarshal(kv.Value, &ev); err != nil {
			logger.Warn("failed to unmarshal event during snapshot", zap.String("key", string(kv.Key)))
			continue
		}
		ev.Revision = kv.ModRevision
		s.cache.Update(ev)
	}
	logger.Info("flag snapshot initialized", zap.Int64("rev", rev0))

	watchChan := s.eventRepo.WatchEventsFrom(ctx, prefix, rev0+1)
	for {
		select {
		case <-ctx.Done():
			return
		case wresp := <-watchChan:
			if wresp.Canceled {
				logger.Warn("watch canceled", zap.Error(wresp.Err()))
				return
			}
			for _, wev := range wresp.Events {
				var ev v1.ChangeEvent
				if wev.Type == clientv3.EventTypeDelete {
					ev = v1.ChangeEvent{
						FeatureKey: FlagKeyFromPath(string(wev.Kv.Key)),
						Revision:   wev.Kv.ModRevision,
						Action:     constraints.DELETE,
						Source:     constraints.SourceFeature,
					}
					s.cache.Delete(ev.FeatureKey, ev.Revision)
				} else {
					if err := json.Unmarshal(wev.Kv.Value, &ev); err != nil {
						logger.Error("failed to unmarshal change event",
							zap.String("key", string(wev.Kv.Key)),
							zap.ByteString("raw_value", wev.Kv.Value))
						continue
					}
					ev.Revision = wev.Kv.ModRevision
					s.cache.Update(ev)
				}
				s.buffer.Add(ev)
				s.hub.Broadcast <- ev
			}
		}
	}
}

func featureItem(m *model.Feature) *resp.FeatureItem {
	return &resp.FeatureItem{
		ID:             m.ID,
		Key:            m.Key,
		DefaultEnabled: m.DefaultEnabled,
		Description:    m.Description,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func overrideItem(o *model.FeatureOverride, featureKey string) *resp.OverrideItem {
	return &resp.OverrideItem{
		ID:               o.ID,
		FeatureKey:       featureKey,
		TargetType:       o.TargetType,
		TargetIdentifier: o.TargetIdentifier,
		Enabled:          o.Enabled,
		CreatedAt:        o.CreatedAt,
	}
}
