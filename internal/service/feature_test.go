package service

import (
	"context"
	"errors"
	"testing"

	"togglr/internal/buffer"
	"togglr/internal/repository"
	v1 "togglr/pkg/api/v1"
	"togglr/pkg/constraints"
	"togglr/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
)

func init() {
	logger.InitLogger("test")
}

// MockKV partially implements clientv3.KV
type MockKV struct {
	clientv3.KV
	GetFn    func(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	DeleteFn func(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

func (m *MockKV) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, key, opts...)
	}
	return nil, nil
}

func (m *MockKV) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, key, opts...)
	}
	return nil, nil
}

func (m *MockKV) Txn(ctx context.Context) clientv3.Txn {
	return nil
}

type MockEtcdInterface struct {
	MockKV
	clientv3.Watcher
}

func (m *MockEtcdInterface) Close() error { return nil }
func (m *MockEtcdInterface) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	return nil
}

func TestValidateInput(t *testing.T) {
	svc := &FlagService{}

	// Validation runs before any store access, so a zero service is enough.
	longKey := make([]byte, 129)
	for i := range longKey {
		longKey[i] = 'k'
	}

	featureCases := []struct {
		name string
		key  string
	}{
		{"empty key", ""},
		{"oversized key", string(longKey)},
	}
	for _, tt := range featureCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateFeature(context.Background(), tt.key, false, "")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	overrideCases := []struct {
		name       string
		targetType string
		identifier string
	}{
		{"bad target type", "team", "t1"},
		{"empty target type", "", "u1"},
		{"empty identifier", constraints.TargetUser, ""},
	}
	for _, tt := range overrideCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOverride(context.Background(), "dark-mode", tt.targetType, tt.identifier, true)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	if err := validateFeatureKey("dark-mode"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := validateTarget(constraints.TargetGroup, "beta"); err != nil {
		t.Errorf("valid target rejected: %v", err)
	}
}

func TestSyncToEtcd_Failure(t *testing.T) {
	// Etcd being down must neither panic nor mark the outbox row completed;
	// the worker owns the retry.
	mockEtcd := &MockEtcdInterface{MockKV: MockKV{
		GetFn: func(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
			return nil, errors.New("etcd fatal error")
		},
		DeleteFn: func(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
			return nil, errors.New("etcd fatal error")
		},
	}}

	svc := &FlagService{
		eventRepo: repository.NewEventRepository(mockEtcd),
	}

	svc.syncToEtcd(123, v1.ChangeEvent{
		FeatureKey: "dark-mode",
		Version:    1,
		Action:     constraints.PUT,
		Source:     constraints.SourceFeature,
	})

	svc.syncToEtcd(124, v1.ChangeEvent{
		FeatureKey: "dark-mode",
		Action:     constraints.DELETE,
		Source:     constraints.SourceFeature,
	})
}

func TestGetCompensation_DelegatesToBuffer(t *testing.T) {
	svc := &FlagService{
		buffer: buffer.NewEventBuffer(10),
	}

	svc.buffer.Add(v1.ChangeEvent{FeatureKey: "a", Revision: 99})
	svc.buffer.Add(v1.ChangeEvent{FeatureKey: "b", Revision: 100})

	evs, ok := svc.GetCompensation(99)
	if !ok || len(evs) != 1 {
		t.Error("delegation to buffer failed")
	}
	if evs[0].FeatureKey != "b" {
		t.Errorf("expected event for b, got %q", evs[0].FeatureKey)
	}
}

func TestFlagKeyRoundTrip(t *testing.T) {
	full := BuildFlagKey("dark-mode")
	if full != "/togglr/flags/dark-mode" {
		t.Errorf("unexpected full key %q", full)
	}
	if got := FlagKeyFromPath(full); got != "dark-mode" {
		t.Errorf("expected dark-mode, got %q", got)
	}
}
