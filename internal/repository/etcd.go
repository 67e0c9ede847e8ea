package repository

import (
	"context"
	"encoding/json"
	"errors"

	v1 "togglr/pkg/api/v1"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrEventNotFound = errors.New("change event not found")

type EtcdInterface interface {
	clientv3.KV
	clientv3.Watcher
	Close() error
}

// EventRepository publishes flag change events to etcd, one key per feature.
// Consumers watch the prefix; the stored value is the latest v1.ChangeEvent.
type EventRepository struct {
	client EtcdInterface
}

func NewEventRepository(client EtcdInterface) *EventRepository {
	return &EventRepository{
		client: client,
	}
}

// GetEvent retrieves the stored change event for a flag key.
func (r *EventRepository) GetEvent(ctx context.Context, key string) (*v1.ChangeEvent, error) {
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrEventNotFound
	}
	kv := resp.Kvs[0]
	var event v1.ChangeEvent
	if err := json.Unmarshal(kv.Value, &event); err != nil {
		return nil, err
	}
	event.Revision = kv.ModRevision
	return &event, nil
}

// SaveEventIfNewer stores the event only when its per-feature version is
// greater than what etcd already holds (CAS on the mod revision). Stale or
// replayed events become no-ops, which makes outbox retries idempotent.
func (r *EventRepository) SaveEventIfNewer(ctx context.Context, key string, event v1.ChangeEvent) (int64, error) {
	const maxRetries = 3
	var retries int

	for {
		resp, err := r.client.Get(ctx, key)
		if err != nil {
			return 0, err
		}

		val := event.ToJSON()

		if len(resp.Kvs) == 0 {
			txn := r.client.Txn(ctx).
				If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
				Then(clientv3.OpPut(key, val))

			tResp, err := txn.Commit()
			if err != nil {
				return 0, err
			}
			if !tResp.Succeeded {
				// Contention detected
				retries++
				if retries > maxRetries {
					return 0, errors.New("max retries exceeded for SaveEventIfNewer")
				}
				continue
			}
			return tResp.Header.Revision, nil
		}

		kv := resp.Kvs[0]
		var current v1.ChangeEvent
		if err := json.Unmarshal(kv.Value, &current); err != nil {
			return 0, err
		}
		// Stored version is as new or newer: nothing to do (idempotency)
		if current.Version >= event.Version {
			return kv.ModRevision, nil
		}

		// CAS update against the exact revision we just read
		txn := r.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, val))

		tResp, err := txn.Commit()
		if err != nil {
			return 0, err
		}
		if tResp.Succeeded {
			return tResp.Header.Revision, nil
		}
		retries++
		if retries > maxRetries {
			return 0, errors.New("max retries exceeded for SaveEventIfNewer")
		}
	}
}

// DeleteEvent removes the flag key outright. Used when a feature is deleted;
// watchers see the delete event and drop their local state for that flag.
func (r *EventRepository) DeleteEvent(ctx context.Context, key string) (int64, error) {
	resp, err := r.client.Delete(ctx, key)
	if err != nil {
		return 0, err
	}
	return resp.Header.Revision, nil
}

func (r *EventRepository) GetWithRevision(ctx context.Context, prefix string) (*clientv3.GetResponse, error) {
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *EventRepository) WatchEventsFrom(ctx context.Context, prefix string, startRev int64) clientv3.WatchChan {
	return r.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(startRev))
}

func (r *EventRepository) Health(ctx context.Context) error {
	_, err := r.client.Get(ctx, "health_check")
	return err
}
