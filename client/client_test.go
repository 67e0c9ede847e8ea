package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "togglr/pkg/api/v1"
	"togglr/pkg/constraints"
	"togglr/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestHandleUpdate(t *testing.T) {
	c := &TogglrClient{flags: make(map[string]v1.ChangeEvent)}

	put := v1.ChangeEvent{FeatureKey: "dark-mode", Version: 1, Revision: 10, Action: constraints.PUT, Source: constraints.SourceFeature}
	if !c.handleUpdate(put) {
		t.Fatal("fresh event rejected")
	}
	if c.lastRev != 10 {
		t.Errorf("lastRev %d, want 10", c.lastRev)
	}
	if _, ok := c.flags["dark-mode"]; !ok {
		t.Fatal("flag missing from mirror")
	}

	// Replays and reordering must not move the mirror backwards.
	stale := v1.ChangeEvent{FeatureKey: "dark-mode", Version: 9, Revision: 10, Action: constraints.PUT}
	if c.handleUpdate(stale) {
		t.Error("stale revision applied")
	}

	newer := v1.ChangeEvent{FeatureKey: "dark-mode", Version: 2, Revision: 11, Action: constraints.PUT, Source: constraints.SourceOverride}
	if !c.handleUpdate(newer) {
		t.Fatal("newer event rejected")
	}
	if got := c.flags["dark-mode"]; got.Version != 2 {
		t.Errorf("mirror version %d, want 2", got.Version)
	}

	del := v1.ChangeEvent{FeatureKey: "dark-mode", Revision: 12, Action: constraints.DELETE}
	if !c.handleUpdate(del) {
		t.Fatal("delete rejected")
	}
	if _, ok := c.flags["dark-mode"]; ok {
		t.Error("deleted flag still in mirror")
	}
	if c.lastRev != 12 {
		t.Errorf("lastRev %d, want 12", c.lastRev)
	}

	// Unknown actions advance the revision but report nothing changed.
	odd := v1.ChangeEvent{FeatureKey: "x", Revision: 13, Action: constraints.Action(42)}
	if c.handleUpdate(odd) {
		t.Error("unknown action reported as a change")
	}
	if c.lastRev != 13 {
		t.Errorf("lastRev %d, want 13", c.lastRev)
	}
}

func TestClientAgainstServer(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Togglr-Key")
		switch r.URL.Path {
		case "/v1/stream/snapshot":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []v1.ChangeEvent{
					{FeatureKey: "dark-mode", Version: 3, Revision: 20, Action: constraints.PUT, Source: constraints.SourceFeature},
					{FeatureKey: "checkout", Version: 1, Revision: 18, Action: constraints.PUT, Source: constraints.SourceFeature},
				},
				"revision": int64(20),
			})
		case "/v1/evaluate":
			var req v1.EvaluateRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(v1.EvaluateResponse{
				FeatureKey: req.FeatureKey,
				Enabled:    req.UserID == "vip",
			})
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	c := NewTogglrClient(srv.URL, "sdk-key-1", nil, nil)
	defer c.Stop()

	if err := c.fetchAll(); err != nil {
		t.Fatalf("fetchAll: %v", err)
	}
	if gotKey != "sdk-key-1" {
		t.Errorf("API key header %q", gotKey)
	}
	if c.LastRevision() != 20 {
		t.Errorf("lastRev %d, want 20", c.LastRevision())
	}
	if flags := c.Flags(); len(flags) != 2 || flags["dark-mode"].Version != 3 {
		t.Errorf("unexpected mirror %+v", flags)
	}

	enabled, err := c.Evaluate(context.Background(), "dark-mode", "vip", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !enabled {
		t.Error("expected vip verdict true")
	}

	enabled, err = c.Evaluate(context.Background(), "dark-mode", "nobody", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if enabled {
		t.Error("expected nobody verdict false")
	}
}

func TestFetchAllReplacesMirror(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data":     []v1.ChangeEvent{{FeatureKey: "kept", Version: 1, Revision: 30, Action: constraints.PUT}},
			"revision": int64(30),
		})
	}))
	defer srv.Close()

	c := NewTogglrClient(srv.URL, "k", nil, nil)
	defer c.Stop()

	// Pretend we knew about a flag that got deleted while disconnected.
	c.flags["ghost"] = v1.ChangeEvent{FeatureKey: "ghost", Revision: 5}

	if err := c.fetchAll(); err != nil {
		t.Fatalf("fetchAll: %v", err)
	}
	flags := c.Flags()
	if _, ok := flags["ghost"]; ok {
		t.Error("stale flag survived the re-snapshot")
	}
	if _, ok := flags["kept"]; !ok {
		t.Error("snapshot flag missing")
	}
}
