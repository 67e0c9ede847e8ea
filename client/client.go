package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "togglr/pkg/api/v1"
	"togglr/pkg/constraints"
	"togglr/pkg/logger"

	"go.uber.org/zap"
)

// TogglrClient keeps a live mirror of the change feed and asks the server
// for verdicts. Events carry no flag state, only the fact that a flag
// moved; onChange is the app's cue to re-evaluate whatever it cached.
type TogglrClient struct {
	addr       string
	apiKey     string
	features   []string
	httpClient *http.Client
	onChange   func(v1.ChangeEvent)

	mu      sync.RWMutex
	flags   map[string]v1.ChangeEvent
	lastRev int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTogglrClient watches the given feature keys; an empty list watches
// everything. onChange may be nil.
func NewTogglrClient(addr, apiKey string, features []string, onChange func(v1.ChangeEvent)) *TogglrClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &TogglrClient{
		addr:       addr,
		apiKey:     apiKey,
		features:   features,
		onChange:   onChange,
		httpClient: &http.Client{Timeout: 0},
		flags:      make(map[string]v1.ChangeEvent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *TogglrClient) Start() error {
	if err := c.fetchAll(); err != nil {
		return err
	}
	go c.runWatchLoop()
	return nil
}

func (c *TogglrClient) Stop() {
	c.cancel()
}

// Evaluate asks the server whether the flag is on for this caller.
func (c *TogglrClient) Evaluate(ctx context.Context, featureKey, userID string, groups []string) (bool, error) {
	body, err := json.Marshal(v1.EvaluateRequest{
		FeatureKey: featureKey,
		UserID:     userID,
		Groups:     groups,
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.addr+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Togglr-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("evaluate %s: status %d", featureKey, resp.StatusCode)
	}

	var res v1.EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, err
	}
	return res.Enabled, nil
}

// LastRevision returns the newest change feed revision the client has seen.
func (c *TogglrClient) LastRevision() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRev
}

// Flags returns a copy of the latest known event per flag.
func (c *TogglrClient) Flags() map[string]v1.ChangeEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]v1.ChangeEvent, len(c.flags))
	for k, v := range c.flags {
		out[k] = v
	}
	return out
}

func (c *TogglrClient) fetchAll() error {
	url := fmt.Sprintf("%s/v1/stream/snapshot?features=%s", c.addr, strings.Join(c.features, ","))
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("X-Togglr-Key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed to fetch flag snapshot", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	var res struct {
		Data     []v1.ChangeEvent `json:"data"`
		Revision int64            `json:"revision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		logger.Error("failed to decode snapshot response", zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Rebuild from scratch so flags deleted while we were away do not
	// survive in the mirror.
	c.flags = make(map[string]v1.ChangeEvent, len(res.Data))
	for _, ev := range res.Data {
		c.flags[ev.FeatureKey] = ev
	}
	c.lastRev = res.Revision
	return nil
}

func (c *TogglrClient) runWatchLoop() {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.RLock()
			url := fmt.Sprintf("%s/v1/stream/watch?last_rev=%d&features=%s", c.addr, c.lastRev, strings.Join(c.features, ","))
			c.mu.RUnlock()

			// Use sub-context for request cancellation
			reqCtx, reqCancel := context.WithCancel(c.ctx)
			req, _ := http.NewRequestWithContext(reqCtx, "GET", url, nil)
			req.Header.Set("X-Togglr-Key", c.apiKey)
			resp, err := c.httpClient.Do(req)
			if err != nil {
				reqCancel()
				jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
				logger.Warn("SSE disconnected", zap.Error(err))
				time.Sleep(backoff + jitter)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			// Watchdog for heartbeats
			var lastActivity int64 = time.Now().Unix()
			go func() {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-reqCtx.Done():
						return
					case <-ticker.C:
						if time.Now().Unix()-atomic.LoadInt64(&lastActivity) > 25 {
							logger.Warn("sse heartbeat timeout, reconnecting")
							reqCancel()
							return
						}
					}
				}
			}()

			backoff = time.Second
			scanner := bufio.NewScanner(resp.Body)

			var eventType string
			var dataBuffer bytes.Buffer

			for scanner.Scan() {
				atomic.StoreInt64(&lastActivity, time.Now().Unix())
				line := scanner.Text()
				if line == "" {
					// Process the accumulated message
					if eventType == "reset" {
						logger.Warn("received reset event, re-fetching snapshot")
						if err := c.fetchAll(); err != nil {
							logger.Error("failed to refetch snapshot after reset", zap.Error(err))
						}
						// Close current stream
						reqCancel()
						break
					} else if eventType == "ping" {
						eventType = ""
						dataBuffer.Reset()
						continue
					} else if dataBuffer.Len() > 0 {
						var ev v1.ChangeEvent
						if err := json.Unmarshal(dataBuffer.Bytes(), &ev); err == nil {
							if c.handleUpdate(ev) && c.onChange != nil {
								c.onChange(ev)
							}
						} else {
							logger.Error("failed to unmarshal change event", zap.Error(err))
						}
					}

					// Reset buffers for next message
					eventType = ""
					dataBuffer.Reset()
					continue
				}

				if strings.HasPrefix(line, "event: ") {
					eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				} else if strings.HasPrefix(line, "data:") {
					// SSE allows multiple data lines, joined by newline
					if dataBuffer.Len() > 0 {
						dataBuffer.WriteString("\n")
					}
					dataBuffer.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				}
			}
			reqCancel()
			resp.Body.Close()
		}
	}
}

// handleUpdate folds one event into the mirror. Reports whether the event
// actually moved state; stale revisions do not.
func (c *TogglrClient) handleUpdate(ev v1.ChangeEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Revision <= c.lastRev {
		logger.Warn("stale revision received", zap.Int64("event_rev", ev.Revision), zap.Int64("last_rev", c.lastRev))
		return false
	}
	switch ev.Action {
	case constraints.DELETE:
		delete(c.flags, ev.FeatureKey)
		logger.Info("flag deleted", zap.String("key", ev.FeatureKey), zap.Int64("rev", ev.Revision))
	case constraints.PUT:
		c.flags[ev.FeatureKey] = ev
		logger.Info("flag changed",
			zap.String("key", ev.FeatureKey),
			zap.String("source", ev.Source),
			zap.Int("version", ev.Version),
			zap.Int64("rev", ev.Revision))
	default:
		logger.Warn("unknown action in change event", zap.Int32("action", int32(ev.Action)))
		c.lastRev = ev.Revision
		return false
	}

	c.lastRev = ev.Revision
	return true
}
