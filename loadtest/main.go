package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Configuration
var (
	baseURL    = flag.String("url", "http://localhost:8080", "Togglr base URL")
	sdkKey     = flag.String("key", "togglr-sdk-key-1", "SDK Key")
	streamVUs  = flag.Int("c", 2000, "Stream Virtual Users (SSE connections)")
	evalVUs    = flag.Int("e", 50, "Evaluate Virtual Users (request loops)")
	rampUp     = flag.Duration("ramp", 60*time.Second, "Ramp up duration")
	featureKey = flag.String("feature", "loadtest-check", "Feature key to evaluate")
)

// Metrics
var (
	activeClients int64
	totalconnects int64
	connectErrors int64
	messagesRx    int64
	evalCount     int64
	evalErrors    int64
	evalLatSum    int64 // milliseconds
	evalLatCount  int64
)

func main() {
	flag.Parse()

	fmt.Printf("🚀 Starting Load Test\n")
	fmt.Printf("   Target: %s\n", *baseURL)
	fmt.Printf("   Stream VUs: %d | Evaluate VUs: %d\n", *streamVUs, *evalVUs)
	fmt.Printf("   Ramp: %v\n", *rampUp)

	http.DefaultTransport.(*http.Transport).TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	http.DefaultTransport.(*http.Transport).MaxIdleConns = *streamVUs + *evalVUs
	http.DefaultTransport.(*http.Transport).MaxConnsPerHost = *streamVUs + *evalVUs

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metric Reporter
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				currentActive := atomic.LoadInt64(&activeClients)
				total := atomic.LoadInt64(&totalconnects)
				errs := atomic.LoadInt64(&connectErrors)
				msgs := atomic.SwapInt64(&messagesRx, 0)
				evals := atomic.SwapInt64(&evalCount, 0)
				evalErrs := atomic.LoadInt64(&evalErrors)
				latSum := atomic.SwapInt64(&evalLatSum, 0)
				latCnt := atomic.SwapInt64(&evalLatCount, 0)

				avgLat := float64(0)
				if latCnt > 0 {
					avgLat = float64(latSum) / float64(latCnt)
				}

				fmt.Printf("[%s] Active: %d | Total: %d | ConnErrs: %d | Msgs/s: %d | Evals/s: %d | EvalErrs: %d | Avg Eval Latency: %.2f ms\n",
					time.Now().Format("15:04:05"), currentActive, total, errs, msgs, evals, evalErrs, avgLat)
			}
		}
	}()

	// Evaluate loops start immediately; they are cheap.
	for i := 0; i < *evalVUs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runEvaluator(ctx, id)
		}(i)
	}

	// Ramp-up Logic for stream clients
	interval := *rampUp / time.Duration(*streamVUs)
	for i := 0; i < *streamVUs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runStreamClient(ctx, id)
		}(i)
		time.Sleep(interval)
	}

	// Keep alive
	fmt.Println("✅ All VUs launched. Waiting...")
	wg.Wait()
}

func runStreamClient(ctx context.Context, id int) {
	url := *baseURL + "/v1/stream/watch"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		fmt.Printf("Client %d error: %v\n", id, err)
		return
	}

	req.Header.Set("X-Togglr-Key", *sdkKey)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Connection", "keep-alive")

	client := &http.Client{
		Timeout: 0, // Infinite timeout for SSE
	}

	resp, err := client.Do(req)
	if err != nil {
		if atomic.AddInt64(&connectErrors, 1) == 1 {
			fmt.Printf("Error connecting: %v\n", err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		if atomic.AddInt64(&connectErrors, 1) == 1 {
			fmt.Printf("Error status code: %d\n", resp.StatusCode)
		}
		return
	}

	atomic.AddInt64(&activeClients, 1)
	atomic.AddInt64(&totalconnects, 1)
	defer atomic.AddInt64(&activeClients, -1)

	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// server closed or network error
			return
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			atomic.AddInt64(&messagesRx, 1)
		}
	}
}

func runEvaluator(ctx context.Context, id int) {
	client := &http.Client{Timeout: 5 * time.Second}
	body, _ := json.Marshal(map[string]any{
		"feature_key": *featureKey,
		"user_id":     fmt.Sprintf("vu-%d", id),
		"groups":      []string{"loadtest"},
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, "POST", *baseURL+"/v1/evaluate", bytes.NewReader(body))
		if err != nil {
			atomic.AddInt64(&evalErrors, 1)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Togglr-Key", *sdkKey)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddInt64(&evalErrors, 1)
			time.Sleep(time.Second)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode != 200 {
			atomic.AddInt64(&evalErrors, 1)
			time.Sleep(time.Second)
			continue
		}

		latency := time.Since(start).Milliseconds()
		atomic.AddInt64(&evalCount, 1)
		atomic.AddInt64(&evalLatSum, latency)
		atomic.AddInt64(&evalLatCount, 1)
	}
}
