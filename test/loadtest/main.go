// Package main implements a load test harness for the trustd HTTP API.
// It generates throwaway keypairs, builds and countersigns association
// records locally, and drives the build and verify endpoints in
// parallel, measuring throughput, latency, and error rate.
//
// Signature recovery dominates verify, so the verify numbers
// approximate the service's crypto throughput. Requests rotate through
// a synthetic client population via X-Forwarded-For so the per-IP rate
// limits see many callers; throttled requests are reported separately
// from errors.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -base-url http://localhost:8080 \
//	  -chain-id 11155111 \
//	  -concurrency 4 \
//	  -clients 64 \
//	  -duration 30s
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/association"
	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/server"
)

type buildRequest struct {
	ChainID         uint64 `json:"chainId"`
	Initiator       string `json:"initiator"`
	Approver        string `json:"approver"`
	ValidAt         uint64 `json:"validAt,omitempty"`
	AssociationType *uint8 `json:"associationType,omitempty"`
	Description     string `json:"description,omitempty"`
}

type buildResponse struct {
	ID          common.Hash    `json:"id"`
	Association server.SARJSON `json:"association"`
}

type verifyRequest struct {
	Association server.SARJSON `json:"association"`
}

type verifyResponse struct {
	Valid  bool        `json:"valid"`
	Reason string      `json:"reason,omitempty"`
	ID     common.Hash `json:"id"`
}

var errThrottled = errors.New("throttled")

func main() {
	var (
		baseURL     = flag.String("base-url", "http://localhost:8080", "trustd API base URL")
		chainID     = flag.Uint64("chain-id", 11155111, "Chain id stamped into generated records")
		concurrency = flag.Int("concurrency", 4, "Number of parallel workers")
		clients     = flag.Int("clients", 64, "Synthetic client population spread across X-Forwarded-For (1-254)")
		duration    = flag.Duration("duration", 30*time.Second, "Test duration")
	)
	flag.Parse()

	if *clients < 1 {
		*clients = 1
	}
	if *clients > 254 {
		*clients = 254
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("load test configuration",
		"base_url", *baseURL,
		"chain_id", *chainID,
		"concurrency", *concurrency,
		"clients", *clients,
		"duration", *duration,
	)

	// Set up context with signal handling.
	ctx, cancel := context.WithTimeout(context.Background(), *duration+10*time.Second)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	httpClient := &http.Client{Timeout: 15 * time.Second}

	// Stats collection.
	var (
		builds    atomic.Int64
		verifies  atomic.Int64
		throttled atomic.Int64
		invalid   atomic.Int64
		errs      atomic.Int64
		errLogged atomic.Int64

		latMu    sync.Mutex
		buildNs  []int64
		verifyNs []int64
	)

	recordLatency := func(pool *[]int64, d time.Duration) {
		latMu.Lock()
		*pool = append(*pool, d.Nanoseconds())
		latMu.Unlock()
	}

	fail := func(stage string, err error) {
		errs.Add(1)
		if errLogged.Add(1) <= 5 {
			logger.Warn("request failed", "stage", stage, "error", err)
		}
	}

	var ipSeq atomic.Int64
	nextClientIP := func() string {
		// 203.0.113.0/24 is reserved for documentation, so the synthetic
		// population can never collide with a real caller.
		return fmt.Sprintf("203.0.113.%d", 1+int(ipSeq.Add(1))%*clients)
	}

	// Worker function: each worker signs with its own keypair and
	// alternates build and verify calls until the deadline.
	worker := func(workerID int) {
		initiatorKey, err := crypto.GenerateKey()
		if err != nil {
			fail("keygen", err)
			return
		}
		approverKey, err := crypto.GenerateKey()
		if err != nil {
			fail("keygen", err)
			return
		}
		initiator := association.NewLocalSigner(initiatorKey)
		approver := association.NewLocalSigner(approverKey)
		assocType := uint8(1)

		seq := int64(0)
		deadline := time.Now().Add(*duration)

		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return
			default:
			}

			seq++
			description := fmt.Sprintf("load run w%d seq%d", workerID, seq)
			// validAt is always set explicitly; left at zero the server
			// would look up a chain head per build request.
			validAt := uint64(time.Now().Unix())

			data, err := association.EncodeData(assocType, description)
			if err != nil {
				fail("encode", err)
				continue
			}
			sar, err := association.Build(ctx, association.BuildParams{
				ChainID:   *chainID,
				Initiator: initiator.Address(),
				Approver:  approver.Address(),
				ValidAt:   validAt,
				Data:      data,
				SignAs:    association.RoleInitiator,
				Signer:    initiator,
			})
			if err != nil {
				fail("build local", err)
				continue
			}
			sig, err := approver.SignDigest(ctx, sar.ID())
			if err != nil {
				fail("countersign", err)
				continue
			}
			if err := sar.Attach(association.RoleApprover, sig); err != nil {
				fail("countersign", err)
				continue
			}

			// Server-side build must land on the same digest as the local
			// one; a mismatch means the two codecs have drifted apart.
			start := time.Now()
			var buildResp buildResponse
			err = postJSON(ctx, httpClient, *baseURL+"/v1/associations/build", nextClientIP(), buildRequest{
				ChainID:         *chainID,
				Initiator:       initiator.Address().Hex(),
				Approver:        approver.Address().Hex(),
				ValidAt:         validAt,
				AssociationType: &assocType,
				Description:     description,
			}, &buildResp)
			switch {
			case errors.Is(err, errThrottled):
				throttled.Add(1)
			case err != nil:
				fail("build", err)
			case buildResp.ID != sar.ID():
				fail("build", fmt.Errorf("digest mismatch: server %s, local %s", buildResp.ID, sar.ID()))
			default:
				recordLatency(&buildNs, time.Since(start))
				builds.Add(1)
			}

			start = time.Now()
			var verifyResp verifyResponse
			err = postJSON(ctx, httpClient, *baseURL+"/v1/associations/verify", nextClientIP(), verifyRequest{
				Association: sarWire(sar),
			}, &verifyResp)
			switch {
			case errors.Is(err, errThrottled):
				throttled.Add(1)
			case err != nil:
				fail("verify", err)
			case !verifyResp.Valid:
				invalid.Add(1)
				if errLogged.Add(1) <= 5 {
					logger.Warn("record rejected", "reason", verifyResp.Reason, "id", verifyResp.ID)
				}
			default:
				recordLatency(&verifyNs, time.Since(start))
				verifies.Add(1)
			}
		}
	}

	// Run all workers in parallel.
	logger.Info("starting load test", "workers", *concurrency, "duration", *duration)
	testStart := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id)
		}(i)
	}
	wg.Wait()

	testDuration := time.Since(testStart)

	// Compute statistics.
	buildCount := builds.Load()
	verifyCount := verifies.Load()
	throttleCount := throttled.Load()
	invalidCount := invalid.Load()
	errCount := errs.Load()

	latMu.Lock()
	buildLats := append([]int64(nil), buildNs...)
	verifyLats := append([]int64(nil), verifyNs...)
	latMu.Unlock()

	sort.Slice(buildLats, func(i, j int) bool { return buildLats[i] < buildLats[j] })
	sort.Slice(verifyLats, func(i, j int) bool { return verifyLats[i] < verifyLats[j] })

	total := buildCount + verifyCount
	requestsPerSec := float64(total) / testDuration.Seconds()
	errorRate := float64(0)
	if total > 0 {
		errorRate = float64(errCount+invalidCount) / float64(total) * 100
	}

	// Print report.
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       LOAD TEST RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Duration:       %s\n", testDuration.Round(time.Millisecond))
	fmt.Printf("Workers:        %d\n", *concurrency)
	fmt.Printf("Clients:        %d\n", *clients)
	fmt.Printf("Chain id:       %d\n", *chainID)
	fmt.Println("----------------------------------------")
	fmt.Println("Throughput:")
	fmt.Printf("  Build calls:  %d\n", buildCount)
	fmt.Printf("  Verify calls: %d\n", verifyCount)
	fmt.Printf("  Requests/sec: %.2f\n", requestsPerSec)
	fmt.Println("----------------------------------------")
	fmt.Println("Latency (build):")
	fmt.Printf("  p50:          %s\n", formatNanos(percentile(buildLats, 50)))
	fmt.Printf("  p95:          %s\n", formatNanos(percentile(buildLats, 95)))
	fmt.Printf("  p99:          %s\n", formatNanos(percentile(buildLats, 99)))
	fmt.Println("Latency (verify):")
	fmt.Printf("  p50:          %s\n", formatNanos(percentile(verifyLats, 50)))
	fmt.Printf("  p95:          %s\n", formatNanos(percentile(verifyLats, 95)))
	fmt.Printf("  p99:          %s\n", formatNanos(percentile(verifyLats, 99)))
	fmt.Println("----------------------------------------")
	fmt.Println("Errors:")
	fmt.Printf("  Throttled:    %d\n", throttleCount)
	fmt.Printf("  Rejected:     %d\n", invalidCount)
	fmt.Printf("  Errors:       %d\n", errCount)
	fmt.Printf("  Error rate:   %.2f%%\n", errorRate)
	fmt.Println("========================================")

	if errCount > 0 || invalidCount > 0 {
		os.Exit(1)
	}
}

// sarWire converts a signed record to its wire form.
func sarWire(sar *association.SignedRecord) server.SARJSON {
	return server.SARJSON{
		Record: server.RecordJSON{
			Initiator:   sar.Record.Initiator,
			Approver:    sar.Record.Approver,
			ValidAt:     sar.Record.ValidAt,
			ValidUntil:  sar.Record.ValidUntil,
			InterfaceID: sar.Record.InterfaceID[:],
			Data:        sar.Record.Data,
		},
		InitiatorKeyType:   sar.InitiatorKeyType[:],
		ApproverKeyType:    sar.ApproverKeyType[:],
		InitiatorSignature: sar.InitiatorSignature,
		ApproverSignature:  sar.ApproverSignature,
	}
}

// postJSON sends one request and decodes the response into out. A 429
// maps to errThrottled so callers can count it apart from failures.
func postJSON(ctx context.Context, client *http.Client, url, clientIP string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", clientIP)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Drain so the connection goes back to the pool.
		_, _ = io.Copy(io.Discard, resp.Body)
		return errThrottled
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", url, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// formatNanos formats nanoseconds as a human-readable duration string.
func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
