package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/smk"
	"github.com/Adithya-Monish-Kumar-K/visual-search/internal/store"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Documents   []smk.DocumentID
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	unusableCount atomic.Int64
	errorCount    atomic.Int64
	latencies     []float64
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]float64, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, usable bool, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
		if !usable {
			s.unusableCount.Add(1)
		}
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, float64(duration))
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	corpusFile := flag.String("corpus-file", "", "msgpack corpus file whose documents are used as queries")
	corpus := flag.String("corpus", "default", "corpus name inside the file")
	limit := flag.Int("limit", 10, "results per query")
	flag.Parse()

	if *corpusFile == "" {
		fmt.Fprintln(os.Stderr, "-corpus-file is required")
		os.Exit(2)
	}
	mem, err := store.ReadFile(*corpusFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading corpus: %v\n", err)
		os.Exit(1)
	}
	ids, err := mem.DocumentIDs(context.Background(), *corpus)
	if err != nil || len(ids) == 0 {
		fmt.Fprintf(os.Stderr, "corpus %q has no documents\n", *corpus)
		os.Exit(1)
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
		Documents:   ids,
	}

	fmt.Println("=== Visual Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Documents:   %d\n", len(cfg.Documents))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			next := workerID

			for ctx.Err() == nil {
				id := cfg.Documents[next%len(cfg.Documents)]
				next++

				start := time.Now()
				status, usable, err := query(ctx, client, cfg, id)
				if ctx.Err() != nil {
					return
				}
				stats.RecordRequest(time.Since(start), status, usable, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// query runs a document query and reports the status and whether the
// result was usable.
func query(ctx context.Context, client *http.Client, cfg Config, id smk.DocumentID) (int, bool, error) {
	body, err := json.Marshal(executor.Request{DocumentID: &id, Limit: cfg.Limit})
	if err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, false, nil
	}
	var res executor.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return resp.StatusCode, false, err
	}
	return resp.StatusCode, res.Usable, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Unusable:        %d\n", stats.unusableCount.Load())
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := slices.Clone(stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		at := func(p float64) time.Duration {
			return time.Duration(stat.Quantile(p, stat.Empirical, latencies, nil))
		}
		mean, std := stat.MeanStdDev(latencies, nil)

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", time.Duration(latencies[0]))
		fmt.Printf("Avg:    %s\n", time.Duration(mean))
		fmt.Printf("P50:    %s\n", at(0.50))
		fmt.Printf("P90:    %s\n", at(0.90))
		fmt.Printf("P95:    %s\n", at(0.95))
		fmt.Printf("P99:    %s\n", at(0.99))
		fmt.Printf("Max:    %s\n", time.Duration(latencies[len(latencies)-1]))
		fmt.Printf("StdDev: %s\n", time.Duration(std))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}
