// Command benchmark fires concurrent lookups at a running planillas server
// and reports how long each waited for the shared session and how long it
// ran. With a single session the queued times should grow in steps of
// roughly one lookup duration.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"
)

// CLI flags
var (
	apiURL      = flag.String("api-url", "http://localhost:8080", "planillas API base URL")
	apiKey      = flag.String("api-key", "", "API key for authenticated requests")
	subjects    = flag.String("ids", "1020304050", "comma-separated subject ids to look up")
	period      = flag.String("period", "2024-03", "period as YYYY-MM")
	concurrency = flag.Int("concurrency", 4, "lookups fired at once")
	output      = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// --- Request / Response types (mirrors models package) ---

type lookupRequest struct {
	ID    string `json:"id"`
	Year  string `json:"year"`
	Month string `json:"month"`
}

type lookupResponse struct {
	Data    []json.RawMessage `json:"data"`
	Result  string            `json:"result"`
	Remarks string            `json:"remarks"`
	Timing  *struct {
		TotalMs  int64 `json:"total_ms"`
		QueuedMs int64 `json:"queued_ms"`
	} `json:"timing"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Benchmark result types ---

type runResult struct {
	Subject  string `json:"subject"`
	Result   string `json:"result"`
	Records  int    `json:"records"`
	TotalMs  int64  `json:"total_ms"`
	QueuedMs int64  `json:"queued_ms"`
	WallMs   int64  `json:"wall_ms"`
	Error    string `json:"error,omitempty"`
}

type benchmarkReport struct {
	Timestamp   string      `json:"timestamp"`
	APIURL      string      `json:"api_url"`
	Concurrency int         `json:"concurrency"`
	Runs        []runResult `json:"runs"`
}

func main() {
	flag.Parse()

	year, month, ok := strings.Cut(*period, "-")
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: -period must be YYYY-MM")
		os.Exit(1)
	}
	ids := strings.Split(*subjects, ",")

	fmt.Println("=== planillas queue benchmark ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Concurrency:  %d\n", *concurrency)
	fmt.Printf("Output:       %s\n", *output)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		Concurrency: *concurrency,
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *concurrency; i++ {
		id := strings.TrimSpace(ids[i%len(ids)])
		g.Go(func() error {
			start := time.Now()
			rr := lookup(ctx, lookupRequest{ID: id, Year: year, Month: month})
			rr.WallMs = time.Since(start).Milliseconds()
			mu.Lock()
			report.Runs = append(report.Runs, rr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Runs, func(i, j int) bool { return report.Runs[i].QueuedMs < report.Runs[j].QueuedMs })
	printTable(report.Runs)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func lookup(ctx context.Context, lr lookupRequest) runResult {
	rr := runResult{Subject: lr.ID}

	bodyBytes, err := json.Marshal(lr)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *apiURL+"/api/v1/lookup", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var lresp lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lresp); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Result = lresp.Result
	rr.Records = len(lresp.Data)
	if lresp.Timing != nil {
		rr.TotalMs = lresp.Timing.TotalMs
		rr.QueuedMs = lresp.Timing.QueuedMs
	}
	if lresp.Error != nil {
		rr.Error = lresp.Error.Code + ": " + lresp.Error.Message
	}
	return rr
}

func printTable(runs []runResult) {
	fmt.Println(strings.Repeat("─", 72))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Subject\tResult\tRecords\tQueued\tTotal\n")
	fmt.Fprintf(w, "───────\t──────\t───────\t──────\t─────\n")
	for _, r := range runs {
		result := r.Result
		if r.Error != "" {
			result = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%dms\t%dms\n", r.Subject, result, r.Records, r.QueuedMs, r.TotalMs)
	}
	w.Flush()
	fmt.Println(strings.Repeat("─", 72))
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
