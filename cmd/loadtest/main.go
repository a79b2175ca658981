package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/orderstream/internal/version"
)

const (
	streamStatusTrailer = "X-Stream-Status"
	streamComplete      = "complete"

	methodList     = "ListOrders"
	methodAdd      = "AddOrder"
	methodScenario = "scenario"

	codeOK         = "ok"
	codeIncomplete = "incomplete"
	codeTransport  = "transport_error"
)

type loadMode string

const (
	modeList  loadMode = "list"
	modeMixed loadMode = "mixed"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	addRate     int
	from        string
	to          string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
	TTFBMs    *latencySummary  `json:"ttfb_ms,omitempty"`
	Bytes     int64            `json:"bytes,omitempty"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	bytes     int64
	codes     map[string]int64
	latencies []float64
	ttfb      []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) stats(method string) *methodStats {
	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}
	return stats
}

func (c *collector) record(method string, latency time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats(method)
	stats.calls++
	if code == codeOK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, toMillis(latency))
}

// recordStream дополнительно учитывает время до первого байта и объём тела.
func (c *collector) recordStream(method string, res streamResult, code string) {
	c.record(method, res.total, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats(method)
	stats.bytes += res.bytes
	if res.ttfb > 0 {
		stats.ttfb = append(stats.ttfb, toMillis(res.ttfb))
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[methodScenario]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		mr := methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
			Bytes:     stats.bytes,
		}
		if len(stats.ttfb) > 0 {
			ttfb := buildLatencySummary(stats.ttfb)
			mr.TTFBMs = &ttfb
		}
		result.Methods[name] = mr
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:5000", "order service base URL")
	fs.IntVar(&cfg.total, "total", 200, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", time.Minute, "per-request timeout including body streaming")
	fs.StringVar(&modeValue, "mode", string(modeList), "load mode: list | mixed")
	fs.IntVar(&cfg.addRate, "add-rate", 10, "share of scenarios that add an order in mixed mode, percent (0..100)")
	fs.StringVar(&cfg.from, "from", "", "first day of /order/list range, YYYY-MM-DD (server default: today)")
	fs.StringVar(&cfg.to, "to", "", "last day of /order/list range, YYYY-MM-DD")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.baseURL == "" {
		return cfg, errors.New("url is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.addRate < 0 || cfg.addRate > 100 {
		return cfg, errors.New("add-rate must be between 0 and 100")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeList:
		return modeList, nil
	case modeMixed:
		return modeMixed, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newOrderClient(cfg)
	result := runLoad(client, cfg)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии пулу воркеров и собирает отчёт.
func runLoad(client orderClient, cfg config) report {
	startedAt := time.Now()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// streamResult описывает один потоковый ответ /order/list.
type streamResult struct {
	status   int
	ttfb     time.Duration
	total    time.Duration
	bytes    int64
	complete bool
}

type orderClient interface {
	ListOrders(ctx context.Context, from, to string) (streamResult, error)
	AddOrder(ctx context.Context, date string) (int, error)
}

type restyOrderClient struct {
	client *resty.Client
}

func newOrderClient(cfg config) *restyOrderClient {
	client := resty.New().
		SetBaseURL(cfg.baseURL).
		SetTimeout(cfg.timeout).
		SetHeader("User-Agent", version.UserAgent("loadtest"))
	return &restyOrderClient{client: client}
}

// ListOrders читает тело ответа потоком: время до первого байта тела, затем до конца.
func (c *restyOrderClient) ListOrders(ctx context.Context, from, to string) (streamResult, error) {
	req := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "application/json")
	if from != "" {
		req.SetQueryParam("from", from)
	}
	if to != "" {
		req.SetQueryParam("to", to)
	}

	start := time.Now()
	resp, err := req.Get("/order/list")
	if err != nil {
		return streamResult{total: time.Since(start)}, err
	}
	body := resp.RawBody()
	defer body.Close()

	res := streamResult{status: resp.StatusCode()}
	reader := bufio.NewReader(body)
	if _, err := reader.Peek(1); err == nil {
		res.ttfb = time.Since(start)
	} else if !errors.Is(err, io.EOF) {
		res.total = time.Since(start)
		return res, err
	}

	n, err := io.Copy(io.Discard, reader)
	res.bytes = n
	res.total = time.Since(start)
	if err != nil {
		return res, err
	}
	res.complete = resp.RawResponse.Trailer.Get(streamStatusTrailer) == streamComplete
	return res, nil
}

func (c *restyOrderClient) AddOrder(ctx context.Context, date string) (int, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"date": date, "comment": "loadtest"}).
		Post("/order")
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

func runScenario(client orderClient, cfg config, index int, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codeOK
	defer func() {
		col.record(methodScenario, time.Since(scenarioStart), scenarioCode)
	}()

	if cfg.mode == modeMixed && shouldAddOrder(index, cfg.addRate) {
		if err := callAddOrder(client, cfg, col); err != nil {
			scenarioCode = methodAdd + ":" + codeOf(err)
			return err
		}
	}

	if err := callListOrders(client, cfg, col); err != nil {
		scenarioCode = methodList + ":" + codeOf(err)
		return err
	}
	return nil
}

type statusError struct {
	code string
}

func (e statusError) Error() string { return "unexpected response: " + e.code }

func codeOf(err error) string {
	var se statusError
	if errors.As(err, &se) {
		return se.code
	}
	return codeTransport
}

func callListOrders(client orderClient, cfg config, col *collector) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	res, err := client.ListOrders(ctx, cfg.from, cfg.to)
	switch {
	case err != nil:
		col.recordStream(methodList, res, codeTransport)
		return err
	case res.status != http.StatusOK:
		code := strconv.Itoa(res.status)
		col.recordStream(methodList, res, code)
		return statusError{code: code}
	case !res.complete:
		col.recordStream(methodList, res, codeIncomplete)
		return statusError{code: codeIncomplete}
	}
	col.recordStream(methodList, res, codeOK)
	return nil
}

func callAddOrder(client orderClient, cfg config, col *collector) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	date := cfg.from
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	start := time.Now()
	status, err := client.AddOrder(ctx, date)
	switch {
	case err != nil:
		col.record(methodAdd, time.Since(start), codeTransport)
		return err
	case status != http.StatusCreated:
		code := strconv.Itoa(status)
		col.record(methodAdd, time.Since(start), code)
		return statusError{code: code}
	}
	col.record(methodAdd, time.Since(start), codeOK)
	return nil
}

func shouldAddOrder(index, addRate int) bool {
	if addRate <= 0 {
		return false
	}
	if addRate >= 100 {
		return true
	}
	return index%100 < addRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == methodScenario {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
		if stats.TTFBMs != nil {
			_, _ = fmt.Fprintf(w, " ttfb_p50=%.2fms ttfb_p95=%.2fms bytes=%d",
				stats.TTFBMs.P50, stats.TTFBMs.P95, stats.Bytes)
		}
		_, _ = fmt.Fprintln(w)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func toMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
