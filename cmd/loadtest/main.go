package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const (
	apiPrefix        = "/api/v1"
	codeTransportErr = "transport_error"
	defaultQuantity  = int64(1)
)

type loadMode string

const (
	modeCreate          loadMode = "create"
	modeCreateGet       loadMode = "create-get"
	modeCreateGetDelete loadMode = "create-get-delete"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	deleteRate  int
	token       string
	email       string
	itemName    string
	price       decimal.Decimal
	quantity    int64
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
	codes     map[string]int64
	latencies []float64
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

// record учитывает вызов; code: HTTP статус или transport_error.
func (c *collector) record(method string, latency time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if isSuccessCode(code) {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
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
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var (
		cfg           config
		modeValue     string
		timeoutValue  string
		durationValue string
		priceValue    string
	)

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "order service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-get | create-get-delete")
	flag.IntVar(&cfg.deleteRate, "delete-rate", 0, "delete probability in percent for create-get mode (0..100)")
	flag.StringVar(&cfg.token, "token", os.Getenv("LOADTEST_TOKEN"), "bearer token accepted by the user service (fallback: LOADTEST_TOKEN)")
	flag.StringVar(&cfg.email, "email", "load@example.com", "userEmail of the token owner")
	flag.StringVar(&cfg.itemName, "item-name", "load-item", "name of the catalog item created before the run")
	flag.StringVar(&priceValue, "price", "10.00", "price of the catalog item")
	flag.Int64Var(&cfg.quantity, "quantity", defaultQuantity, "quantity per order line")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.addr)); err != nil {
		return cfg, fmt.Errorf("addr must be an absolute URL: %w", err)
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

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
	if !cfg.price.IsPositive() {
		return cfg, errors.New("price must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if cfg.deleteRate < 0 || cfg.deleteRate > 100 {
		return cfg, errors.New("delete-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.token) == "" {
		return cfg, errors.New("token is required (-token or LOADTEST_TOKEN)")
	}
	if strings.TrimSpace(cfg.email) == "" {
		return cfg, errors.New("email is required")
	}
	if strings.TrimSpace(cfg.itemName) == "" {
		return cfg, errors.New("item-name is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateGet:
		return modeCreateGet, nil
	case modeCreateGetDelete:
		return modeCreateGetDelete, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// apiClient вызывает REST API сервиса заказов.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
	col     *collector
}

func newAPIClient(cfg config, col *collector) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency

	return &apiClient{
		baseURL: cfg.addr + apiPrefix,
		token:   cfg.token,
		http:    &http.Client{Timeout: cfg.timeout, Transport: transport},
		col:     col,
	}
}

type idResponse struct {
	ID string `json:"id"`
}

// do выполняет запрос, пишет метрику и декодирует тело в out при 2xx.
func (c *apiClient) do(ctx context.Context, method, name, path string, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(name, time.Since(start), codeTransportErr)
		return codeTransportErr, err
	}
	defer resp.Body.Close()

	code := strconv.Itoa(resp.StatusCode)
	c.col.record(name, time.Since(start), code)
	if !isSuccessCode(code) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return code, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return code, fmt.Errorf("decode %s response: %w", name, err)
		}
	}
	return code, nil
}

func (c *apiClient) createItem(ctx context.Context, name string, price decimal.Decimal) (string, error) {
	var item idResponse
	_, err := c.do(ctx, http.MethodPost, "CreateItem", "/items", map[string]any{
		"name":  name,
		"price": price,
	}, &item)
	if err != nil {
		return "", err
	}
	if item.ID == "" {
		return "", errors.New("create item response returned empty id")
	}
	return item.ID, nil
}

func (c *apiClient) createOrder(ctx context.Context, email, itemID string, quantity int64) (string, string, error) {
	var order idResponse
	code, err := c.do(ctx, http.MethodPost, "CreateOrder", "/orders", map[string]any{
		"userEmail": email,
		"orderItems": []map[string]any{
			{"itemId": itemID, "quantity": quantity},
		},
	}, &order)
	return order.ID, code, err
}

func (c *apiClient) getOrder(ctx context.Context, orderID, email string) (string, error) {
	path := "/orders/" + url.PathEscape(orderID) + "/" + url.PathEscape(email)
	return c.do(ctx, http.MethodGet, "GetOrder", path, nil, nil)
}

func (c *apiClient) deleteOrder(ctx context.Context, orderID string) (string, error) {
	return c.do(ctx, http.MethodDelete, "DeleteOrder", "/orders/"+url.PathEscape(orderID), nil, nil)
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

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

// run создаёт товар каталога и гоняет сценарии заказов.
func run(ctx context.Context, cfg config) (report, error) {
	col := newCollector()
	client := newAPIClient(cfg, col)

	itemCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	itemID, err := client.createItem(itemCtx, cfg.itemName, cfg.price)
	cancel()
	if err != nil {
		return report{}, fmt.Errorf("create catalog item: %w", err)
	}

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(ctx, client, cfg, itemID, id, col); runErr != nil {
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
	return result, nil
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

func runScenario(ctx context.Context, client *apiClient, cfg config, itemID string, index int, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := strconv.Itoa(http.StatusOK)
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	orderID, code, err := client.createOrder(ctx, cfg.email, itemID, cfg.quantity)
	if err != nil {
		scenarioCode = code
		return err
	}
	if orderID == "" {
		scenarioCode = strconv.Itoa(http.StatusInternalServerError)
		return errors.New("create response returned empty order id")
	}

	if cfg.mode == modeCreate {
		return nil
	}

	if code, err := client.getOrder(ctx, orderID, cfg.email); err != nil {
		scenarioCode = code
		return err
	}

	if cfg.mode == modeCreateGetDelete || (cfg.mode == modeCreateGet && shouldDeleteScenario(index, cfg.deleteRate)) {
		if code, err := client.deleteOrder(ctx, orderID); err != nil {
			scenarioCode = code
			return err
		}
	}

	return nil
}

func isSuccessCode(code string) bool {
	status, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return status >= 200 && status < 300
}

func shouldDeleteScenario(index, deleteRate int) bool {
	if deleteRate <= 0 {
		return false
	}
	if deleteRate >= 100 {
		return true
	}
	return index%100 < deleteRate
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
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
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
