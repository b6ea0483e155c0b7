// Команда loadtest гоняет конкурентное размещение заказов против in-memory
// хранилища и проверяет, что при любой гонке остатки не уходят в минус:
// сумма зарезервированного по активным заказам плюс остаток на складе
// обязана сойтись с исходным запасом по каждой книге.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/service/checkout"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/memory"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceCancel loadMode = "place-cancel"
)

const (
	outcomeOK              = "ok"
	outcomeOutOfStock      = "out_of_stock"
	outcomeVersionConflict = "version_conflict"
	outcomeError           = "error"
)

const scenarioOp = "scenario"

type config struct {
	books       int
	stock       int
	total       int
	concurrency int
	mode        loadMode
	cancelRate  int
	priceMinor  int64
	currency    string
	maxQty      int
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
	Outcomes  map[string]int64 `json:"outcomes"`
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
	StockOK           bool                    `json:"stock_ok"`
	StockViolations   []string                `json:"stock_violations,omitempty"`
}

// series накапливает исходы и замеры латентности по одной операции.
// Успех/провал не считаются на лету: они выводятся из outcomes при сборке
// отчёта, потому что out_of_stock — штатный исход, а не ошибка сервиса.
type series struct {
	outcomes  map[string]int64
	samplesMs []float64
}

func (s *series) calls() int64 {
	var total int64
	for _, count := range s.outcomes {
		total += count
	}
	return total
}

func (s *series) succeeded() int64 {
	return s.outcomes[outcomeOK] + s.outcomes[outcomeOutOfStock]
}

func (s *series) toReport() methodReport {
	calls := s.calls()
	success := s.succeeded()
	outcomes := make(map[string]int64, len(s.outcomes))
	for outcome, count := range s.outcomes {
		outcomes[outcome] = count
	}
	return methodReport{
		Calls:     calls,
		Success:   success,
		Failed:    calls - success,
		ErrorRate: ratio(calls-success, calls),
		Outcomes:  outcomes,
		LatencyMs: summarize(s.samplesMs),
	}
}

// recorder потокобезопасно собирает series по имени операции.
type recorder struct {
	mu  sync.Mutex
	ops map[string]*series
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[string]*series)}
}

func (r *recorder) observe(op string, elapsed time.Duration, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ops[op]
	if s == nil {
		s = &series{outcomes: make(map[string]int64)}
		r.ops[op] = s
	}
	s.outcomes[outcome]++
	s.samplesMs = append(s.samplesMs, float64(elapsed.Microseconds())/1000.0)
}

func (r *recorder) buildReport(startedAt time.Time, duration time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(r.ops)),
	}
	for op, s := range r.ops {
		result.Methods[op] = s.toReport()
	}

	if scenario, ok := result.Methods[scenarioOp]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string

	flag.IntVar(&cfg.books, "books", 10, "number of books to seed")
	flag.IntVar(&cfg.stock, "stock", 100, "initial stock per book")
	flag.IntVar(&cfg.total, "total", 2000, "total placement scenarios to execute")
	flag.IntVar(&cfg.concurrency, "concurrency", 32, "number of concurrent workers")
	flag.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 25, "cancel probability in percent for place-cancel mode (0..100)")
	flag.Int64Var(&cfg.priceMinor, "price-minor", 1999, "book price in minor units")
	flag.StringVar(&cfg.currency, "currency", "RUB", "book price currency")
	flag.IntVar(&cfg.maxQty, "max-qty", 3, "maximum quantity per order line")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	checks := []struct {
		bad bool
		msg string
	}{
		{cfg.books <= 0, "books must be > 0"},
		{cfg.stock <= 0, "stock must be > 0"},
		{cfg.total <= 0, "total must be > 0"},
		{cfg.concurrency <= 0, "concurrency must be > 0"},
		{cfg.cancelRate < 0 || cfg.cancelRate > 100, "cancel-rate must be between 0 and 100"},
		{cfg.priceMinor <= 0, "price-minor must be > 0"},
		{cfg.maxQty <= 0, "max-qty must be > 0"},
		{strings.TrimSpace(cfg.currency) == "", "currency is required"},
	}
	for _, check := range checks {
		if check.bad {
			return cfg, errors.New(check.msg)
		}
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePlace:
		return modePlace, nil
	case modePlaceCancel:
		return modePlaceCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s (use place | place-cancel)", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	store := memory.NewStore()
	books := memory.NewBookRepository(store)
	orders := memory.NewOrderRepository(store)
	carts := memory.NewCartRepository(store)
	outbox := memory.NewOutboxRepository(store)
	timeline := memory.NewTimelineRepository(store)
	svc := checkout.NewService(memory.NewUnitOfWork(store), books, orders, carts, outbox, timeline)

	bookIDs, err := seedBooks(books, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to seed books: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	rec := newRecorder()

	ctx := context.Background()
	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(ctx, svc, cfg, bookIDs, id, runID, rec); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(startedAt)
	result := rec.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	result.StockViolations = verifyStock(books, orders, cfg, bookIDs, runID)
	result.StockOK = len(result.StockViolations) == 0

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := saveReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || !result.StockOK {
		os.Exit(1)
	}
}

func seedBooks(books domain.BookRepository, cfg config) ([]string, error) {
	price, err := domain.NewMoney(cfg.priceMinor, cfg.currency)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, cfg.books)
	now := time.Now().UTC()
	for i := 0; i < cfg.books; i++ {
		isbn, isbnErr := domain.NewISBN(fmt.Sprintf("978-0-load-%04d", i))
		if isbnErr != nil {
			return nil, isbnErr
		}

		book := domain.Book{
			ID:            uuid.NewString(),
			Title:         fmt.Sprintf("Load Test Volume %d", i+1),
			Author:        "Load Generator",
			ISBN:          isbn,
			Price:         price,
			TotalQuantity: int32(cfg.stock),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if createErr := books.Create(book); createErr != nil {
			return nil, createErr
		}
		ids = append(ids, book.ID)
	}
	return ids, nil
}

func runScenario(
	ctx context.Context,
	svc *checkout.Service,
	cfg config,
	bookIDs []string,
	index int,
	runID string,
	rec *recorder,
) error {
	scenarioStart := time.Now()
	scenarioOutcome := outcomeOK
	defer func() {
		rec.observe(scenarioOp, time.Since(scenarioStart), scenarioOutcome)
	}()

	req := checkout.PlaceOrderRequest{
		UserID: fmt.Sprintf("load-%s-%d", runID, index%max(cfg.concurrency, 1)),
		Items: []checkout.PlaceOrderItem{
			{
				BookID: bookIDs[index%len(bookIDs)],
				Qty:    int32(index%cfg.maxQty + 1),
			},
		},
		IdempotencyKey: fmt.Sprintf("lt-place-%s-%d", runID, index),
	}

	placeStart := time.Now()
	order, err := svc.PlaceOrder(ctx, req)
	rec.observe("PlaceOrder", time.Since(placeStart), outcomeOf(err))
	if err != nil {
		scenarioOutcome = outcomeOf(err)
		if scenarioOutcome == outcomeOutOfStock {
			return nil
		}
		return err
	}

	if cfg.mode == modePlaceCancel && shouldCancel(index, cfg.cancelRate) {
		cancelStart := time.Now()
		_, cancelErr := svc.CancelOrder(ctx, order.ID, "load-cancel")
		rec.observe("CancelOrder", time.Since(cancelStart), outcomeOf(cancelErr))
		if cancelErr != nil {
			scenarioOutcome = outcomeOf(cancelErr)
			return cancelErr
		}
	}

	return nil
}

// verifyStock сверяет баланс остатков после прогона: исходный запас книги
// должен равняться текущему остатку плюс суммарному qty её позиций во всех
// активных (не отменённых) заказах.
func verifyStock(
	books domain.BookRepository,
	orders domain.OrderRepository,
	cfg config,
	bookIDs []string,
	runID string,
) []string {
	reserved := make(map[string]int64, len(bookIDs))

	for _, order := range collectOrders(orders, cfg, runID) {
		if order.Status == domain.OrderStatusCanceled {
			continue
		}
		for _, item := range order.Items {
			reserved[item.BookID] += int64(item.Qty)
		}
	}

	var violations []string
	for _, bookID := range bookIDs {
		book, err := books.Get(bookID)
		if err != nil {
			violations = append(violations, fmt.Sprintf("book %s: %v", bookID, err))
			continue
		}
		if book.TotalQuantity < 0 {
			violations = append(violations, fmt.Sprintf("book %s: negative stock %d", bookID, book.TotalQuantity))
		}
		balance := int64(book.TotalQuantity) + reserved[bookID]
		if balance != int64(cfg.stock) {
			violations = append(violations, fmt.Sprintf(
				"book %s: seeded=%d remaining=%d reserved=%d",
				bookID, cfg.stock, book.TotalQuantity, reserved[bookID],
			))
		}
	}
	return violations
}

// collectOrders собирает все заказы прогона. Пользователи нумеруются
// по модулю concurrency, см. runScenario.
func collectOrders(orders domain.OrderRepository, cfg config, runID string) []domain.Order {
	var all []domain.Order
	for i := 0; i < max(cfg.concurrency, 1); i++ {
		userOrders, err := orders.ListByUser(fmt.Sprintf("load-%s-%d", runID, i), 0)
		if err != nil {
			continue
		}
		all = append(all, userOrders...)
	}
	return all
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case domain.IsVersionConflict(err):
		return outcomeVersionConflict
	default:
		if _, ok := domain.IsOutOfStock(err); ok {
			return outcomeOutOfStock
		}
		return outcomeError
	}
}

func shouldCancel(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func saveReport(path string, result report) error {
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

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s books=%d stock=%d total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.books, cfg.stock,
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f stock_ok=%t\n", result.DurationSeconds, result.RPS, result.StockOK)

	lat := result.ScenarioLatencyMs
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioOp {
			methodNames = append(methodNames, name)
		}
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}

	for _, violation := range result.StockViolations {
		fmt.Printf("stock violation: %s\n", violation)
	}
}

// summarize строит сводку латентностей по сырым замерам в миллисекундах.
func summarize(samplesMs []float64) latencySummary {
	if len(samplesMs) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), samplesMs...)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: quantile(sorted, 0.50),
		P95: quantile(sorted, 0.95),
		P99: quantile(sorted, 0.99),
	}
}

// quantile интерполирует значение квантиля q (0..1) по отсортированной выборке.
func quantile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := q * float64(len(sorted)-1)
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

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
