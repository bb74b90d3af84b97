package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/auth"
	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/config"
	"github.com/hackgods/telehealth-slot-reservation/internal/db"
	"github.com/hackgods/telehealth-slot-reservation/internal/logger"
)

// SimConfig drives concurrent patients against a running api-server. The
// server must run with OTP_MODE=static so confirms can succeed.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Patients     int
	Doctors      int
	Days         int
	ConfirmRatio float64
	UnlockRatio  float64
	OTPCode      string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Slots   OperationMetrics
	Lock    OperationMetrics
	Confirm OperationMetrics
	Unlock  OperationMetrics
	Mine    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	doctors []string
	tokens  []string
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(baseCfg.LogLevel, baseCfg.IsDev())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		Patients:     getInt("SIM_PATIENTS", 500),
		Doctors:      getInt("SIM_DOCTORS", 10),
		Days:         getInt("SIM_DAYS", 3),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.6),
		UnlockRatio:  getFloat("SIM_UNLOCK_RATIO", 0.2),
		OTPCode:      baseCfg.OTPStaticCode,
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 || cfg.Patients <= 0 || cfg.Days <= 0 {
		log.Fatal("SIM_WORKERS, SIM_DURATION, SIM_PATIENTS and SIM_DAYS must be > 0")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, 2)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	doctors, err := loadDoctors(ctx, pgPool, cfg.Doctors)
	pgPool.Close()
	if err != nil {
		log.Fatal("load doctors", zap.Error(err))
	}

	issuer := auth.NewTokens(baseCfg.JWTSecret, auth.DefaultIssuer)
	tokens := make([]string, cfg.Patients)
	for i := range tokens {
		tokens[i], err = issuer.Sign(auth.Principal{Subject: fmt.Sprintf("SIM-P%d", i+1), Role: auth.RolePatient}, cfg.Duration+time.Hour)
		if err != nil {
			log.Fatal("sign patient token", zap.Error(err))
		}
	}

	sim := &Simulator{
		config:  cfg,
		doctors: doctors,
		tokens:  tokens,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}

	log.Info("starting simulation",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("doctors", len(doctors)),
		zap.Int("patients", cfg.Patients),
	)
	sim.Run()
	sim.PrintReport()
}

func loadDoctors(ctx context.Context, pool *pgxpool.Pool, limit int) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM doctors ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no doctors found, run cmd/seed first")
	}
	return ids, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	for ctx.Err() == nil {
		token := s.tokens[rng.Intn(len(s.tokens))]
		if rng.Intn(10) == 0 {
			s.listMine(ctx, token)
			continue
		}
		s.attemptBooking(ctx, rng, token)
	}
}

type envelope struct {
	Success  bool            `json:"success"`
	Result   json.RawMessage `json:"result"`
	ErrorKey string          `json:"error_key"`
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any) (int, envelope, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, envelope{}, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, envelope{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, envelope{}, latency, err
	}
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env, latency, nil
}

// attemptBooking walks one patient through slots, lock, then confirm, unlock or abandon.
func (s *Simulator) attemptBooking(ctx context.Context, rng *rand.Rand, token string) {
	doctorID := s.doctors[rng.Intn(len(s.doctors))]
	date := catalog.DateOf(time.Now()).AddDays(1 + rng.Intn(s.config.Days))

	code, env, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments/available-slots?doctorId=%s&date=%s", doctorID, date), "", nil)
	s.metrics.Slots.Record(latency, err == nil && code == http.StatusOK, false)
	if err != nil || code != http.StatusOK {
		return
	}
	var slots []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if json.Unmarshal(env.Result, &slots) != nil || len(slots) == 0 {
		return
	}

	// Bias toward the first few slots so patients contend.
	slot := slots[rng.Intn(min(3, len(slots)))]
	body := map[string]string{
		"doctorId": doctorID,
		"date":     date.String(),
		"start":    slot.Start,
		"end":      slot.End,
		"mode":     string(catalog.ModeOnline),
	}

	code, env, latency, err = s.call(ctx, http.MethodPost, "/appointments/lock", token, body)
	s.metrics.Lock.Record(latency, err == nil && code == http.StatusOK, code == http.StatusConflict)
	if err != nil || code != http.StatusOK {
		return
	}
	var lock struct {
		LockID string `json:"lockId"`
	}
	_ = json.Unmarshal(env.Result, &lock)

	switch r := rng.Float64(); {
	case r < s.config.ConfirmRatio:
		body["verificationProof"] = s.config.OTPCode
		body["lockId"] = lock.LockID
		code, _, latency, err = s.call(ctx, http.MethodPost, "/appointments/confirm", token, body)
		s.metrics.Confirm.Record(latency, err == nil && code == http.StatusCreated,
			code == http.StatusConflict || code == http.StatusGone)
	case r < s.config.ConfirmRatio+s.config.UnlockRatio:
		code, _, latency, err = s.call(ctx, http.MethodPost, "/appointments/unlock", token, map[string]string{"slotId": lock.LockID})
		s.metrics.Unlock.Record(latency, err == nil && code == http.StatusOK, false)
	default:
		// Abandoned; the hold lapses on its own.
	}
}

func (s *Simulator) listMine(ctx context.Context, token string) {
	code, _, latency, err := s.call(ctx, http.MethodGet, "/appointments/me?bucket=upcoming", token, nil)
	s.metrics.Mine.Record(latency, err == nil && code == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 72))
	printOperationReport("available-slots", &s.metrics.Slots)
	printOperationReport("lock", &s.metrics.Lock)
	printOperationReport("confirm", &s.metrics.Confirm)
	printOperationReport("unlock", &s.metrics.Unlock)
	printOperationReport("me", &s.metrics.Mine)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		fmt.Printf("%-16s no requests\n", name)
		return
	}
	avg, p50, p95, max := om.Stats()
	fmt.Printf("%-16s total=%d ok=%d conflict=%d error=%d avg=%s p50=%s p95=%s max=%s\n",
		name, total, atomic.LoadInt64(&om.Success), atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error),
		avg, p50, p95, max)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
