package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable - временный сбой, повтор с тем же ключом безопасен.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected - леджер отклонил операцию, повтор не поможет.
	ErrRejected = errors.New("ledger rejected operation")
)

type Operation string

const (
	OpCredit Operation = "credit"
	OpDebit  Operation = "debit"
	OpRefund Operation = "refund"
)

// Ledger - внешний платёжный леджер. Все операции идемпотентны по ключу.
type Ledger interface {
	Apply(ctx context.Context, op Operation, accountID string, amount decimal.Decimal, idempotencyKey string) error
}

type HTTPLedgerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpLedger struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPLedger(cfg HTTPLedgerConfig) (Ledger, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("invalid ledger configuration: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpLedger{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}, nil
}

type applyRequest struct {
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
}

func (l *httpLedger) Apply(ctx context.Context, op Operation, accountID string, amount decimal.Decimal, idempotencyKey string) error {
	body, err := json.Marshal(applyRequest{AccountID: accountID, Amount: amount})
	if err != nil {
		return fmt.Errorf("failed to encode ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/"+string(op), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	// 409 - операция с этим ключом уже проведена.
	case resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}

// Entry - проведённая операция в MemoryLedger.
type Entry struct {
	Op        Operation
	AccountID string
	Amount    decimal.Decimal
	Key       string
}

// MemoryLedger - леджер в памяти для локального запуска и тестов.
type MemoryLedger struct {
	mu       sync.Mutex
	entries  []Entry
	applied  map[string]bool
	balances map[string]decimal.Decimal
	calls    int
	failures int
	failErr  error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		applied:  make(map[string]bool),
		balances: make(map[string]decimal.Decimal),
	}
}

// FailNext заставляет следующие n вызовов вернуть err.
func (l *MemoryLedger) FailNext(n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
	l.failErr = err
}

func (l *MemoryLedger) Apply(ctx context.Context, op Operation, accountID string, amount decimal.Decimal, idempotencyKey string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++

	if l.failures > 0 {
		l.failures--
		return l.failErr
	}
	if l.applied[idempotencyKey] {
		return nil
	}
	l.applied[idempotencyKey] = true
	l.entries = append(l.entries, Entry{Op: op, AccountID: accountID, Amount: amount, Key: idempotencyKey})

	balance := l.balances[accountID]
	if op == OpDebit {
		l.balances[accountID] = balance.Sub(amount)
	} else {
		l.balances[accountID] = balance.Add(amount)
	}
	return nil
}

func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func (l *MemoryLedger) Balance(accountID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID]
}

func (l *MemoryLedger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
