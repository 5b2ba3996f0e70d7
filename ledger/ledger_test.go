package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPLedgerSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotPath string
	var got applyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	l, err := NewHTTPLedger(HTTPLedgerConfig{BaseURL: srv.URL + "/", Timeout: time.Second})
	require.NoError(t, err)

	err = l.Apply(context.Background(), OpCredit, "alice", decimal.RequireFromString("19.00"), "match:m1:v7:credit:alice")
	require.NoError(t, err)
	assert.Equal(t, "/credit", gotPath)
	assert.Equal(t, "match:m1:v7:credit:alice", gotKey)
	assert.Equal(t, "alice", got.AccountID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("19")))
}

func TestHTTPLedgerErrorClasses(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, nil},
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusTooManyRequests, ErrUnavailable},
		{http.StatusUnprocessableEntity, ErrRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		l, err := NewHTTPLedger(HTTPLedgerConfig{BaseURL: srv.URL})
		require.NoError(t, err)

		err = l.Apply(context.Background(), OpDebit, "bob", decimal.NewFromInt(1), "k")
		if tc.want == nil {
			assert.NoError(t, err, "status %d", tc.status)
		} else {
			assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		}
		srv.Close()
	}
}

func TestMemoryLedgerAppliesEachKeyOnce(t *testing.T) {
	l := NewMemoryLedger()
	amount := decimal.RequireFromString("9.50")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Apply(context.Background(), OpCredit, "alice", amount, "same-key")
		}()
	}
	wg.Wait()

	assert.Len(t, l.Entries(), 1)
	assert.Equal(t, 20, l.Calls())
	assert.True(t, l.Balance("alice").Equal(amount))

	require.NoError(t, l.Apply(context.Background(), OpDebit, "alice", amount, "reverse"))
	assert.True(t, l.Balance("alice").IsZero())
}

func TestMemoryLedgerFailNext(t *testing.T) {
	l := NewMemoryLedger()
	l.FailNext(2, ErrUnavailable)

	assert.ErrorIs(t, l.Apply(context.Background(), OpRefund, "a", decimal.NewFromInt(1), "k"), ErrUnavailable)
	assert.ErrorIs(t, l.Apply(context.Background(), OpRefund, "a", decimal.NewFromInt(1), "k"), ErrUnavailable)
	assert.NoError(t, l.Apply(context.Background(), OpRefund, "a", decimal.NewFromInt(1), "k"))
	assert.Len(t, l.Entries(), 1)
}
