package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T, handler http.HandlerFunc) Verifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v, err := NewHTTPVerifier(HTTPVerifierConfig{URL: srv.URL, APIKey: "key", Timeout: time.Second})
	require.NoError(t, err)
	return v
}

func testRequest() Request {
	return Request{
		MatchID:        "m1",
		Game:           "fifa",
		Platform:       "ps5",
		Proofs:         []Proof{{SubmitterID: "alice", EvidenceRefs: []string{"https://cdn/x.png"}}},
		ParticipantIDs: []string{"alice", "bob"},
	}
}

func TestVerifySuccess(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"alice", "bob"}, req.ParticipantIDs)

		_ = json.NewEncoder(w).Encode(Verdict{
			WinnerParticipantID: "bob",
			Confidence:          0.92,
			EvidenceQuality:     "high",
			Reasoning:           "final score visible",
		})
	})

	verdict, err := v.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "bob", verdict.WinnerParticipantID)
	assert.Equal(t, []string{}, verdict.Suggestions)
}

func TestVerifyRejectsMalformedVerdicts(t *testing.T) {
	cases := map[string]Verdict{
		"unknown winner":   {WinnerParticipantID: "Bob", Confidence: 0.5, EvidenceQuality: "low"},
		"confidence range": {WinnerParticipantID: "bob", Confidence: 1.5, EvidenceQuality: "low"},
		"quality enum":     {WinnerParticipantID: "bob", Confidence: 0.5, EvidenceQuality: "great"},
	}
	for name, verdict := range cases {
		t.Run(name, func(t *testing.T) {
			v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(verdict)
			})
			_, err := v.Verify(context.Background(), testRequest())
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"no confidence":   `{"winnerParticipantId":"alice","evidenceQuality":"high"}`,
		"no winner":       `{"confidence":0.9,"evidenceQuality":"high"}`,
		"empty winner":    `{"winnerParticipantId":"","confidence":0.9,"evidenceQuality":"high"}`,
		"no quality":      `{"winnerParticipantId":"alice","confidence":0.9}`,
		"null confidence": `{"winnerParticipantId":"alice","confidence":null,"evidenceQuality":"high"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			verdict, err := v.Verify(context.Background(), testRequest())
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Nil(t, verdict)
		})
	}
}

func TestVerifyAcceptsZeroConfidence(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"winnerParticipantId":"alice","confidence":0,"evidenceQuality":"low"}`))
	})
	verdict, err := v.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "alice", verdict.WinnerParticipantID)
	assert.Zero(t, verdict.Confidence)
	assert.Empty(t, verdict.Suggestions)
}

func TestVerifyServerErrorIsUnavailable(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := v.Verify(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVerifyTimeout(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := v.Verify(ctx, testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}
