package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeka317/wager-arbiter/models"
)

var (
	ErrUnavailable       = errors.New("ai verifier unavailable")
	ErrMalformedResponse = errors.New("ai verifier returned malformed verdict")
)

type Proof struct {
	SubmitterID  string   `json:"submitterId"`
	EvidenceRefs []string `json:"evidenceRefs"`
	Description  string   `json:"description"`
}

type Request struct {
	MatchID        string   `json:"matchId"`
	Game           string   `json:"game"`
	Platform       string   `json:"platform"`
	Proofs         []Proof  `json:"proofs"`
	ParticipantIDs []string `json:"participantIds"`
}

type Verdict struct {
	WinnerParticipantID string                 `json:"winnerParticipantId"`
	Confidence          float64                `json:"confidence"`
	EvidenceQuality     models.EvidenceQuality `json:"evidenceQuality"`
	Reasoning           string                 `json:"reasoning"`
	Suggestions         []string               `json:"suggestions"`
}

// verdictPayload - ответ арбитра как он приходит по сети: отсутствующее поле нельзя путать с нулём.
type verdictPayload struct {
	WinnerParticipantID *string                 `json:"winnerParticipantId"`
	Confidence          *float64                `json:"confidence"`
	EvidenceQuality     *models.EvidenceQuality `json:"evidenceQuality"`
	Reasoning           string                  `json:"reasoning"`
	Suggestions         []string                `json:"suggestions"`
}

func (p verdictPayload) verdict() (*Verdict, error) {
	switch {
	case p.WinnerParticipantID == nil || *p.WinnerParticipantID == "":
		return nil, fmt.Errorf("%w: winnerParticipantId is missing", ErrMalformedResponse)
	case p.Confidence == nil:
		return nil, fmt.Errorf("%w: confidence is missing", ErrMalformedResponse)
	case p.EvidenceQuality == nil:
		return nil, fmt.Errorf("%w: evidenceQuality is missing", ErrMalformedResponse)
	}
	return &Verdict{
		WinnerParticipantID: *p.WinnerParticipantID,
		Confidence:          *p.Confidence,
		EvidenceQuality:     *p.EvidenceQuality,
		Reasoning:           p.Reasoning,
		Suggestions:         p.Suggestions,
	}, nil
}

// Validate проверяет вердикт против участников матча: победитель определяется только по стабильному ID.
func (v *Verdict) Validate(participantIDs []string) error {
	found := false
	for _, id := range participantIDs {
		if id != "" && id == v.WinnerParticipantID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: winner %q is not a participant", ErrMalformedResponse, v.WinnerParticipantID)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, v.Confidence)
	}
	if !v.EvidenceQuality.Valid() {
		return fmt.Errorf("%w: evidence quality %q", ErrMalformedResponse, v.EvidenceQuality)
	}
	if v.Suggestions == nil {
		v.Suggestions = []string{}
	}
	return nil
}

// Verifier - внешний ИИ-арбитр по фото-доказательствам.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Verdict, error)
}

type HTTPVerifierConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type httpVerifier struct {
	client *http.Client
	url    string
	apiKey string
}

func NewHTTPVerifier(cfg HTTPVerifierConfig) (Verifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("invalid verifier configuration: URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpVerifier{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		apiKey: cfg.APIKey,
	}, nil
}

func (v *httpVerifier) Verify(ctx context.Context, req Request) (*Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrMalformedResponse, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var payload verdictPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	verdict, err := payload.verdict()
	if err != nil {
		return nil, err
	}
	if err := verdict.Validate(req.ParticipantIDs); err != nil {
		return nil, err
	}
	return verdict, nil
}
