package repositories

import (
	"context"
	"fmt"

	"github.com/mikeka317/wager-arbiter/models"
)

func (r *sqlMatchRepository) AddScorecard(ctx context.Context, exec SQLExecutor, scorecard *models.Scorecard) error {
	query := `
		INSERT INTO scorecards (match_id, submitter_id, score_a, score_b, submitted_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := exec.ExecContext(ctx, query,
		scorecard.MatchID, scorecard.SubmitterID, scorecard.ScoreA, scorecard.ScoreB, utc(scorecard.SubmittedAt))
	if isUniqueViolation(err) {
		return ErrScorecardExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert scorecard for match %s: %w", scorecard.MatchID, err)
	}
	return nil
}

func (r *sqlMatchRepository) listScorecards(ctx context.Context, exec SQLExecutor, matchID string) ([]models.Scorecard, error) {
	query := `
		SELECT match_id, submitter_id, score_a, score_b, submitted_at
		FROM scorecards
		WHERE match_id = $1
		ORDER BY submitted_at ASC`

	rows, err := exec.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scorecards for match %s: %w", matchID, err)
	}
	defer rows.Close()

	scorecards := make([]models.Scorecard, 0, 2)
	for rows.Next() {
		var sc models.Scorecard
		if err := rows.Scan(&sc.MatchID, &sc.SubmitterID, &sc.ScoreA, &sc.ScoreB, &sc.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scorecard for match %s: %w", matchID, err)
		}
		sc.SubmittedAt = sc.SubmittedAt.UTC()
		scorecards = append(scorecards, sc)
	}
	return scorecards, rows.Err()
}

func (r *sqlMatchRepository) AddProof(ctx context.Context, exec SQLExecutor, proof *models.ProofBundle) error {
	refs, err := encodeStrings(proof.EvidenceRefs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO proofs (id, match_id, submitter_id, evidence_refs, description, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = exec.ExecContext(ctx, query,
		proof.ID, proof.MatchID, proof.SubmitterID, refs, proof.Description, utc(proof.SubmittedAt))
	if err != nil {
		return fmt.Errorf("failed to insert proof for match %s: %w", proof.MatchID, err)
	}
	return nil
}

func (r *sqlMatchRepository) listProofs(ctx context.Context, exec SQLExecutor, matchID string) ([]models.ProofBundle, error) {
	query := `
		SELECT id, match_id, submitter_id, evidence_refs, description, submitted_at
		FROM proofs
		WHERE match_id = $1
		ORDER BY submitted_at ASC, id ASC`

	rows, err := exec.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proofs for match %s: %w", matchID, err)
	}
	defer rows.Close()

	proofs := make([]models.ProofBundle, 0)
	for rows.Next() {
		var p models.ProofBundle
		var refs string
		if err := rows.Scan(&p.ID, &p.MatchID, &p.SubmitterID, &refs, &p.Description, &p.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan proof for match %s: %w", matchID, err)
		}
		if p.EvidenceRefs, err = decodeStrings(refs); err != nil {
			return nil, err
		}
		p.SubmittedAt = p.SubmittedAt.UTC()
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

func (r *sqlMatchRepository) AddVerdict(ctx context.Context, exec SQLExecutor, verdict *models.AIVerdict) error {
	suggestions, err := encodeStrings(verdict.Suggestions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ai_verdicts
			(id, match_id, winner_participant_id, confidence, evidence_quality, reasoning, suggestions, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = exec.ExecContext(ctx, query,
		verdict.ID, verdict.MatchID, verdict.WinnerParticipantID, verdict.Confidence,
		string(verdict.EvidenceQuality), verdict.Reasoning, suggestions, utc(verdict.ProducedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ai verdict for match %s: %w", verdict.MatchID, err)
	}
	return nil
}

func (r *sqlMatchRepository) listVerdicts(ctx context.Context, exec SQLExecutor, matchID string) ([]models.AIVerdict, error) {
	query := `
		SELECT id, match_id, winner_participant_id, confidence, evidence_quality, reasoning, suggestions, produced_at
		FROM ai_verdicts
		WHERE match_id = $1
		ORDER BY produced_at ASC, id ASC`

	rows, err := exec.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ai verdicts for match %s: %w", matchID, err)
	}
	defer rows.Close()

	verdicts := make([]models.AIVerdict, 0)
	for rows.Next() {
		var v models.AIVerdict
		var quality, suggestions string
		if err := rows.Scan(&v.ID, &v.MatchID, &v.WinnerParticipantID, &v.Confidence, &quality, &v.Reasoning, &suggestions, &v.ProducedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ai verdict for match %s: %w", matchID, err)
		}
		v.EvidenceQuality = models.EvidenceQuality(quality)
		if v.Suggestions, err = decodeStrings(suggestions); err != nil {
			return nil, err
		}
		v.ProducedAt = v.ProducedAt.UTC()
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}
