package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mikeka317/wager-arbiter/models"
)

// Clock возвращает текущее время; в тестах подменяется.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringPtr(s string) *string { return &s }

var allowedMatchTransitions = map[models.MatchStatus][]models.MatchStatus{
	models.StatusPending:               {models.StatusReady},
	models.StatusReady:                 {models.StatusInProgress},
	models.StatusInProgress:            {models.StatusScorecardWaiting, models.StatusCompleted},
	models.StatusScorecardWaiting:      {models.StatusScorecardSubmitted, models.StatusScorecardConflict, models.StatusCompleted},
	models.StatusScorecardSubmitted:    {models.StatusCompleted},
	models.StatusScorecardConflict:     {models.StatusAIVerificationWaiting},
	models.StatusAIVerificationWaiting: {models.StatusAIVerification, models.StatusCompleted},
	models.StatusAIVerification:        {models.StatusCompleted},
	models.StatusCompleted:             {models.StatusDisputed},
	models.StatusDisputed:              {models.StatusResolved},
	models.StatusResolved:              {},
}

func isValidMatchTransition(current, next models.MatchStatus) bool {
	for _, allowedNextStatus := range allowedMatchTransitions[current] {
		if next == allowedNextStatus {
			return true
		}
	}
	return false
}

// runInTx выполняет fn в транзакции: коммит при nil, откат при ошибке или панике.
func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (txErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				txErr = fmt.Errorf("%w (rollback also failed: %v)", txErr, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()
	txErr = fn(tx)
	return txErr
}
