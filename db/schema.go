package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Схема общая для PostgreSQL и SQLite: только переносимые типы, время хранится в UTC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS matches (
		id                   TEXT PRIMARY KEY,
		tournament_id        TEXT,
		bracket_uid          TEXT,
		game                 TEXT NOT NULL,
		platform             TEXT NOT NULL,
		participant_a_id     TEXT NOT NULL,
		participant_a_name   TEXT NOT NULL DEFAULT '',
		participant_b_id     TEXT NOT NULL,
		participant_b_name   TEXT NOT NULL DEFAULT '',
		stake_cents          BIGINT NOT NULL CHECK (stake_cents >= 0),
		status               TEXT NOT NULL,
		ready_a              BOOLEAN NOT NULL DEFAULT FALSE,
		ready_b              BOOLEAN NOT NULL DEFAULT FALSE,
		started_a            BOOLEAN NOT NULL DEFAULT FALSE,
		started_b            BOOLEAN NOT NULL DEFAULT FALSE,
		winner_id            TEXT,
		outcome              TEXT,
		outcome_version      BIGINT,
		arbitration_failures INTEGER NOT NULL DEFAULT 0,
		version              BIGINT NOT NULL,
		created_at           TIMESTAMP NOT NULL,
		updated_at           TIMESTAMP NOT NULL,
		completed_at         TIMESTAMP,
		archived_at          TIMESTAMP,
		CONSTRAINT matches_distinct_participants CHECK (participant_a_id <> participant_b_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches (status)`,
	`CREATE INDEX IF NOT EXISTS idx_matches_tournament ON matches (tournament_id)`,

	`CREATE TABLE IF NOT EXISTS match_transitions (
		id          TEXT PRIMARY KEY,
		match_id    TEXT NOT NULL REFERENCES matches (id),
		from_status TEXT NOT NULL,
		to_status   TEXT NOT NULL,
		version     BIGINT NOT NULL,
		actor_id    TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		at          TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_match_transitions_match ON match_transitions (match_id, version)`,

	`CREATE TABLE IF NOT EXISTS scorecards (
		match_id     TEXT NOT NULL REFERENCES matches (id),
		submitter_id TEXT NOT NULL,
		score_a      INTEGER NOT NULL CHECK (score_a >= 0),
		score_b      INTEGER NOT NULL CHECK (score_b >= 0),
		submitted_at TIMESTAMP NOT NULL,
		CONSTRAINT scorecards_match_submitter_key UNIQUE (match_id, submitter_id)
	)`,

	`CREATE TABLE IF NOT EXISTS proofs (
		id            TEXT PRIMARY KEY,
		match_id      TEXT NOT NULL REFERENCES matches (id),
		submitter_id  TEXT NOT NULL,
		evidence_refs TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		submitted_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_proofs_match ON proofs (match_id)`,

	`CREATE TABLE IF NOT EXISTS ai_verdicts (
		id                    TEXT PRIMARY KEY,
		match_id              TEXT NOT NULL REFERENCES matches (id),
		winner_participant_id TEXT NOT NULL,
		confidence            DOUBLE PRECISION NOT NULL,
		evidence_quality      TEXT NOT NULL,
		reasoning             TEXT NOT NULL DEFAULT '',
		suggestions           TEXT NOT NULL,
		produced_at           TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_verdicts_match ON ai_verdicts (match_id)`,

	`CREATE TABLE IF NOT EXISTS disputes (
		id          TEXT PRIMARY KEY,
		match_id    TEXT NOT NULL REFERENCES matches (id),
		raised_by   TEXT NOT NULL,
		reason      TEXT NOT NULL,
		evidence    TEXT NOT NULL,
		status      TEXT NOT NULL,
		resolution  TEXT,
		admin_notes TEXT,
		resolved_by TEXT,
		created_at  TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		CONSTRAINT disputes_match_id_key UNIQUE (match_id)
	)`,

	`CREATE TABLE IF NOT EXISTS escalation_timers (
		id                TEXT PRIMARY KEY,
		match_id          TEXT NOT NULL REFERENCES matches (id),
		kind              TEXT NOT NULL,
		deadline          TIMESTAMP NOT NULL,
		scheduled_version BIGINT NOT NULL,
		fired             BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at        TIMESTAMP NOT NULL,
		closed_at         TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_escalation_timers_active ON escalation_timers (match_id)
		WHERE fired = FALSE AND cancelled = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_escalation_timers_due ON escalation_timers (deadline)
		WHERE fired = FALSE AND cancelled = FALSE`,

	`CREATE TABLE IF NOT EXISTS settlements (
		id              TEXT PRIMARY KEY,
		match_id        TEXT NOT NULL REFERENCES matches (id),
		outcome_version BIGINT NOT NULL,
		operation       TEXT NOT NULL,
		account_id      TEXT NOT NULL,
		amount_cents    BIGINT NOT NULL CHECK (amount_cents >= 0),
		idempotency_key TEXT NOT NULL,
		reverses_id     TEXT REFERENCES settlements (id),
		status          TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT,
		created_at      TIMESTAMP NOT NULL,
		claimed_at      TIMESTAMP,
		applied_at      TIMESTAMP,
		CONSTRAINT settlements_idempotency_key_key UNIQUE (idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_match ON settlements (match_id)`,

	`CREATE TABLE IF NOT EXISTS tournaments (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		game         TEXT NOT NULL,
		platform     TEXT NOT NULL,
		stake_cents  BIGINT NOT NULL,
		status       TEXT NOT NULL,
		rounds       INTEGER NOT NULL,
		champion_id  TEXT,
		created_by   TEXT NOT NULL,
		participants TEXT NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS bracket_slots (
		tournament_id      TEXT NOT NULL REFERENCES tournaments (id),
		uid                TEXT NOT NULL,
		round              INTEGER NOT NULL,
		order_in_round     INTEGER NOT NULL,
		participant_a      TEXT,
		participant_b      TEXT,
		source_a_uid       TEXT,
		source_b_uid       TEXT,
		is_bye             BOOLEAN NOT NULL DEFAULT FALSE,
		bye_participant_id TEXT,
		match_id           TEXT REFERENCES matches (id),
		decided            BOOLEAN NOT NULL DEFAULT FALSE,
		winner_id          TEXT,
		decided_at         TIMESTAMP,
		PRIMARY KEY (tournament_id, uid)
	)`,

	`CREATE TABLE IF NOT EXISTS operator_alerts (
		id              TEXT PRIMARY KEY,
		match_id        TEXT,
		tournament_id   TEXT,
		kind            TEXT NOT NULL,
		details         TEXT NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		acknowledged_at TIMESTAMP,
		acknowledged_by TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operator_alerts_open ON operator_alerts (created_at)
		WHERE acknowledged_at IS NULL`,
}

// CreateSchema идемпотентно создаёт таблицы и индексы.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
