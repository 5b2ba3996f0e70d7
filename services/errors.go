package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ошибки валидации и бизнес-правил. Все они оборачивают ErrValidationFailed.
	ErrValidationFailed   = errors.New("validation failed")
	ErrInvalidState       = wrapValidation("operation is not allowed in the current match state")
	ErrNotParticipant     = wrapValidation("submitter is not a participant of the match")
	ErrDuplicateScorecard = wrapValidation("participant has already submitted a scorecard")
	ErrNegativeScore      = wrapValidation("scores must not be negative")
	ErrEvidenceRequired   = wrapValidation("proof must contain at least one evidence reference")
	ErrSameParticipants   = wrapValidation("a match needs two different participants")
	ErrInvalidStake       = wrapValidation("stake must be positive")
	ErrInvalidDecision    = wrapValidation("invalid dispute decision")
	ErrNotLosingParty     = wrapValidation("only the losing participant can raise a dispute")
	ErrRefundNotDisputed  = wrapValidation("refund outcomes cannot be disputed")

	// Оптимистическая блокировка: клиент должен перечитать матч и повторить.
	ErrStaleVersion = errors.New("match version is stale")

	// Внешние сервисы: повторяемые ошибки.
	ErrExternalService   = errors.New("external service unavailable")
	ErrSettlementFailed  = errors.New("settlement failed")
	ErrMalformedVerdict  = errors.New("malformed arbitration verdict")
	ErrUploaderNotConfig = errors.New("evidence uploads are not configured")

	// Конфликты
	ErrDisputeExists = errors.New("a dispute already exists for this match")
	ErrDisputeClosed = errors.New("dispute is already resolved")

	// Ошибки аутентификации и авторизации
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	// Ошибки, специфичные для сущностей
	ErrMatchNotFound      = errors.New("match not found")
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrAlertNotFound      = errors.New("operator alert not found")
	ErrAlertAcknowledged  = errors.New("operator alert already acknowledged")
)

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidationFailed }

func wrapValidation(msg string) error {
	return &validationError{msg: msg}
}
