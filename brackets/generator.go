package brackets

import "context"

type GenerateBracketParams struct {
	// ParticipantIDs в порядке посева.
	ParticipantIDs []string
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error)

	GetName() string
}
