package brackets

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// BracketMatch - узел сетки на выбывание.
type BracketMatch struct {
	UID          string
	Round        int
	OrderInRound int

	Participant1ID *string
	Participant2ID *string

	SourceMatch1UID *string
	SourceMatch2UID *string

	IsPlaceholder bool

	IsBye            bool
	ByeParticipantID *string
}

type node struct {
	participantID    *string
	sourceMatchUID   *string
	isByePlaceholder bool
}

type SingleEliminationGenerator struct {
}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// Rounds - число раундов для n участников.
func Rounds(n int) int {
	rounds := 0
	for size := 1; size < n; size <<= 1 {
		rounds++
	}
	return rounds
}

// GenerateBracket строит полную сетку: участники идут в порядке посева,
// недостающие до степени двойки места становятся bye в первом раунде.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	n := len(params.ParticipantIDs)
	if n < 2 {
		return nil, errors.New("not enough participants to generate a single elimination bracket (minimum 2)")
	}
	seen := make(map[string]bool, n)
	for _, id := range params.ParticipantIDs {
		if id == "" {
			return nil, errors.New("participant id must not be empty")
		}
		if seen[id] {
			return nil, fmt.Errorf("participant %q is seeded twice", id)
		}
		seen[id] = true
	}

	numRounds := Rounds(n)
	sizeOfFullBracket := 1 << uint(numRounds)

	currentRoundNodes := make([]*node, sizeOfFullBracket)
	for i := 0; i < sizeOfFullBracket; i++ {
		if i < n {
			pid := params.ParticipantIDs[i]
			currentRoundNodes[i] = &node{participantID: &pid}
		} else {
			currentRoundNodes[i] = &node{isByePlaceholder: true}
		}
	}

	allGeneratedMatches := make([]*BracketMatch, 0, sizeOfFullBracket-1)

	for r := 1; r <= numRounds; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nextRoundNodes := make([]*node, 0, len(currentRoundNodes)/2)
		matchesInThisRound := 0

		for i := 0; i < len(currentRoundNodes); i += 2 {
			node1 := currentRoundNodes[i]
			node2 := currentRoundNodes[i+1]

			// Два пустых места не дают матча; в следующий раунд уходит пустое место.
			if node1.isByePlaceholder && node2.isByePlaceholder {
				nextRoundNodes = append(nextRoundNodes, &node{isByePlaceholder: true})
				continue
			}

			currentMatchUID := fmt.Sprintf("R%dM%d", r, matchesInThisRound+1)
			bm := &BracketMatch{
				UID:          currentMatchUID,
				Round:        r,
				OrderInRound: matchesInThisRound + 1,
			}

			switch {
			case node1.participantID != nil && node2.isByePlaceholder:
				bm.IsBye = true
				bm.ByeParticipantID = node1.participantID
				bm.Participant1ID = node1.participantID
				nextRoundNodes = append(nextRoundNodes, &node{participantID: node1.participantID})

			case node2.participantID != nil && node1.isByePlaceholder:
				bm.IsBye = true
				bm.ByeParticipantID = node2.participantID
				bm.Participant1ID = node2.participantID
				nextRoundNodes = append(nextRoundNodes, &node{participantID: node2.participantID})

			default:
				bm.Participant1ID = node1.participantID
				bm.Participant2ID = node2.participantID
				bm.SourceMatch1UID = node1.sourceMatchUID
				bm.SourceMatch2UID = node2.sourceMatchUID
				bm.IsPlaceholder = bm.SourceMatch1UID != nil || bm.SourceMatch2UID != nil
				uid := currentMatchUID
				nextRoundNodes = append(nextRoundNodes, &node{sourceMatchUID: &uid})
			}

			allGeneratedMatches = append(allGeneratedMatches, bm)
			matchesInThisRound++
		}
		currentRoundNodes = nextRoundNodes
	}

	sort.Slice(allGeneratedMatches, func(i, j int) bool {
		if allGeneratedMatches[i].Round != allGeneratedMatches[j].Round {
			return allGeneratedMatches[i].Round < allGeneratedMatches[j].Round
		}
		return allGeneratedMatches[i].OrderInRound < allGeneratedMatches[j].OrderInRound
	})

	return allGeneratedMatches, nil
}
