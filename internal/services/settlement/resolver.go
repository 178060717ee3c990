package settlement

import (
	"fmt"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

// Resolve partitions typings into correct and incorrect ones against the
// final score of match. It does not mutate its arguments.
func Resolve(match *ledger.Match, typings []*ledger.Typing) (correct, incorrect []*ledger.Typing, err error) {
	if match.HomeScore == nil || match.AwayScore == nil {
		return nil, nil, fmt.Errorf("%w: match %s has no final score", ErrIncompleteResult, match.ID)
	}

	home, away := *match.HomeScore, *match.AwayScore

	for _, t := range typings {
		if t.MatchID != match.ID {
			return nil, nil, fmt.Errorf("%w: typing of %s for match %s", ErrTypingMismatch, t.UserID, t.MatchID)
		}

		if t.PredictedHomeScore == home && t.PredictedAwayScore == away {
			correct = append(correct, t)
			continue
		}

		incorrect = append(incorrect, t)
	}

	return correct, incorrect, nil
}
