package settlement

import (
	"errors"
	"testing"

	"github.com/fastprodman/typingpool/internal/repos/ledger"
)

func intPtr(v int) *int { return &v }

func typingOf(matchID, userID string, home, away int) *ledger.Typing {
	return &ledger.Typing{
		MatchID:            matchID,
		UserID:             userID,
		PredictedHomeScore: home,
		PredictedAwayScore: away,
		Status:             ledger.TypingUnknown,
	}
}

func TestResolve_Partition(t *testing.T) {
	t.Parallel()

	match := &ledger.Match{ID: "m1", HomeScore: intPtr(2), AwayScore: intPtr(1), Status: ledger.MatchFinished}
	typings := []*ledger.Typing{
		typingOf("m1", "u1", 2, 1),
		typingOf("m1", "u2", 1, 2),
		typingOf("m1", "u3", 2, 0),
		typingOf("m1", "u4", 2, 1),
		typingOf("m1", "u5", 0, 1),
	}

	correct, incorrect, err := Resolve(match, typings)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(correct)+len(incorrect) != len(typings) {
		t.Fatalf("partition lost typings: %d + %d != %d", len(correct), len(incorrect), len(typings))
	}

	if len(correct) != 2 || correct[0].UserID != "u1" || correct[1].UserID != "u4" {
		t.Fatalf("unexpected correct set: %+v", correct)
	}

	for _, typ := range typings {
		if typ.Status != ledger.TypingUnknown {
			t.Fatalf("resolve mutated typing of %s", typ.UserID)
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		match   *ledger.Match
		typings []*ledger.Typing
		wantErr error
	}{
		{
			name:    "missing_away_score",
			match:   &ledger.Match{ID: "m1", HomeScore: intPtr(1)},
			typings: []*ledger.Typing{typingOf("m1", "u1", 1, 0)},
			wantErr: ErrIncompleteResult,
		},
		{
			name:    "missing_home_score",
			match:   &ledger.Match{ID: "m1", AwayScore: intPtr(1)},
			wantErr: ErrIncompleteResult,
		},
		{
			name:    "typing_of_other_match",
			match:   &ledger.Match{ID: "m1", HomeScore: intPtr(0), AwayScore: intPtr(0)},
			typings: []*ledger.Typing{typingOf("m2", "u1", 0, 0)},
			wantErr: ErrTypingMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := Resolve(tt.match, tt.typings)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}
