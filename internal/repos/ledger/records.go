package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordType discriminates the record kinds sharing one keyspace.
type RecordType string

const (
	RecordMatch   RecordType = "match"
	RecordTyping  RecordType = "typing"
	RecordUser    RecordType = "user"
	RecordPool    RecordType = "pool"
	RecordMessage RecordType = "message"
)

// DateLayout is the calendar-day format used by matches, pools and messages.
const DateLayout = "2006-01-02"

// Key is the composite (primary, secondary) address of an item.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// Record is implemented by every entity kind stored in the ledger.
type Record interface {
	Key() Key
	RecordType() RecordType
	// IndexDate is the value of the date lookup path, empty if the kind is not indexed by day.
	IndexDate() string
}

type MatchStatus string

const (
	MatchScheduled  MatchStatus = "SCHEDULED"
	MatchInProgress MatchStatus = "IN_PROGRESS"
	MatchFinished   MatchStatus = "FINISHED"
)

type Match struct {
	ID                  string          `json:"id"`
	Date                string          `json:"date"`
	StartTime           time.Time       `json:"startTime"`
	HomeTeam            string          `json:"homeTeam"`
	AwayTeam            string          `json:"awayTeam"`
	HomeScore           *int            `json:"homeScore,omitempty"`
	AwayScore           *int            `json:"awayScore,omitempty"`
	Status              MatchStatus     `json:"status"`
	Pool                decimal.Decimal `json:"pool"`
	CorrectTypingsCount int             `json:"correctTypingsCount"`
	SettlementID        string          `json:"settlementId,omitempty"`
	SettledAt           *time.Time      `json:"settledAt,omitempty"`
}

func MatchKey(matchID string) Key { return Key{PK: matchID, SK: matchID} }

func (m *Match) Key() Key               { return MatchKey(m.ID) }
func (m *Match) RecordType() RecordType { return RecordMatch }
func (m *Match) IndexDate() string      { return m.Date }

// Settled reports whether a settlement for the match has been committed.
func (m *Match) Settled() bool { return m.SettlementID != "" }

type TypingStatus string

const (
	TypingUnknown   TypingStatus = "UNKNOWN"
	TypingCorrect   TypingStatus = "CORRECT"
	TypingIncorrect TypingStatus = "INCORRECT"
)

type Typing struct {
	MatchID            string       `json:"matchId"`
	UserID             string       `json:"userId"`
	PredictedHomeScore int          `json:"predictedHomeScore"`
	PredictedAwayScore int          `json:"predictedAwayScore"`
	Status             TypingStatus `json:"status"`
	CreatedAt          time.Time    `json:"createdAt"`
}

func TypingKey(matchID, userID string) Key { return Key{PK: matchID, SK: userID} }

func (t *Typing) Key() Key               { return TypingKey(t.MatchID, t.UserID) }
func (t *Typing) RecordType() RecordType { return RecordTyping }
func (t *Typing) IndexDate() string      { return "" }

type User struct {
	ID                   string          `json:"id"`
	Balance              decimal.Decimal `json:"balance"`
	CorrectTypingsCount  int             `json:"correctTypingsCount"`
	NotificationEndpoint string          `json:"notificationEndpoint,omitempty"`
}

func UserKey(userID string) Key { return Key{PK: userID, SK: userID} }

func (u *User) Key() Key               { return UserKey(u.ID) }
func (u *User) RecordType() RecordType { return RecordUser }
func (u *User) IndexDate() string      { return "" }

// PoolRecord holds the carried-over pool money of one calendar day.
type PoolRecord struct {
	Date    string          `json:"date"`
	Balance decimal.Decimal `json:"balance"`
}

func PoolKey(date string) Key { return Key{PK: "pool-" + date, SK: "pool-" + date} }

func (p *PoolRecord) Key() Key               { return PoolKey(p.Date) }
func (p *PoolRecord) RecordType() RecordType { return RecordPool }
func (p *PoolRecord) IndexDate() string      { return p.Date }

type Message struct {
	UserID    string          `json:"userId"`
	MatchID   string          `json:"matchId"`
	Date      string          `json:"date"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

func MessageKey(userID, matchID string) Key { return Key{PK: userID, SK: "message-" + matchID} }

func (m *Message) Key() Key               { return MessageKey(m.UserID, m.MatchID) }
func (m *Message) RecordType() RecordType { return RecordMessage }
func (m *Message) IndexDate() string      { return m.Date }

// newRecord returns an empty record of the given kind, ready to be decoded into.
func newRecord(t RecordType) (Record, error) {
	switch t {
	case RecordMatch:
		return new(Match), nil
	case RecordTyping:
		return new(Typing), nil
	case RecordUser:
		return new(User), nil
	case RecordPool:
		return new(PoolRecord), nil
	case RecordMessage:
		return new(Message), nil
	default:
		return nil, fmt.Errorf("unknown record type %q", t)
	}
}
