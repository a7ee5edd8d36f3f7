package domain

import (
	"encoding/json"
	"time"
)

type Player struct {
	UserNum     int64
	Nickname    string
	Character   int
	GameCount   int
	FirstSeenAt *time.Time // earliest stored game
	LastSeenAt  *time.Time // latest stored game
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Match struct {
	GameID         int64
	UserNum        int64
	Nickname       string
	Character      int
	KillerUserNum  int64
	KillerUserNum2 int64
	KillerUserNum3 int64
	StartedAt      time.Time
	CreatedAt      time.Time
}

// Killers returns the three killer slots in upstream order. Zero means the
// slot is empty.
func (m Match) Killers() [3]int64 {
	return [3]int64{m.KillerUserNum, m.KillerUserNum2, m.KillerUserNum3}
}

type Rival struct {
	UserNum int64 `json:"userNum"`
	Count   int   `json:"count"`
}

type RivalAggregate struct {
	ID          string // nanoid
	UserNum     int64
	Rivals      []Rival
	GameCount   int
	ComputedAt  time.Time
	WindowStart *time.Time
	WindowEnd   *time.Time
}

// Profile is the payload returned to HTTP callers.
type Profile struct {
	DoesNotExist  bool    `json:"does_not_exist,omitempty"`
	UserNum       int64   `json:"userNum,omitempty"`
	Nickname      string  `json:"nickname,omitempty"`
	Character     int     `json:"character"`
	Killers       []Rival `json:"killers"`
	GameCount     int     `json:"game_count"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	UpdateDate    string  `json:"update_date"`
	Partial       bool    `json:"partial,omitempty"`
	PartialReason string  `json:"partial_reason,omitempty"`
}

type missingProfile struct {
	DoesNotExist bool `json:"does_not_exist"`
}

// MarshalJSON renders a missing player as nothing but the does_not_exist flag.
func (p Profile) MarshalJSON() ([]byte, error) {
	if p.DoesNotExist {
		return json.Marshal(missingProfile{DoesNotExist: true})
	}
	type plain Profile
	return json.Marshal(plain(p))
}

type ShortProfile struct {
	UserNum   int64  `json:"userNum"`
	Nickname  string `json:"nickname"`
	Character int    `json:"character"`
}

// FormatDate renders an optional timestamp the way profiles expose dates.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
