package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"rival-tracker/internal/domain"
	"strconv"
	"time"
)

const (
	codeOK       = 200
	codeNotFound = 404
)

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type nicknameResponse struct {
	User *struct {
		UserNum  int64  `json:"userNum"`
		Nickname string `json:"nickname"`
	} `json:"user"`
}

type gamesResponse struct {
	UserGames []UserGame `json:"userGames"`
	Next      Cursor     `json:"next"`
}

type UserGame struct {
	GameID         int64  `json:"gameId"`
	UserNum        int64  `json:"userNum"`
	Nickname       string `json:"nickname"`
	CharacterNum   int    `json:"characterNum"`
	StartDtm       string `json:"startDtm"`
	KillerUserNum  int64  `json:"killerUserNum"`
	KillerUserNum2 int64  `json:"killerUserNum2"`
	KillerUserNum3 int64  `json:"killerUserNum3"`
}

type statsResponse struct {
	UserStats []struct {
		UserNum        int64  `json:"userNum"`
		Nickname       string `json:"nickname"`
		CharacterStats []struct {
			CharacterCode int `json:"characterCode"`
			TotalGames    int `json:"totalGames"`
		} `json:"characterStats"`
	} `json:"userStats"`
}

// Cursor is the upstream pagination token. The API sends it as a number but
// strings are accepted too; zero, null and "" all mean no further pages.
type Cursor string

func (c *Cursor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "0" {
			s = ""
		}
		*c = Cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	if v, err := strconv.ParseFloat(n.String(), 64); err == nil && v == 0 {
		*c = ""
		return nil
	}
	*c = Cursor(n.String())
	return nil
}

type UserLookup struct {
	UserNum  int64
	Nickname string
}

type MatchPage struct {
	Matches []domain.Match
	Next    string
}

var startDtmLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

func parseStartDtm(s string) (time.Time, error) {
	for _, layout := range startDtmLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized startDtm %q", s)
}

func (g UserGame) toDomain(userNum int64) (domain.Match, error) {
	startedAt, err := parseStartDtm(g.StartDtm)
	if err != nil {
		return domain.Match{}, err
	}
	if g.GameID == 0 {
		return domain.Match{}, fmt.Errorf("game without gameId")
	}
	return domain.Match{
		GameID:         g.GameID,
		UserNum:        userNum,
		Nickname:       g.Nickname,
		Character:      g.CharacterNum,
		KillerUserNum:  g.KillerUserNum,
		KillerUserNum2: g.KillerUserNum2,
		KillerUserNum3: g.KillerUserNum3,
		StartedAt:      startedAt,
	}, nil
}
