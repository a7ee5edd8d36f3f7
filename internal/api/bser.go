package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"rival-tracker/internal/config"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"rival-tracker/internal/metrics"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const (
	endpointNickname = "nickname"
	endpointGames    = "games"
	endpointStats    = "stats"
)

// Client talks to the Eternal Return open API. Every attempt waits on the
// shared RateGate; failed attempts are retried with linearly growing delay.
type Client struct {
	apiKey      string
	baseURL     string
	client      *fasthttp.Client
	gate        *RateGate
	backoff     time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewClient(cfg *config.Config, gate *RateGate, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		apiKey:  cfg.BSERAPIKey,
		baseURL: cfg.BSERBaseURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		gate:        gate,
		backoff:     cfg.RetryBackoff,
		maxAttempts: constants.UpstreamMaxAttempts,
		metrics:     m,
		logger:      logger,
	}
}

// LookupPlayer resolves a nickname. It returns domain.ErrUpstreamNotFound
// when the API reports no such player.
func (c *Client) LookupPlayer(ctx context.Context, nickname string) (*UserLookup, error) {
	u := fmt.Sprintf("%s/v1/user/nickname?query=%s", c.baseURL, url.QueryEscape(nickname))

	resp, err := doRequest[nicknameResponse](ctx, c, endpointNickname, u)
	if err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.UserNum == 0 {
		return nil, fmt.Errorf("%w: nickname lookup without user", domain.ErrMalformedUpstreamResponse)
	}

	name := resp.User.Nickname
	if name == "" {
		name = nickname
	}
	return &UserLookup{UserNum: resp.User.UserNum, Nickname: name}, nil
}

// FetchMatchPage returns one page of the player's games. An empty cursor
// asks for the newest page. A player without games yields an empty page.
func (c *Client) FetchMatchPage(ctx context.Context, userNum int64, cursor string) (*MatchPage, error) {
	u := fmt.Sprintf("%s/v1/user/games/%d", c.baseURL, userNum)
	if cursor != "" {
		u += "?next=" + url.QueryEscape(cursor)
	}

	resp, err := doRequest[gamesResponse](ctx, c, endpointGames, u)
	if errors.Is(err, domain.ErrUpstreamNotFound) {
		return &MatchPage{Matches: []domain.Match{}}, nil
	}
	if err != nil {
		return nil, err
	}

	page := &MatchPage{
		Matches: make([]domain.Match, 0, len(resp.UserGames)),
		Next:    string(resp.Next),
	}
	for _, g := range resp.UserGames {
		m, err := g.toDomain(userNum)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedUpstreamResponse, err)
		}
		page.Matches = append(page.Matches, m)
	}
	return page, nil
}

// GetUserStats returns the player's nickname and most played character.
func (c *Client) GetUserStats(ctx context.Context, userNum int64) (*domain.ShortProfile, error) {
	u := fmt.Sprintf("%s/v1/user/stats/%d/0", c.baseURL, userNum)

	resp, err := doRequest[statsResponse](ctx, c, endpointStats, u)
	if err != nil {
		return nil, err
	}
	if len(resp.UserStats) == 0 {
		return nil, fmt.Errorf("%w: stats without entries", domain.ErrMalformedUpstreamResponse)
	}

	stats := resp.UserStats[0]
	summary := &domain.ShortProfile{
		UserNum:  userNum,
		Nickname: stats.Nickname,
	}
	if len(stats.CharacterStats) > 0 {
		summary.Character = stats.CharacterStats[0].CharacterCode
	}
	return summary, nil
}

type attemptError struct {
	status int
	err    error
}

func (e *attemptError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("API error: %d", e.status)
}

func doRequest[T any](ctx context.Context, client *Client, endpoint, target string) (*T, error) {
	var lastErr error

	for attempt := 1; attempt <= client.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * client.backoff
			client.logger.Warn().
				Str("endpoint", endpoint).
				Str("url", target).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying upstream request")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := client.gate.Wait(ctx); err != nil {
			return nil, err
		}

		client.logger.Debug().Str("endpoint", endpoint).Str("url", target).Int("attempt", attempt).Msg("upstream request")

		body, err := client.fetch(ctx, target)
		if err != nil {
			client.metrics.UpstreamAttempt(endpoint, metrics.OutcomeFailed, attempt)
			lastErr = err
			continue
		}

		var head envelope
		if err := json.Unmarshal(body, &head); err != nil {
			client.metrics.UpstreamAttempt(endpoint, metrics.OutcomeMalformed, attempt)
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedUpstreamResponse, endpoint, err)
		}

		switch head.Code {
		case 0, codeOK:
		case codeNotFound:
			client.metrics.UpstreamAttempt(endpoint, metrics.OutcomeNotFound, attempt)
			return nil, fmt.Errorf("%s: %w", endpoint, domain.ErrUpstreamNotFound)
		default:
			client.metrics.UpstreamAttempt(endpoint, metrics.OutcomeFailed, attempt)
			lastErr = fmt.Errorf("API error code %d: %s", head.Code, head.Message)
			continue
		}

		var result T
		if err := json.Unmarshal(body, &result); err != nil {
			client.metrics.UpstreamAttempt(endpoint, metrics.OutcomeMalformed, attempt)
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedUpstreamResponse, endpoint, err)
		}
		client.metrics.UpstreamAttempt(endpoint, metrics.OutcomeOK, attempt)
		return &result, nil
	}

	client.logger.Error().
		Str("endpoint", endpoint).
		Str("url", target).
		Int("attempts", client.maxAttempts).
		Err(lastErr).
		Msg("upstream request failed, too many attempts")
	client.metrics.UpstreamExhausted(endpoint)
	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", domain.ErrUpstreamUnavailable, endpoint, client.maxAttempts, lastErr)
}

// fetch performs one GET and returns a copy of the body of a 200 response.
func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.ExternalAPITimeout)
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, &attemptError{err: err}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &attemptError{status: resp.StatusCode()}
	}

	return append([]byte(nil), resp.Body()...), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
