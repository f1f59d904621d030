package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tf2pug/internal/config"
	"tf2pug/internal/constants"
	"tf2pug/internal/pug"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

var ErrNotConfigured = errors.New("livelogs is not configured")

// LivelogsClient talks to a Livelogs web api. A client built without an
// address is valid but every call returns ErrNotConfigured.
type LivelogsClient struct {
	address string
	apiKey  string
	client  *fasthttp.Client
	logger  zerolog.Logger
}

type LiveLog struct {
	ID         int64  `json:"id"`
	ServerIP   string `json:"server_ip"`
	ServerPort int    `json:"server_port"`
	ServerName string `json:"server_name"`
	Map        string `json:"map"`
	Live       bool   `json:"live"`
	TimeStart  int64  `json:"time_start"`
}

type LiveLogsResponse struct {
	Logs []LiveLog `json:"logs"`
}

type CareerStats struct {
	SteamID     string `json:"steamid"`
	Games       int    `json:"games"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	Assists     int    `json:"assists"`
	DamageDealt int    `json:"damage_dealt"`
	HealingDone int    `json:"healing_done"`
	Ubers       int    `json:"ubers"`
	Captures    int    `json:"captures"`
}

type PlayerStatsResponse struct {
	Stats map[string]CareerStats `json:"stats"`
}

func NewLivelogsClient(cfg *config.Config, logger zerolog.Logger) *LivelogsClient {
	return &LivelogsClient{
		address: strings.TrimRight(cfg.LivelogsAddress, "/"),
		apiKey:  cfg.LivelogsAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger.With().Str("component", "livelogs").Logger(),
	}
}

func (c *LivelogsClient) Enabled() bool {
	return c != nil && c.address != ""
}

func (c *LivelogsClient) GetLiveLogs(ctx context.Context) (*LiveLogsResponse, error) {
	return doRequest[LiveLogsResponse](ctx, c, "get_live", nil)
}

func (c *LivelogsClient) GetPlayerStats(ctx context.Context, ids []pug.PlayerID) (*PlayerStatsResponse, error) {
	if len(ids) == 0 {
		return &PlayerStatsResponse{Stats: map[string]CareerStats{}}, nil
	}
	steamids := make([]string, len(ids))
	for i, id := range ids {
		steamids[i] = id.String()
	}
	return doRequest[PlayerStatsResponse](ctx, c, "get_stats", map[string]string{
		"steamids": strings.Join(steamids, ","),
	})
}

func doRequest[T any](ctx context.Context, client *LivelogsClient, action string, params map[string]string) (*T, error) {
	if !client.Enabled() {
		return nil, ErrNotConfigured
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(client.address + "/main.php")
	args := req.URI().QueryArgs()
	args.Add("key", client.apiKey)
	args.Add("action", action)
	for k, v := range params {
		args.Add(k, v)
	}
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = start.Add(constants.ExternalAPITimeout)
	}
	if err := client.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("failed to call livelogs %s: %w", action, err)
	}

	client.logger.Debug().
		Str("action", action).
		Int("status", resp.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("livelogs request")

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("livelogs error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode livelogs %s: %w", action, err)
	}
	return &result, nil
}
