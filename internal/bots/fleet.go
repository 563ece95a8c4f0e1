package bots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/reciperage/internal/adapters/transport/ws"
	"github.com/okian/reciperage/internal/domain/match"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/internal/domain/types"
	"github.com/okian/reciperage/pkg/logger"
)

const reportFilePermission = 0o600

// FleetConfig describes a load run against a live server.
type FleetConfig struct {
	BaseURL     string        // e.g. http://localhost:9090
	Bots        int           // players to connect
	Teams       []string      // teams to spread bots over
	Level       string        // level to start when StartMatch is set
	StartMatch  bool          // POST /match before connecting
	DecideEvery time.Duration // how often each bot acts
	Timeout     time.Duration // HTTP request timeout
	Seed        int64
	ReportFile  string // optional JSON report path
}

// BotReport is one bot's outcome.
type BotReport struct {
	ID    string       `json:"id"`
	Team  string       `json:"team"`
	Stats Stats        `json:"stats"`
	Rank  *types.Entry `json:"rank,omitempty"`
}

// Report summarizes a fleet run.
type Report struct {
	MatchID  string            `json:"match_id"`
	Scores   []model.TeamScore `json:"scores"`
	Bots     []BotReport       `json:"bots"`
	Started  time.Time         `json:"started"`
	Duration time.Duration     `json:"duration"`
}

// Totals sums the stats of every bot.
func (r Report) Totals() Stats {
	var t Stats
	for _, b := range r.Bots {
		t.Sent += b.Stats.Sent
		t.Accepted += b.Stats.Accepted
		t.Rejected += b.Stats.Rejected
		t.Collected += b.Stats.Collected
		t.Delivered += b.Stats.Delivered
		t.Failed += b.Stats.Failed
	}
	return t
}

// RunFleet connects cfg.Bots WebSocket bots to the server, plays until the
// match is over and looks each bot up on the leaderboard.
func RunFleet(ctx context.Context, cfg FleetConfig, catalog *recipe.Catalog, l logger.Logger) (Report, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if cfg.Bots <= 0 {
		return Report{}, errors.New("fleet needs at least one bot")
	}
	if len(cfg.Teams) == 0 {
		cfg.Teams = []string{"red", "blue"}
	}
	if cfg.DecideEvery <= 0 {
		cfg.DecideEvery = defaultDecideEvery
	}
	report := Report{Started: time.Now()}
	client := &http.Client{Timeout: cfg.Timeout}

	l.Info(ctx, "starting kitchen bots",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("bots", cfg.Bots),
		logger.Any("teams", cfg.Teams))

	if err := checkHealth(ctx, client, cfg.BaseURL); err != nil {
		return report, fmt.Errorf("service health check failed: %w", err)
	}
	if cfg.StartMatch {
		id, err := startMatch(ctx, client, cfg.BaseURL, cfg.Level)
		if err != nil {
			return report, fmt.Errorf("start match: %w", err)
		}
		l.Info(ctx, "match started", logger.String("match_id", id))
	}

	endpoint, err := wsEndpoint(cfg.BaseURL)
	if err != nil {
		return report, err
	}

	names := Names(cfg.Bots, cfg.Seed)
	players := make([]*Bot, 0, cfg.Bots)
	clients := make([]*ws.Client, 0, cfg.Bots)
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()
	for i, name := range names {
		team := cfg.Teams[i%len(cfg.Teams)]
		c, err := ws.Dial(ctx, endpoint, name, team, l)
		if err != nil {
			return report, err
		}
		clients = append(clients, c)
		players = append(players, New(name, team, catalog, c,
			WithShare(i, cfg.Bots),
			WithRand(rand.New(rand.NewSource(cfg.Seed+int64(i)+1))), //nolint:gosec // gameplay randomness
			WithLogger(l),
		))
	}

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(playCtx)
	var over sync.Once
	for i, c := range clients {
		c, b := c, players[i]
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bot %s: %w", c.ID(), err)
			}
			return nil
		})
		g.Go(func() error {
			t := time.NewTicker(cfg.DecideEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
				}
				m := c.Mirror()
				if m.Synced() && m.Match().Phase == match.GameOver {
					over.Do(cancel)
					return nil
				}
				if err := b.Decide(gctx); err != nil {
					l.Debug(gctx, "bot decision failed", logger.Error(err))
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	report.Duration = time.Since(report.Started)
	if len(clients) > 0 {
		m := clients[0].Mirror()
		report.MatchID = m.MatchID()
		report.Scores = m.Match().Scores
	}
	for _, b := range players {
		br := BotReport{ID: b.ID(), Team: b.Team(), Stats: b.Stats()}
		if e, err := fetchRank(ctx, client, cfg.BaseURL, b.ID()); err == nil {
			br.Rank = &e
		} else {
			l.Warn(ctx, "rank lookup failed", logger.String("bot", b.ID()), logger.Error(err))
		}
		report.Bots = append(report.Bots, br)
	}

	if cfg.ReportFile != "" {
		if err := saveReport(cfg.ReportFile, report); err != nil {
			l.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}
	return report, nil
}

func wsEndpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func checkHealth(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

func startMatch(ctx context.Context, client *http.Client, base, level string) (string, error) {
	body, err := json.Marshal(map[string]string{"level": level})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/match", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out struct {
		MatchID string `json:"match_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.MatchID, nil
}

func fetchRank(ctx context.Context, client *http.Client, base, playerID string) (types.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/rank/"+url.PathEscape(playerID), nil)
	if err != nil {
		return types.Entry{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.Entry{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return types.Entry{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	var e types.Entry
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return types.Entry{}, fmt.Errorf("decode rank: %w", err)
	}
	return e, nil
}

func saveReport(path string, r Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, reportFilePermission)
}
