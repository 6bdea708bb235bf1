// Package ledger reads the crawl work list from a Bitable-style records API:
// tenant authentication, paginated listing, and cell decoding into target
// records the crawler consumes.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/clipmetrics/viewtracker/internal/crawler"
)

// Field names of the columns the crawler reads from the ledger table.
const (
	FieldLink        = "Link"
	FieldViews       = "Current Views"
	FieldBaseline    = "24h Baseline"
	FieldPublishDate = "Published Date"
)

// Config identifies the ledger app and table.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	TableID   string
	PageSize  int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 || c.PageSize > 500 {
		c.PageSize = 100
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client talks to the ledger REST API. Safe for sequential use only.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	token       string
	tokenExpiry time.Time
}

// NewClient builds a ledger client; authentication happens lazily.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

type tokenResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Token  string `json:"tenant_access_token"`
	Expire int    `json:"expire"`
}

// tenantToken returns a cached tenant access token, refreshing it a minute
// before expiry.
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/auth/v3/tenant_access_token/internal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request tenant token: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Code != 0 {
		return "", fmt.Errorf("tenant token rejected: code %d: %s", tr.Code, tr.Msg)
	}

	c.token = tr.Token
	c.tokenExpiry = c.now().Add(time.Duration(tr.Expire)*time.Second - time.Minute)
	return c.token, nil
}

// RawRecord is one ledger row before field decoding.
type RawRecord struct {
	RecordID string                     `json:"record_id"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

type listResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		HasMore   bool        `json:"has_more"`
		PageToken string      `json:"page_token"`
		Items     []RawRecord `json:"items"`
	} `json:"data"`
}

// Records lists every row of the table, following pagination to the end.
func (c *Client) Records(ctx context.Context) ([]RawRecord, error) {
	var all []RawRecord
	pageToken := ""
	for {
		page, err := c.listPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data.Items...)
		if !page.Data.HasMore || page.Data.PageToken == "" {
			break
		}
		pageToken = page.Data.PageToken
	}
	c.logger.Info("ledger records fetched", zap.Int("count", len(all)))
	return all, nil
}

func (c *Client) listPage(ctx context.Context, pageToken string) (*listResponse, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bitable/v1/apps/%s/tables/%s/records",
		c.cfg.BaseURL, c.cfg.AppToken, c.cfg.TableID)
	q := url.Values{}
	q.Set("page_size", fmt.Sprint(c.cfg.PageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list records: unexpected status %d", resp.StatusCode)
	}
	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	if lr.Code != 0 {
		return nil, fmt.Errorf("list records rejected: code %d: %s", lr.Code, lr.Msg)
	}
	return &lr, nil
}

// Targets fetches the table and decodes it into crawl targets. Rows without a
// link are skipped; a malformed cell skips its row with a warning rather than
// failing the batch.
func (c *Client) Targets(ctx context.Context) ([]crawler.TargetRecord, error) {
	records, err := c.Records(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeTargets(records, c.logger), nil
}

// DecodeTargets converts raw ledger rows into crawl targets.
func DecodeTargets(records []RawRecord, logger *zap.Logger) []crawler.TargetRecord {
	if logger == nil {
		logger = zap.NewNop()
	}
	targets := make([]crawler.TargetRecord, 0, len(records))
	for _, rec := range records {
		link, err := DecodeLink(rec.Fields[FieldLink])
		if err != nil {
			logger.Warn("skipping ledger row with bad link cell",
				zap.String("record_id", rec.RecordID),
				zap.Error(err),
			)
			continue
		}
		if link == "" {
			continue
		}

		target := crawler.TargetRecord{RecordID: rec.RecordID, URL: link}

		if v, err := DecodeNumber(rec.Fields[FieldViews]); err == nil {
			target.ExistingViews = v
		} else {
			logger.Warn("ignoring bad views cell", zap.String("record_id", rec.RecordID), zap.Error(err))
		}
		if v, err := DecodeNumber(rec.Fields[FieldBaseline]); err == nil {
			target.ExistingBaselineViews = v
		} else {
			logger.Warn("ignoring bad baseline cell", zap.String("record_id", rec.RecordID), zap.Error(err))
		}
		if d, err := DecodeDate(rec.Fields[FieldPublishDate]); err == nil {
			target.ExistingPublishDate = d
		} else {
			logger.Warn("ignoring bad date cell", zap.String("record_id", rec.RecordID), zap.Error(err))
		}

		targets = append(targets, target)
	}
	return targets
}
