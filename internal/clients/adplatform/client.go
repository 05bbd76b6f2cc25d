package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yungbote/adpilot-backend/internal/pkg/httpx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

// Mutation is one externally visible change to an ad.
type Mutation struct {
	TenantID       string              `json:"tenant_id"`
	CampaignID     string              `json:"campaign_id"`
	AdID           string              `json:"ad_id"`
	Action         string              `json:"action"`
	Budget         decimal.NullDecimal `json:"budget"`
	IdempotencyKey string              `json:"-"`
}

type Response struct {
	RequestID string         `json:"request_id,omitempty"`
	Status    string         `json:"status"`
	Body      map[string]any `json:"body,omitempty"`
}

// Client is the single mutation seam to the ad platform.
type Client interface {
	Apply(ctx context.Context, m Mutation) (Response, error)
}

type dryRunClient struct {
	log *logger.Logger
}

// NewDryRun returns a client that logs mutations and reports success.
func NewDryRun(baseLog *logger.Logger) Client {
	return &dryRunClient{log: baseLog.With("client", "AdPlatformDryRun")}
}

func (c *dryRunClient) Apply(ctx context.Context, m Mutation) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, &Error{Kind: ErrorTransient, Action: m.Action, Cause: err}
	}
	c.log.Info("Dry-run platform mutation",
		"ad_id", m.AdID,
		"action", m.Action,
		"budget", m.Budget.Decimal.String(),
		"idempotency_key", m.IdempotencyKey,
	)
	return Response{Status: "dry_run", RequestID: m.IdempotencyKey}, nil
}

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	log     *logger.Logger
	base    *url.URL
	apiKey  string
	httpCli *http.Client
}

// NewHTTP returns a JSON client posting to {BaseURL}/ads/{ad_id}/{action}.
func NewHTTP(baseLog *logger.Logger, cfg HTTPConfig) (Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("ad platform base url required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ad platform base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		log:     baseLog.With("client", "AdPlatformHTTP"),
		base:    u,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpCli: &http.Client{Timeout: timeout},
	}, nil
}

type mutationBody struct {
	TenantID   string  `json:"tenant_id"`
	CampaignID string  `json:"campaign_id"`
	Budget     *string `json:"daily_budget,omitempty"`
}

func (c *httpClient) Apply(ctx context.Context, m Mutation) (Response, error) {
	body := mutationBody{TenantID: m.TenantID, CampaignID: m.CampaignID}
	if m.Budget.Valid {
		s := m.Budget.Decimal.StringFixed(2)
		body.Budget = &s
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, &Error{Kind: ErrorInvalid, Action: m.Action, Message: "encode request", Cause: err}
	}
	endpoint := c.base.JoinPath("ads", m.AdID, m.Action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return Response{}, &Error{Kind: ErrorInvalid, Action: m.Action, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if m.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", m.IdempotencyKey)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		kind := ErrorInvalid
		if httpx.IsTransportError(err) {
			kind = ErrorTransient
		}
		return Response{}, &Error{Kind: kind, Action: m.Action, Cause: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			Action:     m.Action,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}
	out := Response{Status: "ok", RequestID: resp.Header.Get("X-Request-Id")}
	if len(bytes.TrimSpace(raw)) > 0 {
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			c.log.Warn("Platform returned a non-JSON success body", "ad_id", m.AdID, "status", resp.StatusCode)
		} else {
			out.Body = decoded
		}
	}
	return out, nil
}

func classifyStatus(code int) ErrorKind {
	switch {
	case httpx.IsAuthStatus(code):
		return ErrorUnauthorized
	case httpx.IsRetryableHTTPStatus(code):
		return ErrorTransient
	default:
		return ErrorInvalid
	}
}
