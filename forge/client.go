package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("forge")

// Client is the subset of the forge API needed for moderation.
type Client interface {
	ListAccounts(ctx context.Context, sort Sort, page, limit int) ([]Account, error)
	BanAccount(ctx context.Context, username string, action BanAction) error
	IsFeedEmpty(ctx context.Context, username string) (bool, error)
	IsTokensEmpty(ctx context.Context, username string) (bool, error)
	IsAppsEmpty(ctx context.Context, username string) (bool, error)
}

// StatusError is returned when the forge answers with a non-2xx status code.
type StatusError struct {
	Code     int
	Method   string
	Endpoint string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("forge API %s %s: status code %d", e.Method, e.Endpoint, e.Code)
}

// APIClient talks to a Forgejo (or Gitea) instance over HTTP.
//
// The token needs `read:admin` to list accounts, `write:admin` to ban them, and `read:user` for
// the activity checks.
type APIClient struct {
	// Base URL of the instance, eg https://codeberg.example
	Host   string
	Token  string
	Client *http.Client
	// Optional client-side limiter, applied to every request
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

var _ Client = (*APIClient)(nil)

func NewAPIClient(host, token string, client *http.Client) *APIClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIClient{
		Host:   strings.TrimSuffix(host, "/"),
		Token:  token,
		Client: client,
		Logger: slog.Default().With("component", "forge"),
	}
}

func (c *APIClient) do(ctx context.Context, method, endpoint string, params url.Values, body any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "forge."+method)
	defer span.End()
	span.SetAttributes(attribute.String("endpoint", endpoint))

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.Host + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building forge request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending forge request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Method: method, Endpoint: endpoint}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading forge response: %w", err)
	}
	return raw, nil
}

type listParams struct {
	Limit int  `url:"limit"`
	Page  int  `url:"page"`
	Sort  Sort `url:"sort"`
}

func (c *APIClient) ListAccounts(ctx context.Context, sort Sort, page, limit int) ([]Account, error) {
	params, err := query.Values(listParams{Limit: limit, Page: page, Sort: sort})
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, http.MethodGet, "/api/v1/admin/users", params, nil)
	if err != nil {
		return nil, err
	}

	var out []Account
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding account list: %w", err)
	}
	c.Logger.Debug("listed accounts", "sort", sort, "page", page, "count", len(out))
	return out, nil
}

type suspendBody struct {
	LoginName     string `json:"login_name"`
	SourceID      int64  `json:"source_id"`
	ProhibitLogin bool   `json:"prohibit_login"`
}

func (c *APIClient) BanAccount(ctx context.Context, username string, action BanAction) error {
	endpoint := "/api/v1/admin/users/" + url.PathEscape(username)
	var err error
	switch action {
	case BanPurge:
		params := url.Values{}
		params.Set("purge", "true")
		_, err = c.do(ctx, http.MethodDelete, endpoint, params, nil)
	case BanSuspend:
		_, err = c.do(ctx, http.MethodPatch, endpoint, nil, suspendBody{
			LoginName:     username,
			ProhibitLogin: true,
		})
	default:
		return fmt.Errorf("unknown ban action %q", action)
	}
	if err != nil {
		return fmt.Errorf("banning @%s: %w", username, err)
	}
	return nil
}

func (c *APIClient) IsFeedEmpty(ctx context.Context, username string) (bool, error) {
	params := url.Values{}
	params.Set("limit", "1")
	return c.isEmptyList(ctx, "/api/v1/users/"+url.PathEscape(username)+"/activities/feeds", params)
}

func (c *APIClient) IsTokensEmpty(ctx context.Context, username string) (bool, error) {
	return c.isEmptyList(ctx, "/api/v1/users/"+url.PathEscape(username)+"/tokens", nil)
}

func (c *APIClient) IsAppsEmpty(ctx context.Context, username string) (bool, error) {
	params := url.Values{}
	params.Set("sudo", username)
	return c.isEmptyList(ctx, "/api/v1/user/applications/oauth2", params)
}

func (c *APIClient) isEmptyList(ctx context.Context, endpoint string, params url.Values) (bool, error) {
	raw, err := c.do(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return false, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return false, fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return len(items) == 0, nil
}

// IsStatus reports whether err carries the given forge HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
