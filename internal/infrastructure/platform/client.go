// Package platform talks to the multisite platform that hosts tenant sites.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
	"github.com/aryan0dhankhar/sitefactory/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/sitefactory/internal/security/auth"
)

// APIError is a non-2xx answer from the platform
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("platform api %d: %s", e.Status, e.Message)
}

// Client is the HTTP implementation of domain.SitePlatform. Every call
// carries a freshly minted service token, and repeated server-side failures
// open the breaker so later calls fail fast.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *auth.ServiceTokens
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewClient builds a client for baseURL with an instrumented transport
func NewClient(baseURL string, tokens *auth.ServiceTokens, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := circuitbreaker.New(5, 2, 30*time.Second)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warn("platform circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens:  tokens,
		breaker: breaker,
		logger:  logger,
	}
}

type createSiteRequest struct {
	Slug        string            `json:"slug"`
	Title       string            `json:"title"`
	OwnerUserID int64             `json:"ownerUserId"`
	Blueprint   string            `json:"blueprint"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// CreateSite maps a 409 answer to domain.ErrSlugTaken
func (c *Client) CreateSite(ctx context.Context, spec domain.SiteSpec) (int64, error) {
	var out idResponse
	err := c.do(ctx, "site.create", 0, http.MethodPost, "/sites", createSiteRequest{
		Slug:        spec.Slug,
		Title:       spec.Title,
		OwnerUserID: spec.OwnerUserID,
		Blueprint:   spec.BlueprintID,
		Meta:        spec.Meta,
	}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return 0, fmt.Errorf("%w: %s", domain.ErrSlugTaken, spec.Slug)
		}
		return 0, err
	}
	return out.ID, nil
}

type pageRequest struct {
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Content   string `json:"content"`
	FrontPage bool   `json:"frontPage"`
}

func (c *Client) CreatePage(ctx context.Context, siteID int64, page domain.PageDescriptor) (int64, error) {
	var out idResponse
	err := c.do(ctx, "page.create", siteID, http.MethodPost, sitePath(siteID, "pages"), pageRequest{
		Title:     page.Title,
		Slug:      page.Slug,
		Content:   page.Content,
		FrontPage: page.IsFrontPage,
	}, &out)
	return out.ID, err
}

type menuItem struct {
	Title  string `json:"title"`
	PageID int64  `json:"pageId"`
}

type menuRequest struct {
	Name     string     `json:"name"`
	Location string     `json:"location"`
	Items    []menuItem `json:"items"`
}

func (c *Client) CreateMenu(ctx context.Context, siteID int64, name, location string, items []domain.MenuItem) (int64, error) {
	req := menuRequest{Name: name, Location: location, Items: make([]menuItem, 0, len(items))}
	for _, it := range items {
		req.Items = append(req.Items, menuItem{Title: it.Title, PageID: it.PageID})
	}
	var out idResponse
	err := c.do(ctx, "menu.create", siteID, http.MethodPost, sitePath(siteID, "menus"), req, &out)
	return out.ID, err
}

type settingsRequest struct {
	BlogName         string `json:"blogname,omitempty"`
	BlogDescription  string `json:"blogdescription,omitempty"`
	PermalinkPattern string `json:"permalinkStructure,omitempty"`
	FrontPageID      int64  `json:"pageOnFront,omitempty"`
	PrimaryMenuID    int64  `json:"primaryMenu,omitempty"`
}

func (c *Client) UpdateSettings(ctx context.Context, siteID int64, s domain.SiteSettings) error {
	return c.do(ctx, "settings.update", siteID, http.MethodPut, sitePath(siteID, "settings"), settingsRequest{
		BlogName:         s.BlogName,
		BlogDescription:  s.BlogDescription,
		PermalinkPattern: s.PermalinkPattern,
		FrontPageID:      s.FrontPageID,
		PrimaryMenuID:    s.PrimaryMenuID,
	}, nil)
}

type administratorRequest struct {
	AccountID    int64  `json:"accountId"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Role         string `json:"role"`
}

func (c *Client) AddAdministrator(ctx context.Context, siteID int64, user domain.PlatformUser) error {
	return c.do(ctx, "user.add", siteID, http.MethodPost, sitePath(siteID, "administrators"), administratorRequest{
		AccountID:    user.AccountID,
		Username:     user.Username,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		PasswordHash: user.PasswordHash,
		Role:         domain.RoleAdministrator,
	}, nil)
}

func (c *Client) RemoveUser(ctx context.Context, siteID, accountID int64) error {
	path := sitePath(siteID, "users/"+strconv.FormatInt(accountID, 10))
	return c.do(ctx, "user.remove", siteID, http.MethodDelete, path, nil, nil)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "health", 0, http.MethodGet, "/health", nil, nil)
}

func sitePath(siteID int64, rest string) string {
	return "/sites/" + strconv.FormatInt(siteID, 10) + "/" + rest
}

func (c *Client) do(ctx context.Context, action string, siteID int64, method, path string, body, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%s: %w", action, circuitbreaker.ErrOpen)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", action, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	token, err := c.tokens.Mint(action, siteID)
	if err != nil {
		return fmt.Errorf("mint service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.Failure()
	} else {
		c.breaker.Success()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code, apiErr.Message = payload.Code, payload.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("platform call rejected",
			slog.String("action", action),
			slog.Int64("site_id", siteID),
			slog.Int("status", resp.StatusCode),
			slog.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}
