// Package mailinglist keeps the newsletter audience in step with membership:
// members join on activation and leave on expiry.
package mailinglist

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

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/membership/pkg/config"
)

type Client interface {
	Subscribe(ctx context.Context, listID, email, name string) error
	Unsubscribe(ctx context.Context, listID, email string) error
}

// HTTPClient talks to a list provider's JSON API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(cfg config.MailingList, hc *http.Client) *HTTPClient {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: strings.TrimRight(cfg.BaseURL, "/"), apiKey: cfg.APIKey, http: hc}
}

type memberRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
}

func (c *HTTPClient) Subscribe(ctx context.Context, listID, email, name string) error {
	body, err := json.Marshal(memberRequest{Email: email, Name: name, Status: "subscribed"})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.membersURL(listID), body, http.StatusOK, http.StatusCreated, http.StatusConflict)
}

func (c *HTTPClient) Unsubscribe(ctx context.Context, listID, email string) error {
	return c.do(ctx, http.MethodDelete, c.membersURL(listID)+"/"+url.PathEscape(email), nil,
		http.StatusOK, http.StatusNoContent, http.StatusNotFound)
}

func (c *HTTPClient) membersURL(listID string) string {
	return c.baseURL + "/lists/" + url.PathEscape(listID) + "/members"
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body []byte, ok ...int) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailing list %s: %w", method, err)
	}
	defer resp.Body.Close()
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("mailing list %s %s: status %d: %s", method, u, resp.StatusCode, strings.TrimSpace(string(msg)))
}

// Noop is used when no provider is configured.
type Noop struct{}

func (Noop) Subscribe(context.Context, string, string, string) error { return nil }
func (Noop) Unsubscribe(context.Context, string, string) error       { return nil }

func newClient(cfg *config.Config, log *zap.SugaredLogger) Client {
	if cfg.MailingList.BaseURL == "" || cfg.Membership.MailingListID == "" {
		log.Infow("mailing list sync disabled")
		return Noop{}
	}
	return NewHTTPClient(cfg.MailingList, nil)
}

var Module = fx.Options(
	fx.Provide(newClient),
)
