// Package client talks to the dues server. It owns the session, the ledger
// cache and the notice and confirmation flows a front end drives.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/cpvl/dues-server/internal/utils"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Client is a typed REST client for the dues API
type Client struct {
	baseURL     string
	httpClient  *http.Client
	session     *Session
	logger      *utils.Logger
	onForbidden func()
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *utils.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithForbiddenHandler sets the hook run on every 403, typically a redirect
// to the public landing page.
func WithForbiddenHandler(fn func()) Option {
	return func(c *Client) { c.onForbidden = fn }
}

func New(baseURL string, session *Session, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		session:    session,
		logger:     utils.NewNopLogger(),
	}
	if c.session == nil {
		c.session = NewSession()
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("client")
	return c
}

func (c *Client) Session() *Session {
	return c.session
}

// Login authenticates and stores the token in the session
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, models.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.session.Set(resp.Token, models.Actor{UserID: resp.UserID, PilotID: resp.PilotID, Role: resp.Role})
	return &resp, nil
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Pilot(ctx context.Context, pilotID int64) (*models.User, error) {
	if pilotID <= 0 {
		return nil, ErrInvalidPilot
	}
	var user models.User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/pilots/%d", pilotID), nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) ListPayments(ctx context.Context, pilotID int64, filter ledger.YearFilter) ([]ledger.Entry, error) {
	if pilotID <= 0 {
		return nil, ErrInvalidPilot
	}
	var entries []ledger.Entry
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d", pilotID), yearQuery(filter), nil, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) PixQuote(ctx context.Context, pilotID int64, plan ledger.PlanType, filter ledger.YearFilter) (*models.PixQuoteResponse, error) {
	q := yearQuery(filter)
	q.Set("plan", string(plan))
	var quote models.PixQuoteResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/pix", pilotID), q, nil, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (c *Client) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*ledger.Entry, error) {
	var resp models.PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/paymentMonthly", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, req models.PaymentKeyRequest) (*ledger.Entry, error) {
	var resp models.PaymentResponse
	if err := c.do(ctx, http.MethodPatch, "/paymentMonthly/confirmPayment", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *Client) ConfirmPaymentBatch(ctx context.Context, keys []models.PaymentKeyRequest) ([]ledger.Entry, error) {
	var resp models.ConfirmBatchResponse
	err := c.do(ctx, http.MethodPatch, "/paymentMonthly/confirmPaymentBatch", nil, models.ConfirmBatchRequest{Payments: keys}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Payments, nil
}

func (c *Client) DeletePayment(ctx context.Context, pilotID int64, key ledger.Key) error {
	path := fmt.Sprintf("/paymentMonthly/%d/%d/%d", pilotID, key.Year, key.Month)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// PurgePayments removes the pilot's entries in status, the cleanup for
// notices that stopped midway.
func (c *Client) PurgePayments(ctx context.Context, pilotID int64, status ledger.Status) (int64, error) {
	q := url.Values{}
	q.Set("status", status.String())
	var resp models.PurgeResponse
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/paymentMonthly/%d", pilotID), q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func yearQuery(filter ledger.YearFilter) url.Values {
	q := url.Values{}
	q.Set("year", filter.String())
	return q
}

// do performs one request. out receives the payload after unwrapping an
// optional {"data": ...} envelope.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if superseded(ctx) {
			return ErrSuperseded
		}
		return fmt.Errorf("error calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if superseded(ctx) {
			return ErrSuperseded
		}
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, raw)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			c.session.Invalidate()
		case http.StatusForbidden:
			if c.onForbidden != nil {
				c.onForbidden()
			}
		}
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := unwrapEnvelope(raw, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func newAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var body models.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// unwrapEnvelope accepts both {"data": X} and a bare X
func unwrapEnvelope(raw []byte, out interface{}) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if data, ok := envelope["data"]; ok {
			return json.Unmarshal(data, out)
		}
	}
	return json.Unmarshal(raw, out)
}

// ignoreSuperseded drops ErrSuperseded
func ignoreSuperseded(err error) error {
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}
