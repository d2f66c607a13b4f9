package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

// httpClient is the production gateway client. Requests are authenticated
// with the service account's bearer token plus a short-lived request token
// signed with the service's private key.
type httpClient struct {
	baseURL    string
	userJWT    string
	signingKey []byte
	deviceID   string
	retries    int
	http       *http.Client
	log        *logrus.Entry
}

// NewHTTPClient builds a gateway client from the payments configuration.
func NewHTTPClient(cfg config.Config, log *logrus.Logger) Client {
	return &httpClient{
		baseURL:    cfg.Payments.URL,
		userJWT:    cfg.Payments.UserJWT,
		signingKey: []byte(cfg.Payments.UserPrivateKey),
		deviceID:   cfg.Payments.DeviceID,
		retries:    cfg.Client.HTTPClientRetries,
		http:       &http.Client{Timeout: cfg.HTTPTimeout()},
		log:        log.WithField("component", "payments_client"),
	}
}

// requestToken mints the per-request signature token the gateway verifies
// against the service's registered key.
func (c *httpClient) requestToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"device_id": c.deviceID,
		"iat":       now.Unix(),
		"exp":       now.Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", errs.Internal(err, "sign gateway request token")
	}
	return signed, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errs.Internal(err, "encode gateway request")
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errs.TransientExternal(ctx.Err(), "payments gateway request canceled")
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		lastErr = c.doOnce(ctx, method, path, payload, out)
		if lastErr == nil || !errs.IsTransient(lastErr) {
			return lastErr
		}
		c.log.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt + 1,
		}).WithError(lastErr).Warn("payments gateway call failed, retrying")
	}
	return lastErr
}

func (c *httpClient) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.Internal(err, "build gateway request")
	}
	sign, err := c.requestToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.userJWT)
	req.Header.Set("Sign", sign)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.TransientExternal(err, "payments gateway unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.TransientExternal(err, "read payments gateway response")
	}
	switch {
	case resp.StatusCode >= 500:
		return errs.TransientExternal(
			fmt.Errorf("status %d: %s", resp.StatusCode, raw), "payments gateway error")
	case resp.StatusCode >= 400:
		return errs.Newf(errs.KindInternal, "payments gateway rejected %s %s: status %d: %s",
			method, path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Internal(err, "decode payments gateway response")
	}
	return nil
}

func (c *httpClient) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	var account Account
	err := c.do(ctx, http.MethodPost, "/v1/accounts", input, &account)
	return account, err
}

func (c *httpClient) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/accounts/"+id.String(), nil, nil)
}

func (c *httpClient) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	var account Account
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+id.String(), nil, &account)
	return account, err
}

func (c *httpClient) AccountByAddress(ctx context.Context, currency model.Currency, address string) (Account, error) {
	var account Account
	path := fmt.Sprintf("/v1/accounts/by_address/%s?currency=%s", address, currency)
	err := c.do(ctx, http.MethodGet, path, nil, &account)
	return account, err
}

func (c *httpClient) GetFees(ctx context.Context, currency model.Currency) ([]Fee, error) {
	var fees []Fee
	err := c.do(ctx, http.MethodGet, "/v1/fees?currency="+currency.String(), nil, &fees)
	return fees, err
}

func (c *httpClient) Withdraw(ctx context.Context, input WithdrawInput) error {
	return c.do(ctx, http.MethodPost, "/v1/transactions/withdraw", input, nil)
}

func (c *httpClient) GetRate(ctx context.Context, input GetRateInput) (Rate, error) {
	var rate Rate
	err := c.do(ctx, http.MethodPost, "/v1/rate", input, &rate)
	return rate, err
}

func (c *httpClient) RefreshRate(ctx context.Context, rateID uuid.UUID) (Rate, error) {
	var rate Rate
	err := c.do(ctx, http.MethodPost, "/v1/rate/refresh", map[string]string{"rate_id": rateID.String()}, &rate)
	return rate, err
}

func (c *httpClient) CreateInternalTransfer(ctx context.Context, input TransferInput) error {
	return c.do(ctx, http.MethodPost, "/v1/transactions", input, nil)
}
