// Package stripe is a thin client for the card processor's REST API. Only
// the endpoints the billing core drives are covered: customers, manual
// capture payment intents, refunds and direct charges.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/StoriqaTeam/billing-sub000/internal/config"
	"github.com/StoriqaTeam/billing-sub000/internal/model"
	"github.com/StoriqaTeam/billing-sub000/pkg/errs"
)

const apiBase = "https://api.stripe.com/v1"

// Customer is the processor-side payment profile of a user.
type Customer struct {
	ID    string  `json:"id"`
	Email *string `json:"email"`
}

// PaymentIntent is the processor's intent object.
type PaymentIntent struct {
	ID               string           `json:"id"`
	Amount           int64            `json:"amount"`
	AmountCapturable int64            `json:"amount_capturable"`
	AmountReceived   int64            `json:"amount_received"`
	Currency         string           `json:"currency"`
	Status           string           `json:"status"`
	ClientSecret     *string          `json:"client_secret"`
	Charges          chargeList       `json:"charges"`
	LastPaymentError *lastErrorObject `json:"last_payment_error"`
}

type chargeList struct {
	Data []Charge `json:"data"`
}

type lastErrorObject struct {
	Message string `json:"message"`
}

// ChargeID returns the id of the intent's first charge, if one exists.
func (pi PaymentIntent) ChargeID() *string {
	if len(pi.Charges.Data) == 0 {
		return nil
	}
	return &pi.Charges.Data[0].ID
}

// LastErrorMessage returns the intent's last payment failure message, if any.
func (pi PaymentIntent) LastErrorMessage() *string {
	if pi.LastPaymentError == nil {
		return nil
	}
	return &pi.LastPaymentError.Message
}

// Charge is a settled card charge.
type Charge struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Paid     bool   `json:"paid"`
}

// Refund is a processor refund object.
type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// Client is the card processor surface the billing core uses.
type Client interface {
	CreateCustomerWithSource(ctx context.Context, userID int64, email *string, cardToken string) (Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	CreatePaymentIntent(ctx context.Context, amount model.Amount, currency model.Currency) (PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, intentID string, amount model.Amount) (PaymentIntent, error)
	RefundCharge(ctx context.Context, chargeID string, amount model.Amount) (Refund, error)
	CreateCharge(ctx context.Context, customerID string, amount model.Amount, currency model.Currency, description string) (Charge, error)
}

type httpClient struct {
	secretKey string
	http      *http.Client
	log       *logrus.Entry
}

// NewHTTPClient builds a processor client from the configured secret key.
func NewHTTPClient(cfg config.Config, log *logrus.Logger) Client {
	return &httpClient{
		secretKey: cfg.Stripe.SecretKey,
		http:      &http.Client{Timeout: cfg.HTTPTimeout()},
		log:       log.WithField("component", "stripe_client"),
	}
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Internal(err, "build card processor request")
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, path, out)
}

func (c *httpClient) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiBase+path, nil)
	if err != nil {
		return errs.Internal(err, "build card processor request")
	}
	req.SetBasicAuth(c.secretKey, "")
	return c.send(req, path, nil)
}

func (c *httpClient) send(req *http.Request, path string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.TransientExternal(err, "card processor unreachable")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.TransientExternal(err, "read card processor response")
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		c.log.WithFields(logrus.Fields{
			"path":   path,
			"status": resp.StatusCode,
			"code":   apiErr.Error.Code,
		}).Warn("card processor rejected request")
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return errs.TransientExternal(
				fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message),
				"card processor error")
		}
		return errs.Newf(errs.KindInternal, "card processor rejected %s: %s (%s)",
			path, apiErr.Error.Message, apiErr.Error.Code)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Internal(err, "decode card processor response")
	}
	return nil
}

// minorUnits converts an Amount into the processor's int64 minor-unit
// representation. Card currencies have exponent 2, so values always fit.
func minorUnits(amount model.Amount) (int64, error) {
	units, ok := amount.Int64()
	if !ok {
		return 0, errs.New(errs.KindValidation, "amount exceeds card processor range")
	}
	return units, nil
}

func (c *httpClient) CreateCustomerWithSource(ctx context.Context, userID int64, email *string, cardToken string) (Customer, error) {
	form := url.Values{}
	form.Set("source", cardToken)
	form.Set("metadata[user_id]", fmt.Sprint(userID))
	if email != nil {
		form.Set("email", *email)
	}
	var customer Customer
	err := c.post(ctx, "/customers", form, &customer)
	return customer, err
}

func (c *httpClient) DeleteCustomer(ctx context.Context, customerID string) error {
	return c.delete(ctx, "/customers/"+customerID)
}

func (c *httpClient) CreatePaymentIntent(ctx context.Context, amount model.Amount, currency model.Currency) (PaymentIntent, error) {
	units, err := minorUnits(amount)
	if err != nil {
		return PaymentIntent{}, err
	}
	form := url.Values{}
	form.Set("amount", fmt.Sprint(units))
	form.Set("currency", currency.String())
	form.Set("capture_method", "manual")
	var intent PaymentIntent
	err = c.post(ctx, "/payment_intents", form, &intent)
	return intent, err
}

func (c *httpClient) CapturePaymentIntent(ctx context.Context, intentID string, amount model.Amount) (PaymentIntent, error) {
	units, err := minorUnits(amount)
	if err != nil {
		return PaymentIntent{}, err
	}
	form := url.Values{}
	form.Set("amount_to_capture", fmt.Sprint(units))
	var intent PaymentIntent
	err = c.post(ctx, "/payment_intents/"+intentID+"/capture", form, &intent)
	return intent, err
}

func (c *httpClient) RefundCharge(ctx context.Context, chargeID string, amount model.Amount) (Refund, error) {
	units, err := minorUnits(amount)
	if err != nil {
		return Refund{}, err
	}
	form := url.Values{}
	form.Set("charge", chargeID)
	form.Set("amount", fmt.Sprint(units))
	var refund Refund
	err = c.post(ctx, "/refunds", form, &refund)
	return refund, err
}

func (c *httpClient) CreateCharge(ctx context.Context, customerID string, amount model.Amount, currency model.Currency, description string) (Charge, error) {
	units, err := minorUnits(amount)
	if err != nil {
		return Charge{}, err
	}
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("amount", fmt.Sprint(units))
	form.Set("currency", currency.String())
	form.Set("description", description)
	var charge Charge
	err = c.post(ctx, "/charges", form, &charge)
	return charge, err
}
