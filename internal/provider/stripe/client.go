// Package stripe реализует domain.PaymentProvider поверх REST API Stripe.
package stripe

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultBaseURL = "https://api.stripe.com"

// Options настраивают клиент Stripe.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	SuccessURL string
	CancelURL  string
}

// Option изменяет Options.
type Option func(*Options)

// WithBaseURL переопределяет адрес API (используется в тестах).
func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

// WithTimeout задаёт таймаут HTTP-запросов.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRedirectURLs задаёт адреса возврата покупателя после оплаты.
func WithRedirectURLs(successURL, cancelURL string) Option {
	return func(o *Options) {
		o.SuccessURL = successURL
		o.CancelURL = cancelURL
	}
}

// Client — HTTP-клиент Stripe API.
type Client struct {
	http       *resty.Client
	successURL string
	cancelURL  string
	log        *log.Entry
}

// New создаёт клиент Stripe с секретным ключом аккаунта.
func New(secretKey string, opts ...Option) *Client {
	options := Options{
		BaseURL: defaultBaseURL,
		Timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	httpClient := resty.New().
		SetBaseURL(options.BaseURL).
		SetTimeout(options.Timeout).
		SetAuthToken(secretKey).
		SetHeader("Stripe-Version", "2024-06-20")

	return &Client{
		http:       httpClient,
		successURL: options.SuccessURL,
		cancelURL:  options.CancelURL,
		log:        log.WithField("component", "stripe_client"),
	}
}

type intentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type sessionResponse struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateIntent(req domain.IntentRequest) (domain.Intent, error) {
	var (
		out    intentResponse
		outErr errorResponse
	)
	resp, err := c.http.R().
		SetFormData(map[string]string{
			"amount":               strconv.FormatInt(req.AmountCents, 10),
			"currency":             req.Currency,
			"metadata[order_id]":   req.OrderID,
			"metadata[payment_id]": req.PaymentID,
		}).
		SetResult(&out).
		SetError(&outErr).
		Post("/v1/payment_intents")
	if err != nil {
		return domain.Intent{}, fmt.Errorf("%w: create intent: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return domain.Intent{}, apiError(resp, outErr, "create intent")
	}

	c.log.WithField("intent_id", out.ID).Debug("payment intent created")
	return domain.Intent{ID: out.ID, Status: out.Status}, nil
}

func (c *Client) CreateSession(req domain.SessionRequest) (domain.Session, error) {
	form := map[string]string{
		"mode":                 "payment",
		"success_url":          c.successURL,
		"cancel_url":           c.cancelURL,
		"metadata[order_id]":   req.OrderID,
		"metadata[payment_id]": req.PaymentID,
	}
	if req.CustomerEmail != "" {
		form["customer_email"] = req.CustomerEmail
	}
	if req.IntentID != "" {
		form["payment_intent"] = req.IntentID
	} else {
		form["payment_intent_data[metadata][order_id]"] = req.OrderID
		form["payment_intent_data[metadata][payment_id]"] = req.PaymentID
	}
	for i, item := range req.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form[prefix+"[quantity]"] = strconv.FormatInt(int64(item.Quantity), 10)
		form[prefix+"[price_data][currency]"] = req.Currency
		form[prefix+"[price_data][unit_amount]"] = strconv.FormatInt(item.PriceCents, 10)
		form[prefix+"[price_data][product_data][name]"] = item.Name
	}

	var (
		out    sessionResponse
		outErr errorResponse
	)
	resp, err := c.http.R().
		SetFormData(form).
		SetResult(&out).
		SetError(&outErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: create session: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return domain.Session{}, apiError(resp, outErr, "create session")
	}

	c.log.WithField("session_id", out.ID).Debug("checkout session created")
	return domain.Session{ID: out.ID, URL: out.URL, IntentID: out.PaymentIntent}, nil
}

func (c *Client) RetrieveSession(id string) (domain.Session, error) {
	var (
		out    sessionResponse
		outErr errorResponse
	)
	resp, err := c.http.R().
		SetResult(&out).
		SetError(&outErr).
		Get("/v1/checkout/sessions/" + id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: retrieve session: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return domain.Session{}, apiError(resp, outErr, "retrieve session")
	}
	return domain.Session{ID: out.ID, URL: out.URL, IntentID: out.PaymentIntent}, nil
}

func (c *Client) CancelIntent(id string) error {
	var outErr errorResponse
	resp, err := c.http.R().
		SetError(&outErr).
		Post("/v1/payment_intents/" + id + "/cancel")
	if err != nil {
		return fmt.Errorf("%w: cancel intent: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return apiError(resp, outErr, "cancel intent")
	}

	c.log.WithField("intent_id", id).Debug("payment intent canceled")
	return nil
}

func (c *Client) RetrieveIntent(id string) (domain.Intent, error) {
	var (
		out    intentResponse
		outErr errorResponse
	)
	resp, err := c.http.R().
		SetResult(&out).
		SetError(&outErr).
		Get("/v1/payment_intents/" + id)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("%w: retrieve intent: %v", domain.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return domain.Intent{}, apiError(resp, outErr, "retrieve intent")
	}
	return domain.Intent{ID: out.ID, Status: out.Status}, nil
}

// apiError превращает ответ с ошибкой Stripe в error. Ответы 5xx и 429
// считаются временной недоступностью провайдера.
func apiError(resp *resty.Response, body errorResponse, op string) error {
	msg := body.Error.Message
	if msg == "" {
		msg = resp.Status()
	}
	code := resp.StatusCode()
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: %s", domain.ErrProviderUnavailable, op, msg)
	}
	return fmt.Errorf("stripe: %s: %s", op, msg)
}

var _ domain.PaymentProvider = (*Client)(nil)
