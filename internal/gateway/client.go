package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Config is everything the client needs to talk to the processor. Nothing is
// read from the environment at call time.
type Config struct {
	BaseURL       string
	Path          string
	MerchantID    string
	APIKey        string
	SigningSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Now           func() time.Time
	NewRequestID  func() string
}

// Validate checks the required processor settings.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.MerchantID, validation.Required),
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.SigningSecret, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// Client sends signed envelopes to the processor.
type Client struct {
	endpoint    string
	credentials MerchantCredentials
	secret      []byte
	timeout     time.Duration
	http        *http.Client
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway config: %w", err)
	}
	path := cfg.Path
	if path == "" {
		path = "/api/v1/payments"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewRequestID
	if newID == nil {
		newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		credentials: MerchantCredentials{
			MerchantID: cfg.MerchantID,
			APIKey:     cfg.APIKey,
		},
		secret:  []byte(cfg.SigningSecret),
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  logger,
		now:     now,
		newID:   newID,
	}, nil
}

// Authorize places a hold on the payer account.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	return c.do(ctx, OpAuthorize, authorizeParams{
		PayerAccount: req.PayerAccount,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ReferenceID:  req.ReferenceID,
		Description:  req.Description,
	})
}

// Commit turns a hold into a charge.
func (c *Client) Commit(ctx context.Context, gatewayTransactionID, description string) (Result, error) {
	return c.do(ctx, OpCommit, settleParams{GatewayTransactionID: gatewayTransactionID, Description: description})
}

// Cancel releases a hold.
func (c *Client) Cancel(ctx context.Context, gatewayTransactionID, description string) (Result, error) {
	return c.do(ctx, OpCancel, settleParams{GatewayTransactionID: gatewayTransactionID, Description: description})
}

func (c *Client) do(ctx context.Context, op Operation, params any) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	env := Envelope{
		RequestID:           c.newID(),
		Timestamp:           c.now().UTC(),
		Operation:           op,
		MerchantCredentials: c.credentials,
		OperationParams:     params,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s envelope: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &TransportError{Op: op, Kind: KindNetwork, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.credentials.APIKey)
	httpReq.Header.Set(SignatureHeader, Sign(c.secret, body))

	start := c.now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, c.transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, c.transportError(op, err)
	}

	result, err := Normalize(raw)
	if err != nil {
		kind := KindMalformed
		if resp.StatusCode >= 300 {
			kind = KindHTTPStatus
		}
		c.logger.Warn("gateway.response.unparsable",
			zap.String("operation", string(op)),
			zap.String("request_id", env.RequestID),
			zap.Int("http_status", resp.StatusCode),
			zap.String("body", snippet(raw)),
		)
		return Result{}, &TransportError{Op: op, Kind: kind, StatusCode: resp.StatusCode, Body: snippet(raw), Err: err}
	}

	c.logger.Debug("gateway.call.completed",
		zap.String("operation", string(op)),
		zap.String("request_id", env.RequestID),
		zap.Int("http_status", resp.StatusCode),
		zap.String("response_code", string(result.ResponseCode)),
		zap.Bool("success", result.Success),
		zap.Duration("duration", c.now().Sub(start)),
	)
	return result, nil
}

func (c *Client) transportError(op Operation, err error) error {
	kind := KindNetwork
	if IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &TransportError{Op: op, Kind: kind, Err: err}
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
