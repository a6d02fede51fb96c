package gateway

import "time"

// Operation names one of the three processor calls.
type Operation string

const (
	OpAuthorize Operation = "AUTHORIZE"
	OpCommit    Operation = "COMMIT"
	OpCancel    Operation = "CANCEL"
)

// MerchantCredentials identify the merchant inside every envelope.
type MerchantCredentials struct {
	MerchantID string `json:"merchantId"`
	APIKey     string `json:"apiKey"`
}

// Envelope is the request body sent to the processor.
type Envelope struct {
	RequestID           string              `json:"requestId"`
	Timestamp           time.Time           `json:"timestamp"`
	Operation           Operation           `json:"operation"`
	MerchantCredentials MerchantCredentials `json:"merchantCredentials"`
	OperationParams     any                 `json:"operationParams"`
}

// AuthorizeRequest holds the funds on the payer account.
type AuthorizeRequest struct {
	ReferenceID  string
	PayerAccount string
	Amount       string
	Currency     string
	Description  string
}

type authorizeParams struct {
	PayerAccount string `json:"payerAccount"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ReferenceID  string `json:"referenceId"`
	Description  string `json:"description"`
}

type settleParams struct {
	GatewayTransactionID string `json:"gatewayTransactionId"`
	Description          string `json:"description"`
}
