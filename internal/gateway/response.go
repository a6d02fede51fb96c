package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseCode is the processor's numeric response code.
type ResponseCode string

const (
	CodeApproved              ResponseCode = "2001"
	CodeInvalidPayerAccount   ResponseCode = "4001"
	CodeUnsupportedMethod     ResponseCode = "4002"
	CodeInvalidCredentials    ResponseCode = "4011"
	CodeMerchantNotActive     ResponseCode = "4013"
	CodeInsufficientFunds     ResponseCode = "5203"
	CodeDeclinedBySubscriber  ResponseCode = "5204"
	CodeSubscriberTimeout     ResponseCode = "5205"
	CodeCancelledBySubscriber ResponseCode = "5206"
	CodeTransactionNotFound   ResponseCode = "5301"
	CodeDuplicateReference    ResponseCode = "5302"
)

// StateApproved is the payload state that accompanies a successful call.
const StateApproved = "APPROVED"

// UnmarshalJSON accepts the code as a JSON string or number.
func (c *ResponseCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ResponseCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("response code: %w", err)
	}
	*c = ResponseCode(n.String())
	return nil
}

// Response is the processor's reply body.
type Response struct {
	ResponseCode ResponseCode   `json:"responseCode"`
	Params       ResponseParams `json:"params"`
	ResponseMsg  string         `json:"responseMsg,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
}

// ResponseParams carries the operation outcome.
type ResponseParams struct {
	State         string `json:"state"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Result is the normalized outcome of one processor call. Callers never look
// at processor fields beyond this.
type Result struct {
	Success       bool
	TransactionID string
	ResponseCode  ResponseCode
	ErrorCode     string
	RawMessage    string
}

// IsApproved is the single success predicate: the approved code and the
// approved state must both be present.
func IsApproved(code ResponseCode, state string) bool {
	return code == CodeApproved && strings.EqualFold(strings.TrimSpace(state), StateApproved)
}

// Normalize parses a processor body. Bodies that are not a processor JSON
// response return ErrMalformedResponse.
func Normalize(body []byte) (Result, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.ResponseCode == "" {
		return Result{}, fmt.Errorf("%w: missing responseCode", ErrMalformedResponse)
	}
	return Result{
		Success:       IsApproved(resp.ResponseCode, resp.Params.State),
		TransactionID: strings.TrimSpace(resp.Params.TransactionID),
		ResponseCode:  resp.ResponseCode,
		ErrorCode:     strings.TrimSpace(resp.ErrorCode),
		RawMessage:    resp.ResponseMsg,
	}, nil
}
