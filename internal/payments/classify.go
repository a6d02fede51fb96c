package payments

import (
	"errors"
	"net/http"
	"strings"

	"nutripay/internal/gateway"
)

// ErrorKind is the stable failure taxonomy surfaced to callers.
type ErrorKind string

const (
	KindNone                        ErrorKind = ""
	KindInsufficientFunds           ErrorKind = "InsufficientFunds"
	KindInvalidPayerAccount         ErrorKind = "InvalidPayerAccount"
	KindUnsupportedMethod           ErrorKind = "UnsupportedMethod"
	KindDeclined                    ErrorKind = "Declined"
	KindTimeout                     ErrorKind = "Timeout"
	KindMisconfiguredMerchant       ErrorKind = "MisconfiguredMerchant"
	KindCancelled                   ErrorKind = "Cancelled"
	KindChargedButActivationPending ErrorKind = "ChargedButActivationPending"
	KindCompensationFailed          ErrorKind = "CompensationFailed"
	KindUnknown                     ErrorKind = "Unknown"
)

var messages = map[ErrorKind]string{
	KindInsufficientFunds:           "Your balance is not enough to complete this payment.",
	KindInvalidPayerAccount:         "The phone number is not a valid mobile money account.",
	KindUnsupportedMethod:           "This payment method is not supported for your number.",
	KindDeclined:                    "The payment was declined.",
	KindTimeout:                     "The payment request timed out. Please try again.",
	KindMisconfiguredMerchant:       "Payments are temporarily unavailable. Please try again later.",
	KindCancelled:                   "The payment was cancelled and no money was taken.",
	KindChargedButActivationPending: "Your payment went through but your subscription is not active yet. Retry activation or contact support.",
	KindCompensationFailed:          "Your payment may still be on hold. Please contact support.",
	KindUnknown:                     "The payment could not be completed.",
}

// Message returns the canned user-facing text for k.
func (k ErrorKind) Message() string {
	if msg, ok := messages[k]; ok {
		return msg
	}
	return messages[KindUnknown]
}

// Classification is the classifier's verdict for one failure.
type Classification struct {
	Kind    ErrorKind
	Message string
	// Raw is the processor message, kept for logs.
	Raw string
}

var codeKinds = map[gateway.ResponseCode]ErrorKind{
	gateway.CodeInvalidPayerAccount:   KindInvalidPayerAccount,
	gateway.CodeUnsupportedMethod:     KindUnsupportedMethod,
	gateway.CodeInvalidCredentials:    KindMisconfiguredMerchant,
	gateway.CodeMerchantNotActive:     KindMisconfiguredMerchant,
	gateway.CodeInsufficientFunds:     KindInsufficientFunds,
	gateway.CodeDeclinedBySubscriber:  KindDeclined,
	gateway.CodeSubscriberTimeout:     KindTimeout,
	gateway.CodeCancelledBySubscriber: KindCancelled,
}

type keywordRule struct {
	kind ErrorKind
	// any one of these must appear
	any []string
	// and, when set, one of these as well
	with []string
}

// Order matters: the first matching rule wins.
var keywordRules = []keywordRule{
	{kind: KindInsufficientFunds, any: []string{"insufficient", "balance"}},
	{kind: KindInvalidPayerAccount, any: []string{"invalid"}, with: []string{"msisdn", "account", "number", "phone"}},
	{kind: KindUnsupportedMethod, any: []string{"unsupported", "not supported"}},
	{kind: KindDeclined, any: []string{"declin", "reject"}},
	{kind: KindTimeout, any: []string{"timeout", "timed out", "expired"}},
	{kind: KindMisconfiguredMerchant, any: []string{"merchant", "credential", "unauthori"}},
	{kind: KindCancelled, any: []string{"cancel"}},
}

// Classify maps a failed processor result to an error kind. Exact codes are
// looked up first, then keywords in the raw message. Anything else is
// Unknown with the raw message passed through.
func Classify(res gateway.Result) Classification {
	raw := strings.TrimSpace(res.RawMessage)
	if kind, ok := codeKinds[res.ResponseCode]; ok {
		return classified(kind, raw)
	}
	if kind, ok := codeKinds[gateway.ResponseCode(res.ErrorCode)]; ok {
		return classified(kind, raw)
	}
	if kind, ok := matchKeywords(raw); ok {
		return classified(kind, raw)
	}
	if kind, ok := matchKeywords(res.ErrorCode); ok {
		return classified(kind, raw)
	}
	c := classified(KindUnknown, raw)
	if raw != "" {
		c.Message = raw
	}
	return c
}

// ClassifyError maps a transport failure (no processor verdict) to an error kind.
func ClassifyError(err error) Classification {
	if err == nil {
		return classified(KindUnknown, "")
	}
	if gateway.IsTimeout(err) {
		return classified(KindTimeout, err.Error())
	}
	var te *gateway.TransportError
	if errors.As(err, &te) && te.Kind == gateway.KindHTTPStatus {
		switch te.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return classified(KindMisconfiguredMerchant, err.Error())
		}
	}
	return classified(KindUnknown, err.Error())
}

func classified(kind ErrorKind, raw string) Classification {
	return Classification{Kind: kind, Message: kind.Message(), Raw: raw}
}

func matchKeywords(raw string) (ErrorKind, bool) {
	if raw == "" {
		return KindNone, false
	}
	lower := strings.ToLower(raw)
	for _, rule := range keywordRules {
		if !containsAny(lower, rule.any) {
			continue
		}
		if len(rule.with) > 0 && !containsAny(lower, rule.with) {
			continue
		}
		return rule.kind, true
	}
	return KindNone, false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
