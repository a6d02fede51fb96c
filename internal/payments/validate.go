package payments

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/shopspring/decimal"

	"nutripay/internal/payments/saga"
)

// DefaultAccountPattern accepts E.164 numbers without the leading '+'.
const DefaultAccountPattern = `^[1-9]\d{9,14}$`

var (
	// ErrInvalidRequest wraps every local validation failure.
	ErrInvalidRequest = errors.New("invalid purchase request")
	// ErrInvalidPayerAccount marks a payer account rejected before any network call.
	ErrInvalidPayerAccount = errors.New("invalid payer account")
)

// PurchaseRequest is the caller's input for one purchase.
type PurchaseRequest struct {
	UserID       string
	PlanType     string
	PayerAccount string
	Amount       string
	Currency     string
	Description  string
}

type validatedRequest struct {
	userID      string
	plan        saga.PlanType
	payer       string
	amount      decimal.Decimal
	currency    string
	description string
}

// AccountValidator checks payer accounts against the processor's format.
type AccountValidator struct {
	pattern *regexp.Regexp
}

// NewAccountValidator compiles pattern, falling back to DefaultAccountPattern.
func NewAccountValidator(pattern string) (*AccountValidator, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultAccountPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("account pattern: %w", err)
	}
	return &AccountValidator{pattern: re}, nil
}

// NormalizeAccount strips formatting characters from a payer account.
func NormalizeAccount(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

// Validate returns the normalized account or ErrInvalidPayerAccount.
func (v *AccountValidator) Validate(raw string) (string, error) {
	account := NormalizeAccount(raw)
	err := validation.Validate(account, validation.Required, validation.Match(v.pattern))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayerAccount, err)
	}
	return account, nil
}

func (v *AccountValidator) validateRequest(req PurchaseRequest) (validatedRequest, error) {
	err := validation.ValidateStruct(&req,
		validation.Field(&req.UserID, validation.Required, validation.Length(1, 128)),
		validation.Field(&req.PlanType, validation.Required, validation.By(planRule)),
		validation.Field(&req.Amount, validation.Required, validation.By(amountRule)),
		validation.Field(&req.Currency, validation.Required, is.CurrencyCode),
		validation.Field(&req.Description, validation.Length(0, 140)),
	)
	if err != nil {
		return validatedRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	plan, _ := saga.ParsePlanType(req.PlanType)
	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))
	payer, err := v.Validate(req.PayerAccount)
	if err != nil {
		return validatedRequest{}, err
	}
	return validatedRequest{
		userID:      strings.TrimSpace(req.UserID),
		plan:        plan,
		payer:       payer,
		amount:      amount,
		currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		description: req.Description,
	}, nil
}

func planRule(value any) error {
	raw, _ := value.(string)
	_, err := saga.ParsePlanType(raw)
	return err
}

func amountRule(value any) error {
	raw, _ := value.(string)
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return errors.New("must be a decimal number")
	}
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	// Amounts are charged exactly as given, never rounded.
	if !amount.Round(2).Equal(amount) {
		return errors.New("must have at most two decimal places")
	}
	return nil
}
