package repository

import (
	"encoding/json"
	"fmt"
)

// Content is the typed form of a request's payload. Each request type that
// carries a structured payload has its own concrete content type; handlers
// work with these instead of untyped field bags.
type Content interface {
	// Validate reports field-level problems with the payload.
	Validate() map[string]string
}

// PersonalSavingsCreationContent describes the plan a member wants created.
type PersonalSavingsCreationContent struct {
	PlanType            string `json:"planType"`
	MonthlyContribution int64  `json:"monthlyContribution"`
	DurationMonths      int    `json:"durationMonths"`
}

func (c *PersonalSavingsCreationContent) Validate() map[string]string {
	problems := map[string]string{}
	if c.PlanType == "" {
		problems["content.planType"] = "plan type is required"
	}
	if c.MonthlyContribution <= 0 {
		problems["content.monthlyContribution"] = "monthly contribution must be positive"
	}
	if c.DurationMonths < 1 {
		problems["content.durationMonths"] = "duration must be at least one month"
	}
	return problems
}

// WithdrawalContent is shared by savings and personal-savings withdrawals.
type WithdrawalContent struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (c *WithdrawalContent) Validate() map[string]string {
	problems := map[string]string{}
	if c.Amount <= 0 {
		problems["content.amount"] = "amount must be positive"
	}
	if c.Reason == "" {
		problems["content.reason"] = "reason is required"
	}
	return problems
}

// LoanApplicationContent describes a requested loan.
type LoanApplicationContent struct {
	Amount       int64  `json:"amount"`
	TenorMonths  int    `json:"tenorMonths"`
	Purpose      string `json:"purpose"`
	InterestRate float64 `json:"interestRate,omitempty"`
}

func (c *LoanApplicationContent) Validate() map[string]string {
	problems := map[string]string{}
	if c.Amount <= 0 {
		problems["content.amount"] = "amount must be positive"
	}
	if c.TenorMonths < 1 {
		problems["content.tenorMonths"] = "tenor must be at least one month"
	}
	if c.Purpose == "" {
		problems["content.purpose"] = "purpose is required"
	}
	return problems
}

// BiodataUpdateContent carries the field changes a member has requested.
type BiodataUpdateContent struct {
	Changes map[string]string `json:"changes"`
}

func (c *BiodataUpdateContent) Validate() map[string]string {
	if len(c.Changes) == 0 {
		return map[string]string{"content.changes": "at least one change is required"}
	}
	return nil
}

// GenericContent covers request types whose payload the engine stores but
// never interprets (bulk uploads, system adjustments, account operations).
type GenericContent struct {
	Fields map[string]any `json:"-"`
}

func (c *GenericContent) Validate() map[string]string { return nil }

func (c *GenericContent) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.Fields)
}

func (c *GenericContent) MarshalJSON() ([]byte, error) {
	if c.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.Fields)
}

// DecodeContent decodes raw payload bytes into the typed content for t.
func DecodeContent(t RequestType, raw json.RawMessage) (Content, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var c Content
	switch t {
	case TypePersonalSavingsCreation:
		c = &PersonalSavingsCreationContent{}
	case TypePersonalSavingsWithdrawal, TypeSavingsWithdrawal:
		c = &WithdrawalContent{}
	case TypeLoanApplication, TypeLoanDisbursement:
		c = &LoanApplicationContent{}
	case TypeBiodataUpdate:
		c = &BiodataUpdateContent{}
	default:
		c = &GenericContent{}
	}

	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to decode %s content: %w", t, err)
	}
	return c, nil
}
