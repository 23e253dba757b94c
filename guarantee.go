package gar

import (
	"time"
)

// GuaranteeType identifies a customer-facing promise.
type GuaranteeType string

const (
	GuaranteeMoneyBack     GuaranteeType = "money_back"
	GuaranteeReplacement   GuaranteeType = "replacement"
	GuaranteePartialRefund GuaranteeType = "partial_refund"
)

// Guarantee is a promise attached to a transaction at creation. It is never
// modified afterwards.
type Guarantee struct {
	Type        GuaranteeType `json:"type"`
	Description string        `json:"description"`
	ValidUntil  time.Time     `json:"valid_until"`
	Conditions  string        `json:"conditions"`
}

const day = 24 * time.Hour

// DefaultGuarantees returns the guarantee bundle granted to every new
// transaction created at now.
func DefaultGuarantees(now time.Time) []Guarantee {
	return []Guarantee{
		{
			Type:        GuaranteeMoneyBack,
			Description: "Full refund if the merchandise is never delivered",
			ValidUntil:  now.Add(30 * day),
			Conditions:  "Applies when no delivery is recorded within 30 days of payment",
		},
		{
			Type:        GuaranteeReplacement,
			Description: "Replacement of a defective item",
			ValidUntil:  now.Add(7 * day),
			Conditions:  "Defect reported with photos during the verification window after delivery",
		},
		{
			Type:        GuaranteePartialRefund,
			Description: "Partial refund when the item does not match the order",
			ValidUntil:  now.Add(7 * day),
			Conditions:  "Non-conformity with the order description, reported during the verification window",
		},
	}
}
