package domain

import (
	"strings"
	"time"
)

// RoundingRule controls how computed tax amounts are rounded.
type RoundingRule string

const (
	RoundToCent     RoundingRule = "round_to_cent"
	RoundUpToCent   RoundingRule = "round_up_to_cent"
	RoundDownToCent RoundingRule = "round_down_to_cent"
	RoundToNickel   RoundingRule = "round_to_nickel"
	NoRounding      RoundingRule = "no_rounding"
)

// Jurisdiction locates a taxable transaction. Matching is performed on the
// normalized form, so partially specified jurisdictions act as prefixes.
type Jurisdiction struct {
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	Province   string `json:"province,omitempty"`
	County     string `json:"county,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Normalized renders the jurisdiction as a lower-case
// country-state-province-county-city-postal string used for substring
// matching between configured rates and the effective sale location.
func (j Jurisdiction) Normalized() string {
	parts := []string{j.Country, j.State, j.Province, j.County, j.City, j.PostalCode}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "-")
}

// IsZero reports whether no component of the jurisdiction is set.
func (j Jurisdiction) IsZero() bool {
	return j == Jurisdiction{}
}

// TaxRate is a single configured rate. A rate participates in a calculation
// when it is active, its effective window covers the calculation time, and its
// jurisdiction matches the effective sale jurisdiction.
type TaxRate struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	Rate          float64      `json:"rate"`
	Type          string       `json:"type"`
	Jurisdiction  Jurisdiction `json:"jurisdiction"`
	EffectiveDate time.Time    `json:"effectiveDate"`
	ExpiryDate    *time.Time   `json:"expiryDate,omitempty"`
	Active        bool         `json:"isActive"`
	Categories    []string     `json:"categories,omitempty"`
	Regions       []string     `json:"regions,omitempty"`
	Inclusive     bool         `json:"inclusive,omitempty"`
}

// ActiveAt reports whether the rate may be applied at the given instant.
func (r TaxRate) ActiveAt(at time.Time) bool {
	if !r.Active {
		return false
	}
	if !r.EffectiveDate.IsZero() && at.Before(r.EffectiveDate) {
		return false
	}
	if r.ExpiryDate != nil && at.After(*r.ExpiryDate) {
		return false
	}
	return true
}

// TaxCertificate backs an exemption that requires documentary proof.
type TaxCertificate struct {
	Number    string     `json:"number"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ValidAt reports whether the certificate exists and has not expired.
func (c *TaxCertificate) ValidAt(at time.Time) bool {
	if c == nil || strings.TrimSpace(c.Number) == "" {
		return false
	}
	if c.ExpiresAt != nil && at.After(*c.ExpiresAt) {
		return false
	}
	return true
}

// TaxExemption removes one or more tax types for items or customers matching
// its category or customer-id lists.
type TaxExemption struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name,omitempty"`
	TaxTypes            []string        `json:"taxTypes"`
	Categories          []string        `json:"categories,omitempty"`
	CustomerIDs         []string        `json:"customerIds,omitempty"`
	RequiresCertificate bool            `json:"requiresCertificate,omitempty"`
	Certificate         *TaxCertificate `json:"certificate,omitempty"`
}

// TaxRuleAction is what a matched rule does to the applicable rate set.
type TaxRuleAction string

const (
	// TaxRuleExempt removes every rate (full exemption).
	TaxRuleExempt TaxRuleAction = "exempt"
	// TaxRuleAdd appends the rule's rate to the applicable set.
	TaxRuleAdd TaxRuleAction = "add"
	// TaxRuleOverride rewrites the numeric value of an existing rate.
	TaxRuleOverride TaxRuleAction = "override"
)

// TaxConditionOp compares a sale/customer/jurisdiction field to a value.
type TaxConditionOp string

const (
	TaxOpEquals    TaxConditionOp = "eq"
	TaxOpNotEquals TaxConditionOp = "neq"
	TaxOpIn        TaxConditionOp = "in"
	TaxOpContains  TaxConditionOp = "contains"
	TaxOpGreater   TaxConditionOp = "gt"
	TaxOpLess      TaxConditionOp = "lt"
)

// TaxCondition is a single field comparison. Field names resolve against the
// calculation context (for example "customer.id", "jurisdiction.country",
// "sale.subtotal").
type TaxCondition struct {
	Field  string         `json:"field"`
	Op     TaxConditionOp `json:"op"`
	Value  string         `json:"value,omitempty"`
	Values []string       `json:"values,omitempty"`
}

// TaxRule conditionally rewrites the applicable rate set. Rules apply in
// descending priority order; all conditions must hold for the rule to fire.
type TaxRule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Priority   int            `json:"priority"`
	Action     TaxRuleAction  `json:"action"`
	Conditions []TaxCondition `json:"conditions,omitempty"`
	// Rate is the rate added by TaxRuleAdd.
	Rate *TaxRate `json:"rate,omitempty"`
	// TargetRateID and OverrideRate drive TaxRuleOverride.
	TargetRateID string  `json:"targetRateId,omitempty"`
	OverrideRate float64 `json:"overrideRate,omitempty"`
}

// TaxConfiguration is a named bundle of rates, exemptions, and rules together
// with the rounding behaviour applied to results.
type TaxConfiguration struct {
	Name       string         `json:"name"`
	Rates      []TaxRate      `json:"rates"`
	Exemptions []TaxExemption `json:"exemptions,omitempty"`
	Rules      []TaxRule      `json:"rules,omitempty"`
	Rounding   RoundingRule   `json:"roundingRule"`
}

// TaxCustomer carries the customer facts a tax calculation may reference.
type TaxCustomer struct {
	ID           string        `json:"id"`
	Billing      *Jurisdiction `json:"billing,omitempty"`
	ExemptionIDs []string      `json:"exemptionIds,omitempty"`
	Groups       []string      `json:"groups,omitempty"`
}
