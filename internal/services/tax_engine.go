package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
)

// ErrTaxInvalidInput signals malformed taxable items; the whole calculation
// is rejected before any result is produced.
var ErrTaxInvalidInput = errors.New("tax: invalid input")

// TaxEngine computes jurisdiction- and rule-aware tax for a set of taxable
// items. Missing or expired rates degrade to warnings: the sale proceeds
// untaxed for the affected lines and the warnings travel with the quote for
// audit.
type TaxEngine struct {
	config              domain.TaxConfiguration
	defaultJurisdiction domain.Jurisdiction
	clock               func() time.Time
	logger              func(context.Context, string, map[string]any)
}

// TaxEngineDeps bundles the collaborators required to construct a TaxEngine.
type TaxEngineDeps struct {
	Config              domain.TaxConfiguration
	DefaultJurisdiction domain.Jurisdiction
	Clock               func() time.Time
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

// NewTaxEngine wires dependencies into a TaxEngine.
func NewTaxEngine(deps TaxEngineDeps) (*TaxEngine, error) {
	if len(deps.Config.Rates) == 0 && len(deps.Config.Rules) == 0 {
		return nil, errors.New("tax engine: configuration has no rates or rules")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	cfg := deps.Config
	if cfg.Rounding == "" {
		cfg.Rounding = domain.RoundToCent
	}

	return &TaxEngine{
		config:              cfg,
		defaultJurisdiction: deps.DefaultJurisdiction,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// TaxItem is one taxable unit of a sale.
type TaxItem struct {
	ID             string
	SKU            string
	Category       string
	Price          domain.Cents
	Qty            float64
	ExemptTaxTypes []string
}

// TaxCalculationRequest carries the items plus the optional customer and
// jurisdiction override for one calculation.
type TaxCalculationRequest struct {
	Items        []TaxItem
	Customer     *domain.TaxCustomer
	Jurisdiction *domain.Jurisdiction
	ExemptionIDs []string
}

// TaxRateBreakdown is a per-rate entry of the quote.
type TaxRateBreakdown struct {
	RateID string
	Name   string
	Type   string
	Rate   float64
	Amount float64
}

// TaxQuote is the calculation result. Amounts are decimal currency units with
// the configured rounding rule already applied.
type TaxQuote struct {
	Total     float64
	Breakdown []TaxRateBreakdown
	Warnings  []string
}

// Calculate runs the full pipeline: jurisdiction resolution, rate filtering,
// rule application in descending priority, exemption processing, per-item
// accumulation, and rounding.
func (e *TaxEngine) Calculate(ctx context.Context, req TaxCalculationRequest) (TaxQuote, error) {
	if err := validateTaxItems(req.Items); err != nil {
		return TaxQuote{}, err
	}

	now := e.clock()
	quote := TaxQuote{}

	jurisdiction := e.resolveJurisdiction(req)
	effective := jurisdiction.Normalized()

	rates := e.applicableRates(now, effective)
	if len(rates) == 0 {
		quote.Warnings = append(quote.Warnings,
			fmt.Sprintf("no active tax rates for jurisdiction %q", effective))
	}

	rates, ruleWarnings := e.applyRules(req, jurisdiction, rates)
	quote.Warnings = append(quote.Warnings, ruleWarnings...)

	itemExemptions, exemptionWarnings := e.resolveExemptions(now, req)
	quote.Warnings = append(quote.Warnings, exemptionWarnings...)

	buckets := make(map[string]*TaxRateBreakdown)
	order := make([]string, 0, len(rates))

	for _, item := range req.Items {
		exemptTypes := itemExemptions[item.ID]
		for _, rate := range rates {
			if !rateCoversItem(rate, item, exemptTypes) {
				continue
			}

			base := item.Price.Decimal() * item.Qty
			var amount float64
			if rate.Inclusive {
				amount = base * rate.Rate / (1 + rate.Rate)
			} else {
				amount = base * rate.Rate
			}

			bucket, ok := buckets[rate.ID]
			if !ok {
				bucket = &TaxRateBreakdown{RateID: rate.ID, Name: rate.Name, Type: rate.Type, Rate: rate.Rate}
				buckets[rate.ID] = bucket
				order = append(order, rate.ID)
			}
			bucket.Amount += amount
		}
	}

	var total float64
	for _, id := range order {
		bucket := buckets[id]
		bucket.Amount = applyRounding(bucket.Amount, e.config.Rounding)
		total += bucket.Amount
		quote.Breakdown = append(quote.Breakdown, *bucket)
	}
	quote.Total = applyRounding(total, e.config.Rounding)

	if len(quote.Warnings) > 0 {
		e.logger(ctx, "tax_calculation_warnings", map[string]any{
			"jurisdiction": effective,
			"warnings":     quote.Warnings,
		})
	}

	return quote, nil
}

func validateTaxItems(items []TaxItem) error {
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("%w: item %d id is required", ErrTaxInvalidInput, i)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: item %s price cannot be negative", ErrTaxInvalidInput, item.ID)
		}
		if item.Qty < 0 {
			return fmt.Errorf("%w: item %s quantity cannot be negative", ErrTaxInvalidInput, item.ID)
		}
	}
	return nil
}

// resolveJurisdiction picks the effective location: explicit input, else the
// customer's billing address, else the process default.
func (e *TaxEngine) resolveJurisdiction(req TaxCalculationRequest) domain.Jurisdiction {
	if req.Jurisdiction != nil && !req.Jurisdiction.IsZero() {
		return *req.Jurisdiction
	}
	if req.Customer != nil && req.Customer.Billing != nil && !req.Customer.Billing.IsZero() {
		return *req.Customer.Billing
	}
	return e.defaultJurisdiction
}

func (e *TaxEngine) applicableRates(now time.Time, effective string) []domain.TaxRate {
	var out []domain.TaxRate
	for _, rate := range e.config.Rates {
		if !rate.ActiveAt(now) {
			continue
		}
		if !jurisdictionMatches(rate.Jurisdiction, effective) {
			continue
		}
		if len(rate.Regions) > 0 && !regionMatches(rate.Regions, effective) {
			continue
		}
		out = append(out, rate)
	}
	return out
}

// jurisdictionMatches performs the substring match between a configured
// rate's jurisdiction and the effective sale location. A rate with no
// jurisdiction applies everywhere; partially specified jurisdictions act as
// prefixes of the normalized form.
func jurisdictionMatches(rate domain.Jurisdiction, effective string) bool {
	key := strings.TrimRight(rate.Normalized(), "-")
	if key == "" {
		return true
	}
	return strings.Contains(effective, key)
}

func regionMatches(regions []string, effective string) bool {
	for _, region := range regions {
		region = strings.ToLower(strings.TrimSpace(region))
		if region != "" && strings.Contains(effective, region) {
			return true
		}
	}
	return false
}

// applyRules rewrites the applicable rate set: rules fire in descending
// priority, and each matched rule either exempts everything, adds a rate, or
// overrides an existing rate's value.
func (e *TaxEngine) applyRules(req TaxCalculationRequest, jurisdiction domain.Jurisdiction, rates []domain.TaxRate) ([]domain.TaxRate, []string) {
	if len(e.config.Rules) == 0 {
		return rates, nil
	}

	rules := make([]domain.TaxRule, len(e.config.Rules))
	copy(rules, e.config.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	var warnings []string
	for _, rule := range rules {
		if !e.ruleMatches(rule, req, jurisdiction) {
			continue
		}
		switch rule.Action {
		case domain.TaxRuleExempt:
			return nil, warnings
		case domain.TaxRuleAdd:
			if rule.Rate == nil {
				warnings = append(warnings, fmt.Sprintf("rule %s adds no rate", rule.ID))
				continue
			}
			rates = append(rates, *rule.Rate)
		case domain.TaxRuleOverride:
			overridden := false
			for i := range rates {
				if rates[i].ID == rule.TargetRateID {
					rates[i].Rate = rule.OverrideRate
					overridden = true
				}
			}
			if !overridden {
				warnings = append(warnings, fmt.Sprintf("rule %s targets unknown rate %s", rule.ID, rule.TargetRateID))
			}
		default:
			warnings = append(warnings, fmt.Sprintf("rule %s has unknown action %q", rule.ID, rule.Action))
		}
	}
	return rates, warnings
}

func (e *TaxEngine) ruleMatches(rule domain.TaxRule, req TaxCalculationRequest, jurisdiction domain.Jurisdiction) bool {
	for _, cond := range rule.Conditions {
		if !evaluateCondition(cond, req, jurisdiction) {
			return false
		}
	}
	return true
}

// evaluateCondition compares one context field. Field names resolve against
// the customer, the effective jurisdiction, or sale aggregates.
func evaluateCondition(cond domain.TaxCondition, req TaxCalculationRequest, jurisdiction domain.Jurisdiction) bool {
	actual, ok := resolveConditionField(cond.Field, req, jurisdiction)
	if !ok {
		return false
	}

	actualNorm := strings.ToLower(strings.TrimSpace(actual))
	expected := strings.ToLower(strings.TrimSpace(cond.Value))

	switch cond.Op {
	case domain.TaxOpEquals:
		return actualNorm == expected
	case domain.TaxOpNotEquals:
		return actualNorm != expected
	case domain.TaxOpContains:
		return strings.Contains(actualNorm, expected)
	case domain.TaxOpIn:
		for _, v := range cond.Values {
			if actualNorm == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
		return false
	case domain.TaxOpGreater, domain.TaxOpLess:
		actualNum, err1 := strconv.ParseFloat(actualNorm, 64)
		expectedNum, err2 := strconv.ParseFloat(expected, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if cond.Op == domain.TaxOpGreater {
			return actualNum > expectedNum
		}
		return actualNum < expectedNum
	default:
		return false
	}
}

func resolveConditionField(field string, req TaxCalculationRequest, jurisdiction domain.Jurisdiction) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "customer.id":
		if req.Customer == nil {
			return "", false
		}
		return req.Customer.ID, true
	case "customer.group":
		if req.Customer == nil || len(req.Customer.Groups) == 0 {
			return "", false
		}
		// Groups compare via "in"/"contains" against the joined list.
		return strings.Join(req.Customer.Groups, ","), true
	case "jurisdiction.country":
		return jurisdiction.Country, true
	case "jurisdiction.state":
		return jurisdiction.State, true
	case "jurisdiction.province":
		return jurisdiction.Province, true
	case "jurisdiction.city":
		return jurisdiction.City, true
	case "jurisdiction.postal":
		return jurisdiction.PostalCode, true
	case "sale.subtotal":
		var subtotal float64
		for _, item := range req.Items {
			subtotal += item.Price.Decimal() * item.Qty
		}
		return strconv.FormatFloat(subtotal, 'f', -1, 64), true
	case "sale.itemcount":
		return strconv.Itoa(len(req.Items)), true
	default:
		return "", false
	}
}

// resolveExemptions validates each referenced exemption and maps item IDs to
// the set of tax types removed for that item. An empty set value means every
// tax type is exempt for the item.
func (e *TaxEngine) resolveExemptions(now time.Time, req TaxCalculationRequest) (map[string]map[string]bool, []string) {
	ids := make([]string, 0, len(req.ExemptionIDs))
	ids = append(ids, req.ExemptionIDs...)
	if req.Customer != nil {
		ids = append(ids, req.Customer.ExemptionIDs...)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]domain.TaxExemption, len(e.config.Exemptions))
	for _, ex := range e.config.Exemptions {
		byID[ex.ID] = ex
	}

	var warnings []string
	out := make(map[string]map[string]bool)
	seen := make(map[string]bool)

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		exemption, ok := byID[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("exemption %s is not configured", id))
			continue
		}
		if exemption.RequiresCertificate && !exemption.Certificate.ValidAt(now) {
			warnings = append(warnings, fmt.Sprintf("exemption %s certificate is missing or expired", id))
			continue
		}

		for _, item := range req.Items {
			if !exemptionCoversItem(exemption, item, req.Customer) {
				continue
			}
			types, ok := out[item.ID]
			if !ok {
				types = make(map[string]bool)
				out[item.ID] = types
			}
			if len(exemption.TaxTypes) == 0 {
				types["*"] = true
				continue
			}
			for _, taxType := range exemption.TaxTypes {
				types[strings.ToLower(strings.TrimSpace(taxType))] = true
			}
		}
	}

	return out, warnings
}

func exemptionCoversItem(exemption domain.TaxExemption, item TaxItem, customer *domain.TaxCustomer) bool {
	for _, category := range exemption.Categories {
		if strings.EqualFold(strings.TrimSpace(category), strings.TrimSpace(item.Category)) {
			return true
		}
	}
	if customer != nil {
		for _, id := range exemption.CustomerIDs {
			if strings.TrimSpace(id) == customer.ID {
				return true
			}
		}
	}
	return false
}

func rateCoversItem(rate domain.TaxRate, item TaxItem, exemptTypes map[string]bool) bool {
	if len(rate.Categories) > 0 {
		matched := false
		for _, category := range rate.Categories {
			if strings.EqualFold(strings.TrimSpace(category), strings.TrimSpace(item.Category)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	rateType := strings.ToLower(strings.TrimSpace(rate.Type))
	if exemptTypes["*"] || exemptTypes[rateType] {
		return false
	}
	for _, t := range item.ExemptTaxTypes {
		if strings.ToLower(strings.TrimSpace(t)) == rateType {
			return false
		}
	}
	return true
}

// applyRounding rounds a decimal amount per the configured rule. Values are
// stabilised to a tenth of a cent first so floating point noise cannot flip a
// ceil/floor across a boundary.
func applyRounding(v float64, rule domain.RoundingRule) float64 {
	stabilised := math.Floor(v*1000+0.5) / 1000
	switch rule {
	case domain.NoRounding:
		return v
	case domain.RoundUpToCent:
		return math.Ceil(stabilised*100) / 100
	case domain.RoundDownToCent:
		return math.Floor(stabilised*100) / 100
	case domain.RoundToNickel:
		return math.Floor(stabilised*20+0.5) / 20
	case domain.RoundToCent:
		fallthrough
	default:
		return math.Floor(stabilised*100+0.5) / 100
	}
}
