package models

import (
	"fmt"
	"strings"
)

// Plan is a named subscription tier.
type Plan string

const (
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
	PlanFamily  Plan = "family"
)

// Plans lists every plan that can be subscribed to.
var Plans = []Plan{PlanBasic, PlanPremium, PlanFamily}

// FallbackPlanPrice is charged when a plan has no price or a manual payment
// omits its amount. It does not match any plan price.
const FallbackPlanPrice int64 = 2000

// planPrices holds monthly prices in minor currency units.
var planPrices = map[Plan]int64{
	PlanBasic:   1500,
	PlanPremium: 2500,
	PlanFamily:  3500,
}

var planEntitlements = map[Plan][]string{
	PlanBasic:   {"article_preview", "daily_digest"},
	PlanPremium: {"article_preview", "daily_digest", "markets_data", "podcasts"},
	PlanFamily:  {"article_preview", "daily_digest", "markets_data", "podcasts", "shared_accounts"},
}

// ParsePlan validates raw against the closed set of plans.
func ParsePlan(raw string) (Plan, error) {
	p := Plan(strings.TrimSpace(raw))
	for _, known := range Plans {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown plan %q", raw)
}

// PlanPrice returns the charge amount for p, or FallbackPlanPrice when p is
// not priced.
func PlanPrice(p Plan) int64 {
	if price, ok := planPrices[p]; ok {
		return price
	}
	return FallbackPlanPrice
}

// Entitlements returns the features unlocked by p. Unknown plans unlock nothing.
func Entitlements(p Plan) []string {
	features := planEntitlements[p]
	out := make([]string, len(features))
	copy(out, features)
	return out
}

// EntitlementCheck answers whether a subscription's plan unlocks a feature.
type EntitlementCheck struct {
	SubscriptionID string `json:"subscriptionId"`
	Plan           Plan   `json:"plan"`
	Entitlement    string `json:"entitlement"`
	Granted        bool   `json:"granted"`
}

// HasEntitlement reports whether p unlocks the named feature.
func HasEntitlement(p Plan, entitlement string) bool {
	for _, e := range planEntitlements[p] {
		if e == entitlement {
			return true
		}
	}
	return false
}
