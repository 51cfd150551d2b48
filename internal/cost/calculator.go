// Package cost computes the accrued USD cost of translation calls from
// per-provider pricing. Cloud translation APIs bill per character, LLM
// back-ends per token; a provider may carry either or both rates.
package cost

import "sync"

// Pricing is one provider's billing rates. Zero rates mean free.
type Pricing struct {
	USDPerMillionChars  float64
	USDPerMillionTokens float64
}

// Calculator resolves per-call cost from registered provider pricing.
type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]Pricing
}

func NewCalculator() *Calculator {
	return &Calculator{pricing: make(map[string]Pricing)}
}

// SetPricing registers or replaces a provider's rates.
func (c *Calculator) SetPricing(providerID string, p Pricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[providerID] = p
}

// Cost returns the USD cost of a call that consumed the given characters
// and tokens. Unknown providers cost nothing.
func (c *Calculator) Cost(providerID string, chars, tokens int) float64 {
	c.mu.RLock()
	p, ok := c.pricing[providerID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}

	return float64(chars)*p.USDPerMillionChars/1e6 +
		float64(tokens)*p.USDPerMillionTokens/1e6
}

// Estimate projects the cost of a call before it is made, used by the
// lowest-cost alternate policy. Tokens are derived from chars when the
// provider bills per token.
func (c *Calculator) Estimate(providerID string, chars int) float64 {
	return c.Cost(providerID, chars, chars/4)
}
