package chat

import "strings"

const (
	DefaultAgent  = "plebchat"
	DebugModeCost = 1
)

type Price struct {
	First      uint64 `json:"first"`
	Additional uint64 `json:"additional"`
}

var (
	agentPricing = map[string]Price{
		"plebchat":        {First: 50, Additional: 10},
		"deep_research":   {First: 150, Additional: 200},
		"socratic_coach":  {First: 50, Additional: 0},
		"tldr_summarizer": {First: 150, Additional: 200},
		"nsfw":            {First: 70, Additional: 20},
	}

	defaultPrice = Price{First: 50, Additional: 10}
)

type Pricing struct {
	Debug bool
}

// Required is the token value in sats a message to agent needs.
func (p Pricing) Required(agent string, first bool) uint64 {
	if p.Debug {
		return DebugModeCost
	}

	price, ok := agentPricing[agent]
	if !ok {
		price = defaultPrice
	}

	if first {
		return price.First
	}

	return price.Additional
}

// IsDebugToken matches the sentinel tokens used by integration tests.
func IsDebugToken(token string) bool {
	return token == "debug" || strings.HasPrefix(token, "cashu_debug_")
}
