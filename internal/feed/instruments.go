package feed

import (
	"context"
	"fmt"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"tradealgo-live/internal/logger"
)

// ResolveTokens looks up instrument tokens for the given trading symbols on
// one exchange using the daily instruments dump. Unknown symbols are an
// error; trading a symbol we cannot subscribe to is never acceptable.
func ResolveTokens(ctx context.Context, kc *kiteconnect.Client, exchange string, symbols []string) (map[uint32]string, error) {
	instruments, err := kc.GetInstrumentsByExchange(exchange)
	if err != nil {
		return nil, fmt.Errorf("fetch instruments for %s: %w", exchange, err)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	tokens := make(map[uint32]string, len(symbols))
	for _, inst := range instruments {
		if wanted[inst.Tradingsymbol] {
			tokens[uint32(inst.InstrumentToken)] = inst.Tradingsymbol
		}
	}

	for _, s := range symbols {
		found := false
		for _, sym := range tokens {
			if sym == s {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("symbol %s not found on %s", s, exchange)
		}
	}

	logger.Info(ctx, "Resolved instrument tokens", "exchange", exchange, "count", len(tokens))
	return tokens, nil
}
