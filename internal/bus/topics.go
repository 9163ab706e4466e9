package bus

import "strings"

// Consumed topics.
const (
	TopicTrades         = "solana.trades.v3"
	TopicTransfers      = "solana.transfers.v2"
	TopicTokens         = "solana.tokens.v2"
	TopicPools          = "solana.pools.v1_0_0"
	TopicLiquidity      = "solana.liquidity_events.v1"
	TopicHLFills        = "hyperliquid.fills"
	TopicHLFunding      = "hyperliquid.funding"
	TopicHLLiquidations = "hyperliquid.liquidations"
)

// Published topics.
const (
	TopicEnrichedTrades = "solana.enriched_trades"
	TopicTokenMetrics   = "solana.token_metrics.v2"
	ohlcvPrefix         = "solana.market_ohlcv."
	discoveryPrefix     = "solana.discovery."
)

// ConsumedTopics lists every raw topic the processor reads.
var ConsumedTopics = []string{
	TopicTokens,
	TopicPools,
	TopicTrades,
	TopicTransfers,
	TopicLiquidity,
	TopicHLFills,
	TopicHLFunding,
	TopicHLLiquidations,
}

// OHLCVTopic returns the candle topic for a timeframe name.
func OHLCVTopic(timeframe string) string {
	return ohlcvPrefix + timeframe
}

// DiscoveryTopic returns the discovery topic for a stage name.
func DiscoveryTopic(stage string) string {
	return discoveryPrefix + stage
}

// IsDerivedTopic reports whether topic is one the processor publishes.
func IsDerivedTopic(topic string) bool {
	return topic == TopicEnrichedTrades ||
		topic == TopicTokenMetrics ||
		strings.HasPrefix(topic, ohlcvPrefix) ||
		strings.HasPrefix(topic, discoveryPrefix)
}
