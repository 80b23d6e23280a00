package account

// Limits are the optional caps on fund allocation. A nil cap is not applied.
// Amounts are in the reference currency; percentages are of total holdings.
type Limits struct {
	MaxAmountPerAsset     *float64 `yaml:"max_amount_per_asset"`
	MaxPercentagePerAsset *float64 `yaml:"max_percentage_per_asset"`
	MaxAmountPerTrade     *float64 `yaml:"max_amount_per_trade"`
	MaxPercentagePerTrade *float64 `yaml:"max_percentage_per_trade"`
	MinAmountPerTrade     *float64 `yaml:"min_amount_per_trade"`
}

// Merge returns l with every cap set in override replacing its own.
func (l Limits) Merge(override Limits) Limits {
	if override.MaxAmountPerAsset != nil {
		l.MaxAmountPerAsset = override.MaxAmountPerAsset
	}
	if override.MaxPercentagePerAsset != nil {
		l.MaxPercentagePerAsset = override.MaxPercentagePerAsset
	}
	if override.MaxAmountPerTrade != nil {
		l.MaxAmountPerTrade = override.MaxAmountPerTrade
	}
	if override.MaxPercentagePerTrade != nil {
		l.MaxPercentagePerTrade = override.MaxPercentagePerTrade
	}
	if override.MinAmountPerTrade != nil {
		l.MinAmountPerTrade = override.MinAmountPerTrade
	}
	return l
}

// Cap returns a pointer to v for building Limits literals.
func Cap(v float64) *float64 { return &v }
