package core

// PricingTable holds per-page prices in minor currency units.
type PricingTable struct {
	SingleMono  int64 `json:"single_mono" yaml:"single_mono"`
	SingleColor int64 `json:"single_color" yaml:"single_color"`
	DoubleMono  int64 `json:"double_mono" yaml:"double_mono"`
	DoubleColor int64 `json:"double_color" yaml:"double_color"`
}

var DefaultPricing = PricingTable{
	SingleMono:  50,
	SingleColor: 150,
	DoubleMono:  80,
	DoubleColor: 240,
}

func (t PricingTable) PerPage(sides PrintSides, color PrintColor) int64 {
	if sides == SidesDouble {
		if color == ColorColor {
			return t.DoubleColor
		}
		return t.DoubleMono
	}
	if color == ColorColor {
		return t.SingleColor
	}
	return t.SingleMono
}

// Price expects pages >= 1; callers validate.
func (t PricingTable) Price(sides PrintSides, color PrintColor, pages int) int64 {
	return t.PerPage(sides, color) * int64(pages)
}
