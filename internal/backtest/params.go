package backtest

import (
	"fmt"
	"strings"

	"tradeflow/config"
	"tradeflow/internal/exchange"
	"tradeflow/internal/indicator"
	"tradeflow/internal/strategy"
)

// StrategyParams converts the strategy configuration into DCA parameters.
// The bands are computed over candle closes.
func StrategyParams(s config.Strategy) (strategy.DCAParams, error) {
	ma, err := indicator.ParseMAType(s.Bollinger.MA)
	if err != nil {
		return strategy.DCAParams{}, err
	}
	price, err := priceStepper(s.Price)
	if err != nil {
		return strategy.DCAParams{}, err
	}
	volume, err := volumeStepper(s.Volume)
	if err != nil {
		return strategy.DCAParams{}, err
	}

	return strategy.DCAParams{
		Pair: exchange.Pair{
			Base:       s.Base,
			Quote:      s.Quote,
			PriceStep:  s.PriceStep,
			VolumeStep: s.VolumeStep,
		},
		Bollinger: indicator.BollingerParams{
			Length: s.Bollinger.Length,
			Factor: s.Bollinger.Factor,
			MA:     ma,
			Source: indicator.Close,
		},
		Warmup:      s.Warmup,
		DCANumMax:   s.DCANumMax,
		InitialCash: s.InitialCash,
		Leverage:    s.Leverage,
		TakeProfit:  s.TakeProfit,
		Price:       price,
		Volume:      volume,
		Bull:        s.Bull,
		Bear:        s.Bear,
	}, nil
}

func priceStepper(c config.Stepper) (strategy.PriceStepper, error) {
	switch strings.ToLower(c.Kind) {
	case "geometric":
		return strategy.Geometric{Pct: c.Value}, nil
	case "linear":
		return strategy.Linear{Step: c.Value}, nil
	}
	return nil, fmt.Errorf("backtest: unknown price stepper %q", c.Kind)
}

func volumeStepper(c config.Stepper) (strategy.VolumeStepper, error) {
	switch strings.ToLower(c.Kind) {
	case "multiply":
		return strategy.Multiply{Base: c.Value, Factor: c.Factor}, nil
	case "fixed":
		return strategy.Fixed{Amount: c.Value}, nil
	}
	return nil, fmt.Errorf("backtest: unknown volume stepper %q", c.Kind)
}
