package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/volatility"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

func bbandsSpec() Spec {
	return Spec{
		Name: "bbands",
		Params: []ParamSpec{
			{Name: "period", Type: ParamInt, Default: 20, Min: 2, Max: 400},
		},
		Columns: []string{"upper", "middle", "lower"},
		Compute: computeBBands,
	}
}

// computeBBands wires github.com/cinar/indicator/v2/volatility, which only
// supports the standard 2-standard-deviation band; a configurable multiplier
// is not exposed by the upstream library.
func computeBBands(series candle.Series, params map[string]float64) (Result, error) {
	period := int(params["period"])
	values := closeColumn(series)
	if period < 2 || period > len(values) {
		return Result{}, fmt.Errorf("bbands: invalid period %d for %d bars", period, len(values))
	}

	ind := volatility.NewBollingerBands[float64]()
	ind.Period = period
	lowerChan, middleChan, upperChan := ind.Compute(sliceToChan(values))

	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}

	upperFull, warmup := padWithWarmup(len(values), upper)
	middleFull, _ := padWithWarmup(len(values), middle)
	lowerFull, _ := padWithWarmup(len(values), lower)

	return Result{
		Columns: map[string][]float64{
			"upper":  upperFull,
			"middle": middleFull,
			"lower":  lowerFull,
		},
		Warmup: warmup,
	}, nil
}
