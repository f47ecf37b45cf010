package strategy

// EMA computes an exponential moving average over values (oldest
// first). Entries before the first full period are zero.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	result := make([]float64, len(values))
	multiplier := 2.0 / float64(period+1)
	var emaVal float64
	for i, v := range values {
		switch {
		case i < period-1:
			result[i] = 0
		case i == period-1:
			sum := 0.0
			for _, w := range values[:period] {
				sum += w
			}
			emaVal = sum / float64(period)
			result[i] = emaVal
		default:
			emaVal = (v-emaVal)*multiplier + emaVal
			result[i] = emaVal
		}
	}
	return result
}

// RSI computes the relative strength index with Wilder's smoothing over
// values (oldest first). Entries before the first full period are 50.
func RSI(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	for i := range result {
		result[i] = 50.0
	}
	if len(values) < period+1 {
		return result
	}

	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	result[period] = rsiFromAverages(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		result[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return result
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
