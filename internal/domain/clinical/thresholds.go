package clinical

// Vital sign alert limits.
const (
	HeartRateHigh       = 120
	HeartRateLow        = 60
	OxygenSaturationLow = 90
	TemperatureHigh     = 38.5
)

// ExceedsVitalThresholds reports whether a recording should raise a critical
// alert. The check is advisory only.
func ExceedsVitalThresholds(v *Vitals) bool {
	if v == nil {
		return false
	}
	return v.HeartRate > HeartRateHigh || v.HeartRate < HeartRateLow ||
		v.OxygenSaturation < OxygenSaturationLow ||
		v.Temperature > TemperatureHigh
}

// Alerts names each exceeded threshold.
func Alerts(v *Vitals) []string {
	var out []string
	switch {
	case v.HeartRate > HeartRateHigh:
		out = append(out, "tachycardia")
	case v.HeartRate < HeartRateLow:
		out = append(out, "bradycardia")
	}
	if v.OxygenSaturation < OxygenSaturationLow {
		out = append(out, "hypoxemia")
	}
	if v.Temperature > TemperatureHigh {
		out = append(out, "fever")
	}
	return out
}
