package camera

import "fmt"

// OptionID identifies a tunable camera parameter.
type OptionID int

const (
	OptAutoExposure OptionID = iota
	OptAutoWhiteBalance
	OptExposure
	OptWhiteBalance
	OptWhiteBalanceRed
	OptWhiteBalanceBlue
	OptGain
	OptGamma
	OptBrightness
	OptContrast
	OptTemperature
	OptCoolerTarget
	OptCoolerOn
	OptFanOn
	OptCoolerPower
	OptLiveStretch

	optionCount
)

// Stable string ids and human labels, indexed by OptionID.
var optionStringIDs = [optionCount]string{
	"auto_exp", "auto_wb", "exp", "wb", "wb_r", "wb_b", "gain", "gamma",
	"brightness", "contrast", "temperature", "cooler_target", "cooler_on",
	"fan_on", "cooler_power", "live_stretch",
}

var optionLabels = [optionCount]string{
	"Auto Exp.", "Auto WB", "Exp.", "WB", "WB Red", "WB Blue", "Gain",
	"Gamma", "Bright.", "Contr.", "Temp.", "Cooler Tgt.", "Cooler", "Fan",
	"Cooler Pwr.", "Auto Str.",
}

// StringID returns the stable wire id of the option.
func (o OptionID) StringID() (string, error) {
	if o < 0 || o >= optionCount {
		return "", fmt.Errorf("%w: id %d", ErrUnsupportedOption, int(o))
	}
	return optionStringIDs[o], nil
}

// Label returns the human readable name of the option.
func (o OptionID) Label() (string, error) {
	if o < 0 || o >= optionCount {
		return "", fmt.Errorf("%w: id %d", ErrUnsupportedOption, int(o))
	}
	return optionLabels[o], nil
}

// OptionIDFromString resolves a stable wire id back to an OptionID.
func OptionIDFromString(s string) (OptionID, error) {
	for i, id := range optionStringIDs {
		if id == s {
			return OptionID(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedOption, s)
}

// OptionType is the value kind of a camera option.
type OptionType int

const (
	TypeBool OptionType = iota
	TypeNumber
	TypeMillisec
	TypePercent
	TypeKelvin
	TypeCelsius
)

var optionTypeNames = [...]string{"bool", "number", "msec", "percent", "kelvin", "celsius"}

// String returns the wire form of the option type.
func (t OptionType) String() string {
	if t < 0 || int(t) >= len(optionTypeNames) {
		return fmt.Sprintf("unknown(%d)", int(t))
	}
	return optionTypeNames[t]
}

// OptionTypeFromString parses the wire form of an option type.
func OptionTypeFromString(s string) (OptionType, error) {
	for i, name := range optionTypeNames {
		if name == s {
			return OptionType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: option type %q", ErrInvalidFormat, s)
}

// Option describes a supported camera option with its declared range.
type Option struct {
	ID       OptionID
	Type     OptionType
	ReadOnly bool
	Min      float64
	Max      float64
	Step     float64
	Default  float64
	Current  float64
}
