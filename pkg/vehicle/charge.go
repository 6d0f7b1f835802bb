package vehicle

import (
	"context"

	"github.com/onstar-go/onstar/pkg/protocol"
)

// Charge override modes.
const (
	ChargeOverrideChargeNow      = "CHARGE_NOW"
	ChargeOverrideCancelOverride = "CANCEL_OVERRIDE"
)

// Charging profile charge modes.
const (
	ChargeModeDefaultImmediate = "DEFAULT_IMMEDIATE"
	ChargeModeImmediate        = "IMMEDIATE"
	ChargeModeDepartureBased   = "DEPARTURE_BASED"
	ChargeModeRateBased        = "RATE_BASED"
	ChargeModePhonePlugIn      = "PHONE_PLUG_IN"
)

// Charging profile rate types.
const (
	ChargeRateOffPeak = "OFFPEAK"
	ChargeRateMidPeak = "MIDPEAK"
	ChargeRatePeak    = "PEAK"
)

// ChargeOverrideOptions tunes the charge override command.
type ChargeOverrideOptions struct {
	Mode string
}

// ChargingProfileOptions tunes the set-charging-profile command.
type ChargingProfileOptions struct {
	ChargeMode string
	RateType   string
}

// ChargeOverride starts or cancels an immediate charge.
func (v *Vehicle) ChargeOverride(ctx context.Context, options *ChargeOverrideOptions) (*protocol.CommandResult, error) {
	mode := ChargeOverrideChargeNow
	if options != nil && options.Mode != "" {
		mode = options.Mode
	}
	body := map[string]interface{}{
		"chargingOverride": map[string]interface{}{"mode": mode},
	}
	return v.exec.ExecuteCommand(ctx, CommandChargeOverride, body)
}

// GetChargingProfile reads the vehicle's charging profile.
func (v *Vehicle) GetChargingProfile(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandGetChargingProfile, nil)
}

// SetChargingProfile updates the vehicle's charging profile.
func (v *Vehicle) SetChargingProfile(ctx context.Context, options *ChargingProfileOptions) (*protocol.CommandResult, error) {
	chargeMode := ChargeModeImmediate
	rateType := ChargeRateMidPeak
	if options != nil {
		if options.ChargeMode != "" {
			chargeMode = options.ChargeMode
		}
		if options.RateType != "" {
			rateType = options.RateType
		}
	}
	body := map[string]interface{}{
		"chargingProfile": map[string]interface{}{
			"chargeMode": chargeMode,
			"rateType":   rateType,
		},
	}
	return v.exec.ExecuteCommand(ctx, CommandSetChargingProfile, body)
}

// GetChargerPowerLevel reads the charger's power level.
func (v *Vehicle) GetChargerPowerLevel(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandGetChargerPowerLevel, nil)
}
