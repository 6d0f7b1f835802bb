package vehicle

import (
	"context"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/protocol"
)

// AC climate settings.
const (
	ACSettingOff  = "AC_OFF"
	ACSettingNorm = "AC_NORM"
	ACSettingMax  = "AC_MAX"
)

// HVACOptions tunes the set-HVAC-settings command. Nil fields are omitted from the request.
type HVACOptions struct {
	ACClimateSetting    string
	HeatedSteeringWheel *bool
}

// SetHVACSettings updates the vehicle's climate settings. Requested values are validated
// against the vehicle's advertised capability data; unsupported values are dropped with a
// warning rather than failing the command.
func (v *Vehicle) SetHVACSettings(ctx context.Context, options *HVACOptions) (*protocol.CommandResult, error) {
	settings := map[string]interface{}{}
	caps := v.SupportedHVACSettings()

	if options != nil && options.ACClimateSetting != "" {
		if caps != nil && len(caps.ACClimateModes) > 0 && !containsFold(caps.ACClimateModes, options.ACClimateSetting) {
			log.Warning("Vehicle does not advertise AC climate setting %q; omitting", options.ACClimateSetting)
		} else {
			settings["acClimateSetting"] = options.ACClimateSetting
		}
	}
	if options != nil && options.HeatedSteeringWheel != nil {
		if caps != nil && !caps.HeatedSteeringWheel {
			log.Warning("Vehicle does not advertise a heated steering wheel; omitting")
		} else if *options.HeatedSteeringWheel {
			settings["heatedSteeringWheelEnabled"] = "true"
		} else {
			settings["heatedSteeringWheelEnabled"] = "false"
		}
	}

	body := map[string]interface{}{"hvacSettings": settings}
	return v.exec.ExecuteCommand(ctx, CommandSetHVACSettings, body)
}
