package vehicle

import (
	"context"

	"github.com/onstar-go/onstar/pkg/protocol"
)

// DoorOptions tunes door lock/unlock commands.
type DoorOptions struct {
	// Delay before the command executes, in seconds.
	Delay int
}

// TrunkOptions tunes trunk lock/unlock commands.
type TrunkOptions struct {
	Delay int
}

// AlertAction values for AlertOptions.Action.
const (
	AlertActionHonk  = "Honk"
	AlertActionFlash = "Flash"
)

// AlertOverride values for AlertOptions.Override.
const (
	AlertOverrideDoorOpen   = "DoorOpen"
	AlertOverrideIgnitionOn = "IgnitionOn"
)

// AlertOptions tunes the alert command. Zero values fall back to the backend's conventional
// defaults: honk and flash for one minute, overriding door and ignition interlocks.
type AlertOptions struct {
	Action   []string
	Delay    int
	Duration int
	Override []string
}

func doorBody(key string, options *DoorOptions) map[string]interface{} {
	delay := 0
	if options != nil {
		delay = options.Delay
	}
	return map[string]interface{}{key: map[string]interface{}{"delay": delay}}
}

func trunkBody(key string, options *TrunkOptions) map[string]interface{} {
	delay := 0
	if options != nil {
		delay = options.Delay
	}
	return map[string]interface{}{key: map[string]interface{}{"delay": delay}}
}

// LockDoor locks the vehicle's doors.
func (v *Vehicle) LockDoor(ctx context.Context, options *DoorOptions) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandLockDoor, doorBody("lockDoorRequest", options))
}

// UnlockDoor unlocks the vehicle's doors.
func (v *Vehicle) UnlockDoor(ctx context.Context, options *DoorOptions) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandUnlockDoor, doorBody("unlockDoorRequest", options))
}

// LockTrunk locks the trunk.
func (v *Vehicle) LockTrunk(ctx context.Context, options *TrunkOptions) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandLockTrunk, trunkBody("lockTrunkRequest", options))
}

// UnlockTrunk unlocks the trunk.
func (v *Vehicle) UnlockTrunk(ctx context.Context, options *TrunkOptions) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandUnlockTrunk, trunkBody("unlockTrunkRequest", options))
}

// Alert triggers the vehicle's horn and/or lights.
func (v *Vehicle) Alert(ctx context.Context, options *AlertOptions) (*protocol.CommandResult, error) {
	request := map[string]interface{}{
		"action":   []string{AlertActionHonk, AlertActionFlash},
		"delay":    0,
		"duration": 1,
		"override": []string{AlertOverrideDoorOpen, AlertOverrideIgnitionOn},
	}
	if options != nil {
		if len(options.Action) > 0 {
			request["action"] = options.Action
		}
		if options.Delay > 0 {
			request["delay"] = options.Delay
		}
		if options.Duration > 0 {
			request["duration"] = options.Duration
		}
		if len(options.Override) > 0 {
			request["override"] = options.Override
		}
	}
	return v.exec.ExecuteCommand(ctx, CommandAlert, map[string]interface{}{"alertRequest": request})
}
