// Package vehicle exposes named remote operations for a single vehicle. Each method shapes a
// small JSON body, merging caller-supplied options over defaults, and delegates to the
// account package's command executor.
package vehicle

import (
	"context"
	"encoding/json"

	"github.com/onstar-go/onstar/pkg/account"
	"github.com/onstar-go/onstar/pkg/protocol"
)

// Command names as the backend advertises them in the vehicle catalog.
const (
	CommandStart                = "start"
	CommandCancelStart          = "cancelStart"
	CommandLockDoor             = "lockDoor"
	CommandUnlockDoor           = "unlockDoor"
	CommandLockTrunk            = "lockTrunk"
	CommandUnlockTrunk          = "unlockTrunk"
	CommandAlert                = "alert"
	CommandCancelAlert          = "cancelAlert"
	CommandChargeOverride       = "chargeOverride"
	CommandGetChargingProfile   = "getChargingProfile"
	CommandSetChargingProfile   = "setChargingProfile"
	CommandGetChargerPowerLevel = "getChargerPowerLevel"
	CommandDiagnostics          = "diagnostics"
	CommandLocation             = "location"
	CommandSetHVACSettings      = "setHvacSettings"
	CommandConnect              = "connect"
)

// Executor is the slice of the account API the facade needs. *account.Account implements it.
type Executor interface {
	ExecuteCommand(ctx context.Context, name string, body interface{}) (*protocol.CommandResult, error)
	FetchVehicles(ctx context.Context) (json.RawMessage, error)
	Catalog() *account.Catalog
	Entitlements() []account.Entitlement
}

// Vehicle is the user-facing handle for one vehicle.
type Vehicle struct {
	exec Executor
}

func New(exec Executor) *Vehicle {
	return &Vehicle{exec: exec}
}

// Refresh re-fetches the account's vehicle data, rebuilding the command catalog and
// capability data the query methods answer from.
func (v *Vehicle) Refresh(ctx context.Context) error {
	_, err := v.exec.FetchVehicles(ctx)
	return err
}

// AccountVehicles returns the raw account vehicles payload, refreshing the catalog as a side
// effect.
func (v *Vehicle) AccountVehicles(ctx context.Context) (json.RawMessage, error) {
	return v.exec.FetchVehicles(ctx)
}

// IsCommandAvailable reports whether the vehicle advertises the named command. Always false
// before the first Refresh.
func (v *Vehicle) IsCommandAvailable(name string) bool {
	return v.exec.Catalog().Available(name)
}

// SupportedDiagnostics returns the diagnostic item names the vehicle advertises.
func (v *Vehicle) SupportedDiagnostics() []string {
	cmd, ok := v.exec.Catalog().Lookup(CommandDiagnostics)
	if !ok {
		return nil
	}
	return cmd.SupportedDiagnostics
}

// SupportedHVACSettings returns the vehicle's advertised climate capability data, or nil if
// the vehicle does not advertise the HVAC command.
func (v *Vehicle) SupportedHVACSettings() *account.HVACCapabilities {
	cmd, ok := v.exec.Catalog().Lookup(CommandSetHVACSettings)
	if !ok {
		return nil
	}
	return cmd.HVAC
}

// Entitlements returns the vehicle's entitlement list.
func (v *Vehicle) Entitlements() []account.Entitlement {
	return v.exec.Entitlements()
}

// IsEntitled reports whether the vehicle is eligible for the named entitlement.
func (v *Vehicle) IsEntitled(id string) bool {
	for _, e := range v.exec.Entitlements() {
		if e.ID == id {
			return e.IsEligible()
		}
	}
	return false
}

// Start starts the vehicle remotely.
func (v *Vehicle) Start(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandStart, nil)
}

// CancelStart cancels a remote start.
func (v *Vehicle) CancelStart(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandCancelStart, nil)
}

// Connect pings the vehicle. Connect commands are fire-and-forget: the backend never reports
// completion, so the first response is returned as-is.
func (v *Vehicle) Connect(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandConnect, nil)
}

// Location requests the vehicle's position.
func (v *Vehicle) Location(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandLocation, nil)
}

// CancelAlert stops an active alert.
func (v *Vehicle) CancelAlert(ctx context.Context) (*protocol.CommandResult, error) {
	return v.exec.ExecuteCommand(ctx, CommandCancelAlert, nil)
}
