package account

import (
	"encoding/json"
	"sort"
	"strings"
)

// Command describes one remotely invocable operation advertised for a vehicle.
type Command struct {
	Name string
	URL  string
	// RequiresPrivilegedSession marks commands the backend gates behind an upgraded session
	// (for example, remote door unlock on some model years).
	RequiresPrivilegedSession bool
	// SupportedDiagnostics lists the diagnostic item names the vehicle can report; only
	// populated on the diagnostics command.
	SupportedDiagnostics []string
	// HVAC carries climate capability data; only populated on the HVAC settings command.
	HVAC *HVACCapabilities
}

// HVACCapabilities is the climate-control capability data a vehicle advertises.
type HVACCapabilities struct {
	ACClimateModes      []string
	HeatedSteeringWheel bool
}

// Catalog maps command names to their invocation metadata for one vehicle. It is rebuilt
// wholesale on every vehicle fetch and read-only in between; "unknown command" is a
// first-class answer, not an error.
type Catalog struct {
	commands map[string]Command
}

// NewCatalog builds a catalog from explicit command metadata. FetchVehicles builds catalogs
// from account data; this constructor serves callers with out-of-band capability knowledge.
func NewCatalog(commands ...Command) *Catalog {
	catalog := &Catalog{commands: make(map[string]Command, len(commands))}
	for _, cmd := range commands {
		catalog.commands[cmd.Name] = cmd
	}
	return catalog
}

// Lookup returns the named command's metadata.
func (c *Catalog) Lookup(name string) (Command, bool) {
	if c == nil {
		return Command{}, false
	}
	cmd, ok := c.commands[name]
	return cmd, ok
}

// Available reports whether the vehicle advertises the named command.
func (c *Catalog) Available(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Names returns the advertised command names, sorted.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the catalog has no commands, either because the vehicle record was
// missing from the account response or because no fetch has happened yet.
func (c *Catalog) Empty() bool {
	return c == nil || len(c.commands) == 0
}

// Entitlement is one entry of a vehicle's entitlement list.
type Entitlement struct {
	ID       string `json:"id"`
	Eligible string `json:"eligible"`
}

// Eligible entitlements have the string "true" in the payload.
func (e Entitlement) IsEligible() bool {
	return strings.EqualFold(e.Eligible, "true")
}

// The account/vehicles payload nests lists one level deeper than necessary
// ({"commands": {"command": [...]}}); the types below mirror that shape.

type vehiclesResponse struct {
	Vehicles struct {
		Vehicle []vehicleRecord `json:"vehicle"`
	} `json:"vehicles"`
}

type vehicleRecord struct {
	VIN      string `json:"vin"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     string `json:"year"`
	Commands struct {
		Command []commandRecord `json:"command"`
	} `json:"commands"`
	Entitlements struct {
		Entitlement []Entitlement `json:"entitlement"`
	} `json:"entitlements"`
}

type commandRecord struct {
	Name                  string       `json:"name"`
	Description           string       `json:"description"`
	URL                   string       `json:"url"`
	IsPrivSessionRequired string       `json:"isPrivSessionRequired"`
	CommandData           *commandData `json:"commandData"`
}

type commandData struct {
	SupportedDiagnostics *struct {
		SupportedDiagnostic []string `json:"supportedDiagnostic"`
	} `json:"supportedDiagnostics"`
	SupportedHVACData *struct {
		SupportedACClimateModeSettings *struct {
			SupportedACClimateModeSetting []string `json:"supportedAcClimateModeSetting"`
		} `json:"supportedAcClimateModeSettings"`
		HeatedSteeringWheelSupported string `json:"heatedSteeringWheelSupported"`
	} `json:"supportedHvacData"`
}

func buildCatalog(record *vehicleRecord) *Catalog {
	catalog := &Catalog{commands: make(map[string]Command)}
	if record == nil {
		return catalog
	}
	for _, raw := range record.Commands.Command {
		cmd := Command{
			Name:                      raw.Name,
			URL:                       raw.URL,
			RequiresPrivilegedSession: strings.EqualFold(raw.IsPrivSessionRequired, "true"),
		}
		if data := raw.CommandData; data != nil {
			if data.SupportedDiagnostics != nil {
				cmd.SupportedDiagnostics = data.SupportedDiagnostics.SupportedDiagnostic
			}
			if hvac := data.SupportedHVACData; hvac != nil {
				caps := &HVACCapabilities{
					HeatedSteeringWheel: strings.EqualFold(hvac.HeatedSteeringWheelSupported, "true"),
				}
				if hvac.SupportedACClimateModeSettings != nil {
					caps.ACClimateModes = hvac.SupportedACClimateModeSettings.SupportedACClimateModeSetting
				}
				cmd.HVAC = caps
			}
		}
		catalog.commands[raw.Name] = cmd
	}
	return catalog
}

func findVehicle(body []byte, vin string) (*vehicleRecord, error) {
	var decoded vehiclesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, err
	}
	for i := range decoded.Vehicles.Vehicle {
		if strings.EqualFold(decoded.Vehicles.Vehicle[i].VIN, vin) {
			return &decoded.Vehicles.Vehicle[i], nil
		}
	}
	return nil, nil
}
