package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/onstar-go/onstar/pkg/protocol"
	"github.com/onstar-go/onstar/pkg/vehicle"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	for _, arg := range c.optional {
		fmt.Printf(" [%s]", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	fmt.Printf("\n%s\n", c.help)
	if len(c.args)+len(c.optional) > 0 {
		fmt.Println("Arguments:")
	}
	pad := func(name string) string {
		return strings.Repeat(" ", maxLength-len(name))
	}
	for _, arg := range c.args {
		fmt.Printf("  %s%s %s\n", arg.name, pad(arg.name), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("  %s%s %s (optional)\n", arg.name, pad(arg.name), arg.help)
	}
}

func execute(ctx context.Context, car *vehicle.Vehicle, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}
	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).",
			len(args)-1, len(info.args), len(info.optional))
		info.Usage(args[0])
		return ErrCommandLineArgs
	}
	keywords := make(map[string]string)
	for i, argInfo := range info.args {
		keywords[argInfo.name] = args[i+1]
	}
	index := len(info.args) + 1
	for _, argInfo := range info.optional {
		if index >= len(args) {
			break
		}
		keywords[argInfo.name] = args[index]
		index++
	}
	return info.handler(ctx, car, keywords)
}

// printResult renders a command outcome: the job status for asynchronous commands, the
// indented payload for immediate data responses.
func printResult(result *protocol.CommandResult) {
	if result == nil {
		return
	}
	if result.Job != nil && result.Job.Status == protocol.StatusSuccess {
		fmt.Println("OK")
	}
	if len(result.Raw) == 0 {
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result.Raw, "", "  "); err != nil {
		fmt.Println(string(result.Raw))
		return
	}
	fmt.Println(pretty.String())
}

func parseDelay(args map[string]string) (int, error) {
	raw, ok := args["DELAY"]
	if !ok || raw == "" {
		return 0, nil
	}
	delay, err := strconv.Atoi(raw)
	if err != nil || delay < 0 {
		return 0, fmt.Errorf("%w: DELAY must be a non-negative number of seconds", ErrCommandLineArgs)
	}
	return delay, nil
}

var commands = map[string]*Command{
	"start": {
		help: "Start the vehicle remotely",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.Start(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"cancel-start": {
		help: "Cancel a remote start",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.CancelStart(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"connect": {
		help: "Ping the vehicle's onboard module",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.Connect(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"lock": {
		help:     "Lock the doors",
		optional: []Argument{{name: "DELAY", help: "Seconds to wait before executing"}},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			delay, err := parseDelay(args)
			if err != nil {
				return err
			}
			result, err := car.LockDoor(ctx, &vehicle.DoorOptions{Delay: delay})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"unlock": {
		help:     "Unlock the doors",
		optional: []Argument{{name: "DELAY", help: "Seconds to wait before executing"}},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			delay, err := parseDelay(args)
			if err != nil {
				return err
			}
			result, err := car.UnlockDoor(ctx, &vehicle.DoorOptions{Delay: delay})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"lock-trunk": {
		help:     "Lock the trunk",
		optional: []Argument{{name: "DELAY", help: "Seconds to wait before executing"}},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			delay, err := parseDelay(args)
			if err != nil {
				return err
			}
			result, err := car.LockTrunk(ctx, &vehicle.TrunkOptions{Delay: delay})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"unlock-trunk": {
		help:     "Unlock the trunk",
		optional: []Argument{{name: "DELAY", help: "Seconds to wait before executing"}},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			delay, err := parseDelay(args)
			if err != nil {
				return err
			}
			result, err := car.UnlockTrunk(ctx, &vehicle.TrunkOptions{Delay: delay})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"alert": {
		help: "Honk the horn and/or flash the lights",
		optional: []Argument{
			{name: "ACTION", help: "honk, flash, or both (default both)"},
			{name: "DURATION", help: "Duration in minutes (default 1)"},
		},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			options := &vehicle.AlertOptions{}
			switch strings.ToLower(args["ACTION"]) {
			case "", "both":
			case "honk":
				options.Action = []string{vehicle.AlertActionHonk}
			case "flash":
				options.Action = []string{vehicle.AlertActionFlash}
			default:
				return fmt.Errorf("%w: ACTION must be honk, flash, or both", ErrCommandLineArgs)
			}
			if raw, ok := args["DURATION"]; ok {
				duration, err := strconv.Atoi(raw)
				if err != nil || duration < 1 {
					return fmt.Errorf("%w: DURATION must be a positive number of minutes", ErrCommandLineArgs)
				}
				options.Duration = duration
			}
			result, err := car.Alert(ctx, options)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"cancel-alert": {
		help: "Stop an active alert",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.CancelAlert(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"charge": {
		help:     "Override the charging schedule",
		optional: []Argument{{name: "MODE", help: "now or cancel (default now)"}},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			options := &vehicle.ChargeOverrideOptions{}
			switch strings.ToLower(args["MODE"]) {
			case "", "now":
				options.Mode = vehicle.ChargeOverrideChargeNow
			case "cancel":
				options.Mode = vehicle.ChargeOverrideCancelOverride
			default:
				return fmt.Errorf("%w: MODE must be now or cancel", ErrCommandLineArgs)
			}
			result, err := car.ChargeOverride(ctx, options)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"charge-profile": {
		help: "Show the vehicle's charging profile",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.GetChargingProfile(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"set-charge-profile": {
		help: "Update the vehicle's charging profile",
		args: []Argument{
			{name: "CHARGE_MODE", help: "DEFAULT_IMMEDIATE, IMMEDIATE, DEPARTURE_BASED, RATE_BASED, or PHONE_PLUG_IN"},
			{name: "RATE_TYPE", help: "OFFPEAK, MIDPEAK, or PEAK"},
		},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.SetChargingProfile(ctx, &vehicle.ChargingProfileOptions{
				ChargeMode: strings.ToUpper(args["CHARGE_MODE"]),
				RateType:   strings.ToUpper(args["RATE_TYPE"]),
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"charger-power": {
		help: "Show the charger power level",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.GetChargerPowerLevel(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"diagnostics": {
		help:     "Request diagnostic data",
		optional: []Argument{{name: "ITEMS", help: "Comma-separated diagnostic items (default all supported)"}},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			options := &vehicle.DiagnosticsOptions{}
			if raw := args["ITEMS"]; raw != "" {
				for _, item := range strings.Split(raw, ",") {
					options.Items = append(options.Items, strings.TrimSpace(item))
				}
			}
			result, err := car.Diagnostics(ctx, options)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"location": {
		help: "Show the vehicle's location",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			result, err := car.Location(ctx)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"climate": {
		help: "Update climate settings",
		optional: []Argument{
			{name: "AC", help: "AC_OFF, AC_NORM, or AC_MAX"},
			{name: "HEATED_WHEEL", help: "on or off"},
		},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			options := &vehicle.HVACOptions{ACClimateSetting: strings.ToUpper(args["AC"])}
			switch strings.ToLower(args["HEATED_WHEEL"]) {
			case "":
			case "on":
				enabled := true
				options.HeatedSteeringWheel = &enabled
			case "off":
				enabled := false
				options.HeatedSteeringWheel = &enabled
			default:
				return fmt.Errorf("%w: HEATED_WHEEL must be on or off", ErrCommandLineArgs)
			}
			result, err := car.SetHVACSettings(ctx, options)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	},
	"capabilities": {
		help: "List the commands and diagnostic items the vehicle advertises",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			names := []string{
				vehicle.CommandStart, vehicle.CommandCancelStart, vehicle.CommandLockDoor,
				vehicle.CommandUnlockDoor, vehicle.CommandLockTrunk, vehicle.CommandUnlockTrunk,
				vehicle.CommandAlert, vehicle.CommandCancelAlert, vehicle.CommandChargeOverride,
				vehicle.CommandGetChargingProfile, vehicle.CommandSetChargingProfile,
				vehicle.CommandGetChargerPowerLevel, vehicle.CommandDiagnostics,
				vehicle.CommandLocation, vehicle.CommandSetHVACSettings, vehicle.CommandConnect,
			}
			sort.Strings(names)
			fmt.Println("Commands:")
			for _, name := range names {
				marker := " "
				if car.IsCommandAvailable(name) {
					marker = "*"
				}
				fmt.Printf("  [%s] %s\n", marker, name)
			}
			if items := car.SupportedDiagnostics(); len(items) > 0 {
				fmt.Println("Diagnostic items:")
				for _, item := range items {
					fmt.Printf("  %s\n", item)
				}
			}
			if caps := car.SupportedHVACSettings(); caps != nil {
				fmt.Println("Climate:")
				fmt.Printf("  AC modes: %s\n", strings.Join(caps.ACClimateModes, ", "))
				fmt.Printf("  Heated steering wheel: %v\n", caps.HeatedSteeringWheel)
			}
			return nil
		},
	},
	"entitlements": {
		help: "List the vehicle's entitlements",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			for _, e := range car.Entitlements() {
				fmt.Printf("%s: eligible=%v\n", e.ID, e.IsEligible())
			}
			return nil
		},
	},
	"vehicles": {
		help: "Show the raw account vehicles payload",
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			body, err := car.AccountVehicles(ctx)
			if err != nil {
				return err
			}
			printResult(&protocol.CommandResult{Raw: body})
			return nil
		},
	},
}
