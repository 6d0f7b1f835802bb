package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/cli"
	"github.com/onstar-go/onstar/pkg/protocol"
	"github.com/onstar-go/onstar/pkg/vehicle"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.\n", os.Args[0])
	fmt.Println("")
	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(car *vehicle.Vehicle, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, car, args); err != nil {
		if protocol.MayHaveSucceeded(err) {
			writeErr("Couldn't verify success: %s", err)
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(car *vehicle.Vehicle, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		runCommand(car, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

// resolveDebug reports whether verbose logging was requested, either by the -debug flag or by
// the ONSTAR_VERBOSE environment variable.
func resolveDebug(debug bool) bool {
	if debug {
		return true
	}
	if debugEnv, ok := os.LookupEnv("ONSTAR_VERBOSE"); ok {
		return debugEnv != "false" && debugEnv != "0"
	}
	return false
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug          bool
		envFile        string
		commandTimeout time.Duration
		connTimeout    time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.StringVar(&envFile, "env-file", "", "Load environment variables from `file` before reading the environment")
	flag.DurationVar(&commandTimeout, "timeout", 5*time.Minute, "Set timeout for command execution, including polling.")
	flag.DurationVar(&connTimeout, "connect-timeout", 2*time.Minute, "Set timeout for authentication and the initial vehicle fetch.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			writeErr("Error loading %s: %s", envFile, err)
			return
		}
	} else {
		// A .env in the working directory is picked up when present.
		_ = godotenv.Load()
	}
	// The env file can carry ONSTAR_VERBOSE, so the debug level is resolved after loading it.
	if resolveDebug(debug) {
		log.SetLevel(log.LevelDebug)
	}
	config.ReadFromEnvironment()

	args := flag.Args()
	if len(args) > 0 && args[0] == "help" {
		if len(args) == 1 {
			Usage()
			status = 0
			return
		}
		info, ok := commands[args[1]]
		if !ok {
			writeErr("Unrecognized command: %s", args[1])
			return
		}
		info.Usage(args[1])
		status = 0
		return
	}
	if len(args) > 0 {
		if _, ok := commands[args[0]]; !ok {
			writeErr("Unrecognized command: %s", args[0])
			return
		}
	}

	if err := config.LoadCredentials(); err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	_, car, err := config.Connect(ctx)
	cancel()
	if err != nil {
		if errors.Is(err, protocol.ErrNoVehicles) {
			writeErr("Error: the account has no authorized vehicles")
			return
		}
		writeErr("Error: %s", err)
		return
	}

	if flag.NArg() > 0 {
		status = runCommand(car, flag.Args(), commandTimeout)
	} else {
		status = runInteractiveShell(car, commandTimeout)
	}
}
