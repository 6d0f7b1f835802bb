// Utility for obtaining vehicle API tokens.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/cli"
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [OPTION...] [file]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Authenticates against the vehicle backend and writes the resulting API token as")
	fmt.Fprintln(w, "JSON to stdout or file. Identity and API tokens are cached in the token directory,")
	fmt.Fprintln(w, "so repeated invocations only perform the full login when the cache has expired.")
	fmt.Fprintln(w, "")
	flag.PrintDefaults()
}

func main() {
	returnCode := 1
	defer func() {
		os.Exit(returnCode)
	}()

	var (
		debug      bool
		envFile    string
		enroll     bool
		invalidate bool
		timeout    time.Duration
	)
	config, err := cli.NewConfig(cli.FlagCredentials)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}

	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.StringVar(&envFile, "env-file", "", "Load environment variables from `file` before reading the environment")
	flag.BoolVar(&enroll, "enroll", false, "Save the password and TOTP secret to the system keyring after a successful login")
	flag.BoolVar(&invalidate, "invalidate", false, "Discard cached tokens and force a full login")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Set timeout for the authentication flow.")
	config.RegisterCommandLineFlags()
	flag.Usage = usage
	flag.Parse()

	if debug {
		log.SetLevel(log.LevelDebug)
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %s\n", envFile, err)
			return
		}
	} else {
		_ = godotenv.Load()
	}
	config.ReadFromEnvironment()

	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Too many command-line arguments")
		return
	}

	if err := config.LoadCredentials(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading credentials: %s\n", err)
		return
	}

	session, err := config.Session()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating session: %s\n", err)
		return
	}
	if invalidate {
		if err := session.Invalidate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error discarding cached tokens: %s\n", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	token, err := session.Authenticate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authentication failed: %s\n", err)
		return
	}

	if enroll {
		if err := config.SavePasswordToKeyring(config.Password); err != nil {
			fmt.Fprintf(os.Stderr, "Error enrolling password in keyring: %s\n", err)
			return
		}
		if err := config.SaveTOTPToKeyring(config.TOTPSecret); err != nil {
			fmt.Fprintf(os.Stderr, "Error enrolling TOTP secret in keyring: %s\n", err)
			return
		}
		log.Info("Enrolled credentials in system keyring")
	}

	encoded, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding token: %s\n", err)
		return
	}
	if flag.NArg() == 1 {
		if err := os.WriteFile(flag.Arg(0), append(encoded, '\n'), 0600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing token: %s\n", err)
			return
		}
	} else {
		fmt.Println(string(encoded))
	}

	returnCode = 0
}
