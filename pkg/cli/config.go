/*
Package cli facilitates building command-line applications that talk to vehicles. It defines a
[Config] type that registers common command-line flags (using the Golang flag package) and
environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (the
account password and TOTP secret) in an OS-dependent credential store.

# Examples

	import flag

	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for credentials, VIN, etc.
	flag.Parse()
	config.ReadFromEnvironment() // Fills in missing fields using environment variables
	if err := config.LoadCredentials(); err != nil { // Keyring lookups and interactive prompts
		panic(err)
	}

	acct, car, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}

Fields populated from the command line are never overwritten by the environment, and fields
populated from either source are never overwritten by keyring values or prompts.
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/google/uuid"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/account"
	"github.com/onstar-go/onstar/pkg/auth"
	"github.com/onstar-go/onstar/pkg/vehicle"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvOnStarUsername     = "ONSTAR_USERNAME"
	EnvOnStarPassword     = "ONSTAR_PASSWORD"
	EnvOnStarDeviceID     = "ONSTAR_DEVICE_ID"
	EnvOnStarTOTPSecret   = "ONSTAR_TOTP_SECRET"
	EnvOnStarVIN          = "ONSTAR_VIN"
	EnvOnStarTokenDir     = "ONSTAR_TOKEN_DIR"
	EnvOnStarKeyringType  = "ONSTAR_KEYRING_TYPE"
	EnvOnStarKeyringPass  = "ONSTAR_KEYRING_PASSWORD"
	EnvOnStarKeyringPath  = "ONSTAR_KEYRING_PATH"
	EnvOnStarKeyringDebug = "ONSTAR_KEYRING_DEBUG"
)

// Flag controls what options should be scanned from the command line and/or environment
// variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagVIN         Flag = 1 // Enable VIN option.
	FlagCredentials Flag = 2 // Enable account credential options. Required for authentication.
	FlagCommand     Flag = 4 // Enable command execution options (polling, retries).
	FlagAll         Flag = FlagVIN | FlagCredentials | FlagCommand
)

var (
	ErrNoUsername   = errors.New("account username not provided")
	ErrNoVIN        = errors.New("vehicle VIN not provided")
	ErrCredNotFound = keyring.ErrKeyNotFound
)

// Config fields determine how a client authenticates to the vehicle backend and how commands
// are executed.
type Config struct {
	Flags       Flag // Controls which set of environment variables/CLI flags to use.
	Username    string
	Password    string
	DeviceID    string
	TOTPSecret  string
	VIN         string
	TokenDir    string
	Backend     keyring.Config
	BackendType backendType
	Debug       bool // Enable keyring debug messages

	// Command execution options; zero values defer to the account package defaults.
	Timeout            time.Duration
	PollInterval       time.Duration
	NoPoll             bool
	MaxRetries         int
	PendingOnDuplicate bool

	password *string // keyring backend password, not the account password
	session  *auth.Session
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getKeyringPassword
	c.Backend.FilePasswordFunc = c.getKeyringPassword
	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	if c.Flags.isSet(FlagVIN) {
		flag.StringVar(&c.VIN, "vin", "", "Vehicle Identification Number. Defaults to $ONSTAR_VIN.")
	}
	if c.Flags.isSet(FlagCredentials) {
		flag.StringVar(&c.Username, "username", "", "Account email address. Defaults to $ONSTAR_USERNAME.")
		flag.StringVar(&c.DeviceID, "device-id", "", "Client installation UUID. Defaults to $ONSTAR_DEVICE_ID.")
		flag.StringVar(&c.TokenDir, "token-dir", "", "`Directory` for cached tokens. Defaults to $ONSTAR_TOKEN_DIR.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $ONSTAR_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagCommand) {
		flag.DurationVar(&c.Timeout, "command-timeout", 0, "Maximum `time` to wait for a command to complete (0 for the default).")
		flag.DurationVar(&c.PollInterval, "poll-interval", 0, "Delay between command status polls (0 for the default).")
		flag.BoolVar(&c.NoPoll, "no-poll", false, "Return the first command response without polling for completion.")
		flag.IntVar(&c.MaxRetries, "max-retries", 0, "Retries when the backend reports a duplicate request (0 for the default).")
		flag.BoolVar(&c.PendingOnDuplicate, "pending-on-duplicate", false, "Treat exhausted duplicate-request retries as a pending command instead of an error.")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already
// populated are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() will prevent the environment from overriding
// explicit command-line parameters.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagVIN) && c.VIN == "" {
		c.VIN = os.Getenv(EnvOnStarVIN)
		log.Debug("Set VIN to '%s'", c.VIN)
	}
	if c.Flags.isSet(FlagCredentials) {
		if c.Username == "" {
			c.Username = os.Getenv(EnvOnStarUsername)
			log.Debug("Set username to '%s'", c.Username)
		}
		if c.Password == "" {
			c.Password = os.Getenv(EnvOnStarPassword)
		}
		if c.DeviceID == "" {
			c.DeviceID = os.Getenv(EnvOnStarDeviceID)
			log.Debug("Set device id to '%s'", c.DeviceID)
		}
		if c.TOTPSecret == "" {
			c.TOTPSecret = os.Getenv(EnvOnStarTOTPSecret)
		}
		if c.TokenDir == "" {
			c.TokenDir = os.Getenv(EnvOnStarTokenDir)
			log.Debug("Set token directory to '%s'", c.TokenDir)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvOnStarKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvOnStarKeyringPass)
			c.password = &password
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvOnStarKeyringPath)
			log.Debug("Set keyring file path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvOnStarKeyringDebug)
		}
	}
}

// LoadCredentials fills in the password and TOTP secret, consulting the system keyring first
// and falling back to interactive prompts. Call this method before [Config.Connect] so
// prompts do not count against command timeouts. A missing device id is generated and kept
// for the life of the process; supply one explicitly to keep the backend from treating every
// invocation as a new client installation.
func (c *Config) LoadCredentials() error {
	if !c.Flags.isSet(FlagCredentials) {
		return nil
	}
	if c.Username == "" {
		return ErrNoUsername
	}
	if c.Password == "" {
		if stored, err := c.LoadPasswordFromKeyring(); err == nil {
			c.Password = stored
		} else {
			log.Debug("No password in keyring: %s", err)
			password, err := promptSecret(fmt.Sprintf("Password for %s", c.Username))
			if err != nil {
				return err
			}
			c.Password = password
		}
	}
	if c.TOTPSecret == "" {
		if stored, err := c.LoadTOTPFromKeyring(); err == nil {
			c.TOTPSecret = stored
		} else {
			log.Debug("No TOTP secret in keyring: %s", err)
			secret, err := promptSecret("TOTP secret")
			if err != nil {
				return err
			}
			c.TOTPSecret = secret
		}
	}
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
		log.Warning("No device id configured; generated %s for this invocation", c.DeviceID)
	}
	return nil
}

// AuthConfig converts c into the auth package's configuration type.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Username:   c.Username,
		Password:   c.Password,
		DeviceID:   c.DeviceID,
		TOTPSecret: c.TOTPSecret,
		TokenDir:   c.TokenDir,
	}
}

// Session returns the shared authentication session, creating it on first use.
func (c *Config) Session() (*auth.Session, error) {
	if c.session != nil {
		return c.session, nil
	}
	session, err := auth.NewSession(c.AuthConfig())
	if err != nil {
		return nil, err
	}
	c.session = session
	return session, nil
}

// Account builds an Account for the configured VIN, applying the command execution options.
func (c *Config) Account() (*account.Account, error) {
	if c.VIN == "" {
		return nil, ErrNoVIN
	}
	session, err := c.Session()
	if err != nil {
		return nil, err
	}
	acct := account.New(session, c.VIN)
	if c.Timeout > 0 {
		acct.PollTimeout = c.Timeout
	}
	if c.PollInterval > 0 {
		acct.PollInterval = c.PollInterval
	}
	if c.NoPoll {
		acct.CheckRequestStatus = false
	}
	if c.MaxRetries > 0 {
		acct.MaxRetries = c.MaxRetries
	}
	acct.PendingOnDuplicate = c.PendingOnDuplicate
	return acct, nil
}

// Connect authenticates and returns the account handle along with a vehicle facade whose
// catalog has been populated from the backend.
func (c *Config) Connect(ctx context.Context) (*account.Account, *vehicle.Vehicle, error) {
	acct, err := c.Account()
	if err != nil {
		return nil, nil, err
	}
	car := vehicle.New(acct)
	log.Info("Fetching vehicle data for %s...", acct.VIN())
	if err := car.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	return acct, car, nil
}
