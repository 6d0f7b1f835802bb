package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "com.onstar.auth"
	keyringPasswordService = "password"
	keyringTOTPService     = "totp"
	keyringDirectory       = "~/.onstar_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// getKeyringPassword unlocks password-protected keyring backends. This is the keyring's own
// password, not the vehicle account password.
func (c *Config) getKeyringPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}
	password, err := promptSecret(prompt)
	if err != nil {
		return "", err
	}
	c.password = &password
	return password, nil
}

// promptSecret reads a secret from the terminal without echoing it.
func promptSecret(prompt string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal available for %q prompt", prompt)
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

func (c *Config) passwordKey() string {
	return keyringPasswordService + "." + c.Username
}

func (c *Config) totpKey() string {
	return keyringTOTPService + "." + c.Username
}

// LoadPasswordFromKeyring reads the account password enrolled for c.Username.
func (c *Config) LoadPasswordFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.passwordKey())
	if err != nil {
		return "", fmt.Errorf("could not load password: %s", err)
	}
	return string(item.Data), nil
}

// SavePasswordToKeyring enrolls the account password for c.Username in the system keyring.
func (c *Config) SavePasswordToKeyring(password string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{Key: c.passwordKey(), Data: []byte(password)}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	return nil
}

// LoadTOTPFromKeyring reads the TOTP shared secret enrolled for c.Username.
func (c *Config) LoadTOTPFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.totpKey())
	if err != nil {
		return "", fmt.Errorf("could not load TOTP secret: %s", err)
	}
	return string(item.Data), nil
}

// SaveTOTPToKeyring enrolls the TOTP shared secret for c.Username in the system keyring.
func (c *Config) SaveTOTPToKeyring(secret string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{Key: c.totpKey(), Data: []byte(secret)}); err != nil {
		return fmt.Errorf("failed to enroll TOTP secret in keyring: %s", err)
	}
	return nil
}

// DeleteCredentials removes the enrolled password and TOTP secret from the system keyring.
func (c *Config) DeleteCredentials() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Remove(c.passwordKey()); err != nil && err != keyring.ErrKeyNotFound {
		return err
	}
	if err := kr.Remove(c.totpKey()); err != nil && err != keyring.ErrKeyNotFound {
		return err
	}
	return nil
}
