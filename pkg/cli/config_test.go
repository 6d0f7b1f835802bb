package cli

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestReadFromEnvironment(t *testing.T) {
	t.Setenv(EnvOnStarUsername, "user@example.com")
	t.Setenv(EnvOnStarPassword, "hunter2")
	t.Setenv(EnvOnStarDeviceID, "device-1")
	t.Setenv(EnvOnStarTOTPSecret, "JBSWY3DPEHPK3PXP")
	t.Setenv(EnvOnStarVIN, "1G1FZ6S02L4100001")
	t.Setenv(EnvOnStarTokenDir, t.TempDir())

	config, err := NewConfig(FlagAll)
	if err != nil {
		t.Fatal(err)
	}
	config.ReadFromEnvironment()
	if config.Username != "user@example.com" || config.Password != "hunter2" {
		t.Error("credentials not read from the environment")
	}
	if config.VIN != "1G1FZ6S02L4100001" || config.DeviceID != "device-1" {
		t.Error("VIN or device id not read from the environment")
	}
	if config.TOTPSecret != "JBSWY3DPEHPK3PXP" {
		t.Error("TOTP secret not read from the environment")
	}
}

func TestEnvironmentDoesNotOverrideFlags(t *testing.T) {
	t.Setenv(EnvOnStarUsername, "env@example.com")
	t.Setenv(EnvOnStarVIN, "ENVVIN00000000000")

	config, err := NewConfig(FlagAll)
	if err != nil {
		t.Fatal(err)
	}
	config.Username = "flag@example.com"
	config.VIN = "FLAGVIN0000000000"
	config.ReadFromEnvironment()
	if config.Username != "flag@example.com" || config.VIN != "FLAGVIN0000000000" {
		t.Error("environment overrode explicitly set fields")
	}
}

func TestFlagMaskDisablesFields(t *testing.T) {
	t.Setenv(EnvOnStarVIN, "1G1FZ6S02L4100001")

	config, err := NewConfig(FlagCredentials)
	if err != nil {
		t.Fatal(err)
	}
	config.ReadFromEnvironment()
	if config.VIN != "" {
		t.Error("VIN read despite FlagVIN being unset")
	}
}

func TestLoadCredentialsRequiresUsername(t *testing.T) {
	config, err := NewConfig(FlagCredentials)
	if err != nil {
		t.Fatal(err)
	}
	if err := config.LoadCredentials(); err != ErrNoUsername {
		t.Errorf("err = %v, want ErrNoUsername", err)
	}
}

func TestAccountAppliesCommandOptions(t *testing.T) {
	config, err := NewConfig(FlagAll)
	if err != nil {
		t.Fatal(err)
	}
	config.Username = "user@example.com"
	config.VIN = "1G1FZ6S02L4100001"
	config.TokenDir = t.TempDir()
	config.Timeout = 45 * time.Second
	config.PollInterval = 2 * time.Second
	config.NoPoll = true
	config.MaxRetries = 5
	config.PendingOnDuplicate = true

	acct, err := config.Account()
	if err != nil {
		t.Fatal(err)
	}
	if acct.PollTimeout != 45*time.Second || acct.PollInterval != 2*time.Second {
		t.Error("polling durations not applied")
	}
	if acct.CheckRequestStatus {
		t.Error("NoPoll not applied")
	}
	if acct.MaxRetries != 5 || !acct.PendingOnDuplicate {
		t.Error("retry options not applied")
	}
	if acct.VIN() != "1G1FZ6S02L4100001" {
		t.Errorf("VIN = %q", acct.VIN())
	}
}

func TestAccountRequiresVIN(t *testing.T) {
	config, err := NewConfig(FlagAll)
	if err != nil {
		t.Fatal(err)
	}
	config.Username = "user@example.com"
	if _, err := config.Account(); err != ErrNoVIN {
		t.Errorf("err = %v, want ErrNoVIN", err)
	}
}

func TestLoadCredentialsGeneratesDeviceID(t *testing.T) {
	newLoadedConfig := func() *Config {
		config, err := NewConfig(FlagCredentials)
		if err != nil {
			t.Fatal(err)
		}
		config.Username = "user@example.com"
		config.Password = "hunter2"
		config.TOTPSecret = "JBSWY3DPEHPK3PXP"
		if err := config.LoadCredentials(); err != nil {
			t.Fatal(err)
		}
		return config
	}

	first := newLoadedConfig()
	if _, err := uuid.Parse(first.DeviceID); err != nil {
		t.Errorf("generated device id %q is not a UUID: %s", first.DeviceID, err)
	}
	second := newLoadedConfig()
	if first.DeviceID == second.DeviceID {
		t.Error("device ids should be unique")
	}
}

func TestLoadCredentialsKeepsConfiguredDeviceID(t *testing.T) {
	config, err := NewConfig(FlagCredentials)
	if err != nil {
		t.Fatal(err)
	}
	config.Username = "user@example.com"
	config.Password = "hunter2"
	config.TOTPSecret = "JBSWY3DPEHPK3PXP"
	config.DeviceID = "device-1"
	if err := config.LoadCredentials(); err != nil {
		t.Fatal(err)
	}
	if config.DeviceID != "device-1" {
		t.Errorf("DeviceID = %q, want the configured value kept", config.DeviceID)
	}
}
