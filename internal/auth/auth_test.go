package auth_test

import (
	"errors"
	"testing"

	"github.com/voxwire/voxwire/internal/auth"
	"github.com/voxwire/voxwire/internal/config"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	a := auth.New(config.AuthConfig{
		Enable:         true,
		AllowedDevices: []string{"AA:BB:CC:DD:EE:FF"},
		Tokens: []config.TokenEntry{
			{Token: "tok-1", Name: "bench-device"},
		},
	})

	t.Run("whitelisted device admitted without token", func(t *testing.T) {
		t.Parallel()
		if _, err := a.Authenticate("aa:bb:cc:dd:ee:ff", ""); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("whitelist checked before token", func(t *testing.T) {
		t.Parallel()
		// A whitelisted device with a bogus token must still be admitted.
		if _, err := a.Authenticate("AA:BB:CC:DD:EE:FF", "Bearer bogus"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("valid token admitted with name", func(t *testing.T) {
		t.Parallel()
		name, err := a.Authenticate("11:22:33:44:55:66", "Bearer tok-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if name != "bench-device" {
			t.Errorf("name = %q, want bench-device", name)
		}
	})

	t.Run("lowercase bearer scheme admitted", func(t *testing.T) {
		t.Parallel()
		name, err := a.Authenticate("11:22:33:44:55:66", "bearer tok-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if name != "bench-device" {
			t.Errorf("name = %q, want bench-device", name)
		}
	})

	t.Run("uppercase bearer scheme admitted", func(t *testing.T) {
		t.Parallel()
		if _, err := a.Authenticate("11:22:33:44:55:66", "BEARER tok-1"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown device and token rejected", func(t *testing.T) {
		t.Parallel()
		_, err := a.Authenticate("11:22:33:44:55:66", "Bearer wrong")
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("missing header rejected", func(t *testing.T) {
		t.Parallel()
		_, err := a.Authenticate("11:22:33:44:55:66", "")
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestAuthenticateDisabled(t *testing.T) {
	t.Parallel()
	a := auth.New(config.AuthConfig{Enable: false})
	if _, err := a.Authenticate("anything", ""); err != nil {
		t.Errorf("disabled auth must admit everyone, got: %v", err)
	}
}
