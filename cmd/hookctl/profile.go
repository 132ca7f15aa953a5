package main

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile is the state hookctl keeps between invocations.
type Profile struct {
	Server   string `toml:"server,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
	NATSURL  string `toml:"nats_url,omitempty"`
}

func defaultProfilePath() string {
	if p := os.Getenv("HOOKCTL_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hookctl.toml"
	}
	return filepath.Join(dir, "hookctl", "config.toml")
}

// loadProfile reads the profile at path. A missing file is an empty profile.
func loadProfile(path string) (Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, nil
		}
		return Profile{}, err
	}
	return p, nil
}

func saveProfile(path string, p Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
