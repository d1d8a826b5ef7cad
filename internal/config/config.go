// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration for the server and client
// binaries from environment variables, layered under whatever the CLI
// flags in cmd/ already parsed. Values can be injected locally via a
// .env file or via platform secrets.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load(".env", "../.env", "../../.env")
}

// ServerSlot is one --slots NAME[:LINKED_PATH] entry, parsed by the
// server's CLI layer and handed down here unvalidated.
type ServerSlot struct {
	Name       string
	LinkedPath string
}

// ServerConfig captures what the server binary needs once flags are
// parsed and merged with HARMONY_* environment overrides.
type ServerConfig struct {
	DataDir      string
	Slots        []ServerSlot
	Secret       string
	Addr         string
	Port         string
	LoggingLevel string
}

const (
	defaultAddr         = "0.0.0.0"
	defaultPort         = "7112"
	defaultLoggingLevel = "info"
)

// LoadServerConfig merges flag-parsed values with HARMONY_SECRET and
// HARMONY_LOGGING_LEVEL environment overrides, then validates.
func LoadServerConfig(dataDir string, slots []ServerSlot, secret, addr, port, loggingLevel string) (ServerConfig, error) {
	cfg := ServerConfig{
		DataDir:      dataDir,
		Slots:        slots,
		Secret:       firstNonEmpty(secret, os.Getenv("HARMONY_SECRET")),
		Addr:         firstNonEmpty(addr, defaultAddr),
		Port:         firstNonEmpty(port, defaultPort),
		LoggingLevel: firstNonEmpty(loggingLevel, os.Getenv("HARMONY_LOGGING_LEVEL"), defaultLoggingLevel),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) validate() error {
	var missing []string
	if strings.TrimSpace(c.DataDir) == "" {
		missing = append(missing, "data_dir")
	}
	if c.Secret == "" {
		missing = append(missing, "--secret or HARMONY_SECRET")
	}
	if len(c.Slots) == 0 {
		missing = append(missing, "--slots")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ClientConfig captures what the client binary needs.
type ClientConfig struct {
	SourceDir            string
	ServerURL            string
	Slot                 string
	Secret               string
	DeviceName           string
	IgnorePaths          []string
	IgnoreNames          []string
	IgnoreExts           []string
	DryRun               bool
	MaxParallelTransfers int
}

const defaultMaxParallelTransfers = 8

// LoadClientConfig merges flag-parsed values with environment overrides
// for the secret and device name, then validates and fills defaults.
func LoadClientConfig(sourceDir, serverURL, slotName, secret, deviceName string, ignoreItems, ignoreExts []string, dryRun bool, maxParallel int) (ClientConfig, error) {
	cfg := ClientConfig{
		SourceDir:            sourceDir,
		ServerURL:            strings.TrimRight(serverURL, "/"),
		Slot:                 slotName,
		Secret:               firstNonEmpty(secret, os.Getenv("HARMONY_SECRET")),
		DeviceName:           firstNonEmpty(deviceName, os.Getenv("HARMONY_DEVICE_NAME"), defaultDeviceName()),
		IgnoreExts:           ignoreExts,
		DryRun:               dryRun,
		MaxParallelTransfers: maxParallel,
	}

	for _, item := range ignoreItems {
		if strings.ContainsAny(item, "/\\") {
			cfg.IgnorePaths = append(cfg.IgnorePaths, item)
		} else {
			cfg.IgnoreNames = append(cfg.IgnoreNames, item)
		}
	}

	if cfg.MaxParallelTransfers <= 0 {
		cfg.MaxParallelTransfers = boundedCores(defaultMaxParallelTransfers)
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	var missing []string
	if c.SourceDir == "" {
		missing = append(missing, "source_dir")
	}
	if c.ServerURL == "" {
		missing = append(missing, "server_url")
	}
	if c.Slot == "" {
		missing = append(missing, "slot")
	}
	if c.Secret == "" {
		missing = append(missing, "--secret or HARMONY_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func defaultDeviceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown-device"
}

func boundedCores(max int) int {
	if n := runtime.NumCPU(); n < max {
		return n
	}
	return max
}
