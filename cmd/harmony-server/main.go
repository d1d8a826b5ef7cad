// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/ClementNerma/Harmony/internal/authtoken"
	"github.com/ClementNerma/Harmony/internal/config"
	"github.com/ClementNerma/Harmony/internal/server"
	"github.com/ClementNerma/Harmony/internal/slot"
)

func main() {
	var slotFlags config.StringSlice
	flag.Var(&slotFlags, "slots", "slot definition NAME[:LINKED_PATH], repeatable")
	secret := flag.String("secret", "", "shared secret for the first-contact handshake")
	addr := flag.String("addr", "", "address to bind (default 0.0.0.0)")
	port := flag.String("port", "", "port to bind (default 7112)")
	loggingLevel := flag.String("logging-level", "", "debug, info, warn, or error")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: harmony-server [flags] <data_dir>")
		os.Exit(1)
	}
	dataDir := flag.Arg(0)

	slots, err := parseSlotFlags(slotFlags, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmony-server: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadServerConfig(dataDir, toConfigSlots(slots), *secret, *addr, *port, *loggingLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmony-server: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LoggingLevel)}))

	registry, err := slot.NewRegistry(slots)
	if err != nil {
		log.Error("build slot registry", "error", err)
		os.Exit(1)
	}

	tokens, err := authtoken.Open(dataDir)
	if err != nil {
		log.Error("open token store", "error", err)
		os.Exit(1)
	}

	srv := server.New(registry, tokens, cfg.Secret, log)

	addrPort := cfg.Addr + ":" + cfg.Port
	log.Info("harmony-server listening", "addr", addrPort, "slots", registry.Names())
	if err := http.ListenAndServe(addrPort, srv.Handler()); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func parseSlotFlags(raw []string, dataDir string) ([]*slot.Slot, error) {
	slots := make([]*slot.Slot, 0, len(raw))
	for _, entry := range raw {
		name, linkedPath, _ := strings.Cut(entry, ":")
		s, err := slot.New(name, linkedPath, dataDir)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func toConfigSlots(slots []*slot.Slot) []config.ServerSlot {
	out := make([]config.ServerSlot, 0, len(slots))
	for _, s := range slots {
		out = append(out, config.ServerSlot{Name: s.Name, LinkedPath: s.LinkedPath})
	}
	return out
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
