// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	units "github.com/docker/go-units"

	"github.com/ClementNerma/Harmony/internal/client"
	"github.com/ClementNerma/Harmony/internal/config"
	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

func main() {
	var ignoreItems, ignoreExts config.StringSlice
	flag.Var(&ignoreItems, "ignore-items", "relative path or component name to ignore, repeatable")
	flag.Var(&ignoreExts, "ignore-exts", "file extension (no dot) to ignore, repeatable")
	secret := flag.String("secret", "", "shared secret for the first-contact handshake")
	deviceName := flag.String("device-name", "", "device name reported when requesting an access token")
	dryRun := flag.Bool("dry-run", false, "compute and print the apply plan without transferring anything")
	maxParallel := flag.Int("max-parallel-transfers", 0, "bound on concurrent file transfers (default min(cores, 8))")
	verifyHashes := flag.Bool("verify-hashes", false, "compute a BLAKE3 digest of every file as an extra integrity guard")
	cacheSnapshot := flag.Bool("cache-snapshot", false, "reuse (or create when absent) an on-disk snapshot cache under source_dir (dry-run tooling only)")
	flag.Parse()

	if flag.NArg() != 3 {
		fmt.Fprintln(os.Stderr, "usage: harmony-client [flags] <source_dir> <server_url> <slot>")
		os.Exit(1)
	}
	sourceDir, serverURL, slotName := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	cfg, err := config.LoadClientConfig(sourceDir, serverURL, slotName, *secret, *deviceName, ignoreItems, ignoreExts, *dryRun, *maxParallel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmony-client: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	c := client.New(cfg.ServerURL, client.WithMaxParallelTransfers(cfg.MaxParallelTransfers))
	if _, err := c.RequestAccessToken(ctx, cfg.Secret, cfg.DeviceName); err != nil {
		log.Error("request access token", "error", err)
		os.Exit(1)
	}

	snapOpts := snapshot.Options{
		IgnorePaths:  cfg.IgnorePaths,
		IgnoreNames:  cfg.IgnoreNames,
		IgnoreExts:   cfg.IgnoreExts,
		VerifyHashes: *verifyHashes,
	}

	if *cacheSnapshot && cfg.DryRun {
		previewDryRunFromCache(ctx, c, cfg, snapOpts, log)
		return
	}

	result, err := c.Sync(ctx, cfg.SourceDir, cfg.Slot, snapOpts, cfg.DryRun, log)
	if err != nil {
		log.Error("sync failed", "error", err, "failed_paths", result.FailedPaths)
		os.Exit(1)
	}

	if result.NoOp {
		log.Info("sync: nothing to do")
		return
	}
	log.Info("sync: done", "files_sent", result.FilesSent, "bytes_sent", result.BytesSent)
}

// previewDryRunFromCache is a tooling-only shortcut for repeated
// dry-run invocations against a large tree: it reuses the previous
// local snapshot cached under source_dir when present (a cached
// snapshot is not re-captured), captures and caches one when absent,
// and never touches open/resume/finalize.
func previewDryRunFromCache(ctx context.Context, c *client.Client, cfg config.ClientConfig, snapOpts snapshot.Options, log *slog.Logger) {
	local, err := snapshot.LoadCache(cfg.SourceDir)
	if err != nil {
		log.Error("load snapshot cache", "error", err)
		os.Exit(1)
	}
	if local == nil {
		local, err = snapshot.Capture(cfg.SourceDir, snapOpts)
		if err != nil {
			log.Error("capture local snapshot", "error", err)
			os.Exit(1)
		}
	}
	if err := snapshot.SaveCache(local); err != nil {
		log.Warn("save snapshot cache", "error", err)
	}

	remoteWire, err := c.Snapshot(ctx, cfg.Slot, client.SnapshotOptions{
		IgnorePaths:  snapOpts.IgnorePaths,
		IgnoreNames:  snapOpts.IgnoreNames,
		IgnoreExts:   snapOpts.IgnoreExts,
		VerifyHashes: snapOpts.VerifyHashes,
	})
	if err != nil {
		log.Error("fetch remote snapshot", "error", err)
		os.Exit(1)
	}
	remote, err := remoteWire.ToSnapshot()
	if err != nil {
		log.Error("parse remote snapshot", "error", err)
		os.Exit(1)
	}

	d := diff.Compute(local, remote)
	d.ApplyGranularity(client.SyncGranularity)
	if d.IsEmpty() {
		log.Info("sync: no-op, local and remote trees already match")
		return
	}

	plan := diff.Derive(d)
	log.Info("sync: dry run (cached)", "create_dirs", len(plan.CreateDirs), "send_files", len(plan.SendFiles),
		"delete_files", len(plan.DeleteFiles), "delete_empty_dirs", len(plan.DeleteEmptyDirs),
		"total_size", units.HumanSize(float64(plan.TotalSendSize())))
}
