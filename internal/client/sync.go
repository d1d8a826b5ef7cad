// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/ClementNerma/Harmony/internal/diff"
	"github.com/ClementNerma/Harmony/internal/safepath"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// SyncGranularity is the mtime tolerance applied to the diff before it
// is sent to the server, to tolerate filesystems that truncate
// sub-second precision.
const SyncGranularity = 1 * time.Second

// SyncResult summarizes one completed (or short-circuited) sync run.
type SyncResult struct {
	NoOp        bool
	FilesSent   int
	BytesSent   uint64
	FailedPaths []string
}

// Sync runs the full client-side protocol against slotName: snapshot
// both sides, diff, and (unless dryRun or the diff is empty) open a
// session, transfer every file with bounded parallelism, and finalize.
// A transfer failure does not abort the remaining transfers; their
// paths are returned in SyncResult.FailedPaths and the sync fails
// overall once all transfers have been attempted.
func (c *Client) Sync(ctx context.Context, sourceDir, slotName string, snapOpts snapshot.Options, dryRun bool, log *slog.Logger) (SyncResult, error) {
	if log == nil {
		log = slog.Default()
	}

	local, err := snapshot.Capture(sourceDir, snapOpts)
	if err != nil {
		return SyncResult{}, fmt.Errorf("capture local snapshot: %w", err)
	}

	remoteWire, err := c.Snapshot(ctx, slotName, SnapshotOptions{
		IgnorePaths:  snapOpts.IgnorePaths,
		IgnoreNames:  snapOpts.IgnoreNames,
		IgnoreExts:   snapOpts.IgnoreExts,
		VerifyHashes: snapOpts.VerifyHashes,
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch remote snapshot: %w", err)
	}
	remote, err := remoteWire.ToSnapshot()
	if err != nil {
		return SyncResult{}, fmt.Errorf("parse remote snapshot: %w", err)
	}

	d := diff.Compute(local, remote)
	d.ApplyGranularity(SyncGranularity)

	if d.IsEmpty() {
		log.Info("sync: no-op, local and remote trees already match")
		return SyncResult{NoOp: true}, nil
	}

	if dryRun {
		plan := diff.Derive(d)
		log.Info("sync: dry run", "create_dirs", len(plan.CreateDirs), "send_files", len(plan.SendFiles),
			"delete_files", len(plan.DeleteFiles), "delete_empty_dirs", len(plan.DeleteEmptyDirs),
			"total_size", units.HumanSize(float64(plan.TotalSendSize())))
		return SyncResult{FilesSent: len(plan.SendFiles), BytesSent: plan.TotalSendSize()}, nil
	}

	info, err := c.Begin(ctx, slotName, DiffToWire(d))
	if err != nil {
		return SyncResult{}, fmt.Errorf("begin sync: %w", err)
	}

	log.Info("sync: session opened", "files", len(info.TransferFileIDs), "total_size", units.HumanSize(float64(info.TransferSize)))

	result, err := c.transferAll(ctx, sourceDir, slotName, info, log)
	if err != nil {
		return result, err
	}

	if err := c.Finalize(ctx, slotName, info.SyncToken); err != nil {
		return result, fmt.Errorf("finalize sync: %w", err)
	}
	return result, nil
}

func (c *Client) transferAll(ctx context.Context, sourceDir, slotName string, info SyncInfo, log *slog.Logger) (SyncResult, error) {
	var result SyncResult

	type job struct {
		fileID string
		path   string
	}
	jobs := make([]job, 0, len(info.TransferFileIDs))
	for id, path := range info.TransferFileIDs {
		jobs = append(jobs, job{fileID: id, path: path})
	}

	failed := make(chan string, len(jobs))
	sent := make(chan uint64, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			size, err := c.transferOne(gctx, sourceDir, slotName, info.SyncToken, j.path)
			if err != nil {
				log.Warn("sync: transfer failed", "path", j.path, "error", err)
				failed <- j.path
				return nil // do not abort the remaining transfers
			}
			sent <- size
			return nil
		})
	}
	_ = g.Wait()

	close(failed)
	close(sent)
	for p := range failed {
		result.FailedPaths = append(result.FailedPaths, p)
	}
	for s := range sent {
		result.FilesSent++
		result.BytesSent += s
	}

	if len(result.FailedPaths) > 0 {
		return result, fmt.Errorf("sync: %d file(s) failed to transfer", len(result.FailedPaths))
	}
	return result, nil
}

func (c *Client) transferOne(ctx context.Context, sourceDir, slotName, syncToken, relPath string) (uint64, error) {
	absPath := safepath.Join(sourceDir, relPath)
	f, err := os.Open(absPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if err := c.Transfer(ctx, slotName, syncToken, relPath, f, fi.Size()); err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}
