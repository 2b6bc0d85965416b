package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"foldguard/internal/api"
	"foldguard/internal/guard"
)

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return abs, nil
}

func currentActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		st, err := newClient().Status(ctx)
		if err != nil {
			return err
		}
		printStatus(os.Stdout, st, time.Now())
		return nil
	},
}

var protectCmd = &cobra.Command{
	Use:   "protect PATH",
	Short: "Protect a file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		p, err := absPath(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		entry, err := newClient().Protect(ctx, p, recursive)
		if err != nil {
			return err
		}
		fmt.Printf("Protecting %s", entry.Path)
		if entry.Recursive {
			fmt.Print(" (recursive)")
		}
		fmt.Println()
		return nil
	},
}

var unprotectCmd = &cobra.Command{
	Use:   "unprotect PATH",
	Short: "Stop protecting a path; its snapshots are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := absPath(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := newClient().Unprotect(ctx, p); err != nil {
			return err
		}
		fmt.Printf("No longer protecting %s\n", p)
		return nil
	},
}

func setEnabledCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " PATH",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := absPath(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			entry, err := newClient().SetPathEnabled(ctx, p, enabled)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", entry.Path, enabledLabel(entry.Enabled))
			return nil
		},
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List protected paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		list, err := newClient().ProtectedPaths(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No protected paths.")
			return nil
		}
		for _, p := range list {
			scope := "flat"
			if p.Recursive {
				scope = "recursive"
			}
			fmt.Printf("%-8s  %-9s  %s\n", enabledLabel(p.Enabled), scope, p.Path)
		}
		return nil
	},
}

func toggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Turn protection %s globally", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			if err := newClient().SetProtection(ctx, enabled); err != nil {
				return err
			}
			fmt.Printf("Protection %s\n", use)
			return nil
		},
	}
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Query the activity log",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		path, _ := cmd.Flags().GetString("path")
		resolution, _ := cmd.Flags().GetString("resolution")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := guard.ActivityFilter{Resolution: guard.Resolution(resolution), Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		if path != "" {
			p, err := absPath(path)
			if err != nil {
				return err
			}
			filter.PathPrefix = p
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		recs, err := newClient().Activity(ctx, filter)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No activity.")
			return nil
		}
		now := time.Now()
		for _, r := range recs {
			printActivity(os.Stdout, r, now)
		}
		return nil
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots [PATH]",
	Short: "List snapshots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var root string
		if len(args) == 1 {
			p, err := absPath(args[0])
			if err != nil {
				return err
			}
			root = p
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		snaps, err := newClient().Snapshots(ctx, root, limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("%s  %s  %10d  %s\n", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), s.SizeBytes, s.SourcePath)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [SNAPSHOT_ID]",
	Short: "Restore a snapshot, or every snapshot of an operation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation")
		to, _ := cmd.Flags().GetString("to")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		req := guard.RestoreRequest{OperationID: opID, Overwrite: overwrite, Actor: currentActor()}
		if len(args) == 1 {
			req.SnapshotID = args[0]
		}
		if req.SnapshotID == "" && req.OperationID == "" {
			return fmt.Errorf("give a snapshot id or --operation")
		}
		if to != "" {
			p, err := absPath(to)
			if err != nil {
				return err
			}
			req.Target = p
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		paths, err := newClient().Restore(ctx, req)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Printf("Restored %s\n", p)
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [PATH]",
	Short: "Snapshot protected files that have no current snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		var root string
		if len(args) == 1 {
			p, err := absPath(args[0])
			if err != nil {
				return err
			}
			root = p
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		client := newClient()
		id, err := client.StartScan(ctx, root)
		if err != nil {
			return err
		}
		if !wait {
			fmt.Printf("Scan started: %s\n", id)
			return nil
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			job, err := client.ScanJob(ctx, id)
			if err != nil {
				return err
			}
			if job.State != guard.JobRunning {
				printScanJob(os.Stdout, job)
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	},
}

var scanStatusCmd = &cobra.Command{
	Use:   "scan-status JOB_ID",
	Short: "Show scan progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		job, err := newClient().ScanJob(ctx, args[0])
		if err != nil {
			return err
		}
		printScanJob(os.Stdout, job)
		return nil
	},
}

var scanCancelCmd = &cobra.Command{
	Use:   "scan-cancel JOB_ID",
	Short: "Cancel a running scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		job, err := newClient().CancelScan(ctx, args[0])
		if err != nil {
			return err
		}
		printScanJob(os.Stdout, job)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete a path through the guard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := absPath(args[0])
		if err != nil {
			return err
		}
		return submit(cmd, api.OperationRequest{Kind: guard.KindDelete, SourcePath: p, Actor: currentActor()})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv SRC DST",
	Short: "Move or rename a path through the guard",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := absPath(args[0])
		if err != nil {
			return err
		}
		dst, err := absPath(args[1])
		if err != nil {
			return err
		}
		kind := guard.KindMoveOut
		if filepath.Dir(src) == filepath.Dir(dst) {
			kind = guard.KindRename
		}
		return submit(cmd, api.OperationRequest{Kind: kind, SourcePath: src, DestPath: dst, Actor: currentActor()})
	},
}

func submit(cmd *cobra.Command, req api.OperationRequest) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	d, err := newClient().Submit(ctx, req)
	if err != nil {
		return err
	}
	printDecision(os.Stdout, d)
	if !d.Allow {
		return fmt.Errorf("%s blocked", req.Kind)
	}
	return nil
}

var confirmCmd = &cobra.Command{
	Use:   "confirm OPERATION_ID",
	Short: "Carry out a blocked operation after its backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		rec, err := newClient().Confirm(ctx, args[0], currentActor())
		if err != nil {
			return err
		}
		fmt.Printf("Confirmed %s of %s\n", rec.Kind, rec.Path)
		return nil
	},
}

func registerClientCommands() {
	rootCmd.AddCommand(statusCmd)

	protectCmd.Flags().BoolP("recursive", "r", false, "Protect everything beneath the directory")
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(unprotectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(setEnabledCmd("enable", "Resume protection of a path", true))
	rootCmd.AddCommand(setEnabledCmd("disable", "Pause protection of a path", false))
	rootCmd.AddCommand(toggleCmd("on", true))
	rootCmd.AddCommand(toggleCmd("off", false))

	activityCmd.Flags().Duration("since", 0, "Only show activity newer than this (e.g. 24h)")
	activityCmd.Flags().String("path", "", "Only show activity at or beneath this path")
	activityCmd.Flags().String("resolution", "", "Only show this resolution (e.g. blocked_backed_up)")
	activityCmd.Flags().Int("limit", 50, "Maximum records to show")
	rootCmd.AddCommand(activityCmd)

	snapshotsCmd.Flags().Int("limit", 50, "Maximum snapshots to show")
	rootCmd.AddCommand(snapshotsCmd)

	restoreCmd.Flags().String("operation", "", "Restore every snapshot taken for this operation")
	restoreCmd.Flags().String("to", "", "Write the snapshot to this path instead")
	restoreCmd.Flags().Bool("overwrite", false, "Replace an existing file")
	rootCmd.AddCommand(restoreCmd)

	scanCmd.Flags().Bool("wait", false, "Wait for the scan to finish")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scanStatusCmd)
	rootCmd.AddCommand(scanCancelCmd)

	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(confirmCmd)
}
