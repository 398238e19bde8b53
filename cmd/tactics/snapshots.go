package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	snapTenant  string
	snapModel   string
	snapVersion string
	snapKeep    int
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect and manage model snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's versions of a model, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		versions, err := d.registry.ListVersions(ctx, snapTenant, snapModel)
		if err != nil {
			return err
		}
		currentID := ""
		if snap, _, err := d.registry.LoadCurrent(ctx, snapTenant, snapModel); err == nil {
			currentID = snap.VersionID
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tCREATED\tREASON\tDIGEST\t")
		for _, v := range versions {
			marker := ""
			if v.VersionID == currentID {
				marker = " (current)"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%.12s\t\n",
				v.VersionID, marker, v.CreatedAt.Format("2006-01-02 15:04"), v.Reason, v.ParamsDigest)
		}
		return w.Flush()
	},
}

var snapshotsRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Move the current pointer back to an existing version",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.registry.Rollback(ctx, snapTenant, snapModel, snapVersion); err != nil {
			return err
		}
		fmt.Printf("%s/%s current -> %s\n", snapTenant, snapModel, snapVersion)
		return nil
	},
}

var snapshotsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old versions, keeping the newest and the current one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := openDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		keep := snapKeep
		if keep == 0 {
			keep = d.cfg.Registry.KeepVersions
		}
		deleted, err := d.registry.PruneVersions(ctx, snapTenant, snapModel, keep)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d version(s), kept %d\n", deleted, keep)
		return nil
	},
}

func init() {
	snapshotsCmd.PersistentFlags().StringVarP(&snapTenant, "tenant", "t", "", "tenant id (required)")
	snapshotsCmd.PersistentFlags().StringVarP(&snapModel, "model", "m", "", "model name (required)")
	snapshotsCmd.MarkPersistentFlagRequired("tenant")
	snapshotsCmd.MarkPersistentFlagRequired("model")

	snapshotsRollbackCmd.Flags().StringVar(&snapVersion, "version", "", "version id to restore (required)")
	snapshotsRollbackCmd.MarkFlagRequired("version")

	snapshotsPruneCmd.Flags().IntVar(&snapKeep, "keep", 0, "versions to keep (default from config)")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsRollbackCmd)
	snapshotsCmd.AddCommand(snapshotsPruneCmd)
}
