package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slate/internal/backup"
)

func newBackupCmd(a *app) *cobra.Command {
	var parallelism int
	cmd := &cobra.Command{
		Use:   "backup [name]",
		Short: "Write the committed state to the blob store",
		Long:  "Write the committed state as an archive. The name defaults to the current UTC time.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.blobStore(ctx)
			if err != nil {
				return err
			}
			c, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, c, a.logger)
			m := backup.New(store, backup.WithLogger(a.logger), backup.WithParallelism(parallelism))
			name := m.DefaultName()
			if len(args) == 1 {
				name = args[0]
			}
			manifest, err := m.Write(ctx, c, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s: %d records in %d entities\n", manifest.Name, manifest.Records, len(manifest.Entities))
			return nil
		},
	}
	cmd.Flags().IntVar(&parallelism, "parallelism", 4, "concurrent blob uploads")

	list := &cobra.Command{
		Use:   "list",
		Short: "List complete archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.blobStore(cmd.Context())
			if err != nil {
				return err
			}
			names, err := backup.New(store).List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(a.out, n)
			}
			return nil
		},
	}
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.blobStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := backup.New(store, backup.WithLogger(a.logger)).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(list, del)
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the committed state with an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.blobStore(ctx)
			if err != nil {
				return err
			}
			c, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(ctx, c, a.logger)
			manifest, err := backup.New(store, backup.WithLogger(a.logger)).Restore(ctx, c, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "restored %s: %d records\n", manifest.Name, manifest.Records)
			return nil
		},
	}
}
