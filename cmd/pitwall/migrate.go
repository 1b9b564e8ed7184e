package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pitwall/internal/db"
)

func newMigrateCmd(s *settings) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "bring the archive database to the latest schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrateArchive(cmd, s.ArchivePath, down)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration instead")
	return cmd
}

func migrateArchive(cmd *cobra.Command, path string, down bool) error {
	// Open applies pending migrations.
	archive, err := db.Open(path, nil)
	if err != nil {
		return err
	}
	defer archive.Close()

	if down {
		if err := archive.MigrateDown(); err != nil {
			return err
		}
	}
	version, dirty, err := archive.MigrateVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (dirty=%t)\n", path, version, dirty)
	return nil
}
