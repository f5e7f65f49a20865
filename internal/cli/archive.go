package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamsinv/parley/internal/store"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived transcripts",
	}
	cmd.AddCommand(newArchiveListCmd())
	cmd.AddCommand(newArchiveShowCmd())
	cmd.AddCommand(newArchiveDeleteCmd())
	return cmd
}

func openArchive() (*store.DB, *store.Archive, error) {
	db, err := store.Open(cfg.Archive.Path, log)
	if err != nil {
		return nil, nil, err
	}
	return db, store.NewArchive(db), nil
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, archive, err := openArchive()
			if err != nil {
				return err
			}
			defer db.Close()

			summaries, err := archive.List()
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no archived conversations")
				return nil
			}
			for _, s := range summaries {
				fmt.Printf("%s  %-20s  %4d items  %s\n",
					s.ContactID, s.DisplayName, s.ItemCount,
					s.ArchivedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newArchiveShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contact-id>",
		Short: "Print an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, archive, err := openArchive()
			if err != nil {
				return err
			}
			defer db.Close()

			items, err := archive.Items(args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("no items for that contact")
				return nil
			}
			for _, it := range items {
				printItem(it)
			}
			return nil
		},
	}
}

func newArchiveDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <contact-id>",
		Short: "Delete an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, archive, err := openArchive()
			if err != nil {
				return err
			}
			defer db.Close()
			return archive.Delete(args[0])
		},
	}
}
