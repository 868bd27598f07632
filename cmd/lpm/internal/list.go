package internal

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/goplus/lpm/internal/installdb"
)

var listCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List installed packages",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := installdb.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	var name string
	if len(args) > 0 {
		name = args[0]
	}
	records, err := db.List(cmd.Context(), name)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Root, r.InstalledAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
