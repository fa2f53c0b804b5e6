package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"sensorlog/config"
	"sensorlog/export"
	"sensorlog/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Archive live records into a SQLite or LevelDB store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("sink")
			from, _ := cmd.Flags().GetUint32("from")
			to, _ := cmd.Flags().GetUint32("to")
			home, _ := cmd.Flags().GetString("home")

			sink, err := export.OpenSink(kind, config.ResolvePath(home, args[0]))
			if err != nil {
				return err
			}
			defer sink.Close()

			return withStore(cmd, func(s *store.Store) error {
				n, err := export.Export(cmd.Context(), s, sink, export.Filter{From: from, To: to})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d record(s) to %s\n", n, args[0])
				return nil
			})
		},
	}
	cmd.Flags().String("sink", export.KindSQLite, "Sink kind: sqlite or leveldb")
	cmd.Flags().Uint32("from", 0, "Lowest timestamp to export")
	cmd.Flags().Uint32("to", 0, "Highest timestamp to export (0 = no bound)")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <path>",
		Short: "Print records previously exported to a SQLite or LevelDB store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("sink")
			from, _ := cmd.Flags().GetUint32("from")
			to, _ := cmd.Flags().GetUint32("to")
			asJSON, _ := cmd.Flags().GetBool("json")
			home, _ := cmd.Flags().GetString("home")
			if to == 0 {
				to = ^uint32(0)
			}

			sink, err := export.OpenSink(kind, config.ResolvePath(home, args[0]))
			if err != nil {
				return err
			}
			defer sink.Close()

			recs, err := sink.Range(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, asJSON)
		},
	}
	cmd.Flags().String("sink", export.KindSQLite, "Sink kind: sqlite or leveldb")
	cmd.Flags().Uint32("from", 0, "Lowest timestamp to print")
	cmd.Flags().Uint32("to", 0, "Highest timestamp to print (0 = no bound)")
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}
