package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"sensorlog/protocol"
	"sensorlog/store"
)

func newAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <temperature_c> <humidity_pct>",
		Short: "Append one reading, evicting the oldest when full",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			temp, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid temperature %q: %w", args[0], err)
			}
			hum, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid humidity %q: %w", args[1], err)
			}
			ts, _ := cmd.Flags().GetUint32("ts")
			if ts == 0 {
				ts = uint32(time.Now().Unix())
			}
			slot := protocol.NewSlot(ts, temp, hum)
			return withStore(cmd, func(s *store.Store) error {
				if err := s.Enqueue(slot); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "appended %s\n", slot)
				return nil
			})
		},
	}
	cmd.Flags().Uint32("ts", 0, "Unix timestamp (default now)")
	return cmd
}

func newEraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <timestamp>",
		Short: "Remove every record with the given timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *store.Store) error {
				n, err := s.EraseInfo(ts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", n)
				return nil
			})
		},
	}
}

func newClearRangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-range <start> <end>",
		Short: "Remove records with start <= timestamp <= end",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTimestamp(args[0])
			if err != nil {
				return err
			}
			end, err := parseTimestamp(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *store.Store) error {
				n, err := s.ClearRange(start, end)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", n)
				return nil
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase the whole record region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("refusing to clear storage without --yes")
			}
			return withStore(cmd, func(s *store.Store) error {
				if err := s.ClearStorage(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "storage cleared")
				return nil
			})
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm the erase")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Re-run recovery over the stored ring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			full, _ := cmd.Flags().GetBool("full")
			return withStore(cmd, func(s *store.Store) error {
				run := s.Recover
				if full {
					run = s.Rebuild
				}
				rep, err := run()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recovery %s: scanned=%d recovered=%d dropped=%d\n",
					rep.Mode, rep.Scanned, rep.Recovered, rep.Dropped)
				return nil
			})
		},
	}
	cmd.Flags().Bool("full", false, "Force a full scan and compacting rewrite")
	return cmd
}
