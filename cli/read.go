package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sensorlog/protocol"
	"sensorlog/store"
)

type jsonReading struct {
	Seq          uint32  `json:"seq"`
	Timestamp    uint32  `json:"ts"`
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
}

func printRecords(w io.Writer, recs []protocol.Record, asJSON bool) error {
	if asJSON {
		out := make([]jsonReading, len(recs))
		for i, r := range recs {
			out[i] = jsonReading{r.Seq, r.Slot.Timestamp, r.Slot.TemperatureC(), r.Slot.HumidityPct()}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%-10d %-10d %6.1f %6.1f\n", r.Seq, r.Slot.Timestamp, r.Slot.TemperatureC(), r.Slot.HumidityPct())
	}
	return nil
}

func printSlots(w io.Writer, slots []protocol.Slot) {
	for _, s := range slots {
		fmt.Fprintf(w, "%-10d %6.1f %6.1f\n", s.Timestamp, s.TemperatureC(), s.HumidityPct())
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show ring occupancy, counters and the last recovery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.Store) error {
				st := s.Stats()
				rep := s.LastRecovery()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "backend:     %s (%s)\n", st.Backend, s.Location())
				fmt.Fprintf(w, "state:       %s\n", st.Readiness)
				fmt.Fprintf(w, "records:     %d/%d\n", st.Count, st.Capacity)
				fmt.Fprintf(w, "head/tail:   %d/%d\n", st.Head, st.Tail)
				fmt.Fprintf(w, "next seq:    %d\n", st.NextSeq)
				fmt.Fprintf(w, "generation:  %d\n", st.Generation)
				fmt.Fprintf(w, "recovery:    %s scanned=%d recovered=%d dropped=%d in %s\n",
					rep.Mode, rep.Scanned, rep.Recovered, rep.Dropped, rep.Duration.Round(time.Microsecond))
				return nil
			})
		},
	}
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every live record, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withStore(cmd, func(s *store.Store) error {
				recs, err := s.Records()
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), recs, asJSON)
			})
		},
	}
	cmd.Flags().Bool("json", false, "Print records as JSON")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <timestamp>",
		Short: "Print the first record with the given timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, func(s *store.Store) error {
				slot, ok, err := s.LoadInfo(ts)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no record with timestamp %d", ts)
				}
				printSlots(cmd.OutOrStdout(), []protocol.Slot{slot})
				return nil
			})
		},
	}
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <start> <end>",
		Short: "Print records with start <= timestamp <= end",
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
				slots, err := s.FindRange(start, end)
				if err != nil {
					return err
				}
				printSlots(cmd.OutOrStdout(), slots)
				return nil
			})
		},
	}
}

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the newest record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.Store) error {
				slot, ok, err := s.Latest()
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
					return nil
				}
				printSlots(cmd.OutOrStdout(), []protocol.Slot{slot})
				return nil
			})
		},
	}
}

func newMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Decode both on-medium metadata copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.Store) error {
				copies, valid, err := s.MetadataCopies()
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for i := range copies {
					if !valid[i] {
						fmt.Fprintf(w, "copy %d: invalid\n", i)
						continue
					}
					c := copies[i]
					fmt.Fprintf(w, "copy %d: generation=%d head=%d tail=%d count=%d next_seq=%d\n",
						i, c.Generation, c.Head, c.Tail, c.Count, c.NextSeq)
				}
				return nil
			})
		},
	}
}
