package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

const defaultSocketPath = "/tmp/brainthrottle.sock"

func newRootCmd() *cobra.Command {
	var socketPath string

	root := &cobra.Command{
		Use:           "brainthrottle-ctl",
		Short:         "Control a running brainthrottle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath, "daemon IPC socket path")

	client := func() *ipcClient { return &ipcClient{socketPath: socketPath} }

	root.AddCommand(
		newStatusCmd(client),
		newRestoreCmd(client),
		newScrollCmd(client),
	)
	return root
}

func newStatusCmd(client func() *ipcClient) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current throttle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().send(request{Type: "status"})
			if err != nil {
				return err
			}
			if resp.State == nil {
				return fmt.Errorf("daemon returned no state")
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.State)
			}
			printStatus(cmd.OutOrStdout(), *resp.State, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")
	return cmd
}

func newRestoreCmd(client func() *ipcClient) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "End the current penalty and restore brightness now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.Marshal(restoreData{Origin: "ctl"})
			if err != nil {
				return err
			}
			if _, err := client().send(request{Type: "restore", Data: data}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newScrollCmd(client func() *ipcClient) *cobra.Command {
	var d scrollData

	cmd := &cobra.Command{
		Use:   "scroll",
		Short: "Inject a synthetic scroll event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if _, err := client().send(request{Type: "scroll", Data: data}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().Int64Var(&d.DX, "dx", 0, "horizontal scroll delta")
	cmd.Flags().Int64Var(&d.DY, "dy", 0, "vertical scroll delta")
	return cmd
}

func printStatus(w io.Writer, s stateSnapshot, now time.Time) {
	if s.Penalized {
		fmt.Fprintln(w, "state:       penalized")
		fmt.Fprintf(w, "original:    %.3f\n", s.OriginalBrightness)
		if !s.PenaltyDeadline.IsZero() {
			fmt.Fprintf(w, "restores in: %s\n", s.PenaltyDeadline.Sub(now).Round(100*time.Millisecond))
		}
	} else {
		fmt.Fprintln(w, "state:       idle")
	}
	if s.BrightnessKnown {
		fmt.Fprintf(w, "brightness:  %.3f\n", s.Brightness)
	} else {
		fmt.Fprintln(w, "brightness:  unknown")
	}
	fmt.Fprintf(w, "session:     %d\n", s.RecentTotal)
}
