package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/soundkeeplab/michold/internal/arbiter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := fetchStatus()
		if err != nil {
			return err
		}

		fmt.Printf("State:    %s\n", st.State)
		fmt.Printf("Running:  %v\n", st.Running)
		if st.DeviceAddress != "" {
			fmt.Printf("Device:   %s\n", st.DeviceAddress)
		}
		if st.PausedBySilence {
			since := time.Since(time.UnixMilli(st.PausedBySilenceAtMs)).Round(time.Second)
			fmt.Printf("Yielding: another process is recording (%s)\n", since)
		}
		if st.PausedByScreenOff {
			fmt.Println("Paused:   screen is off")
		}
		if st.DelayedActivationPending {
			fmt.Printf("Resuming: in %dms\n", st.DelayedActivationRemainingMs)
		}
		if st.LastAcquire != "" {
			fmt.Printf("Acquire:  %s\n", st.LastAcquire)
		}
		return nil
	},
}

func fetchStatus() (*arbiter.Status, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(apiURL("/api/status"))
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	st := &arbiter.Status{}
	if err := json.NewDecoder(resp.Body).Decode(st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return st, nil
}

func apiURL(path string) string {
	return "http://" + cfg.Server.Addr + path
}
