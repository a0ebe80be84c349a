package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Tell a running daemon to release the microphone and stand down",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postCommand("/api/stop")
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Tell a running daemon to re-acquire immediately, skipping any pending delay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postCommand("/api/activate-now")
	},
}

func postCommand(path string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post(apiURL(path), "application/json", nil)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("daemon refused: %s", result.Message)
	}

	fmt.Println(result.Message)
	return nil
}
