// Package cli implements the operator command line against the ops HTTP API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator tool for the marketplace sync pipeline",
	Long:  `Inspect and remediate the sync pipeline through its ops HTTP API: queue state, batch progress, pause/resume, and dead letter retries.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:8080", "ops API base URL")
}

func get(path string) error {
	resp, err := http.Get(apiAddr + path)
	if err != nil {
		return err
	}
	return render(resp)
}

func post(path string, body any) error {
	payload := []byte("{}")
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	resp, err := http.Post(apiAddr+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return render(resp)
}

// render pretty-prints the JSON response and fails on non-2xx status.
func render(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
