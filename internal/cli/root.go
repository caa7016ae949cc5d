// Package cli implements the schedtool operator commands. Every command
// talks to a running decision-engine over its HTTP API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var addrFlag string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "schedtool",
	Short: "Operator tooling for the schedmate decision engine",
	Long:  "Inspect the audit ledger, control circuit breakers, and sweep expired conversations on a running decision engine.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&addrFlag, "addr", "a", "", "Decision engine address (default: $SCHEDMATE_ADDR or http://localhost:8460)")
}

func baseURL() string {
	if addrFlag != "" {
		return strings.TrimRight(addrFlag, "/")
	}
	if env := os.Getenv("SCHEDMATE_ADDR"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8460"
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func getJSON(path string, out any) error {
	resp, err := httpClient().Get(baseURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := httpClient().Post(baseURL()+path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("engine returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
