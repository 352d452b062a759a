package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/common/httpclient"
	"github.com/gantryhq/gantry/internal/relaysrv/server"
	"github.com/gantryhq/gantry/pkg/api"
)

// newStatusCmd creates and returns a new status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the health and authentication state of a running relay",
		Long: `Show the health and authentication state of a running relay, including
uptime, relayed traffic, and the last known premium usage.

Examples:
  # Inspect the default local relay
  gantry status

  # Inspect a relay on another port, in JSON format
  gantry status --relay http://127.0.0.1:9191 -j`,
		RunE: runStatus,
	}
}

// runStatus handles retrieving relay status information
func runStatus(cmd *cobra.Command, args []string) error {
	client := httpclient.NewClient(&relayTarget{url: resolveRelayURL()})

	health, err := relayHealth(client)
	if err != nil {
		if jsonOutput {
			printJSON(map[string]string{
				"version_cli": getCLIVersion(),
				"error":       "unable to connect to relay: " + err.Error(),
			})
		} else {
			fmt.Printf("gantry CLI %s\n", getCLIVersion())
			errorLabel.Printf("Error: unable to connect to relay at %s: %v\n", resolveRelayURL(), err)
		}
		return ErrAlreadyHandled
	}

	authenticated, err := relayAuthStatus(client)
	if err != nil {
		authenticated = health.Authenticated
	}

	if jsonOutput {
		printJSON(map[string]any{
			"version_cli":   getCLIVersion(),
			"authenticated": authenticated,
			"relay":         health,
		})
		return nil
	}

	fmt.Printf("gantry CLI %s\n", getCLIVersion())
	printHealth(os.Stdout, health, authenticated)
	return nil
}

// printHealth renders the health report for humans, including a warning when
// the relay's version does not match this CLI.
func printHealth(out io.Writer, health *api.HealthResponse, authenticated bool) {
	fmt.Fprintf(out, "Relay version: %s\n", health.Version)
	fmt.Fprintf(out, "Uptime: %s\n", (time.Duration(health.UptimeSeconds) * time.Second).String())
	if authenticated {
		okLabel.Fprintln(out, "✓ Authenticated")
	} else {
		warnLabel.Fprintln(out, "! Not authenticated. Run \"gantry login\" to sign in.")
	}
	fmt.Fprintf(out, "Requests: %d total, %d proxied, %d failed, %d bytes relayed\n",
		health.Relay.Requests, health.Relay.Proxied, health.Relay.ProxyFailures, health.Relay.BytesOut)
	if len(health.Premium) > 0 {
		fmt.Fprintf(out, "Premium usage: %s\n", string(health.Premium))
	}
	if !server.IsVersionCompatible(health.Version) {
		warnLabel.Fprintf(out, "! Relay version %s does not match this CLI (%s); update one of them\n",
			health.Version, getCLIVersion())
	}
}

// relayHealth fetches the health report from a running relay.
func relayHealth(client httpclient.HTTPClientInterface) (*api.HealthResponse, error) {
	body, _, err := client.DoRequest(httpclient.RequestOptions{
		Method: http.MethodGet,
		Path:   "health",
	})
	if err != nil {
		return nil, err
	}
	health := &api.HealthResponse{}
	if err := json.Unmarshal(body, health); err != nil {
		return nil, fmt.Errorf("unexpected response from relay: %w", err)
	}
	return health, nil
}
