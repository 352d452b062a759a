package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/common/httpclient"
	"github.com/gantryhq/gantry/internal/relaysrv/config"
	"github.com/gantryhq/gantry/pkg/api"
)

// newLoginCmd creates and returns a new login command
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the upstream provider through the relay",
		Long: `Sign in to the upstream provider using its device flow. The relay performs
the provider round trips; this command shows the user code, waits for the
approval, and stores the granted token in the agent settings file where the
relay reads it.

Examples:
  # Sign in through a local relay
  gantry login

  # Store an existing token without running the flow
  gantry login --token <token>`,
		RunE: runLogin,
	}

	cmd.Flags().String("token", "", "Store this token instead of running the device flow")
	cmd.Flags().String("settings", "", "Path to the agent settings file (default ~/.gantry/settings.json)")
	return cmd
}

// runLogin handles the login command execution
func runLogin(cmd *cobra.Command, args []string) error {
	settingsPath, _ := cmd.Flags().GetString("settings")
	if settingsPath == "" {
		var err error
		settingsPath, err = defaultSettingsPath()
		if err != nil {
			return err
		}
	}
	settings := config.NewSettings(settingsPath)
	client := httpclient.NewClient(&relayTarget{url: resolveRelayURL()})

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		var err error
		token, err = runDeviceFlow(client, cmd.OutOrStdout(), time.Sleep)
		if err != nil {
			return err
		}
	}

	return completeLogin(client, settings, token, cmd.OutOrStdout())
}

// runDeviceFlow starts a device authorization through the relay and polls it
// to completion. The provider-supplied interval drives the wait between
// polls and grows when the provider asks for a slower cadence.
func runDeviceFlow(client httpclient.HTTPClientInterface, out io.Writer, sleep func(time.Duration)) (string, error) {
	body, _, err := client.DoRequest(httpclient.RequestOptions{
		Method: http.MethodPost,
		Path:   "auth/device",
	})
	if err != nil {
		return "", fmt.Errorf("unable to start device flow: %w", err)
	}
	var flow api.DeviceAuthResponse
	if err := json.Unmarshal(body, &flow); err != nil {
		return "", fmt.Errorf("unexpected response from relay: %w", err)
	}

	fmt.Fprintf(out, "To sign in, open %s and enter code %s\n", flow.VerificationURI, flow.UserCode)
	fmt.Fprintln(out, "Waiting for approval...")

	pollReq, err := json.Marshal(&api.PollRequest{DeviceCode: flow.DeviceCode})
	if err != nil {
		return "", err
	}

	interval := flow.Interval
	for {
		body, _, err := client.DoRequest(httpclient.RequestOptions{
			Method: http.MethodPost,
			Path:   "auth/poll",
			Body:   pollReq,
		})
		if err != nil {
			return "", fmt.Errorf("unable to poll device flow: %w", err)
		}
		var poll api.PollResponse
		if err := json.Unmarshal(body, &poll); err != nil {
			return "", fmt.Errorf("unexpected response from relay: %w", err)
		}

		switch poll.Status {
		case api.PollStatusAuthorized:
			return poll.Token, nil
		case api.PollStatusDenied:
			return "", fmt.Errorf("authorization was denied; request access and run \"gantry login\" again")
		case api.PollStatusExpired:
			return "", fmt.Errorf("the code expired before approval; run \"gantry login\" again")
		case api.PollStatusPending:
			if poll.Interval > interval {
				interval = poll.Interval
			}
			sleep(time.Duration(interval) * time.Second)
		default:
			return "", fmt.Errorf("unexpected poll status %q", poll.Status)
		}
	}
}

// completeLogin persists the token and confirms a running relay can see it.
func completeLogin(client httpclient.HTTPClientInterface, settings *config.Settings, token string, out io.Writer) error {
	if token == "" {
		return fmt.Errorf("the flow finished without a token")
	}
	if err := settings.WriteToken(token); err != nil {
		return fmt.Errorf("unable to save token: %w", err)
	}

	if jsonOutput {
		printJSON(map[string]string{
			"status":        "success",
			"settings_file": settings.Path(),
		})
	} else {
		okLabel.Fprintln(out, "✓ Login successful")
		fmt.Fprintf(out, "Token saved to %s\n", settings.Path())
	}

	// warn when a running relay reads a different settings file
	if authenticated, err := relayAuthStatus(client); err == nil && !authenticated {
		warnLabel.Fprintf(out, "! The relay does not see the new token; check that its auth.settings_path points at %s\n", settings.Path())
	}
	return nil
}

// relayAuthStatus asks a running relay whether it sees a configured token.
func relayAuthStatus(client httpclient.HTTPClientInterface) (bool, error) {
	body, _, err := client.DoRequest(httpclient.RequestOptions{
		Method: http.MethodGet,
		Path:   "auth/status",
	})
	if err != nil {
		return false, err
	}
	var status api.AuthStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return false, err
	}
	return status.Authenticated, nil
}
