// Package cli implements the gantry command line: running the relay itself
// and the operator-facing login and status commands that talk to a relay
// over its HTTP surface.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/relaysrv/server"
)

var (
	// Global flags
	jsonOutput bool
	relayURL   string
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var warnLabel = color.New(color.FgYellow)
var errorLabel = color.New(color.FgRed)

// DefaultRelayURL is where login and status look for a relay when --relay is
// not given. It matches the relay's default listen address.
const DefaultRelayURL = "http://127.0.0.1:8787"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gantry [command] [flags]",
	Short: "Gantry - local relay between an AI coding agent and its provider",
	Long: `Gantry relays a local AI coding agent to its upstream provider. It signs the
agent in through the provider's device flow, exchanges the long-lived token
for short-lived API credentials, forwards agent API calls, and serves the
installable agent bundle.

Examples:
  # Run the relay
  gantry serve --config ~/.gantry/gantry.conf

  # Sign in through the provider's device flow
  gantry login

  # Inspect a running relay
  gantry status`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Set up persistent flags
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&relayURL, "relay", "", "", "URL of the relay to talk to (default "+DefaultRelayURL+")")

	// Add commands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newStatusCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			kv := map[string]string{
				"error": err.Error(),
			}
			printJSON(kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gantry",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				kv := map[string]string{
					"version": getCLIVersion(),
				}
				printJSON(kv)
			} else {
				cmd.Printf("gantry %s\n", getCLIVersion())
			}
		},
	}
}

// printJSON prints the given map as JSON to stdout
func printJSON(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}

// getCLIVersion returns the current CLI version. The CLI ships from the same
// module as the relay, so the relay version is the CLI version.
func getCLIVersion() string {
	return "v" + server.Version
}

// relayTarget supplies the relay URL to the shared HTTP client. The relay's
// own endpoints take no bearer token from the CLI.
type relayTarget struct {
	url string
}

func (r *relayTarget) GetServerURL() string      { return r.url }
func (r *relayTarget) GetToken() string          { return "" }
func (r *relayTarget) GetTokenExpiry() time.Time { return time.Time{} }

// resolveRelayURL returns the relay URL from the --relay flag, falling back
// to the default local address.
func resolveRelayURL() string {
	if relayURL != "" {
		return strings.TrimRight(relayURL, "/")
	}
	return DefaultRelayURL
}

// defaultSettingsPath is where the agent settings file lives unless
// overridden: the GANTRY_SETTINGS environment variable, then
// ~/.gantry/settings.json.
func defaultSettingsPath() (string, error) {
	if p := os.Getenv("GANTRY_SETTINGS"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".gantry", "settings.json"), nil
}

// defaultConfigPath is where the relay config lives unless overridden: the
// GANTRY_CONFIG environment variable, then ~/.gantry/gantry.conf.
func defaultConfigPath() (string, error) {
	if p := os.Getenv("GANTRY_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".gantry", "gantry.conf"), nil
}
