package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var exit = os.Exit

var (
	cfgFile    string
	serverAddr string
	apiToken   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gamgui",
	Short: "Sandboxed GAM sessions with a live terminal",
	Long: `gamgui provisions ephemeral sandboxes running the GAM CLI for Google
Workspace administration, injects each operator's credentials, and streams
an interactive terminal to attached clients.

Run "gamgui serve" to start the server, then manage sessions with the
session, attach and credentials commands.`,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		exit(1)
	}
}

func init() {
	// accept underscore flag spellings from shell history and scripts
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./gamgui.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("GAMGUI_SERVER", "http://127.0.0.1:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("GAMGUI_TOKEN"), "API bearer token")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func client() *apiClient {
	return newAPIClient(serverAddr, apiToken)
}
