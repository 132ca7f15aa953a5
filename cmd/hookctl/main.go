// Command hookctl creates and inspects pipehook endpoints from a terminal.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/pipehook/internal/client"
)

const defaultServer = "http://localhost:8080"

type app struct {
	serverFlag  string
	profilePath string
	jsonOutput  bool

	profile Profile
	client  *client.HTTPClient
	out     io.Writer
	color   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hookctl",
		Short:         "CLI client for a pipehook server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(a.profilePath)
			if err != nil {
				return fmt.Errorf("loading profile %s: %w", a.profilePath, err)
			}
			a.profile = p
			a.out = cmd.OutOrStdout()
			a.color = a.out == io.Writer(os.Stdout) && shouldUseColor()
			a.client = client.NewHTTPClient(a.server(cmd))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.serverFlag, "server", "", "pipehook server URL (default: $PIPEHOOK_SERVER, profile, or "+defaultServer+")")
	root.PersistentFlags().StringVar(&a.profilePath, "config", defaultProfilePath(), "profile file")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output as JSON")

	root.AddCommand(
		a.createCmd(),
		a.showCmd(),
		a.clearCmd(),
		a.deleteCmd(),
		a.urlCmd(),
		a.sendCmd(),
		a.statsCmd(),
		a.watchCmd(),
	)
	return root
}

// server resolves the target: flag, then environment, then profile.
func (a *app) server(cmd *cobra.Command) string {
	if cmd.Flags().Changed("server") && a.serverFlag != "" {
		return a.serverFlag
	}
	if s := os.Getenv("PIPEHOOK_SERVER"); s != "" {
		return s
	}
	if a.profile.Server != "" {
		return a.profile.Server
	}
	return defaultServer
}

// endpointArg returns the endpoint named on the command line or the one
// remembered by the last create.
func (a *app) endpointArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if a.profile.Endpoint != "" {
		return a.profile.Endpoint, nil
	}
	return "", fmt.Errorf("no endpoint given and none saved; run `hookctl create` first")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
