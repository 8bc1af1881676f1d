package setup

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewCommand returns the "setup" command tree
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the repertory sheet MCP server with a desktop client",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "client config file (default: platform location)")

	resolve := func() (string, error) {
		if configPath != "" {
			return configPath, nil
		}
		return DesktopConfigPath()
	}

	var opts Options
	register := &cobra.Command{
		Use:   "desktop",
		Short: "Add or update the server entry in the client config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			if opts.BinaryPath == "" {
				if exe, err := os.Executable(); err == nil {
					opts.BinaryPath = exe
				}
			}

			server, err := Register(path, opts)
			if err != nil {
				return fmt.Errorf("failed to configure desktop client: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %s in %s\n", ServerName, path)
			fmt.Fprintf(out, "Command: %s\n", server.Command)
			fmt.Fprintln(out, "Restart the desktop client to load the new configuration.")
			return nil
		},
	}
	register.Flags().StringVarP(&opts.BinaryPath, "binary", "b", "", "path to the MCP server binary")
	register.Flags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory for exports and the prescription log")
	register.Flags().StringVar(&opts.RepertoryURL, "repertory-url", "", "repertory search service base URL")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			st, err := GetStatus(path)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), st.Summary())
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Exit non-zero when the setup has issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			st, err := GetStatus(path)
			if err != nil {
				return err
			}
			if !st.Valid() {
				fmt.Fprint(cmd.OutOrStdout(), st.Summary())
				return fmt.Errorf("setup has %d issue(s)", len(st.Issues))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(register, status, validate)
	return cmd
}
