package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ngbundle/internal/backend"
)

// Version is the ngbundle release, set at link time.
var Version = "dev"

// VersionInfo is the version command's result.
type VersionInfo struct {
	Version string `json:"version"`
	Esbuild string `json:"esbuild"`
	// Backend is the variant the selector picked, or empty when none
	// loads.
	Backend        string `json:"backend,omitempty"`
	BackendVersion string `json:"backend_version,omitempty"`
	BackendError   string `json:"backend_error,omitempty"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the tool and bundler backend versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			info := VersionInfo{Version: Version, Esbuild: backend.EsbuildVersion}

			b, err := backend.Default().Ensure(cmd.Context())
			if err != nil {
				info.BackendError = err.Error()
			} else {
				info.Backend = string(b.Kind())
				info.BackendVersion = b.Version()
			}

			if formatter.Format == "json" {
				return formatter.Success(info)
			}
			fmt.Fprintf(formatter.Writer, "ngbundle %s (esbuild %s)\n", info.Version, info.Esbuild)
			if info.BackendError != "" {
				fmt.Fprintf(formatter.Writer, "backend: unavailable: %s\n", info.BackendError)
				return nil
			}
			fmt.Fprintf(formatter.Writer, "backend: %s %s\n", info.Backend, info.BackendVersion)
			return nil
		},
	}
}
