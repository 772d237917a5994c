package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/YuminosukeSato/beanscope/cmd/beanscope/cmd.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "show version",
		Long:              `show the version details of beanscope.`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:%s\n", Version)
			fmt.Fprintf(out, "GitCommit:%s\n", GitCommit)
			fmt.Fprintf(out, "Platform:%s/%s GoVersion:%s BuildDate:%s\n", runtime.GOOS, runtime.GOARCH, runtime.Version(), BuildDate)
		},
	}
}
