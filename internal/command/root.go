// Package command defines the CLI surface of the proxy.
package command

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build information, set by the compiler via -ldflags.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var configFile string

// Root builds the root command with all subcommands attached.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "eztalk-proxy",
		Short: "EzTalk Proxy - streaming normalization proxy for LLM chat APIs",
		Long: `EzTalk Proxy sits between chat clients and heterogeneous LLM APIs
(OpenAI-compatible and Gemini), normalizing their streaming formats into a
single client event protocol with reasoning separation, web search, and
document upload support.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.TraceLevel)
			}
		},
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCommand())
	root.AddCommand(versionCommand())
	return root
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("EzTalk Proxy\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
		},
	}
}
