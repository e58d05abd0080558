package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:           "newsrag",
		Short:         "Retrieval-augmented search, chat and summaries over a news corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(
		serveCMD(&cfgPath),
		searchCMD(&cfgPath),
		chatCMD(&cfgPath),
		summarizeCMD(&cfgPath),
		weeksCMD(&cfgPath),
		healthCMD(&cfgPath),
		rebuildCMD(&cfgPath),
		ingestCMD(&cfgPath),
		migrateCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
