// Command silt is a CLI demonstrating the Repository API (spec.md
// §4.8): init, add, rm, restore, status, commit, branch, checkout,
// merge, log, push, pull against a working copy rooted at the current
// directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siltdata/silt/pkg/repo"
)

var verbose bool

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openHere() (*repo.Repository, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return repo.Open(wd, newLogger())
}

func main() {
	root := &cobra.Command{
		Use:   "silt",
		Short: "silt is a version control tool for large mixed file and tabular data",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newRestoreCmd(),
		newStatusCmd(),
		newCommitCmd(),
		newBranchCmd(),
		newCheckoutCmd(),
		newMergeCmd(),
		newLogCmd(),
		newPushCmd(),
		newPullCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "silt:", err)
		os.Exit(1)
	}
}
