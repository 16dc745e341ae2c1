package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/siltdata/silt/pkg/repo"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new repository in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			r, err := repo.Init(wd, newLogger())
			if err != nil {
				return err
			}
			defer r.Close()
			fmt.Printf("Initialized empty silt repository in %s\n", r.Root())
			return nil
		},
	}
}
