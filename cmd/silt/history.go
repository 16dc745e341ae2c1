package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show HEAD's commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			commits, err := r.Log(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range commits {
				fmt.Printf("commit %s\n", c.ID.String())
				if c.Author != "" {
					fmt.Printf("Author: %s <%s>\n", c.Author, c.Email)
				}
				fmt.Printf("Date:   %s\n\n", c.Timestamp)
				fmt.Printf("    %s\n\n", c.Message)
			}
			return nil
		},
	}
}
