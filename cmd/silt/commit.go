package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siltdata/silt/pkg/commit"
)

func newCommitCmd() *cobra.Command {
	var message, author, email string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record the staging area as a new commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("commit message required (-m)")
			}
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			id, err := r.Commit(cmd.Context(), commit.Meta{Message: message, Author: author, Email: email})
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "commit author")
	cmd.Flags().StringVar(&email, "email", "", "commit author email")
	return cmd
}
