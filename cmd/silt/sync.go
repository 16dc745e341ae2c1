package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siltdata/silt/internal/httpapi"
)

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <remote_url>",
		Short: "Push HEAD's branch to a remote silt server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			remote := httpapi.NewHTTPClient(args[0], nil)
			return r.Push(cmd.Context(), remote)
		},
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <remote_url> <branch>",
		Short: "Fetch a branch from a remote silt server and check it out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			remote := httpapi.NewHTTPClient(args[0], nil)
			id, err := r.Pull(cmd.Context(), remote, args[1])
			if err != nil {
				return err
			}
			fmt.Println(id.String())
			return nil
		},
	}
}
