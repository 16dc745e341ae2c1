package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siltdata/silt/pkg/hash"
)

func newBranchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branch <name>",
		Short: "Create a new branch pointing at HEAD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			return r.Branch(args[0])
		},
	}
}

func newCheckoutCmd() *cobra.Command {
	var detach bool
	cmd := &cobra.Command{
		Use:   "checkout <branch_or_commit>",
		Short: "Switch the working copy to a branch or commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			if !detach {
				return r.Checkout(args[0])
			}
			id, err := hash.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parsing commit id: %w", err)
			}
			return r.CheckoutDetached(id)
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "treat the argument as a commit id instead of a branch name")
	return cmd
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch into HEAD's current branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			result, err := r.Merge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case result.NoOp:
				fmt.Println("Already up to date.")
			case result.FastForward:
				fmt.Println("Fast-forward merge.")
			case len(result.Conflicts) > 0:
				fmt.Println("Merge conflicts:")
				for _, c := range result.Conflicts {
					fmt.Printf("  %s: %s\n", c.Path, c.Reason)
				}
			default:
				fmt.Println(result.Commit.String())
			}
			return nil
		},
	}
}
