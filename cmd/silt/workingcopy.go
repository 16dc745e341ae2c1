package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Stage files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			for _, path := range args {
				if err := r.Add(path); err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
			}
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Stage a file's removal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			return r.Remove(args[0])
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Discard a staged change and restore a file from HEAD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			return r.Restore(args[0])
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show staged, modified, and untracked files",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openHere()
			if err != nil {
				return err
			}
			defer r.Close()
			st, err := r.Status()
			if err != nil {
				return err
			}
			printSection("Added", st.Added)
			printSection("Modified", st.Modified)
			printSection("Removed", st.Removed)
			printSection("Untracked", st.Untracked)
			printSection("Conflicts", st.Conflicts)
			return nil
		},
	}
}

func printSection(title string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Println(title + ":")
	for _, p := range paths {
		fmt.Println("  " + p)
	}
}
