package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hamed0406/urlmonitor/internal/client"
	"github.com/hamed0406/urlmonitor/internal/urlutil"
)

func addCmd() *cobra.Command {
	var (
		name    string
		timeout int64
	)
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register a URL for monitoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := strings.TrimSpace(args[0])
			if !strings.Contains(raw, "://") {
				raw = "https://" + raw
			}
			if !urlutil.IsValidHTTPURL(raw) {
				return fmt.Errorf("invalid URL %q", args[0])
			}
			t, err := api.AddTarget(client.AddTargetRequest{URL: raw, Name: name, TimeoutMS: timeout})
			if err != nil {
				return err
			}
			fmt.Println(okText.Render("added"), t.URL, dimText.Render(string(t.ID)))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the host)")
	cmd.Flags().Int64Var(&timeout, "timeout-ms", 0, "per-request timeout in milliseconds")
	return cmd
}

func listCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := api.ListTargets(active)
			if err != nil {
				return err
			}
			if len(ts) == 0 {
				fmt.Println(dimText.Render("no targets registered"))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("NAME")+"\t"+
				headerStyle.Render("URL")+"\t"+headerStyle.Render("ACTIVE")+"\t"+headerStyle.Render("TIMEOUT"))
			for _, t := range ts {
				state := okText.Render("yes")
				if !t.Active {
					state = dimText.Render("no")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.URL, state, t.Timeout)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only show active targets")
	return cmd
}

func deactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Stop checking a target but keep its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.DeactivateTarget(args[0]); err != nil {
				return err
			}
			fmt.Println(warnText.Render("deactivated"), args[0])
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a target and all of its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.RemoveTarget(args[0]); err != nil {
				return err
			}
			fmt.Println(badText.Render("removed"), args[0])
			return nil
		},
	}
}
