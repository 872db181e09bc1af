package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a check cycle now and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := api.TriggerCheck()
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("check cycle"))
			fmt.Printf("%s %d  %s %d  %s %d  %s\n",
				okText.Render("up"), sum.UpCount,
				badText.Render("down"), sum.DownCount,
				warnText.Render("error"), sum.ErrorCount,
				dimText.Render(sum.Duration.Round(time.Millisecond).String()))
			if sum.Dropped > 0 {
				fmt.Println(warnText.Render(fmt.Sprintf("%d results could not be stored", sum.Dropped)))
			}
			if sum.Abandoned > 0 {
				fmt.Println(warnText.Render(fmt.Sprintf("%d targets not checked, cycle was cancelled", sum.Abandoned)))
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest result for every target",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := api.Status()
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println(dimText.Render("no targets registered"))
				return nil
			}
			fmt.Println(titleStyle.Render("status"))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, headerStyle.Render("NAME")+"\t"+headerStyle.Render("URL")+"\t"+
				headerStyle.Render("STATE")+"\t"+headerStyle.Render("DETAIL")+"\t"+headerStyle.Render("CHECKED"))
			for _, r := range rows {
				checked := ""
				if r.Latest != nil {
					checked = r.Latest.CheckedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Target.Name, r.Target.URL, outcomeLabel(r.Latest), detail(r.Latest), checked)
			}
			return w.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		limit int
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show stored results for a target, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			rs, err := api.History(args[0], from, limit)
			if err != nil {
				return err
			}
			if len(rs) == 0 {
				fmt.Println(dimText.Render("no results"))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, headerStyle.Render("CHECKED")+"\t"+headerStyle.Render("STATE")+"\t"+
				headerStyle.Render("DETAIL")+"\t"+headerStyle.Render("ATTEMPTS"))
			for i := range rs {
				r := &rs[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.CheckedAt.Local().Format(time.DateTime), outcomeLabel(r), detail(r), r.Attempts)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().DurationVar(&since, "since", 0, "only results newer than this (e.g. 24h)")
	return cmd
}

func statsCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "stats [id]",
		Short: "Show store totals, or uptime for one target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				st, err := api.Stats()
				if err != nil {
					return err
				}
				fmt.Println(titleStyle.Render("store"))
				fmt.Printf("targets  %d (%d active)\nchecks   %d (%d in the last 24h)\n",
					st.TotalTargets, st.ActiveTargets, st.TotalChecks, st.ChecksLast24h)
				return nil
			}
			st, err := api.UptimeStats(args[0], time.Now().Add(-window))
			if err != nil {
				return err
			}
			pct := okText
			if st.UptimePercentage < 99 {
				pct = badText
			}
			fmt.Println(titleStyle.Render("uptime since " + st.Since.Local().Format(time.DateTime)))
			fmt.Printf("%s  %d checks: %d up, %d down, %d error\n",
				pct.Render(fmt.Sprintf("%.2f%%", st.UptimePercentage)),
				st.TotalChecks, st.UpChecks, st.DownChecks, st.ErrorChecks)
			if st.AvgLatencyMS != nil {
				fmt.Printf("latency  avg %.0fms  min %.0fms  max %.0fms\n", *st.AvgLatencyMS, *st.MinLatencyMS, *st.MaxLatencyMS)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "window", 7*24*time.Hour, "uptime window")
	return cmd
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete results older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := api.Prune()
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d results\n", n)
			return nil
		},
	}
}
