package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/urlmonitor/internal/monitor"
)

func scheduleCmd() *cobra.Command {
	var (
		times []string
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show or change the daily check times",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				info monitor.ScheduleInfo
				err  error
			)
			if len(times) > 0 {
				info, err = api.SetSchedule(times, tz)
			} else {
				info, err = api.Schedule()
			}
			if err != nil {
				return err
			}
			printSchedule(info)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&times, "times", nil, "new trigger times, e.g. 06:00,14:00,20:00")
	cmd.Flags().StringVar(&tz, "timezone", "UTC", "IANA timezone for --times")
	return cmd
}

func printSchedule(info monitor.ScheduleInfo) {
	ts := make([]string, len(info.Times))
	for i, t := range info.Times {
		ts[i] = t.String()
	}
	fmt.Println(titleStyle.Render("schedule"))
	fmt.Printf("times     %s (%s)\n", strings.Join(ts, ", "), info.Timezone)
	fmt.Printf("state     %s\n", info.State)
	if info.NextRun != nil {
		fmt.Printf("next run  %s\n", info.NextRun.Local().Format(time.DateTime))
	}
	if lr := info.LastRun; lr != nil {
		res := okText.Render("ok")
		if lr.Err != "" {
			res = badText.Render(lr.Err)
		}
		fmt.Printf("last run  %s %s %s\n", lr.StartedAt.Local().Format(time.DateTime), dimText.Render(lr.Trigger), res)
	}
}
