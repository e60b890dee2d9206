package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const requestTimeout = 15 * time.Second

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler and window state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			status, err := newClient().SchedulerStatus(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(status)
			}

			fmt.Printf("Running: %v\n", status["running"])
			if jobs, ok := status["scheduled_jobs"].([]interface{}); ok {
				for _, j := range jobs {
					job, ok := j.(map[string]interface{})
					if !ok {
						continue
					}
					fmt.Printf("  %-10v next run %v\n", job["name"], job["next_run"])
				}
			}
			if ws, ok := status["window_state"].(map[string]interface{}); ok {
				fmt.Printf("Refresh in progress: %v\n", ws["in_progress"])
				if v, ok := ws["last_morning_run"]; ok {
					fmt.Printf("Last morning run: %v\n", v)
				}
				if v, ok := ws["last_afternoon_run"]; ok {
					fmt.Printf("Last afternoon run: %v\n", v)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

// createTrendsCommand creates the trends subcommand
func createTrendsCommand() *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "trends SOURCE",
		Short: "Show cached trend data for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			resp, err := newClient().Trends(ctx, args[0], region)
			if err != nil {
				return err
			}

			fmt.Printf("%s/%s: %d records, updated %s\n",
				resp.Source, resp.Region, resp.RecordCount,
				resp.LastUpdated.Local().Format(time.RFC3339))
			return printJSON(resp.Items)
		},
	}
	cmd.Flags().StringVarP(&region, "region", "r", "", "Region code (defaults to the source's first region)")
	return cmd
}

// createRefreshCommand creates the refresh subcommand
func createRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force an immediate refresh of all sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			if err := newClient().Refresh(ctx); err != nil {
				return err
			}
			fmt.Println("Refresh accepted")
			return nil
		},
	}
}

// createCacheCommand creates the cache subcommand
func createCacheCommand() *cobra.Command {
	var asJSON, clear bool
	var invalidate, region string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Show or prune the trend cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			if clear {
				if err := newClient().ClearCache(ctx); err != nil {
					return err
				}
				fmt.Println("Cache cleared")
				return nil
			}
			if invalidate != "" {
				if region == "" {
					return fmt.Errorf("--invalidate requires --region")
				}
				if err := newClient().InvalidateCache(ctx, invalidate, region); err != nil {
					return err
				}
				fmt.Printf("Invalidated %s/%s\n", invalidate, region)
				return nil
			}

			status, err := newClient().CacheStatus(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(status)
			}

			entries, ok := status["entries"].([]interface{})
			if !ok || len(entries) == 0 {
				fmt.Println("Cache is empty")
				return nil
			}
			fmt.Printf("%-14s %-8s %8s  %s\n", "SOURCE", "REGION", "RECORDS", "LAST UPDATED")
			for _, e := range entries {
				entry, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				key, _ := entry["key"].(string)
				src, reg, _ := strings.Cut(key, "/")
				fmt.Printf("%-14s %-8s %8v  %v\n",
					src, reg, entry["record_count"], entry["last_updated"])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove every cached entry")
	cmd.Flags().StringVar(&invalidate, "invalidate", "", "Remove one source's cached entry (requires --region)")
	cmd.Flags().StringVarP(&region, "region", "r", "", "Region for --invalidate")
	return cmd
}

// createRunsCommand creates the runs subcommand
func createRunsCommand() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent refresh runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()

			resp, err := newClient().RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}

			runs, ok := resp["runs"].([]interface{})
			if !ok || len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}
			fmt.Printf("%-12s %-10s %-16s %s\n", "WINDOW", "STATUS", "SUCCEEDED/TOTAL", "STARTED")
			for _, r := range runs {
				run, ok := r.(map[string]interface{})
				if !ok {
					continue
				}
				fmt.Printf("%-12v %-10v %7v/%-8v %v\n",
					run["window"], run["status"], run["succeeded"], run["total"], run["started_at"])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
