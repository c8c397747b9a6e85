package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nousworks/nous/internal/queue"
)

func buildQueueCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the improvement queue",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	openQueue := func() (*queue.Queue, error) {
		settings, err := resolveSettings(configPath)
		if err != nil {
			return nil, err
		}
		return queue.Open(settings.QueuePath(), nil)
	}

	var (
		priority int
		source   string
	)
	addCmd := &cobra.Command{
		Use:   "add [request]",
		Short: "Queue an improvement request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			item, err := q.Add(args[0], queue.Source(source), priority, nil)
			if err != nil {
				return err
			}
			fmt.Printf("queued %s (priority %d)\n", item.ID, item.Priority)
			return nil
		},
	}
	addCmd.Flags().IntVarP(&priority, "priority", "p", 5, "priority 1-10, lower runs earlier")
	addCmd.Flags().StringVar(&source, "source", string(queue.SourceUser), "item source")

	var (
		status string
		limit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			items := q.List(queue.Status(status), limit)
			if len(items) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			for _, item := range items {
				line := fmt.Sprintf("%s  [%s] p%d  %s", item.CreatedAt.Format(time.RFC3339), item.Status, item.Priority, item.Request)
				if item.ResultMessage != "" {
					line += "  -- " + item.ResultMessage
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by status")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "max items to show")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			s := q.Stats()
			fmt.Printf("total %d | pending %d | planning %d | in_progress %d | completed %d | failed %d | skipped %d\n",
				s.Total, s.Pending, s.Planning, s.InProgress, s.Completed, s.Failed, s.Skipped)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			if !q.Cancel(args[0]) {
				return fmt.Errorf("item %s is not pending", args[0])
			}
			fmt.Println("cancelled")
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop finished items older than 30 days",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d items\n", q.PruneOld(30))
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, statsCmd, cancelCmd, pruneCmd)
	return cmd
}
