package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reel/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reeld running (pid %d)\n", status.PID)
			if status.ActiveSession != "" {
				state := "recording"
				if status.Paused {
					state = "paused"
				}
				fmt.Fprintf(out, "Active session: %s (%s)\n", status.ActiveSession, state)
			}
			fmt.Fprintf(out, "Sessions: %d\n", status.Sessions)
			fmt.Fprintf(out, "Delivery: %d pending, %d in flight, %d abandoned\n",
				status.PendingTasks, status.SendingTasks, status.AbandonedTasks)
			fmt.Fprintf(out, "Database: %s\n", status.DatabasePath)
			if status.NotificationsSet {
				fmt.Fprintln(out, "Notifications: configured")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recording sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			sessions, err := client.Sessions(cmd.Context(), statusFilter...)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					s.ID,
					s.Title,
					s.Status,
					formatDuration(s.DurationSeconds),
					fmt.Sprintf("%d/%d", s.DeliveredChunks, s.TotalChunks),
					formatWarnings(s),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Status", "Duration", "Delivered", "Warnings"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Filter by status (recording, uploaded, processing, completed, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var withTasks bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session, including its transcript when ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			session, err := client.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, session)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s - %s\n", session.ID, session.Title)
			fmt.Fprintf(out, "Status:    %s\n", session.Status)
			fmt.Fprintf(out, "Started:   %s\n", session.StartTime.Local().Format(time.RFC1123))
			if session.EndTime != nil {
				fmt.Fprintf(out, "Ended:     %s\n", session.EndTime.Local().Format(time.RFC1123))
			}
			fmt.Fprintf(out, "Duration:  %s\n", formatDuration(session.DurationSeconds))
			fmt.Fprintf(out, "Delivered: %d/%d\n", session.DeliveredChunks, session.TotalChunks)
			if warnings := formatWarnings(*session); warnings != "" {
				fmt.Fprintf(out, "Warnings:  %s\n", warnings)
			}
			if session.LastError != "" {
				fmt.Fprintf(out, "Error:     %s\n", session.LastError)
			}
			if session.Summary != "" {
				fmt.Fprintf(out, "\nSummary\n  %s\n", session.Summary)
			}
			if len(session.KeyPoints) > 0 {
				fmt.Fprintln(out, "\nKey points")
				for _, point := range session.KeyPoints {
					fmt.Fprintf(out, "  - %s\n", point)
				}
			}
			if len(session.ActionItems) > 0 {
				fmt.Fprintln(out, "\nAction items")
				for _, item := range session.ActionItems {
					fmt.Fprintf(out, "  - %s\n", item)
				}
			}
			if session.Transcript != "" {
				fmt.Fprintf(out, "\nTranscript\n%s\n", session.Transcript)
			}
			if withTasks {
				tasks, err := client.Tasks(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderTasks(cmd, tasks)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&withTasks, "tasks", false, "Include outstanding delivery tasks")
	return cmd
}

func renderTasks(cmd *cobra.Command, tasks []api.TaskView) {
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nNo outstanding delivery tasks")
		return
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		next := ""
		if t.NextEligibleAt != nil {
			next = t.NextEligibleAt.Local().Format(time.Kitchen)
		}
		rows = append(rows, []string{
			strconv.Itoa(t.ChunkIndex),
			t.State,
			strconv.Itoa(t.RetryCount),
			next,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\n"+renderTable(
		[]string{"Chunk", "State", "Retries", "Next attempt"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	))
}

func formatDuration(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}
	return (time.Duration(seconds) * time.Second).String()
}

func formatWarnings(s api.SessionView) string {
	var parts []string
	if s.AbandonedChunks > 0 {
		parts = append(parts, fmt.Sprintf("%d chunk(s) undeliverable", s.AbandonedChunks))
	}
	return strings.Join(parts, "; ")
}
