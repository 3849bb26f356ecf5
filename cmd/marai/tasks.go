package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marai-studio/internal/marai"
)

var (
	listStatus    string
	listType      string
	listPage      int
	watchInterval time.Duration
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and manage Marai tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{}
		if listStatus != "" {
			params.Set("status", listStatus)
		}
		if listType != "" {
			params.Set("task_type", listType)
		}
		if listPage > 0 {
			params.Set("page", strconv.Itoa(listPage))
		}

		tasks, err := newClient(loadConfig()).ListTasks(cmd.Context(), params)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tTYPE\tSTATUS\tUPDATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Slug, t.Name, t.TaskType, t.Status, t.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <slug>",
	Short: "Show a task's processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient(loadConfig()).TaskStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printStatus(args[0], *st)
		return nil
	},
}

var tasksWatchCmd = &cobra.Command{
	Use:   "watch <slug>",
	Short: "Poll a task until it is done or failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug := args[0]
		st, err := newClient(loadConfig()).WaitForStatus(cmd.Context(), slug, watchInterval, func(st marai.TaskStatus) {
			printStatus(slug, st)
		})
		if err != nil {
			return err
		}
		if st.Status == marai.StatusFailed {
			return fmt.Errorf("task %s failed: %s", slug, st.Message)
		}
		return nil
	},
}

var tasksLogCmd = &cobra.Command{
	Use:   "log <slug>",
	Short: "Print a task's processing log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := newClient(loadConfig()).TaskLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(loadConfig()).DeleteTask(cmd.Context(), args[0]); err != nil {
			return err
		}
		slog.Info("task deleted", "slug", args[0])
		return nil
	},
}

var tasksRenderCmd = &cobra.Command{
	Use:   "render <slug>",
	Short: "Render the task's subtitles into its video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(loadConfig()).RenderSubtitle(cmd.Context(), args[0]); err != nil {
			return err
		}
		slog.Info("render requested", "slug", args[0])
		return nil
	},
}

func printStatus(slug string, st marai.TaskStatus) {
	line := fmt.Sprintf("%s: %s", slug, st.Status)
	if st.Progress > 0 {
		line += fmt.Sprintf(" (%.0f%%)", st.Progress)
	}
	if st.Message != "" {
		line += " " + st.Message
	}
	fmt.Println(line)
}

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "only tasks with this status")
	tasksListCmd.Flags().StringVar(&listType, "type", "", "only tasks of this type (auto_dubbing, transcripting)")
	tasksListCmd.Flags().IntVar(&listPage, "page", 0, "result page")
	tasksWatchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "time between status polls")

	tasksCmd.AddCommand(tasksListCmd, tasksStatusCmd, tasksWatchCmd, tasksLogCmd, tasksDeleteCmd, tasksRenderCmd)
	rootCmd.AddCommand(tasksCmd)
}
