package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"greenline/internal/app"
	"greenline/internal/domain"
	"greenline/internal/engine"
	"greenline/internal/repo"
	"greenline/internal/scheduler"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move to_do -> doing -> done, with blocked as a detour. Overdue unfinished tasks are locked and refuse changes until unlocked.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskReassignCmd())
	task.AddCommand(taskLockCmd())
	task.AddCommand(taskUnlockCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.ActorID = actorID()
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, medium or high (default medium)")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var q engine.TaskQuery
	var locked string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their SLA status",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch locked {
			case "":
			case "true", "false":
				v := locked == "true"
				q.Locked = &v
			default:
				return fmt.Errorf("--locked must be true or false")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due", "SLA", "Locked"})
				for _, t := range tasks {
					lock := ""
					if t.IsLocked {
						lock = "locked"
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, deref(t.AssigneeID), deref(t.DueDate), t.SLAStatus, lock})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&q.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&locked, "locked", "", "true or false")
	cmd.Flags().StringVar(&q.SLAStatus, "sla", "", "on_track, due_today or overdue")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "max results")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, description, priority, assignee, due string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Change task fields",
		Long:  "Only flags that are passed are applied. An empty --assignee-id or --due clears the value.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], ActorID: actorID()}
			flags := cmd.Flags()
			if flags.Changed("title") {
				opts.Title = &title
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("priority") {
				opts.Priority = &priority
			}
			if flags.Changed("assignee-id") {
				opts.AssigneeID = &assignee
			}
			if flags.Changed("due") {
				opts.DueDate = &due
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetTaskStatus(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskReassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <task-id> [assignee-id]",
		Short: "Change the assignee; omit it to unassign",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignee := ""
			if len(args) == 2 {
				assignee = args[1]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.ReassignTask(ctx, args[0], assignee, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <task-id>",
		Short: "Lock a task now (requires " + domain.CapabilityLockManage + ")",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.ManualLock(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <task-id>",
		Short: "Unlock a task directly (requires " + domain.CapabilityLockManage + ")",
		Long:  "Clears the lock without a request. Any pending unlock request for the task is resolved as approved.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.DirectUnlock(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func unlockCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "unlock",
		Short: "Request and review task unlocks",
	}
	u.AddCommand(unlockRequestCmd())
	u.AddCommand(unlockReviewCmd())
	u.AddCommand(unlockListCmd())
	u.AddCommand(unlockShowCmd())
	return u
}

func unlockRequestCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "request <task-id>",
		Short: "Ask for a locked task to be unlocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.RequestUnlock(ctx, args[0], actorID(), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task should be unlocked")
	return cmd
}

func unlockReviewCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "review <request-id> <approved|rejected>",
		Short: "Decide a pending unlock request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var notePtr *string
			if cmd.Flags().Changed("note") {
				notePtr = &note
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.ReviewUnlockRequest(ctx, args[0], args[1], actorID(), notePtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "review note")
	return cmd
}

func unlockListCmd() *cobra.Command {
	var f repo.UnlockRequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unlock requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListUnlockRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Requested By", "Status", "Reviewed By", "Reason"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.TaskID, r.RequestedBy, r.Status, deref(r.ReviewedBy), r.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&f.Status, "status", "", "pending, approved or rejected")
	cmd.Flags().StringVar(&f.RequestedBy, "requested-by", "", "requester")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func unlockShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show an unlock request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Engine.GetUnlockRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sweep",
		Short: "Run or inspect the auto-lock sweep",
	}
	s.AddCommand(sweepRunCmd())
	s.AddCommand(sweepNextCmd())
	return s
}

func sweepRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Lock every unfinished task that is past due",
		Long:  "Runs the sweep once as the local actor, who needs " + domain.CapabilityLockManage + ". Safe to repeat; tasks already locked are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.SweepAs(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %d overdue, %d locked\n", res.Today, res.Candidates, len(res.Locked))
				for _, id := range res.Locked {
					fmt.Println("  locked", id)
				}
				return nil
			})
		},
	}
}

func sweepNextCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show upcoming scheduled sweep times",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loc, err := a.Config.Location()
				if err != nil {
					return err
				}
				sched, err := scheduler.New(a.Engine, a.Config.Sweep.Schedule, loc, a.Log)
				if err != nil {
					return err
				}
				times := make([]string, 0, count)
				at := time.Now()
				for i := 0; i < count; i++ {
					at = sched.Next(at)
					times = append(times, at.Format(time.RFC3339))
				}
				out := map[string]any{
					"enabled":  a.Config.SweepEnabled(),
					"schedule": a.Config.Sweep.Schedule,
					"timezone": loc.String(),
					"next":     times,
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 3, "number of runs to show")
	return cmd
}
