package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"greenline/internal/app"
	"greenline/internal/engine"
	"greenline/internal/repo"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectStatusCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project in the planned state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.ActorID = actorID()
				p, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Client", "Status", "Verification", "Execution", "Review", "Payment"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.ClientName, p.Status, p.VerificationStatus, p.ExecutionStatus, p.ClientReviewStatus, p.PaymentStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "status",
		Short: "Move a project through its status dimensions",
		Long:  "A project carries five dimensions: status, verification_status, execution_status, client_review_status and payment_status. Changes are applied as one batch and checked against the combined result.",
	}
	st.AddCommand(projectStatusSetCmd())
	st.AddCommand(projectTransitionsCmd())
	st.AddCommand(projectCanUpdateCmd())
	st.AddCommand(projectHistoryCmd())
	return st
}

func projectStatusSetCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:     "set <project-id>",
		Short:   "Apply dimension changes atomically",
		Example: "gl project status set prj-1 --set execution_status=in_progress --set status=execution_in_progress",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.ApplyStatusUpdate(ctx, args[0], changes, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "dimension=value (repeatable)")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func parseAssignments(sets []string) (map[string]string, error) {
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want dimension=value", s)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func projectTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions <project-id>",
		Short: "Show the values each dimension may move to next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				transitions, err := a.Engine.ValidTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(transitions)
				}
				dims := make([]string, 0, len(transitions))
				for d := range transitions {
					dims = append(dims, d)
				}
				sort.Strings(dims)
				for _, d := range dims {
					fmt.Printf("%s: %s\n", d, strings.Join(transitions[d], ", "))
				}
				return nil
			})
		},
	}
}

func projectCanUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can-update <project-id>",
		Short: "Check whether the checklist gate allows status updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				gate, err := a.Engine.StatusUpdateAllowed(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(gate)
			})
		},
	}
}

func projectHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "Show dimension changes, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				history, err := a.Engine.StatusHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Dimension", "From", "To", "Actor"})
				for _, c := range history {
					tw.AppendRow(table.Row{c.ChangedAt, c.Field, c.From, c.To, c.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max changes")
	return cmd
}

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{
		Use:   "checklist",
		Short: "Manage a project's pre-execution checklist",
	}
	cl.AddCommand(checklistAddCmd())
	cl.AddCommand(checklistListCmd())
	cl.AddCommand(checklistVerifyCmd())
	return cl
}

func checklistAddCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a checklist item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				item, err := a.Engine.AddChecklistItem(ctx, args[0], title, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "item title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func checklistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <project-id>",
		Short: "List checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListChecklist(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Verified", "By", "At"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.IsVerified, deref(it.VerifiedBy), deref(it.VerifiedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func checklistVerifyCmd() *cobra.Command {
	var unverify bool
	cmd := &cobra.Command{
		Use:   "verify <project-id> <item-id>",
		Short: "Mark a checklist item verified",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				item, err := a.Engine.VerifyChecklistItem(ctx, args[0], args[1], !unverify, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().BoolVar(&unverify, "unverify", false, "clear the verification instead")
	return cmd
}
