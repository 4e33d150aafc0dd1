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
	"greenline/internal/server"
)

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
		Long:  "Roles are declared in greenline.yml and synced on startup. Granting and revoking roles needs rbac.manage.",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacBootstrapCmd())
	cmd.AddCommand(rbacTokenCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				who, err := a.Engine.WhoAmI(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.GrantRole(ctx, actorID(), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RevokeRole(ctx, actorID(), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Assign a role without RBAC checks (first admin of a workspace)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = actorID()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.BootstrapRole(ctx, target, role); err != nil {
					return err
				}
				who, err := a.Engine.WhoAmI(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&role, "role", "admin", "role id")
	return cmd
}

func rbacTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the current actor",
		Long:  "Signs an HS256 token with GREENLINE_JWT_SECRET carrying the actor's current roles and permissions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("GREENLINE_JWT_SECRET is required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				who, err := a.Engine.WhoAmI(ctx, actorID())
				if err != nil {
					return err
				}
				token, err := server.SignToken(secret, who.ActorID, who.Roles, who.Permissions, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys authenticate HTTP callers via the X-Api-Key header. Only a hash is stored; the raw key is shown once at creation.",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = actorID()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, raw, err := a.Engine.CreateAPIKey(ctx, actorID(), owner, name)
				if err != nil {
					return err
				}
				out := map[string]string{
					"id":         key.ID,
					"actor_id":   key.ActorID,
					"name":       key.Name,
					"created_at": key.CreatedAt,
					"key":        raw,
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "actor", "", "key owner (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = actorID()
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.ListAPIKeys(ctx, owner)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				rows := make([]map[string]string, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, map[string]string{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "created_at": k.CreatedAt})
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "actor", "", "key owner (defaults to --actor-id)")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RevokeAPIKey(ctx, actorID(), args[0])
			})
		},
	}
}
