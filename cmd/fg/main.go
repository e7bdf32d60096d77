package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowgate/internal/app"
	"flowgate/internal/config"
	"flowgate/internal/db"
	"flowgate/internal/domain"
	"flowgate/internal/engine"
	"flowgate/internal/migrate"
	"flowgate/internal/repo"
	"flowgate/internal/server"
	"flowgate/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "fg",
	Short: "Flowgate CLI",
	Long: `Flowgate runs configurable multi-type workflows for an issue tracker.
Core concepts:
- Workspace: your .flowgate directory with only the database; configs are stored in the DB and imported explicitly.
- Project: one tracker instance that owns all items, tags and the event log.
- Items: typed work records (EFR, ECR, RF, PRF, MOM, RISK, AI, MEMO, ECM, FEE, DOC); each type follows its own status route.
- Actions: the configured transitions; every action is gated by permission, ownership and per-type rules before it commits.
- Fields: custom key/value data on an item (document, sourcetype, ecmtype, ...); some drive the workflow itself.
- Version tags: registry entries like MYDOC.Draft2 cut when a document action releases or proposes a version.
- Signer plan: the ordered sign-off boxes (author, reviewers, approver, sender) an action will request.
- Event log: diary of changes, view with 'fg log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLOWGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "signing role of the actor (e.g. QA)")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "FLOWGATE_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set FLOWGATE_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.UpsertProjectConfig(ctx, tx, projectID, cfg); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workflow config tooling"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configLintCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default flowgate.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "id", "default", "project id to embed")
	return cmd
}

func configLintCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check a workflow config for entries the parser would skip",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			t, _ := workflow.BuildTable(cfg.Workflow.Rules, workflow.NewRegistry())
			if len(t.Defects) == 0 {
				fmt.Printf("%s: ok (%d actions)\n", filePath, len(t.Actions))
				return nil
			}
			for _, d := range t.Defects {
				fmt.Printf("%s: %s\n", filePath, d)
			}
			return fmt.Errorf("%d defective entries", len(t.Defects))
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "flowgate.yml", "path to YAML config")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage items",
		Long:  "Items are the typed work records. Status, owner and resolution only move through workflow actions; everything else is a field update.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemLogCmd())
	item.AddCommand(itemAuthorsCmd())
	item.AddCommand(itemQuotaCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	var fields []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			parsed, err := parseKV(fields)
			if err != nil {
				return err
			}
			opts.Fields = parsed
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Type, "type", "", "item type (EFR, ECR, RF, PRF, MOM, RISK, AI, MEMO, ECM, FEE, DOC)")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "summary")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "initial owner")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent item id")
	cmd.Flags().StringArrayVar(&fields, "field", []string{}, "custom field key=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Summary", "Status", "Owner", "Resolution"})
				for _, it := range items {
					res := ""
					if it.Resolution != nil {
						res = *it.Resolution
					}
					tw.AppendRow(table.Row{it.ID, it.Type, it.Summary, it.Status, it.Owner, res})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Type, "type", "", "item type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Owner, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent item id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max items")
	return cmd
}

func itemShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var sets []string
	var comment string
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Update item fields or add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseKV(sets)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				it, err := e.UpdateItem(ctx, engine.ItemUpdateOptions{
					ID:        args[0],
					ProjectID: e.Config.Project.ID,
					Set:       parsed,
					Comment:   comment,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", []string{}, "field key=value (repeatable)")
	cmd.Flags().StringVar(&comment, "comment", "", "comment text")
	return cmd
}

func itemLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <item-id>",
		Short: "Show the item change log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				log, err := e.Repo.ItemLog(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(log)
				}
				for _, c := range log {
					fmt.Printf("%s  %s\n", c.TS, c.Author)
					for _, d := range c.Deltas {
						fmt.Printf("  %s: %q -> %q\n", d.Field, d.Old, d.New)
					}
					if c.Comment != "" {
						fmt.Printf("  %s\n", c.Comment)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func itemAuthorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authors <item-id>",
		Short: "List credited authors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				authors, err := e.Authors(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(authors)
			})
		},
	}
	return cmd
}

func itemQuotaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota <item-id>",
		Short: "Whether another review item may be opened under this item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				flow, err := e.Flow(ctx)
				if err != nil {
					return err
				}
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(flow.ReviewQuota(it))
			})
		},
	}
	return cmd
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "action",
		Short: "Evaluate and apply workflow actions",
	}
	act.AddCommand(actionListCmd())
	act.AddCommand(actionEvalCmd())
	act.AddCommand(actionApplyCmd())
	act.AddCommand(actionSignersCmd())
	return act
}

func actionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <item-id>",
		Short: "List configured actions with their per-actor decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				refs, err := e.ListActions(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(refs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action", "Label", "Allowed", "Reason"})
				for _, a := range refs {
					tw.AppendRow(table.Row{a.Name, a.Label, a.Allowed, a.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func actionEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <item-id> <action>",
		Short: "Evaluate an action without committing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				out, err := e.EvaluateAction(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func actionApplyCmd() *cobra.Command {
	var owner, resolution, comment string
	cmd := &cobra.Command{
		Use:   "apply <item-id> <action>",
		Short: "Apply a workflow action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				it, out, err := e.ApplyAction(ctx, engine.ApplyOptions{
					ItemID:     args[0],
					ProjectID:  e.Config.Project.ID,
					Action:     args[1],
					ActorID:    viper.GetString("actor-id"),
					Owner:      owner,
					Resolution: resolution,
					Comment:    comment,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item": it, "outcome": out})
				}
				fmt.Printf("%s: %s -> %s (owner %s)\n", it.ID, out.Action, it.Status, it.Owner)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "new owner (must be an eligible candidate)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution to set when the action offers one")
	cmd.Flags().StringVar(&comment, "comment", "", "comment text")
	return cmd
}

func actionSignersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signers <item-id> <action>",
		Short: "Show the sign-off slot plan for an action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				flow, err := e.Flow(ctx)
				if err != nil {
					return err
				}
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				log, err := e.Repo.ItemLog(ctx, args[0])
				if err != nil {
					return err
				}
				slots, err := flow.SignerPlan(args[1], it, log, viper.GetString("actor-id"), viper.GetString("role"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(slots)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Slot", "Class", "Signer", "Action"})
				for _, s := range slots {
					tw.AppendRow(table.Row{s.Slot, s.Class, s.Signer, s.Action})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Version tag registry"}
	tag.AddCommand(tagShowCmd())
	tag.AddCommand(tagBaselineCmd())
	tag.AddCommand(tagBranchCmd())
	return tag
}

func tagShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a version tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetVersionTag(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func tagBaselineCmd() *cobra.Command {
	var baseline, tagName string
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Freeze a tag into a baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertBaselineEntry(ctx, tx, domain.BaselineEntry{Baseline: baseline, TagName: tagName}); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&baseline, "baseline", "", "baseline name")
	cmd.Flags().StringVar(&tagName, "tag", "", "tag name")
	_ = cmd.MarkFlagRequired("baseline")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func tagBranchCmd() *cobra.Command {
	var id, sourceTag string
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Register a branch cut from a tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertBranch(ctx, tx, domain.Branch{ID: id, SourceTag: sourceTag}); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "branch id")
	cmd.Flags().StringVar(&sourceTag, "from", "", "source tag name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func rbacCmd() *cobra.Command {
	rbac := &cobra.Command{Use: "rbac", Short: "Permissions and role groups"}
	rbac.AddCommand(rbacGrantCmd())
	rbac.AddCommand(rbacRevokeCmd())
	rbac.AddCommand(rbacGroupAddCmd())
	rbac.AddCommand(rbacGroupRemoveCmd())
	rbac.AddCommand(rbacShowCmd())
	return rbac
}

func rbacGrantCmd() *cobra.Command {
	var target, perm string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a permission to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || perm == "" {
				return fmt.Errorf("--actor and --permission required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return inTx(ctx, r, func(tx *sql.Tx) error {
					if err := r.EnsureActor(ctx, tx, target, nowRFC3339()); err != nil {
						return err
					}
					return r.GrantPermission(ctx, tx, target, perm)
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&perm, "permission", "", "MODIFY, CREATE, AUTHORIZE or ADMIN")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, perm string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a permission from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || perm == "" {
				return fmt.Errorf("--actor and --permission required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return inTx(ctx, r, func(tx *sql.Tx) error {
					return r.RevokePermission(ctx, tx, target, perm)
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&perm, "permission", "", "MODIFY, CREATE, AUTHORIZE or ADMIN")
	return cmd
}

func rbacGroupAddCmd() *cobra.Command {
	var target, group string
	cmd := &cobra.Command{
		Use:   "group-add",
		Short: "Add an actor to a role group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || group == "" {
				return fmt.Errorf("--actor and --group required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return inTx(ctx, r, func(tx *sql.Tx) error {
					if err := r.EnsureActor(ctx, tx, target, nowRFC3339()); err != nil {
						return err
					}
					return r.AddToGroup(ctx, tx, target, group)
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&group, "group", "", "role group (e.g. Developer, Quality)")
	return cmd
}

func rbacGroupRemoveCmd() *cobra.Command {
	var target, group string
	cmd := &cobra.Command{
		Use:   "group-remove",
		Short: "Remove an actor from a role group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || group == "" {
				return fmt.Errorf("--actor and --group required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return inTx(ctx, r, func(tx *sql.Tx) error {
					return r.RemoveFromGroup(ctx, tx, target, group)
				})
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&group, "group", "", "role group")
	return cmd
}

func rbacShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show an actor's permissions and groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				perms, err := r.ActorPermissions(ctx, args[0])
				if err != nil {
					return err
				}
				groups, err := r.ActorGroups(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    args[0],
					"permissions": perms,
					"groups":      groups,
				})
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			rawKey := newRawAPIKey()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return inTx(ctx, r, func(tx *sql.Tx) error {
					now := nowRFC3339()
					if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
						return err
					}
					key := domain.APIKey{
						ID:        newID(),
						ActorID:   actorID,
						Name:      name,
						KeyHash:   repo.HashAPIKey(rawKey),
						CreatedAt: now,
					}
					if err := r.InsertAPIKey(ctx, tx, key); err != nil {
						return err
					}
					fmt.Printf("id: %s\nkey: %s\n", key.ID, rawKey)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, e engine.Service) error {
				events, err := e.Repo.ListEvents(ctx, e.Config.Project.ID, entityID, n, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FLOWGATE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FLOWGATE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Flowgate API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withService(ctx context.Context, fn func(context.Context, engine.Service) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseKV(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", entry)
		}
		out[k] = v
	}
	return out, nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func inTx(ctx context.Context, r repo.Repo, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func newID() string {
	return uuid.NewString()
}

func newRawAPIKey() string {
	return uuid.NewString() + uuid.NewString()
}
