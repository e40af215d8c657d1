package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"questdeck/internal/config"
	"questdeck/internal/db"
	"questdeck/internal/domain"
	"questdeck/internal/engine"
	"questdeck/internal/migrate"
	"questdeck/internal/repo"
	"questdeck/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "qd",
	Short: "Questdeck CLI",
	Long: `Questdeck turns org goals into daily work.
Core concepts:
- Goal: an outcome moving draft -> clarified -> approved -> decomposed (or denied).
- Questline: the ordered campaign of quests decomposed from one goal.
- Quest: a milestone gated by unlock conditions; states go locked -> unlocked -> in_progress -> completed, forward only.
- Task: the unit of work inside a quest (todo/in_progress/blocked/done), optionally approval-gated.
- Member: a person with Working Genius affinities and daily capacity, used by the assignment scorer.
- Run: one orchestration pass: evaluate unlocks, assign unowned eligible tasks, regenerate the daily deck.
- Deck: the bounded daily slice of eligible tasks for the org, with utilization warnings.
- Facts: the append-only audit log; view with 'qd log tail'.`,
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
	viper.SetEnvPrefix("QUESTDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("org", "", "org identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(questlineCmd())
	rootCmd.AddCommand(questCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(deckCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default questdeck.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Org status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				quests, err := e.Repo.ListQuests(ctx, org)
				if err != nil {
					return err
				}
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{OrgID: org})
				if err != nil {
					return err
				}
				questStates := map[string]int{}
				for _, q := range quests {
					questStates[q.State]++
				}
				taskStatuses := map[string]int{}
				for _, t := range tasks {
					taskStatuses[t.Status]++
				}
				return printJSONOrIndent(map[string]any{
					"org_id":        org,
					"quest_states":  questStates,
					"task_statuses": taskStatuses,
				})
			})
		},
	}
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{Use: "goal", Short: "Manage goals"}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalShowCmd())
	goal.AddCommand(goalSetStatusCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var id, title, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, engine.GoalCreateOptions{
					ID: id, OrgID: org, Title: title, Description: desc,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(g)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "goal id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&desc, "description", "", "goal description")
	return cmd
}

func goalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.Repo.ListGoals(ctx, org)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status"})
				for _, g := range goals {
					tw.AppendRow(table.Row{g.ID, g.Title, g.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func goalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <goal-id>",
		Short: "Show goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetGoal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(g)
			})
		},
	}
	return cmd
}

func goalSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <goal-id>",
		Short: "Advance goal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.SetGoalStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(g)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (clarified|approved|decomposed|denied)")
	return cmd
}

func questlineCmd() *cobra.Command {
	ql := &cobra.Command{Use: "questline", Short: "Manage questlines"}
	ql.AddCommand(questlineCreateCmd())
	ql.AddCommand(questlineListCmd())
	return ql
}

func questlineCreateCmd() *cobra.Command {
	var id, goalID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create questline",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if goalID == "" || title == "" {
				return fmt.Errorf("--goal and --title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ql, err := e.CreateQuestline(ctx, engine.QuestlineCreateOptions{
					ID: id, OrgID: org, GoalID: goalID, Title: title,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(ql)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "questline id (generated when empty)")
	cmd.Flags().StringVar(&goalID, "goal", "", "parent goal id")
	cmd.Flags().StringVar(&title, "title", "", "questline title")
	return cmd
}

func questlineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List questlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListQuestlines(ctx, org)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Goal", "Quests"})
				for _, ql := range items {
					tw.AppendRow(table.Row{ql.ID, ql.Title, ql.GoalID, len(ql.QuestIDs)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func questCmd() *cobra.Command {
	quest := &cobra.Command{Use: "quest", Short: "Manage quests"}
	quest.AddCommand(questCreateCmd())
	quest.AddCommand(questListCmd())
	quest.AddCommand(questShowCmd())
	return quest
}

func questCreateCmd() *cobra.Command {
	var id, questlineID, title, conditionsJSON string
	var position int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create quest",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if title == "" {
				return fmt.Errorf("--title required")
			}
			var conds []domain.UnlockCondition
			if conditionsJSON != "" {
				if err := json.Unmarshal([]byte(conditionsJSON), &conds); err != nil {
					return fmt.Errorf("invalid --conditions: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.CreateQuest(ctx, engine.QuestCreateOptions{
					ID: id, OrgID: org, QuestlineID: questlineID, Title: title,
					Conditions: conds, Position: position,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(q)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "quest id (generated when empty)")
	cmd.Flags().StringVar(&questlineID, "questline", "", "parent questline id")
	cmd.Flags().StringVar(&title, "title", "", "quest title")
	cmd.Flags().StringVar(&conditionsJSON, "conditions", "", `unlock conditions JSON, e.g. '[{"kind":"quest_completed","quest_id":"q1"}]'`)
	cmd.Flags().IntVar(&position, "position", 0, "ordering position")
	return cmd
}

func questListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				quests, err := e.Repo.ListQuests(ctx, org)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(quests)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Conditions", "Version"})
				for _, q := range quests {
					tw.AppendRow(table.Row{q.ID, q.Title, q.State, len(q.UnlockConditions), q.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func questShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <quest-id>",
		Short: "Show quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.Repo.GetQuest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(q)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskApproveCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var id, questID, title, desc, priority, owner string
	var minutes, position int
	var requiresApproval bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ID: id, OrgID: org, QuestID: questID, Title: title, Description: desc,
					Priority: priority, EstimatedMinutes: minutes, RequiresApproval: requiresApproval,
					OwnerID: owner, Position: position,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&questID, "quest", "", "parent quest id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high|urgent")
	cmd.Flags().StringVar(&owner, "owner", "", "owner member id")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "estimated minutes")
	cmd.Flags().IntVar(&position, "position", 0, "ordering position")
	cmd.Flags().BoolVar(&requiresApproval, "requires-approval", false, "gate completion behind approval")
	return cmd
}

func taskListCmd() *cobra.Command {
	var questID, status, owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					OrgID: org, QuestID: questID, Status: status, OwnerID: owner,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Owner", "Min", "Ver"})
				for _, t := range tasks {
					owner := ""
					if t.OwnerID != nil {
						owner = *t.OwnerID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, owner, t.EstimatedMinutes, t.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&questID, "quest", "", "quest filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var status, priority, owner string
	var addBlockers, removeBlockers []string
	var minutes int
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task",
		Long:  "Pass --expect-version to reject the write if the task moved since it was read.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:             args[0],
				Status:         status,
				Priority:       priority,
				AddBlockers:    addBlockers,
				RemoveBlockers: removeBlockers,
				ActorID:        viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("owner") {
				opts.Owner = &owner
			}
			if cmd.Flags().Changed("minutes") {
				opts.EstimatedMinutes = &minutes
			}
			if cmd.Flags().Changed("expect-version") {
				opts.ExpectedVersion = &expectedVersion
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					var ce *repo.ConflictError
					if errors.As(err, &ce) {
						fmt.Printf("conflict: %s now at version %d, re-read and retry\n", ce.ID, ce.Actual)
					}
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "todo|in_progress|blocked|done")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high|urgent")
	cmd.Flags().StringVar(&owner, "owner", "", "owner member id (empty clears)")
	cmd.Flags().StringSliceVar(&addBlockers, "add-blocker", nil, "add blocker note")
	cmd.Flags().StringSliceVar(&removeBlockers, "remove-blocker", nil, "remove blocker note")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "estimated minutes")
	cmd.Flags().Int64Var(&expectedVersion, "expect-version", 0, "optimistic concurrency token")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve an approval-gated task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var expected *int64
			if cmd.Flags().Changed("expect-version") {
				expected = &expectedVersion
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ApproveTask(ctx, args[0], viper.GetString("actor-id"), expected)
				if err != nil {
					return err
				}
				return printJSONOrIndent(t)
			})
		},
	}
	cmd.Flags().Int64Var(&expectedVersion, "expect-version", 0, "optimistic concurrency token")
	return cmd
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage members"}
	member.AddCommand(memberUpsertCmd())
	member.AddCommand(memberListCmd())
	return member
}

func memberUpsertCmd() *cobra.Command {
	var id, name string
	var top2, competency2, frustration2 []string
	var capacity int
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update member",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpsertMember(ctx, engine.MemberUpsertOptions{
					ID: id, OrgID: org, Name: name,
					Top2: top2, Competency2: competency2, Frustration2: frustration2,
					DailyCapacityMinutes: capacity,
					ActorID:              viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(m)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "member id")
	cmd.Flags().StringVar(&name, "name", "", "member name")
	cmd.Flags().StringSliceVar(&top2, "top2", nil, "top geniuses (max 2)")
	cmd.Flags().StringSliceVar(&competency2, "competency2", nil, "competency geniuses (max 2)")
	cmd.Flags().StringSliceVar(&frustration2, "frustration2", nil, "frustration geniuses (max 2)")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "daily capacity minutes")
	return cmd
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListMembers(ctx, org)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Top", "Frustration", "Capacity"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.ID, m.Name, strings.Join(m.Top2, ","), strings.Join(m.Frustration2, ","), m.DailyCapacityMinutes})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Orchestration runs"}
	run.AddCommand(runNowCmd())
	run.AddCommand(runListCmd())
	return run
}

func runNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Run orchestration for the org",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunOrchestration(ctx, org, time.Time{})
				if err != nil {
					return err
				}
				return printJSONOrIndent(res)
			})
		},
	}
}

func runListCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Repo.ListRuns(ctx, org, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Unlocked", "Assigned", "Deck", "Started"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Status, r.QuestsUnlocked, r.TasksAssigned, r.DeckSize, r.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of runs")
	return cmd
}

func deckCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "deck",
		Short: "Show the daily deck",
		RunE: func(cmd *cobra.Command, args []string) error {
			org, err := requireOrg()
			if err != nil {
				return err
			}
			if date == "" || date == "today" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDeck(ctx, org, date)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Title", "Priority", "Status", "Owner", "Min", "Score"})
				for _, item := range d.Items {
					owner := ""
					if item.OwnerID != nil {
						owner = *item.OwnerID
					}
					tw.AppendRow(table.Row{item.TaskID, item.Title, item.Priority, item.Status, owner, item.EstimatedMinutes, item.Score})
				}
				tw.Render()
				for _, w := range d.Warnings {
					fmt.Println("warning:", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "deck date (YYYY-MM-DD or today)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit facts",
		Long:  "The append-only diary of everything that happened: goal moves, unlocks, assignments, runs.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, viper.GetString("org"), evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of facts")
	cmd.Flags().StringVar(&evtType, "type", "", "fact type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
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
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartFactDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Questdeck API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

func requireOrg() (string, error) {
	org := viper.GetString("org")
	if org == "" {
		return "", fmt.Errorf("--org required (or QUESTDECK_ORG)")
	}
	return org, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}
