package main

import (
	"context"
	"fmt"

	"github.com/Guizzs26/go-lead-dialler/internal/app"
	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the score, snapshot and callback tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.EnsureSchema(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
}

func newAgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "age",
		Short: "Increment every active score by one (no-op on the rest day)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Aging.RunDailyAging(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newScoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score",
		Short: "Discover eligible users on the replica and seed their score records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Scoring.RunLeadScoring(ctx)
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newPopulateCommand() *cobra.Command {
	populateCmd := &cobra.Command{
		Use:   "populate",
		Short: "Regenerate queue snapshots (all queue types unless --queue is set)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queues, err := queueTypesFlag(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				for _, q := range queues {
					gen, err := a.Generator(q)
					if err != nil {
						return err
					}
					res, err := gen.PopulateQueue(ctx)
					if err != nil {
						return err
					}
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	populateCmd.Flags().StringP("queue", "q", "", "Queue type (unsigned_users or outstanding_requests)")
	return populateCmd
}

func newCheckLevelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-levels",
		Short: "Regenerate snapshots that fell below the low-water mark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Monitor.CheckAndRegenerateQueues(ctx)
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newNextCommand() *cobra.Command {
	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Hand the next valid user to an agent",
		Long: `Runs the agent-facing dequeue. With --agent the entry (or due callback) is assigned to
that agent. Without it the head of the queue is validated and previewed without assignment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, _ := cmd.Flags().GetString("agent")
			queueName, _ := cmd.Flags().GetString("queue")

			var queueType *models.QueueType
			if queueName != "" {
				q, err := models.ParseQueueType(queueName)
				if err != nil {
					return err
				}
				queueType = &q
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if agent == "" {
					return previewNext(ctx, cmd, a, queueType)
				}
				assignment, err := a.Router.GetNextUserForCall(ctx, agent, queueType)
				if err != nil {
					return err
				}
				if assignment == nil {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no users available right now")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), assignment)
			})
		},
	}
	nextCmd.Flags().StringP("agent", "a", "", "Agent id receiving the call")
	nextCmd.Flags().StringP("queue", "q", "", "Queue type; routing order when empty")
	return nextCmd
}

func previewNext(ctx context.Context, cmd *cobra.Command, a *app.App, queueType *models.QueueType) error {
	queues := models.RoutingOrder
	if queueType != nil {
		queues = []models.QueueType{*queueType}
	}
	for _, q := range queues {
		d, err := a.Dequeuer(q)
		if err != nil {
			return err
		}
		e, err := d.GetNextValidUser(ctx, "")
		if err != nil {
			return err
		}
		if e != nil {
			return printJSON(cmd.OutOrStdout(), e)
		}
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no users available right now")
	return nil
}

func newSkipCommand() *cobra.Command {
	return newFinishCommand("skip", "Mark an assigned entry skipped", func(ctx context.Context, a *app.App, q models.QueueType, id int64) error {
		return a.Router.MarkUserSkipped(ctx, q, id)
	})
}

func newCompleteCommand() *cobra.Command {
	return newFinishCommand("complete", "Mark an assigned entry completed", func(ctx context.Context, a *app.App, q models.QueueType, id int64) error {
		return a.Router.MarkUserCompleted(ctx, q, id)
	})
}

func newFinishCommand(use, short string, finish func(context.Context, *app.App, models.QueueType, int64) error) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queueName, _ := cmd.Flags().GetString("queue")
			entryID, _ := cmd.Flags().GetInt64("entry")

			q, err := models.ParseQueueType(queueName)
			if err != nil {
				return err
			}
			if entryID <= 0 {
				return fmt.Errorf("--entry is required")
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := finish(ctx, a, q, entryID); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
	c.Flags().StringP("queue", "q", "", "Queue type of the entry")
	c.Flags().Int64P("entry", "e", 0, "Snapshot entry id")
	return c
}

func newStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show snapshot status counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queues, err := queueTypesFlag(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				all := make([]models.QueueStats, 0, len(queues))
				for _, q := range queues {
					d, err := a.Dequeuer(q)
					if err != nil {
						return err
					}
					s, err := d.Stats(ctx)
					if err != nil {
						return err
					}
					all = append(all, s)
				}
				return printJSON(cmd.OutOrStdout(), all)
			})
		},
	}
	statsCmd.Flags().StringP("queue", "q", "", "Queue type; all when empty")
	return statsCmd
}

// queueTypesFlag reads --queue, defaulting to every queue type in routing order
func queueTypesFlag(cmd *cobra.Command) ([]models.QueueType, error) {
	name, _ := cmd.Flags().GetString("queue")
	if name == "" {
		return models.RoutingOrder, nil
	}
	q, err := models.ParseQueueType(name)
	if err != nil {
		return nil, err
	}
	return []models.QueueType{q}, nil
}
