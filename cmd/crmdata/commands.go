package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/permission"
	"github.com/spec-kit/salescrm/internal/persistence"
	"github.com/spec-kit/salescrm/internal/repository"
	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// NewScopeCommand prints the predicate and grants for an actor without
// touching the store.
func NewScopeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scope <entity>",
		Short: "Print the scoping predicate and allowed actions for the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			engine := permission.NewEngine()
			pred, err := engine.ScopeFor(actor, kind)
			if err != nil {
				return err
			}
			params := pred.Params
			if params == nil {
				params = []any{}
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"entity":  kind,
				"where":   pred.String(),
				"params":  params,
				"actions": engine.AllowedActions(actor),
			})
		},
	}
}

func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the store answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.pool.Ping(cmd.Context()); err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"pool":  s.pool.Stats(),
				"redis": redisStatus(cmd.Context(), s.redis),
			})
		},
	}
}

// redisStatus reports the event forwarder's reachability. Redis is
// optional, so a failure is reported rather than returned.
func redisStatus(ctx context.Context, r *persistence.Redis) string {
	if r == nil {
		return "disabled"
	}
	if err := r.Ping(ctx); err != nil {
		return "unreachable: " + err.Error()
	}
	return "ok"
}

// NewGetCommand prints one record visible to the actor.
func NewGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Print one record visible to the actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			s, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := getRecord(cmd.Context(), s.repo, actor, kind, args[1])
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
		},
	}
}

// getRecord turns an absent row into NOT_FOUND. Rows outside the actor's
// scope are absent too, so the error never tells the two apart.
func getRecord(ctx context.Context, repo repository.ScopedRepository, actor domain.Actor, kind domain.EntityKind, id string) (domain.Record, error) {
	rec, ok, err := repo.Get(ctx, actor, kind, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorutil.NewNotFound(string(kind), map[string]any{"id": id})
	}
	return rec, nil
}

// NewListCommand prints one scoped page as JSON lines.
func NewListCommand() *cobra.Command {
	var (
		filters repository.Filters
		page    repository.Pagination
		export  bool
	)
	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List records visible to the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorFromFlags(cmd)
			if err != nil {
				return err
			}
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			s, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var rows []domain.Record
			if export {
				rows, err = s.repo.Export(cmd.Context(), actor, kind, filters)
			} else {
				var p domain.Page
				p, err = s.repo.List(cmd.Context(), actor, kind, filters, page)
				rows = p.Rows
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&filters.Statuses, "status", nil, "only rows with one of these statuses")
	cmd.Flags().StringVar(&filters.SearchTerm, "search", "", "case-insensitive text search")
	cmd.Flags().StringVar(&filters.AgentID, "agent", "", "only rows owned by this agent")
	cmd.Flags().StringVar(&filters.Team, "filter-team", "", "only rows of this team")
	cmd.Flags().IntVar(&page.Limit, "limit", 0, "page size, capped per role")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&export, "export", false, "fetch every page (requires the export action)")
	return cmd
}

func NewUpdateCommand() *cobra.Command {
	var set map[string]string
	cmd := &cobra.Command{
		Use:   "update <entity> <id>",
		Short: "Update allow-listed columns of one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(set) == 0 {
				return fmt.Errorf("at least one --set column=value is required")
			}
			changes := make(map[string]any, len(set))
			for k, v := range set {
				changes[strings.TrimSpace(k)] = v
			}
			return mutate(cmd, args, repository.Mutation{Changes: changes})
		},
	}
	cmd.Flags().StringToStringVar(&set, "set", nil, "column=value pairs to write")
	return cmd
}

func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Delete one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, args, repository.Mutation{Delete: true})
		},
	}
}

func mutate(cmd *cobra.Command, args []string, m repository.Mutation) error {
	actor, err := actorFromFlags(cmd)
	if err != nil {
		return err
	}
	kind, err := domain.ParseEntityKind(args[0])
	if err != nil {
		return err
	}
	s, err := openStack(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.repo.Mutate(cmd.Context(), actor, kind, args[1], m)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
}
