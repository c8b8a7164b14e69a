package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the AgentProfile/AgentSkill catalog",
}

var (
	agentExecutor   string
	agentRoles      []string
	agentPriority   int
	agentMaxTasks   int
	agentInactive   bool
	agentSkillSpecs []string
)

var agentsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new AgentProfile, optionally with skill ratings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		roles, err := parseRoles(agentRoles)
		if err != nil {
			return err
		}

		ctx := context.Background()
		profile := &model.AgentProfile{
			ID:                 uuid.New(),
			Executor:           agentExecutor,
			Roles:              roles,
			Priority:           agentPriority,
			Active:             !agentInactive,
			MaxConcurrentTasks: agentMaxTasks,
		}
		if err := st.UpsertAgentProfile(ctx, profile); err != nil {
			return fmt.Errorf("create agent profile: %w", err)
		}

		for _, spec := range agentSkillSpecs {
			if err := addSkill(ctx, st, profile.ID, spec); err != nil {
				return err
			}
		}

		fmt.Printf("agent %s registered (executor=%s roles=%+v)\n", profile.ID, profile.Executor, profile.Roles)
		return nil
	},
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered AgentProfiles and their skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx := context.Background()
		profiles, err := st.ListAgentProfiles(ctx)
		if err != nil {
			return fmt.Errorf("list agent profiles: %w", err)
		}
		if len(profiles) == 0 {
			fmt.Println("no agents registered")
			return nil
		}

		for _, p := range profiles {
			fmt.Printf("%s  executor=%-10s active=%-5v priority=%-3d roles=%s\n",
				p.ID, p.Executor, p.Active, p.Priority, roleString(p.Roles))

			skills, err := st.ListProfileSkills(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("list skills for %s: %w", p.ID, err)
			}
			for _, ps := range skills {
				name, err := st.GetSkillName(ctx, ps.SkillID)
				if err != nil {
					return fmt.Errorf("resolve skill name: %w", err)
				}
				fmt.Printf("    %s: %d/5\n", name, ps.Proficiency)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsAddCmd, agentsListCmd)

	agentsAddCmd.Flags().StringVar(&agentExecutor, "executor", "", "Identifier for the backend this profile invokes (e.g. a CLI binary name)")
	agentsAddCmd.Flags().StringSliceVar(&agentRoles, "role", nil, "Roles this agent holds: planner, reviewer, worker (repeatable)")
	agentsAddCmd.Flags().IntVar(&agentPriority, "priority", 0, "Tie-break priority; higher wins")
	agentsAddCmd.Flags().IntVar(&agentMaxTasks, "max-concurrent", 1, "Max SubTasks this agent may run at once")
	agentsAddCmd.Flags().BoolVar(&agentInactive, "inactive", false, "Register the agent as inactive")
	agentsAddCmd.Flags().StringSliceVar(&agentSkillSpecs, "skill", nil, "name:proficiency pairs, e.g. backend:4 (repeatable)")
}

func parseRoles(roles []string) (model.AgentRoles, error) {
	var r model.AgentRoles
	for _, role := range roles {
		switch strings.ToLower(role) {
		case "planner":
			r.Planner = true
		case "reviewer":
			r.Reviewer = true
		case "worker":
			r.Worker = true
		default:
			return model.AgentRoles{}, fmt.Errorf("unknown role %q (want planner, reviewer, or worker)", role)
		}
	}
	return r, nil
}

func roleString(r model.AgentRoles) string {
	var parts []string
	if r.Planner {
		parts = append(parts, "planner")
	}
	if r.Reviewer {
		parts = append(parts, "reviewer")
	}
	if r.Worker {
		parts = append(parts, "worker")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// addSkill resolves spec ("name:proficiency") to a skill row, creating the
// skill catalog entry on first use, and links it to agentID.
func addSkill(ctx context.Context, st store.Store, agentID uuid.UUID, spec string) error {
	name, profStr, ok := strings.Cut(spec, ":")
	if !ok {
		return fmt.Errorf("invalid skill spec %q (want name:proficiency)", spec)
	}
	proficiency, err := strconv.Atoi(profStr)
	if err != nil {
		return fmt.Errorf("invalid proficiency in %q: %w", spec, err)
	}

	skill, err := st.FindSkillByName(ctx, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up skill %q: %w", name, err)
	}
	if skill == nil {
		skill = &model.AgentSkill{ID: uuid.New(), Name: name}
		if err := st.UpsertAgentSkill(ctx, skill); err != nil {
			return fmt.Errorf("create skill %q: %w", name, err)
		}
	}

	return st.SetProfileSkill(ctx, model.ProfileSkill{AgentID: agentID, SkillID: skill.ID, Proficiency: proficiency})
}
