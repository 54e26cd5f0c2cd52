// Package commands is the command line of the orchestrator.
package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"

	orchestration "github.com/opst/orchestration/pkg"
	"github.com/opst/orchestration/pkg/configs"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type globals struct {
	configPath string
}

// load reads the configuration and builds the root logger.
func (g *globals) load(cmd *cobra.Command) (*configs.Config, zerolog.Logger, error) {
	conf, err := configs.LoadConfig(g.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.New(conf.Logging(), cmd.ErrOrStderr())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return conf, logger, nil
}

// attach connects to every system the orchestrator coordinates.
func (g *globals) attach(ctx context.Context, cmd *cobra.Command) (orchestration.Cluster, zerolog.Logger, error) {
	conf, logger, err := g.load(cmd)
	if err != nil {
		return nil, logger, err
	}
	cluster, err := orchestration.Attach(ctx, conf, logger)
	if err != nil {
		return nil, logger, err
	}
	return cluster, logger, nil
}

func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Orchestrate data mappings, source systems and machine annotation services",
		Long: `orchestrator keeps resources consistent across the PID registry,
the resource database, kubernetes and the provenance event bus.

Every change is run as a saga: when a step fails, completed steps are undone.
Failures which could not be undone are logged with manual_intervention=true.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(
		&g.configPath, "config", "c", os.Getenv("ORCHESTRATION_CONFIG"),
		"path to config file (env: ORCHESTRATION_CONFIG)",
	)

	root.AddCommand(
		newCreateCommand(g),
		newUpdateCommand(g),
		newTombstoneCommand(g),
		newGetCommand(g),
		newListCommand(g),
		newMigrateCommand(g),
		newServeCommand(g),
	)
	return root
}

// kindFlag binds --kind to a command.
func kindFlag(cmd *cobra.Command, kind *string) {
	cmd.Flags().StringVarP(
		kind, "kind", "k", "",
		"resource kind: data-mapping | source-system | machine-annotation-service",
	)
	cmd.MarkFlagRequired("kind")
}

// agentFlags binds --agent-id and --agent-name to a command.
func agentFlags(cmd *cobra.Command, agent *domain.Agent) {
	cmd.Flags().StringVar(
		&agent.ID, "agent-id", os.Getenv("ORCHESTRATION_AGENT_ID"),
		"id (e.g. ORCID) of the person requesting the change (env: ORCHESTRATION_AGENT_ID)",
	)
	cmd.Flags().StringVar(
		&agent.Name, "agent-name", os.Getenv("ORCHESTRATION_AGENT_NAME"),
		"name of the person requesting the change (env: ORCHESTRATION_AGENT_NAME)",
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
