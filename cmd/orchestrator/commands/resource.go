package commands

import (
	"fmt"
	"os"

	"github.com/opst/orchestration/pkg/domain"
	"github.com/opst/orchestration/pkg/domain/lifecycle"
	"github.com/spf13/cobra"
)

// withOrchestrator runs f with the orchestrator of the kind.
func withOrchestrator(
	g *globals, cmd *cobra.Command, kind string,
	f func(o *lifecycle.Orchestrator) error,
) error {
	k, err := domain.ParseKind(kind)
	if err != nil {
		return err
	}
	cluster, _, err := g.attach(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer cluster.Close()

	o, err := cluster.Orchestrator(k)
	if err != nil {
		return err
	}
	return f(o)
}

func readRequest(kind string, path string) (domain.Attributes, error) {
	k, err := domain.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(k, content)
}

func requester(agent domain.Agent) (domain.Agent, error) {
	if agent.ID == "" {
		return domain.Agent{}, fmt.Errorf("--agent-id is required")
	}
	agent.Type = domain.Person
	return agent, nil
}

func newCreateCommand(g *globals) *cobra.Command {
	var (
		kind  string
		file  string
		agent domain.Agent
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a resource",
		Example: `  # register a source system
  orchestrator create --kind source-system -f source-system.yaml --agent-id https://orcid.org/0000-0001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			request, err := readRequest(kind, file)
			if err != nil {
				return err
			}
			actor, err := requester(agent)
			if err != nil {
				return err
			}
			return withOrchestrator(g, cmd, kind, func(o *lifecycle.Orchestrator) error {
				created, err := o.Create(cmd.Context(), request, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), created)
			})
		},
	}
	kindFlag(cmd, &kind)
	agentFlags(cmd, &agent)
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of the resource attributes")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newUpdateCommand(g *globals) *cobra.Command {
	var (
		kind  string
		file  string
		agent domain.Agent
	)
	cmd := &cobra.Command{
		Use:   "update PID",
		Short: "Update attributes of a resource",
		Long: `Update attributes of an active resource.

When the attributes are the same as the current version, nothing is changed
and the current version is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readRequest(kind, file)
			if err != nil {
				return err
			}
			actor, err := requester(agent)
			if err != nil {
				return err
			}
			return withOrchestrator(g, cmd, kind, func(o *lifecycle.Orchestrator) error {
				updated, err := o.Update(cmd.Context(), args[0], request, actor)
				if err != nil {
					return err
				}
				if !updated.Changed {
					fmt.Fprintln(cmd.ErrOrStderr(), "no change")
				}
				return printJSON(cmd.OutOrStdout(), updated.Resource)
			})
		},
	}
	kindFlag(cmd, &kind)
	agentFlags(cmd, &agent)
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of the resource attributes")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newTombstoneCommand(g *globals) *cobra.Command {
	var (
		kind   string
		reason string
		agent  domain.Agent
	)
	cmd := &cobra.Command{
		Use:   "tombstone PID",
		Short: "Retire a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requester(agent)
			if err != nil {
				return err
			}
			return withOrchestrator(g, cmd, kind, func(o *lifecycle.Orchestrator) error {
				return o.Tombstone(cmd.Context(), args[0], actor, reason)
			})
		},
	}
	kindFlag(cmd, &kind)
	agentFlags(cmd, &agent)
	cmd.Flags().StringVar(&reason, "reason", "", "why the resource is retired")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func newGetCommand(g *globals) *cobra.Command {
	var (
		kind    string
		version int
	)
	cmd := &cobra.Command{
		Use:   "get PID",
		Short: "Show a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(g, cmd, kind, func(o *lifecycle.Orchestrator) error {
				var (
					r   domain.Resource
					err error
				)
				if version == 0 {
					r, err = o.Get(cmd.Context(), args[0])
				} else {
					r, err = o.GetVersion(cmd.Context(), args[0], version)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), r)
			})
		},
	}
	kindFlag(cmd, &kind)
	cmd.Flags().IntVar(&version, "version", 0, "version to show. the latest one when omitted")
	return cmd
}

func newListCommand(g *globals) *cobra.Command {
	var (
		kind string
		page int
		size int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active resources, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOrchestrator(g, cmd, kind, func(o *lifecycle.Orchestrator) error {
				rs, err := o.List(cmd.Context(), page, size)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rs)
			})
		},
	}
	kindFlag(cmd, &kind)
	cmd.Flags().IntVar(&page, "page", 1, "page number, from 1")
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}
