package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/cvsbridge/internal/integration"
	"github.com/dshills/cvsbridge/internal/integration/scm"
	"github.com/rs/zerolog"
)

// Command IDs.
const (
	CommandInit             = "cvs.init"
	CommandStatus           = "cvs.status"
	CommandRefresh          = "cvs.refresh"
	CommandShowOutput       = "cvs.showOutput"
	CommandListRepositories = "cvs.listRepositories"
)

// Invocation is what a handler receives.
type Invocation struct {
	// Repository is set for commands that require one.
	Repository *scm.Repository
	Args       []string
}

// Handler runs a command.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// Command is one entry of the command table.
type Command struct {
	ID                 string
	RequiresRepository bool
	Handler            Handler
}

// CommandCenter is the fixed table of user commands.
type CommandCenter struct {
	manager  *integration.Manager
	output   *OutputChannel
	logger   zerolog.Logger
	commands map[string]Command
}

// NewCommandCenter builds the command table.
func NewCommandCenter(manager *integration.Manager, output *OutputChannel, logger zerolog.Logger) *CommandCenter {
	c := &CommandCenter{
		manager: manager,
		output:  output,
		logger:  WithComponent(logger, "commands"),
	}
	c.commands = map[string]Command{
		CommandInit:             {ID: CommandInit, Handler: c.init},
		CommandStatus:           {ID: CommandStatus, RequiresRepository: true, Handler: c.status},
		CommandRefresh:          {ID: CommandRefresh, Handler: c.refresh},
		CommandShowOutput:       {ID: CommandShowOutput, Handler: c.showOutput},
		CommandListRepositories: {ID: CommandListRepositories, Handler: c.listRepositories},
	}
	return c
}

// Commands returns the table sorted by ID.
func (c *CommandCenter) Commands() []Command {
	out := make([]Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute runs the command id.
//
// Commands that require a repository resolve hint through the registry;
// with no hint the only open repository is used. When no repository can be
// resolved the command does nothing and returns nil, nil. Handler errors
// are logged, added to the output channel and returned as *CommandError.
func (c *CommandCenter) Execute(ctx context.Context, id string, hint any, args ...string) (any, error) {
	cmd, ok := c.commands[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}

	inv := Invocation{Args: args}
	if cmd.RequiresRepository {
		inv.Repository = c.resolve(hint)
		if inv.Repository == nil {
			c.logger.Debug().Str("command", id).Msg("no repository, skipping")
			return nil, nil
		}
	}

	result, err := cmd.Handler(ctx, inv)
	if err != nil {
		msg := Hint(err)
		c.logger.Error().Err(err).Str("command", id).Msg("command failed")
		if c.output != nil {
			c.output.AppendLine(fmt.Sprintf("%s: %s", id, msg))
		}
		return nil, &CommandError{ID: id, Hint: msg, Err: err}
	}
	return result, nil
}

func (c *CommandCenter) resolve(hint any) *scm.Repository {
	if hint != nil {
		return c.manager.Registry().GetRepository(hint)
	}
	repos := c.manager.Registry().Repositories()
	if len(repos) == 1 {
		return repos[0]
	}
	return nil
}

func (c *CommandCenter) init(ctx context.Context, inv Invocation) (any, error) {
	if len(inv.Args) == 0 || inv.Args[0] == "" {
		return nil, fmt.Errorf("%w: repository path", ErrMissingArgument)
	}
	return nil, c.manager.Init(ctx, inv.Args[0])
}

func (c *CommandCenter) status(ctx context.Context, inv Invocation) (any, error) {
	if err := inv.Repository.Status(ctx); err != nil {
		return nil, err
	}
	return inv.Repository.Resources(), nil
}

func (c *CommandCenter) refresh(ctx context.Context, _ Invocation) (any, error) {
	return nil, c.manager.Refresh(ctx)
}

func (c *CommandCenter) showOutput(context.Context, Invocation) (any, error) {
	if c.output == nil {
		return []string(nil), nil
	}
	return c.output.Lines(), nil
}

func (c *CommandCenter) listRepositories(context.Context, Invocation) (any, error) {
	repos := c.manager.Registry().Repositories()
	roots := make([]string, len(repos))
	for i, r := range repos {
		roots[i] = r.Root()
	}
	return roots, nil
}
