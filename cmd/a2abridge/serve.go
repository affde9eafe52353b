package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/a2abridge/internal/agent"
	"github.com/dusk-indust/a2abridge/internal/config"
	"github.com/dusk-indust/a2abridge/internal/llm"
	"github.com/dusk-indust/a2abridge/internal/mcptools"
	"github.com/dusk-indust/a2abridge/internal/runtime"
)

// loadServeConfig layers a2abridge.yml, the environment and flags.
func loadServeConfig(args []string, getenv func(string) string) (*config.Config, *pflag.FlagSet, bool, error) {
	pre := pflag.NewFlagSet("a2abridge", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	configDir := pre.String("config-dir", ".", "")
	pre.BoolP("help", "h", false, "")
	_ = pre.Parse(args)

	cfg, err := config.Load(*configDir)
	if err != nil {
		return nil, nil, false, err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, nil, false, err
	}

	fs := pflag.NewFlagSet("a2abridge serve", pflag.ContinueOnError)
	fs.String("config-dir", ".", "directory holding a2abridge.yml")
	serveMCP := fs.Bool("serve-mcp", false, "also serve the agent as an MCP server on stdio")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, false, err
	}
	if cfg.Profile == "" {
		cfg.Profile = string(agent.ProfileElevenLabs)
	}
	return cfg, fs, *serveMCP, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, fs, serveMCP, err := loadServeConfig(args, os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	profile, err := agent.NewRegistry().Lookup(agent.ProfileName(cfg.Profile))
	if err != nil {
		return err
	}
	if err := cfg.ResolveListen(os.Getenv, fs, profile.DefaultHost, profile.DefaultPort); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	secret := cfg.Secret(profile.SecretEnv)
	if secret == "" {
		logger.Warn(profile.SecretEnv+" not set; the MCP server might fail to authenticate", "profile", profile.Name)
	}

	modelRef := cfg.Model
	if modelRef == "" {
		modelRef = profile.Model
	}
	provider, modelName := llm.ParseModelRef(modelRef)
	model, err := llm.New(ctx, provider, modelName, llm.Credentials{
		AnthropicAPIKey: cfg.Secret("ANTHROPIC_API_KEY"),
		GoogleAPIKey:    cfg.Secret("GOOGLE_API_KEY"),
		OpenAIAPIKey:    cfg.Secret("OPENAI_API_KEY"),
		OpenAIBaseURL:   cfg.Secret("OPENAI_BASE_URL"),
		AWSRegion:       cfg.Secret("AWS_REGION"),
	})
	if err != nil {
		return fmt.Errorf("model %s: %w", modelRef, err)
	}
	if c, ok := model.(io.Closer); ok {
		defer c.Close()
	}

	spec := profile.MCPServer(secret)
	if cfg.MCP.Command != "" {
		spec = mcptools.ServerSpec{Name: string(profile.Name), Command: cfg.MCP.Command, Args: cfg.MCP.Args, Env: cfg.MCP.Env}
	}
	tools, err := mcptools.Launch(ctx, spec, logger)
	if err != nil {
		return err
	}
	defer tools.Close()

	store, err := openStore(cfg.Session)
	if err != nil {
		return err
	}
	defer store.Close()

	card := profile.Card(fmt.Sprintf("http://%s/", cfg.Addr()))
	runner := runtime.NewLLMRunner(card.Name, model, store,
		runtime.WithInstruction(profile.Instruction),
		runtime.WithToolset(tools),
		runtime.WithMaxSteps(cfg.MaxSteps),
		runtime.WithLogger(logger),
	)

	opts := []agent.ExecutorOption{
		agent.WithLogger(logger),
		agent.WithRunTimeout(cfg.RunTimeout),
	}
	if cfg.UserID != "" {
		opts = append(opts, agent.WithUserID(cfg.UserID))
	}
	handler := agent.NewRequestHandler(card, agent.NewExecutor(runner, store, opts...), logger)

	logger.Info("starting agent", "name", card.Name, "version", card.Version, "url", card.URL,
		"model", modelRef, "session_backend", cfg.Session.Backend)
	for _, s := range card.Skills {
		logger.Info("skill", "name", s.Name, "id", s.ID, "tags", s.Tags)
	}

	return serve(ctx, cfg, handler, serveMCP, logger)
}

// serve runs the A2A server and the optional MCP endpoints until ctx is
// done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, handler *agent.RequestHandler, serveMCP bool, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := handler.Start(ctx, cfg.Addr()); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "agent", handler.Card().Name)
		return handler.Stop(context.WithoutCancel(ctx))
	})

	if cfg.MCPAddr != "" || serveMCP {
		server := mcptools.NewBridgeMCPServer(handler.Card(), handler)
		if cfg.MCPAddr != "" {
			g.Go(func() error {
				logger.Info("mcp server listening", "addr", cfg.MCPAddr)
				return mcptools.RunHTTP(ctx, server, cfg.MCPAddr)
			})
		}
		if serveMCP {
			g.Go(func() error {
				if err := mcptools.RunStdio(ctx, server); err != nil && ctx.Err() == nil {
					return fmt.Errorf("mcp stdio: %w", err)
				}
				return nil
			})
		}
	}

	return g.Wait()
}
