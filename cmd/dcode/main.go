// Command dcode runs the agent runtime from the command line: one-shot
// chat turns, session management, and the image/video generation flows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dcode-run/agentrt/internal/agent"
	"github.com/dcode-run/agentrt/internal/config"
	"github.com/dcode-run/agentrt/internal/hooks"
	"github.com/dcode-run/agentrt/internal/permission"
	"github.com/dcode-run/agentrt/internal/provider"
	"github.com/dcode-run/agentrt/internal/session"
	"github.com/dcode-run/agentrt/internal/tool"
)

var (
	flagModel     string
	flagSession   string
	flagBaseDir   string
	flagAgent     string
	flagPersist   bool
	flagShowUsage bool
)

func main() {
	root := &cobra.Command{
		Use:           "dcode",
		Short:         "LLM agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "model name from the models catalog")

	root.AddCommand(chatCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(modelsCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(forkCmd())
	root.AddCommand(generateImageCmd())
	root.AddCommand(generateVideoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runtimeEnv bundles everything a command needs once config is resolved.
type runtimeEnv struct {
	cfg      *config.Config
	model    *config.Model
	store    *session.Store
	adapter  *provider.Adapter
	registry *tool.Registry
	perms    *permission.Engine
}

func buildEnv() (*runtimeEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models, err := cfg.LoadModels()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateModels(models); err != nil {
		return nil, err
	}

	name := flagModel
	if name == "" {
		name = cfg.DefaultModel
	}
	model := config.FindModel(models, name)
	if model == nil && len(models) > 0 {
		model = models[0]
	}
	if model == nil {
		// No catalog: fall back to a bare descriptor so env keys still work.
		model = &config.Model{Name: "default", ModelID: "gpt-4.1-mini"}
	}

	registry := tool.NewRegistry()
	if defs, err := cfg.LoadTools(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: tools catalog: %v\n", err)
	} else {
		for _, d := range defs {
			registry.OverrideSchema(d.Name, d.Description, d.Parameters)
		}
	}

	perms, err := permission.NewEngine(permissionConfig(cfg))
	if err != nil {
		return nil, err
	}

	return &runtimeEnv{
		cfg:      cfg,
		model:    model,
		store:    session.NewStore(cfg.ChatsDir),
		adapter:  provider.NewAdapter(config.ResolveOpenAIKey(model), config.ResolveGeminiKey(model)),
		registry: registry,
		perms:    perms,
	}, nil
}

func permissionConfig(cfg *config.Config) *permission.Config {
	cwd, _ := os.Getwd()
	pc := permission.DefaultConfig(cwd)
	if cfg.Permission.DefaultMode != "" {
		pc.DefaultMode = permission.Mode(cfg.Permission.DefaultMode)
	}
	if cfg.Permission.BashMode != "" {
		pc.BashMode = permission.Mode(cfg.Permission.BashMode)
	}
	if cfg.Permission.EditMode != "" {
		pc.EditMode = permission.Mode(cfg.Permission.EditMode)
	}
	if cfg.Permission.DeleteMode != "" {
		pc.DeleteMode = permission.Mode(cfg.Permission.DeleteMode)
	}
	pc.AllowedPaths = cfg.Permission.AllowedPaths
	pc.DeniedPaths = cfg.Permission.DeniedPaths
	pc.AllowedCommands = cfg.Permission.AllowedCommands
	pc.DeniedCommands = cfg.Permission.DeniedCommands
	pc.PromptFunc = promptOnTerminal
	return pc
}

// promptOnTerminal asks the user to approve a gated tool call.
func promptOnTerminal(_ context.Context, req *permission.Request) (bool, error) {
	fmt.Fprintf(os.Stderr, "\nallow %s on %q? [y/N] ", req.Tool, req.Path)
	var answer string
	_, _ = fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// resolveSession loads --session or creates a fresh one.
func (env *runtimeEnv) resolveSession() (*session.Session, error) {
	if flagSession != "" {
		sess, err := env.store.Load(flagSession)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, fmt.Errorf("session %s not found", flagSession)
		}
		return sess, nil
	}

	sess := env.store.NewChatSession(env.model.Name)
	if flagBaseDir != "" {
		sess.BaseDir = flagBaseDir
	}
	if flagPersist {
		if err := env.store.EnablePersistence(sess, ""); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (env *runtimeEnv) newLoop(sess *session.Session) *agent.Loop {
	h := &hooks.Hooks{
		OnReasoningData: func(text string) { fmt.Fprint(os.Stderr, text) },
		OnReasoningDone: func() { fmt.Fprintln(os.Stderr) },
		OnResponseData:  func(text string) { fmt.Print(text) },
		OnResponseDone:  func() { fmt.Println() },
		OnToolCallStart: func(name, id string) {
			fmt.Fprintf(os.Stderr, "→ %s\n", name)
		},
		OnToolCallData: func(name, id string, event interface{}) {
			if ev, ok := event.(tool.CommandOutEvent); ok {
				fmt.Fprint(os.Stderr, ev.Data)
			}
		},
		OnTitle: func(title string) {
			fmt.Fprintf(os.Stderr, "· %s\n", title)
		},
	}
	if flagShowUsage {
		h.OnRequestDone = func(usage provider.Usage) {
			fmt.Fprintf(os.Stderr, "· %d in / %d out tokens\n", usage.InputTokens, usage.OutputTokens)
		}
	}

	l := agent.New(env.store, sess, env.adapter, env.registry, h, env.model)
	l.Agent = agent.GetAgent(flagAgent)
	l.Permissions = env.perms
	l.MaxIterations = env.cfg.MaxIterations
	l.MaxTokens = env.cfg.MaxTokens
	return l
}

// cancelOnInterrupt wires SIGINT/SIGTERM to the loop's cancel path for the
// duration of one run.
func cancelOnInterrupt(l *agent.Loop) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			l.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Run one agent turn (model call + tool loop) against a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}
			sess, err := env.resolveSession()
			if err != nil {
				return err
			}

			l := env.newLoop(sess)
			stop := cancelOnInterrupt(l)
			defer stop()

			res, err := l.Complete(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				dialect := string(provider.ResolveDialect(env.model.ModelID))
				return provider.FormatProviderError(dialect, env.model.ModelID, err)
			}
			if sess.Persistent {
				fmt.Fprintf(os.Stderr, "· session %s (%d iterations, %d tokens)\n",
					sess.ID, res.Iterations, res.Usage.TotalTokens())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flagSession, "session", "s", "", "continue an existing session id")
	cmd.Flags().StringVar(&flagBaseDir, "base-dir", "", "run tools from this directory")
	cmd.Flags().StringVar(&flagAgent, "agent", "coder", "agent preset (coder, planner)")
	cmd.Flags().BoolVarP(&flagPersist, "persist", "p", false, "persist the session to disk")
	cmd.Flags().BoolVar(&flagShowUsage, "usage", false, "print token usage after each request")
	return cmd
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}
			sessions, err := env.store.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %-30s  %s  %d messages\n", s.ID, title, s.ModelName, len(s.Messages))
			}
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List catalog models and what is known about them",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}

			registry := provider.NewModelRegistry()
			if refresh {
				if err := registry.Refresh(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: refresh failed: %v\n", err)
				}
			}

			models, err := env.cfg.LoadModels()
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Println("models catalog is empty; add entries to", env.cfg.ModelsCatalog)
				return nil
			}
			for _, m := range models {
				dialect := provider.ResolveDialect(m.ModelID)
				line := fmt.Sprintf("%-20s %-30s %s", m.Name, m.ModelID, dialect)
				if info := registry.GetModel(m.ModelID); info != nil {
					line += fmt.Sprintf("  ctx=%d", info.Limits.Context)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refresh model metadata from models.dev")
	return cmd
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <session-id>",
		Short: "Delete image/audio assets no message references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}
			sess, err := env.store.Load(args[0])
			if err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("session %s not found", args[0])
			}
			removed, kept := env.store.CleanupImages(sess)
			fmt.Printf("removed %d, kept %d\n", len(removed), len(kept))
			return nil
		},
	}
}

func forkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fork <session-id>",
		Short: "Copy a session under a new id for an alternative continuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}
			sess, err := env.store.Load(args[0])
			if err != nil {
				return err
			}
			if sess == nil {
				return fmt.Errorf("session %s not found", args[0])
			}
			fork, err := env.store.Fork(sess)
			if err != nil {
				return err
			}
			if err := env.store.EnablePersistence(fork, ""); err != nil {
				return err
			}
			fmt.Println(fork.ID)
			return nil
		},
	}
}

func generateImageCmd() *cobra.Command {
	var refs []string
	cmd := &cobra.Command{
		Use:   "generate-image <prompt>",
		Short: "Generate an image with a Gemini image model and store it in the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}
			sess, err := env.resolveSession()
			if err != nil {
				return err
			}

			l := env.newLoop(sess)
			stop := cancelOnInterrupt(l)
			defer stop()

			records, err := l.GenerateImage(cmd.Context(), strings.Join(args, " "), refs)
			if err != nil {
				return provider.FormatProviderError("gemini", env.model.ModelID, err)
			}
			for _, rec := range records {
				fmt.Printf("generated %s (%s)\n", rec.ID, rec.MimeType)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flagSession, "session", "s", "", "session id to attach the image to")
	cmd.Flags().BoolVarP(&flagPersist, "persist", "p", false, "persist the session to disk")
	cmd.Flags().StringArrayVar(&refs, "ref", nil, "reference image asset id (repeatable)")
	return cmd
}

func generateVideoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-video <prompt>",
		Short: "Generate a video with a Veo model and store it in the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv()
			if err != nil {
				return err
			}
			sess, err := env.resolveSession()
			if err != nil {
				return err
			}

			l := env.newLoop(sess)
			stop := cancelOnInterrupt(l)
			defer stop()

			rec, err := l.GenerateVideo(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return provider.FormatProviderError("gemini", env.model.ModelID, err)
			}
			fmt.Printf("generated %s (%s)\n", rec.ID, rec.MimeType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&flagSession, "session", "s", "", "session id to attach the video to")
	cmd.Flags().BoolVarP(&flagPersist, "persist", "p", false, "persist the session to disk")
	return cmd
}
