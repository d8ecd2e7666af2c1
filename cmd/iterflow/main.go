package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"iterflow/internal/collab"
	"iterflow/internal/config"
	"iterflow/internal/flow"
	"iterflow/internal/llm"
	"iterflow/internal/safeio"
	"iterflow/internal/structure"
	"iterflow/internal/testrun"
	"iterflow/internal/types"
)

var offline bool

func main() {
	root := &cobra.Command{
		Use:           "iterflow",
		Short:         "LLM-driven project iteration: plan, apply, test, debug",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&offline, "offline", false, "use the scripted fake client instead of Gemini")

	root.AddCommand(newCmd(), iterateCmd(), testCmd(), passthroughCmd("fmt", "ruff", "format", "."), passthroughCmd("lint", "ruff", "check", "."))

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// buildEngine loads .env, reads settings, and wires one client per capability
// tier. All three tiers share one rate limiter budget via per-client limits.
func buildEngine(ctx context.Context) (*flow.Engine, func(), error) {
	_ = godotenv.Load()
	settings := config.FromEnv()

	if offline {
		cli := llm.NewFakeClient()
		return flow.NewEngine(collab.NewSingle(cli), settings), func() {}, nil
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	light, err := llm.NewGeminiClient(ctx, apiKey, settings.ModelLight, settings.RPS, settings.Burst)
	if err != nil {
		return nil, nil, err
	}
	medium, err := llm.NewGeminiClient(ctx, apiKey, settings.ModelMedium, settings.RPS, settings.Burst)
	if err != nil {
		return nil, nil, err
	}
	reasoning, err := llm.NewGeminiClient(ctx, apiKey, settings.ModelReasoning, settings.RPS, settings.Burst)
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() {
		_ = light.Close()
		_ = medium.Close()
		_ = reasoning.Close()
	}
	return flow.NewEngine(collab.NewCaller(light, medium, reasoning), settings), closeAll, nil
}

func newCmd() *cobra.Command {
	var prompt, out string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Bootstrap a new project from a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, done, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer done()
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			res, err := engine.NewProject(ctx, out, prompt)
			if err != nil {
				return err
			}
			log.Printf("new: %s: %d files written under %s", res.Name, len(res.Written), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "what to build")
	cmd.Flags().StringVar(&out, "out", "out", "output directory")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func iterateCmd() *cobra.Command {
	var prompt, repo string
	cmd := &cobra.Command{
		Use:   "iterate",
		Short: "Apply a change request to an existing repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, done, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer done()
			res, err := engine.Iterate(ctx, repo, prompt)
			if err != nil {
				return err
			}
			b, _ := json.MarshalIndent(res.Report, "", "  ")
			fmt.Println(string(b))
			if res.Debug != nil {
				fmt.Println(testrun.StatusLine(res.Debug.Final))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "the change request")
	cmd.Flags().StringVar(&repo, "repo", ".", "repository root")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func testCmd() *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the repository's configured test command",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			settings := config.FromEnv()
			fsys, err := safeio.NewSafeFS(repo)
			if err != nil {
				return err
			}
			command := "pytest"
			if b, err := fsys.ReadFile(structure.SnapshotFile); err == nil {
				var snap types.Snapshot
				if json.Unmarshal(b, &snap) == nil && snap.Tests != nil && snap.Tests.Command != "" {
					command = snap.Tests.Command
				}
			}
			runner := &testrun.Runner{Dir: fsys.Root(), Timeout: settings.TestTimeout}
			res, err := runner.Run(cmd.Context(), command)
			if err != nil {
				return err
			}
			fmt.Print(res.Output)
			fmt.Println(testrun.StatusLine(res))
			if !res.Passing() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", ".", "repository root")
	return cmd
}

// passthroughCmd shells out to an external tool, streaming its output.
func passthroughCmd(name string, tool string, toolArgs ...string) *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run %s against the repository", tool),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := exec.CommandContext(cmd.Context(), tool, append(toolArgs, args...)...)
			c.Dir = repo
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			return c.Run()
		},
	}
	cmd.Flags().StringVar(&repo, "repo", ".", "repository root")
	return cmd
}
