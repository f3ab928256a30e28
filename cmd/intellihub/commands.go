package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tributary-ai/intellihub-router/internal/types"
)

const defaultAddr = "http://localhost:8000"

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:   "intellihub",
		Short: "IntelliHub - multi-provider LLM request router",
		Long: `IntelliHub classifies prompts and answers them through an ordered chain of
upstream providers: response cache, Perplexity research, OpenRouter model
fallback, then local, Gemini and Anthropic fallbacks.

Examples:
  intellihub serve --config intellihub.yaml
  intellihub generate "write a python function that reverses a list"
  intellihub classify "systematic review of transformer papers"
  intellihub metrics --addr http://localhost:8000`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(
		newServeCmd(&configPath),
		newGenerateCmd(&configPath),
		newClassifyCmd(&configPath),
		newMetricsCmd(),
		newCacheCmd(),
		newVersionCmd(),
	)
	return root
}

// loadEnvFile never overrides variables already set in the environment. A
// missing default file is ignored; a missing explicit one is an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func runServe(configPath string) error {
	app, err := NewApplication(configPath, true)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return app.Run()
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var (
		imageURL    string
		temperature float64
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Answer one prompt in-process through the fallback chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(*configPath, false)
			if err != nil {
				return err
			}
			defer app.Close()

			req := types.PromptRequest{
				Prompt:      strings.Join(args, " "),
				ImageURL:    imageURL,
				Temperature: temperature,
			}
			resp, err := app.router.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeIndented(out, resp)
			}
			fmt.Fprintf(out, "[%s via %s", resp.TaskType, resp.Model)
			if resp.Cached {
				fmt.Fprint(out, ", cached")
			}
			fmt.Fprintf(out, "]\n\n%s\n", resp.AssistantText)
			return nil
		},
	}

	cmd.Flags().StringVar(&imageURL, "image", "", "image URL sent along with the prompt")
	cmd.Flags().Float64Var(&temperature, "temperature", types.DefaultTemperature, "sampling temperature")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full normalized response as JSON")
	return cmd
}

func newClassifyCmd(configPath *string) *cobra.Command {
	var imageURL string

	cmd := &cobra.Command{
		Use:   "classify <prompt>",
		Short: "Show the task category, model candidates and cache key of a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(*configPath, false)
			if err != nil {
				return err
			}
			defer app.Close()

			return writeIndented(cmd.OutOrStdout(), app.router.Describe(types.PromptRequest{
				Prompt:   strings.Join(args, " "),
				ImageURL: imageURL,
			}))
		},
	}

	cmd.Flags().StringVar(&imageURL, "image", "", "image URL sent along with the prompt")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print the executor counters of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callServer(cmd.Context(), http.MethodGet, addr, "/v1/metrics")
			if err != nil {
				return err
			}

			var snapshot map[string]int64
			if err := json.Unmarshal(body, &snapshot); err != nil {
				return fmt.Errorf("unexpected metrics response: %w", err)
			}
			return writeIndented(cmd.OutOrStdout(), snapshot)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "base URL of the running server")
	return cmd
}

func newCacheCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache of a running server",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callServer(cmd.Context(), http.MethodDelete, addr, "/v1/cache"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "base URL of the running server")
	cmd.AddCommand(clearCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "intellihub %s\n", version)
		},
	}
}

// callServer returns the body of a 2xx response. Error envelopes are unwrapped
// into their message.
func callServer(ctx context.Context, method, addr, path string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(addr, "/")+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read server response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var envelope types.ErrorResponse
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Error.Message)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
