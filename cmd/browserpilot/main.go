// Command browserpilot runs act, observe, and extract instructions against a
// live page from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/browserpilot/browserpilot"
	"github.com/browserpilot/browserpilot/internal/config"
	"github.com/browserpilot/browserpilot/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	flagConfig   string
	flagURL      string
	flagModel    string
	flagEnv      string
	flagHeadless bool
	flagVerbose  bool
	flagVision   string
	flagVerify   bool
	flagVars     []string
	flagSchema   string
)

func main() {
	root := &cobra.Command{
		Use:           "browserpilot",
		Short:         "Drive a browser with natural-language instructions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagURL, "url", "", "page to open before running")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "model override")
	root.PersistentFlags().StringVar(&flagEnv, "env", "", "local or remote")
	root.PersistentFlags().BoolVar(&flagHeadless, "headless", false, "run the browser headless")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	actCmd := &cobra.Command{
		Use:   "act <instruction>",
		Short: "Execute an action instruction",
		Args:  cobra.ExactArgs(1),
		RunE:  runAct,
	}
	actCmd.Flags().StringVar(&flagVision, "vision", "off", "vision mode: off, on, fallback")
	actCmd.Flags().BoolVar(&flagVerify, "verify", false, "verify completion before reporting success")
	actCmd.Flags().StringArrayVar(&flagVars, "var", nil, "variable as key=value, usable as %key% in the instruction")

	observeCmd := &cobra.Command{
		Use:   "observe [instruction]",
		Short: "List actionable elements on the page",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runObserve,
	}

	extractCmd := &cobra.Command{
		Use:   "extract <instruction>",
		Short: "Extract structured data from the page",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}
	extractCmd.Flags().StringVar(&flagSchema, "schema", "", "JSON schema for the wanted fields")

	root.AddCommand(actCmd, observeCmd, extractCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *browserpilot.Pilot, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagEnv != "" {
		cfg.Env = flagEnv
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = flagHeadless
	}
	if flagVerbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger := logging.New(logging.Options{Verbose: cfg.Verbose, FilePath: cfg.LogFile})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pilot := browserpilot.New(cfg, browserpilot.WithLogger(logger))
	if err := pilot.Start(ctx); err != nil {
		cancel()
		return nil, nil, nil, err
	}
	if flagURL != "" {
		if err := pilot.Goto(ctx, flagURL); err != nil {
			_ = pilot.Close()
			cancel()
			return nil, nil, nil, fmt.Errorf("open %s: %w", flagURL, err)
		}
	}
	if u := pilot.DebugURL(); u != "" {
		logger.Info("watch the session live", zap.String("url", u))
	}
	return ctx, cancel, pilot, nil
}

func runAct(cmd *cobra.Command, args []string) error {
	ctx, cancel, pilot, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer pilot.Close()

	variables := map[string]string{}
	for _, kv := range flagVars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --var %q, want key=value", kv)
		}
		variables[k] = v
	}

	res, err := pilot.Act(ctx, args[0], browserpilot.ActOptions{
		Variables: variables,
		Vision:    browserpilot.VisionMode(flagVision),
		Verify:    flagVerify,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runObserve(cmd *cobra.Command, args []string) error {
	ctx, cancel, pilot, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer pilot.Close()

	instruction := ""
	if len(args) > 0 {
		instruction = args[0]
	}
	results, err := pilot.Observe(ctx, browserpilot.ObserveOptions{Instruction: instruction})
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel, pilot, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer pilot.Close()

	opts := browserpilot.ExtractOptions{}
	if flagSchema != "" {
		var s map[string]any
		if err := json.Unmarshal([]byte(flagSchema), &s); err != nil {
			return fmt.Errorf("invalid --schema: %w", err)
		}
		opts.Schema = s
	}

	fields, err := pilot.Extract(ctx, args[0], opts)
	if err != nil {
		return err
	}
	return printJSON(fields)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
