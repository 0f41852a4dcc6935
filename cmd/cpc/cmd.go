package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/charprefix/internal/config"
	"github.com/born-ml/charprefix/internal/estimate"
	"github.com/born-ml/charprefix/internal/parallel"
	"github.com/born-ml/charprefix/internal/provider"
	_ "github.com/born-ml/charprefix/internal/provider/providers"
	"github.com/born-ml/charprefix/internal/sampling"
	"github.com/born-ml/charprefix/internal/tokenizer"
	"github.com/born-ml/charprefix/internal/trie"
)

// errUnsuccessful is returned when sampling ends without the full prefix.
var errUnsuccessful = errors.New("sampling did not produce the prefix")

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cpc",
		Short: "Character-prefix constrained sampling",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().String("tokenizer", "", "Tokenizer: tiktoken encoding or model, charhash, or tokenizer.json path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-dotenv", false, "Do not load a .env file")

	cobra.EnableCommandSorting = false

	sampleCmd := &cobra.Command{
		Use:   "sample PREFIX",
		Short: "Generate text that starts with PREFIX",
		Args:  cobra.ExactArgs(1),
		RunE:  SampleHandler,
	}

	sampleCmd.Flags().Int("max-tokens", 0, "Maximum number of tokens to generate")
	sampleCmd.Flags().Float64("temperature", 0, "Sampling temperature, 0 for greedy")
	sampleCmd.Flags().Float64("top-p", 0, "Nucleus sampling mass, 0 to disable")
	sampleCmd.Flags().Int("top-k", 0, "Top-k cutoff, 0 to disable")
	sampleCmd.Flags().Int64("seed", 0, "Random seed, -1 for random")
	sampleCmd.Flags().StringArray("stop", nil, `Stop sequence, repeatable ("\n" escapes allowed)`)
	sampleCmd.Flags().String("prompt-prefix", "", "Instruction text sent before the generated text")
	sampleCmd.Flags().String("provider", "", "Backend provider (empty for the offline fallback)")
	sampleCmd.Flags().String("model", "", "Backend model name")
	sampleCmd.Flags().Bool("stream", false, "Print tokens as they are sampled")
	sampleCmd.Flags().Bool("json", false, "Print the result as JSON")

	lookupCmd := &cobra.Command{
		Use:   "lookup PREFIX",
		Short: "List the tokens that can start PREFIX",
		Args:  cobra.ExactArgs(1),
		RunE:  LookupHandler,
	}

	lookupCmd.Flags().Int("limit", 20, "Maximum number of tokens to print, 0 for all")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cpc %s\n", version)
		},
	}

	rootCmd.AddCommand(sampleCmd, lookupCmd, versionCmd)

	return rootCmd
}

// loadConfig applies defaults, the config file, the environment and then
// any flags set on cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	if noDotEnv, _ := flags.GetBool("no-dotenv"); !noDotEnv {
		if wd, err := os.Getwd(); err == nil {
			if _, err := config.LoadDotEnv(wd); err != nil {
				return nil, err
			}
		}
	}

	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if flags.Changed("tokenizer") {
		cfg.Tokenizer.Name, _ = flags.GetString("tokenizer")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("max-tokens") {
		cfg.Sampling.MaxTokens, _ = flags.GetInt("max-tokens")
	}
	if flags.Changed("temperature") {
		cfg.Sampling.Temperature, _ = flags.GetFloat64("temperature")
	}
	if flags.Changed("top-p") {
		cfg.Sampling.TopP, _ = flags.GetFloat64("top-p")
	}
	if flags.Changed("top-k") {
		cfg.Sampling.TopK, _ = flags.GetInt("top-k")
	}
	if flags.Changed("seed") {
		cfg.Sampling.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("stop") {
		stops, _ := flags.GetStringArray("stop")
		cfg.Sampling.StopSequences = cfg.Sampling.StopSequences[:0]
		for _, s := range stops {
			cfg.Sampling.StopSequences = append(cfg.Sampling.StopSequences, config.Unescape(s))
		}
	}
	if flags.Changed("prompt-prefix") {
		cfg.Sampling.PromptPrefix, _ = flags.GetString("prompt-prefix")
	}
	if flags.Changed("provider") {
		cfg.Provider.Name, _ = flags.GetString("provider")
	}
	if flags.Changed("model") {
		cfg.Provider.Model, _ = flags.GetString("model")
	}
	cfg.ResolveAPIKey()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SampleHandler runs one constrained generation.
func SampleHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	tok, err := tokenizer.AutoLoad(cfg.Tokenizer.Name)
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}

	est, closeBackend, err := newEstimator(cmd, cfg, tok, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}()

	t := buildTrie(tok, logger)
	sampler := sampling.NewPrefixSampler(tok, est, sampling.WithLogger(logger), sampling.WithTrie(t))
	req := cfg.Request(args[0])
	out := cmd.OutOrStdout()

	streamMode, _ := cmd.Flags().GetBool("stream")
	jsonMode, _ := cmd.Flags().GetBool("json")

	var res *sampling.Result
	if streamMode && !jsonMode {
		res, err = streamSample(cmd, sampler, req, out)
	} else {
		res, err = sampler.Sample(cmd.Context(), req)
	}
	if err != nil {
		return err
	}

	switch {
	case jsonMode:
		if err := writeJSON(out, res); err != nil {
			return err
		}
	case !streamMode:
		fmt.Fprintln(out, res.Text)
	}

	logger.Info("sampling done", "status", res.Status, "tokens", len(res.Tokens), "run_id", res.RunID)
	if !res.Status.Success() {
		return fmt.Errorf("%w: %s", errUnsuccessful, res.Status)
	}
	return nil
}

// newEstimator connects the configured provider, if any, and stacks its
// tiers above the emergency tier.
func newEstimator(cmd *cobra.Command, cfg *config.Config, tok tokenizer.Tokenizer, logger *slog.Logger) (estimate.Estimator, func() error, error) {
	var tiers []estimate.Tier
	closeFn := func() error { return nil }

	if name := cfg.Provider.Name; name != "" {
		backend, err := provider.New(cmd.Context(), name, cfg.ProviderConfig())
		if provider.IsConfigError(err) {
			return nil, nil, fmt.Errorf("failed to connect %s (available: %s): %w", name, strings.Join(provider.Available(), ", "), err)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect %s: %w", name, err)
		}
		tiers = backend.Tiers(tok, logger, cfg.CandidateOptions()...)
		closeFn = backend.Close
	} else {
		logger.Warn("no provider configured, sampling from the fallback distribution")
	}

	tiered := estimate.NewTiered(tok, tiers, cfg.EstimatorOptions(logger)...)
	logger.Debug("estimator ready", "tiers", tiered.Tiers())
	return tiered, closeFn, nil
}

func streamSample(cmd *cobra.Command, sampler *sampling.PrefixSampler, req sampling.Request, out io.Writer) (*sampling.Result, error) {
	steps, err := sampler.SampleStream(cmd.Context(), req)
	if err != nil {
		return nil, err
	}

	res := &sampling.Result{}
	for step := range steps {
		if step.Done {
			res.Status = step.Status
			continue
		}
		res.Tokens = append(res.Tokens, step.TokenID)
		res.Text += step.Token
		fmt.Fprint(out, step.Token)
	}
	fmt.Fprintln(out)
	return res, nil
}

type jsonResult struct {
	Text   string          `json:"text"`
	Tokens []int           `json:"tokens"`
	Status sampling.Status `json:"status"`
	Steps  int             `json:"steps"`
	RunID  string          `json:"run_id"`
}

func writeJSON(w io.Writer, res *sampling.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonResult{
		Text:   res.Text,
		Tokens: res.Tokens,
		Status: res.Status,
		Steps:  res.Steps,
		RunID:  res.RunID,
	})
}

// LookupHandler prints the tokens that can begin PREFIX: those whose text
// starts with it and those that are a proper prefix of it.
func LookupHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	tok, err := tokenizer.AutoLoad(cfg.Tokenizer.Name)
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}

	t := buildTrie(tok, logger)

	prefix := args[0]
	ids := t.WithPrefix(prefix).Union(t.PrefixesOf(prefix)).IDs()

	limit, _ := cmd.Flags().GetInt("limit")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d tokens\n", len(ids))
	for i, id := range ids {
		if limit > 0 && i >= limit {
			fmt.Fprintf(out, "... %d more\n", len(ids)-limit)
			break
		}
		text, err := tok.Decode([]int{id})
		if err != nil {
			return fmt.Errorf("failed to decode token %d: %w", id, err)
		}
		fmt.Fprintf(out, "%d\t%q\n", id, text)
	}
	return nil
}

func buildTrie(tok tokenizer.Tokenizer, logger *slog.Logger) *trie.Trie {
	t, stats := trie.Build(tok, trie.WithLogger(logger), trie.WithParallel(parallel.DefaultConfig()))
	logger.Debug("vocabulary indexed", "added", stats.Added, "skipped", stats.Skipped, "empty", stats.Empty, "nodes", t.Size())
	return t
}
