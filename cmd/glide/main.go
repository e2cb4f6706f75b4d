// Package main provides the CLI entrypoint for glide.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/verte-zerg/glide/internal/config"
	"github.com/verte-zerg/glide/internal/dictionary"
	"github.com/verte-zerg/glide/internal/generator"
	"github.com/verte-zerg/glide/internal/gesture"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/stats"
	"github.com/verte-zerg/glide/internal/wordfreq"
	"github.com/verte-zerg/glide/internal/wordlist"
)

const (
	defaultWordlistSz = 50000
	defaultSamples    = 200
	defaultJitter     = 0.15
	defaultTopK       = 3
	defaultHistoryTop = 20
)

var (
	verbose    bool
	configPath string
	logger     = zap.NewNop()
	logLevel   = zap.NewAtomicLevelAt(zapcore.WarnLevel)

	lang     string
	layoutFl string

	suggestPrev string

	swipeJitter float64
	swipeSeed   int64

	benchSamples int
	benchJitter  float64
	benchTopK    int
	benchSeed    int64
	benchMisses  int

	historyTop int

	wordlistLang  string
	wordlistSize  int
	wordlistForce bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "glide",
		Short:         "Gesture typing recognition engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg := zap.NewProductionConfig()
			if verbose {
				logLevel.SetLevel(zapcore.DebugLevel)
			}
			cfg.Level = logLevel
			built, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = built
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logger.Sync()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/glide/config.toml)")

	rootCmd.AddCommand(newSuggestCmd())
	rootCmd.AddCommand(newSwipeCmd())
	rootCmd.AddCommand(newBenchCmd())
	rootCmd.AddCommand(newLearnCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newWordlistCmd())
	rootCmd.AddCommand(newLangsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func addLocaleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&lang, "lang", "", "language code (default from config, en)")
	cmd.Flags().StringVar(&layoutFl, "layout", "", "YAML layout file (default: built-in qwerty)")
}

// loadSettings resolves the config file and lets changed flags win.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	fileCfg, err := config.LoadConfig(path)
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringFlag(cmd, "lang", &fileCfg.Dictionary.Locale, lang)
	applyStringFlag(cmd, "layout", &fileCfg.Dictionary.Layout, layoutFl)
	return config.Resolve(fileCfg)
}

func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)
	return fn(ctx, rt)
}

func newSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "Rank completions for a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				words, err := rt.dict.GetSuggestions(ctx, dictionaryQueryPrefix(args[0], suggestPrev), rt.settings.Locale)
				if err != nil {
					return err
				}
				return renderCandidates(cmd, "Suggestions", words)
			})
		},
	}
	addLocaleFlags(cmd)
	cmd.Flags().StringVar(&suggestPrev, "prev", "", "previous word for bigram context")
	return cmd
}

func newSwipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swipe <word>",
		Short: "Recognize a synthetic gesture drawn through a word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				if !rt.settings.GestureEnabled {
					return fmt.Errorf("gesture typing is disabled in config ([gesture] enabled = false)")
				}
				opts := generator.DefaultTraceOptions()
				opts.Jitter = swipeJitter
				trace, err := generator.New(swipeSeed).Trace(args[0], rt.geo, opts)
				if err != nil {
					return err
				}
				engine := gesture.NewEngine(gestureDeps(rt))
				defer engine.Close()

				start := time.Now()
				h, err := engine.NewSession(rt.settings.Locale, rt.geo)
				if err != nil {
					return err
				}
				for _, p := range trace {
					engine.Feed(h, p)
				}
				words, err := engine.Complete(ctx, h)
				if err != nil {
					return err
				}
				title := fmt.Sprintf("Gesture %q (%d points, %s)", args[0], len(trace), elapsedSince(start))
				if words.Partial {
					title += " partial"
				}
				return renderCandidates(cmd, title, words)
			})
		},
	}
	addLocaleFlags(cmd)
	cmd.Flags().Float64Var(&swipeJitter, "jitter", defaultJitter, "trace noise in key widths")
	cmd.Flags().Int64Var(&swipeSeed, "seed", 1, "random seed (0: time based)")
	return cmd
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure recognition accuracy on synthetic gestures",
		Args:  cobra.NoArgs,
		RunE:  runBenchCmd,
	}
	addLocaleFlags(cmd)
	cmd.Flags().IntVar(&benchSamples, "samples", defaultSamples, "number of gestures")
	cmd.Flags().Float64Var(&benchJitter, "jitter", defaultJitter, "trace noise in key widths")
	cmd.Flags().IntVar(&benchTopK, "top-k", defaultTopK, "rank counted as a hit")
	cmd.Flags().Int64Var(&benchSeed, "seed", 1, "random seed (0: time based)")
	cmd.Flags().IntVar(&benchMisses, "misses", 10, "number of missed words to list")
	return cmd
}

func runBenchCmd(cmd *cobra.Command, _ []string) error {
	if benchSamples <= 0 {
		return fmt.Errorf("--samples must be > 0")
	}
	return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
		snap := rt.dict.Snapshot()
		if snap == nil {
			return fmt.Errorf("no dictionaries loaded for %s", rt.settings.Locale)
		}
		var entries []model.LexiconEntry
		for _, s := range snap.Stores() {
			if s.Kind() == model.SourceMain {
				entries = append(entries, s.Entries()...)
			}
		}
		if len(entries) == 0 {
			return fmt.Errorf("main dictionary for %s is empty", rt.settings.Locale)
		}

		gen := generator.New(benchSeed)
		opts := generator.DefaultTraceOptions()
		opts.Jitter = benchJitter
		engine := gesture.NewEngine(gestureDeps(rt))
		defer engine.Close()

		samples := make([]stats.Sample, 0, benchSamples)
		for _, word := range gen.Words(entries, benchSamples) {
			trace, err := gen.Trace(word, rt.geo, opts)
			if err != nil {
				logger.Debug("skipping word", zap.String("word", word), zap.Error(err))
				continue
			}
			start := time.Now()
			h, err := engine.NewSession(rt.settings.Locale, rt.geo)
			if err != nil {
				return err
			}
			for _, p := range trace {
				engine.Feed(h, p)
			}
			words, err := engine.Complete(ctx, h)
			if err != nil {
				return err
			}
			samples = append(samples, stats.Sample{Want: word, Got: words, Latency: time.Since(start)})
		}

		out := cmd.OutOrStdout()
		styled := stats.IsTerminal(out)
		summary := stats.Evaluate(samples, benchTopK)
		if err := stats.RenderSummary(out, summary, styled); err != nil {
			return err
		}
		latencies := stats.MovingAverage(stats.Latencies(samples), 10)
		if _, err := fmt.Fprintf(out, "\nLatency %s\n\n", stats.Sparkline(latencies)); err != nil {
			return err
		}
		misses := stats.TopMisses(samples, benchMisses)
		if len(misses) == 0 {
			return nil
		}
		rows := make([][]string, 0, len(misses))
		for _, m := range misses {
			rows = append(rows, []string{m.Word, fmt.Sprintf("%d", m.Count), m.Instead})
		}
		return stats.Table{
			Title:      "Most missed",
			Headers:    []string{"Word", "Misses", "Ranked first instead"},
			Rows:       rows,
			RightAlign: map[int]bool{1: true},
		}.Render(out, styled)
	})
}

func newLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <word>...",
		Short: "Record typed words in user history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				locale := rt.settings.Locale
				prev := ""
				for _, word := range args {
					if err := rt.dict.AddOrBumpWord(ctx, word, locale); err != nil {
						return err
					}
					if prev != "" {
						if err := rt.dict.LearnBigram(ctx, prev, word, locale); err != nil {
							return err
						}
					}
					prev = word
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Learned %d words for %s\n", len(args), locale)
				return err
			})
		},
	}
	addLocaleFlags(cmd)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show most used learned words",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			locale := ""
			if cmd.Flags().Changed("lang") {
				locale = settings.Locale
			}
			return withHistory(settings, func(ctx context.Context, rt *runtime) error {
				report, err := stats.BuildHistoryReport(ctx, rt.db, locale, historyTop)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				return report.Render(out, stats.IsTerminal(out))
			})
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "language filter (default: all)")
	cmd.Flags().IntVar(&historyTop, "top", defaultHistoryTop, "words per language")
	return cmd
}

// withHistory opens only the history database.
func withHistory(settings config.Settings, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openHistoryOnly(settings)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.db.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	return fn(context.Background(), rt)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep dictionaries loaded and reload them when word lists change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !verbose {
				logLevel.SetLevel(zapcore.InfoLevel)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				diags := rt.dict.Diagnostics()
				drainDiagnostics(diags)
				go printDiagnostics(diags)
				logErrf("Watching %s word lists (ctrl-c to stop)\n", rt.settings.Locale)
				err := rt.dict.Watch(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	addLocaleFlags(cmd)
	return cmd
}

// drainDiagnostics drops failures of the initial load, already reported by
// openRuntime.
func drainDiagnostics(diags <-chan dictionary.Diagnostic) {
	for {
		select {
		case <-diags:
		default:
			return
		}
	}
}

func printDiagnostics(diags <-chan dictionary.Diagnostic) {
	for d := range diags {
		logErrf("warning: %s dictionary %s unavailable for %s: %v\n", d.Kind, d.Source, d.Locale, d.Err)
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(config.Template()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newLangsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "langs",
		Short: "List downloaded wordlist languages",
		Args:  cobra.NoArgs,
		RunE:  runLangsCmd,
	}
}

func runLangsCmd(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	wordlistDir := settings.WordListDir
	entries, err := os.ReadDir(wordlistDir)
	if err != nil {
		if os.IsNotExist(err) {
			logErrf("No wordlists found. Download with: glide wordlist --lang <code>\n")
			return fmt.Errorf("wordlist directory does not exist")
		}
		return fmt.Errorf("failed to read wordlist directory: %w", err)
	}
	langs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".txt") {
			continue
		}
		if name == "ATTRIBUTION.txt" || name == "LICENSE.txt" || name == "DATA_LICENSE.txt" {
			continue
		}
		langs = append(langs, strings.TrimSuffix(name, ".txt"))
	}
	if len(langs) == 0 {
		logErrf("No wordlists found. Download with: glide wordlist --lang <code>\n")
		return fmt.Errorf("no wordlists found")
	}
	sort.Strings(langs)
	for _, l := range langs {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), l); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newWordlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wordlist",
		Short: "Generate frequency word lists from wordfreq",
		RunE:  runWordlistCmd,
	}
	cmd.Flags().StringVar(&wordlistLang, "lang", "", "language code, comma list or 'all' (default: en)")
	cmd.Flags().IntVar(&wordlistSize, "size", defaultWordlistSz, "number of words")
	cmd.Flags().BoolVar(&wordlistForce, "force", false, "overwrite existing files")
	return cmd
}

func runWordlistCmd(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	listTypeNormalized := "large"
	wordlistOutDir := settings.WordListDir
	if wordlistSize <= 0 {
		return fmt.Errorf("--size must be greater than 0")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cacheDir := config.DefaultWordfreqCacheDir()
	logErrln("Fetching wordfreq metadata...")
	wheel, err := wordfreq.DownloadLatestWheel(ctx, cacheDir)
	if err != nil {
		return fmt.Errorf("failed to download wordfreq wheel: %w", err)
	}
	if wheel.Cached {
		logErrf("Using cached wheel %s\n", wheel.Filename)
	} else {
		logErrf("Downloaded wheel %s\n", wheel.Filename)
	}
	langTypes, err := wordfreq.ListLanguageTypes(wheel.Path)
	if err != nil {
		return fmt.Errorf("failed to list languages: %w", err)
	}
	availableLangs := wordfreq.LanguagesFromTypes(langTypes)
	langs, allRequested, err := resolveWordlistLangs(wordlistLang, availableLangs)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(wordlistOutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, langCode := range langs {
		outPath := filepath.Join(wordlistOutDir, langCode+".txt")
		if !wordlistForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("word list already exists: %s (use --force to overwrite)", outPath)
			} else if !os.IsNotExist(err) {
				return fmt.Errorf("failed to stat word list: %w", err)
			}
		}

		logErrf("Extracting %s word list...\n", langCode)
		selectedType, ok := wordfreq.SelectListType(langTypes[langCode], listTypeNormalized)
		if !ok {
			if allRequested {
				logErrf("Skipping %s (no %s word list)\n", langCode, listTypeNormalized)
				continue
			}
			return fmt.Errorf("no %s word list available for %s", listTypeNormalized, langCode)
		}
		if selectedType != listTypeNormalized {
			logErrf("Using %s for %s (no %s word list)\n", selectedType, langCode, listTypeNormalized)
		}
		entries, err := wordfreq.ExtractEntries(wheel.Path, langCode, selectedType, wordlistSize)
		if err != nil {
			if allRequested {
				logErrf("Skipping %s (no word list): %v\n", langCode, err)
				continue
			}
			return fmt.Errorf("failed to extract %s word list: %w", langCode, err)
		}
		if err := wordlist.WriteEntries(outPath, entries); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		logErrf("Wrote %s (%d words)\n", outPath, len(entries))
	}

	if err := wordfreq.WriteAttribution(wheel.Path, wordlistOutDir); err != nil {
		return fmt.Errorf("failed to write attribution: %w", err)
	}
	logErrln("Wrote ATTRIBUTION.txt, LICENSE.txt, and DATA_LICENSE.txt")
	return nil
}

func resolveWordlistLangs(lang string, available []string) ([]string, bool, error) {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if lang == "" {
		return []string{"en"}, false, nil
	}
	if lang == "all" {
		return append([]string(nil), available...), true, nil
	}
	parts := strings.Split(lang, ",")
	requested := make([]string, 0, len(parts))
	availableSet := make(map[string]struct{}, len(available))
	for _, a := range available {
		availableSet[a] = struct{}{}
	}
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		if _, ok := availableSet[part]; !ok {
			return nil, false, fmt.Errorf("unknown language %q (available: %s)", part, strings.Join(available, ", "))
		}
		requested = append(requested, part)
	}
	if len(requested) == 0 {
		return nil, false, fmt.Errorf("--lang must not be empty")
	}
	return requested, false, nil
}

func renderCandidates(cmd *cobra.Command, title string, words model.SuggestedWords) error {
	out := cmd.OutOrStdout()
	if words.Len() == 0 {
		_, err := fmt.Fprintln(out, "No suggestions.")
		return err
	}
	rows := make([][]string, 0, words.Len())
	for i, c := range words.Words {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			c.Word,
			fmt.Sprintf("%.3f", c.Score),
			c.Source.String(),
			fmt.Sprintf("%d", c.Frequency),
			fmt.Sprintf("%.3f", c.SpatialCost),
		})
	}
	return stats.Table{
		Title:      title,
		Headers:    []string{"#", "Word", "Score", "Source", "Freq", "Spatial"},
		Rows:       rows,
		RightAlign: map[int]bool{0: true, 2: true, 4: true, 5: true},
	}.Render(out, stats.IsTerminal(out))
}

// applyStringFlag overrides a config value with a flag the user set.
func applyStringFlag(cmd *cobra.Command, name string, target **string, value string) {
	if cmd.Flags().Lookup(name) == nil || !cmd.Flags().Changed(name) {
		return
	}
	v := value
	*target = &v
}

func wordListLoadError(lang, dir string, err error) error {
	lines := []string{
		fmt.Sprintf("failed to load word list: %v", err),
		fmt.Sprintf("expected word list at: %s", filepath.Join(dir, lang+".txt")),
		fmt.Sprintf("language %q not found", lang),
		"Run: glide langs",
		fmt.Sprintf("Download: glide wordlist --lang %s", lang),
		"Download all: glide wordlist --lang all",
	}
	return fmt.Errorf("%s", strings.Join(lines, "\n"))
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
