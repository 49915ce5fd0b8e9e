package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mathwhiz/internal/auth"
	"github.com/pavelanni/mathwhiz/internal/blob"
	"github.com/pavelanni/mathwhiz/internal/handler"
	appI18n "github.com/pavelanni/mathwhiz/internal/i18n"
	"github.com/pavelanni/mathwhiz/internal/jobs"
	"github.com/pavelanni/mathwhiz/internal/llm"
	"github.com/pavelanni/mathwhiz/internal/llmjson"
	"github.com/pavelanni/mathwhiz/internal/model"
	"github.com/pavelanni/mathwhiz/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mathwhiz",
		Short: "Math practice backend with AI-generated and AI-graded questions",
	}

	serve := serveCmd()
	root.AddCommand(serve, extractCmd(), repairCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mathwhiz --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "mathwhiz.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default language for error messages (en, es)")
	addLLMFlags(f)
	f.String("token-secret", "", "HMAC secret for access tokens, at least 32 bytes (or set MATHWHIZ_TOKEN_SECRET)")
	f.Duration("token-ttl", 24*time.Hour, "Access token lifetime")
	f.String("bucket", "", "GCS bucket for uploaded PDFs (empty = store in --blob-dir)")
	f.String("gcs-credentials", "", "Service account JSON file for GCS (empty = application default credentials)")
	f.String("gcs-emulator", "", "GCS emulator host, e.g. localhost:4443")
	f.String("blob-dir", "data/blobs", "Directory for uploaded PDFs when no bucket is set")
	f.Duration("job-timeout", 10*time.Minute, "Wall-clock limit for one background job")
	f.Duration("poll-interval", 5*time.Second, "How often running jobs check for cancellation")
	f.Duration("shutdown-grace", 30*time.Second, "How long shutdown waits for running jobs")
	f.Int64("max-upload", 20<<20, "Maximum PDF upload size in bytes")
	f.Int("default-questions", 10, "Questions per generated set when the request gives no count")
	f.Int("max-questions", 50, "Maximum questions per generated or extracted set")
	f.String("admin-password", "", "Initial admin password (or set MATHWHIZ_ADMIN_PASSWORD)")
	addLogFlags(f)
	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file.pdf>",
		Short: "Extract questions from a PDF worksheet and print them as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}
	f := cmd.Flags()
	addLLMFlags(f)
	f.String("hints", "", "Extra instructions for the extraction")
	f.Int("grade", -1, "Grade level of the worksheet (0 = kindergarten, -1 = let the model decide)")
	f.Int("max-questions", 50, "Maximum questions to extract")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func repairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair-json [file]",
		Short: "Recover JSON from raw model output (file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRepair,
	}
	f := cmd.Flags()
	f.Bool("truncated", false, "The model reported that it hit its output limit")
	f.Bool("lenient", false, "Allow jsonrepair to fill in missing quotes and values")
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a class's results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "mathwhiz.db", "SQLite database path")
	f.Int64("class-id", 0, "Class to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("class-id")

	return cmd
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-provider", llm.ProviderGemini, "LLM backend (gemini, openai)")
	f.String("llm-base-url", "", "OpenAI-compatible API base URL (openai provider only)")
	f.String("llm-api-key", "", "API key for the LLM backend (or set MATHWHIZ_LLM_API_KEY / GEMINI_API_KEY)")
	f.String("llm-model", "", "Model name (empty = backend default)")
	f.Int("llm-attempts", 3, "Attempts per LLM call, including the first")
	f.Duration("llm-timeout", 2*time.Minute, "Time limit for one LLM call")
	f.Int("llm-concurrency", 4, "Parallel LLM calls in batch grading and option generation")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MATHWHIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mathwhiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mathwhiz")
	v.AddConfigPath("/etc/mathwhiz")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// newLLMClient builds the model client from the llm-* settings.
func newLLMClient(v *viper.Viper, maxQuestions int) (*llm.Client, error) {
	provider := v.GetString("llm-provider")
	key := v.GetString("llm-api-key")
	if key == "" && (provider == "" || provider == llm.ProviderGemini) {
		key = os.Getenv("GEMINI_API_KEY")
	}
	gen, err := llm.NewGenerator(provider, v.GetString("llm-base-url"), key, v.GetString("llm-model"))
	if err != nil {
		return nil, err
	}
	return llm.New(gen, llm.Options{
		Attempts:     v.GetInt("llm-attempts"),
		CallTimeout:  v.GetDuration("llm-timeout"),
		Concurrency:  v.GetInt("llm-concurrency"),
		MaxQuestions: maxQuestions,
	}), nil
}

// openBucket returns the GCS bucket when one is configured, else a local
// directory. The returned func releases the bucket's resources.
func openBucket(ctx context.Context, v *viper.Viper) (blob.Bucket, func(), error) {
	if name := v.GetString("bucket"); name != "" {
		g, err := blob.NewGCS(ctx, blob.GCSConfig{
			Bucket:          name,
			CredentialsFile: v.GetString("gcs-credentials"),
			EmulatorHost:    v.GetString("gcs-emulator"),
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("storing uploads in GCS", "bucket", name)
		return g, func() { _ = g.Close() }, nil
	}
	d, err := blob.NewDir(v.GetString("blob-dir"))
	if err != nil {
		return nil, nil, err
	}
	slog.Info("storing uploads on disk", "dir", v.GetString("blob-dir"))
	return d, func() {}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// Jobs left running by a previous process can never finish.
	if n, err := db.FailStaleJobs("server restarted before the job finished"); err != nil {
		return fmt.Errorf("fail stale jobs: %w", err)
	} else if n > 0 {
		slog.Warn("marked stale jobs as failed", "count", n)
	}
	if n, err := db.CleanupRevokedTokens(); err != nil {
		slog.Warn("failed to clean up revoked tokens", "error", err)
	} else if n > 0 {
		slog.Info("removed expired token revocations", "count", n)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	secret := v.GetString("token-secret")
	if secret == "" {
		return errors.New("token secret is required: set --token-secret flag or MATHWHIZ_TOKEN_SECRET env var")
	}
	issuer, err := auth.NewIssuer(secret, v.GetDuration("token-ttl"), db)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	cfg := model.ServerConfig{
		Lang:             lang,
		MaxUploadBytes:   v.GetInt64("max-upload"),
		DefaultQuestions: v.GetInt("default-questions"),
		MaxQuestions:     v.GetInt("max-questions"),
	}

	llmClient, err := newLLMClient(v, cfg.MaxQuestions)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	bucket, closeBucket, err := openBucket(ctx, v)
	if err != nil {
		return fmt.Errorf("open upload storage: %w", err)
	}
	defer closeBucket()

	runner := jobs.NewRunner(db, jobs.Config{
		Timeout:      v.GetDuration("job-timeout"),
		PollInterval: v.GetDuration("poll-interval"),
	})

	h, err := handler.New(handler.Deps{
		Store:  db,
		LLM:    llmClient,
		Issuer: issuer,
		Bucket: bucket,
		Runner: runner,
	}, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"llm_provider", v.GetString("llm-provider"),
		"model", v.GetString("llm-model"),
		"lang", lang,
		"job_timeout", v.GetDuration("job-timeout"),
		"max_upload", cfg.MaxUploadBytes,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			runner.Stop()
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	grace := v.GetDuration("shutdown-grace")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	drainJobs(shutdownCtx, runner)
	return nil
}

// drainJobs waits for running jobs until ctx is done, then stops the rest.
func drainJobs(ctx context.Context, runner *jobs.Runner) {
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("jobs still running at shutdown, stopping them")
		runner.Stop()
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read PDF: %w", err)
	}

	client, err := newLLMClient(v, v.GetInt("max-questions"))
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	hints := llm.ExtractHints{Text: v.GetString("hints")}
	if g := v.GetInt("grade"); g >= 0 {
		hints.Grade, hints.HasGrade = g, true
	}

	start := time.Now()
	res, err := client.ExtractQuestions(ctx, data, hints)
	if err != nil {
		return fmt.Errorf("extract questions: %w", err)
	}
	slog.Info("extracted questions",
		"file", args[0],
		"count", len(res.Questions),
		"truncated", res.Truncated,
		"recovery", res.Recovery,
		"duration", time.Since(start),
	)

	return writeJSONOutput(v.GetString("output"), res.Questions)
}

func runRepair(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var (
		raw []byte
		err error
	)
	if len(args) == 0 || args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	text, recovery, err := llmjson.Recover(string(raw), llmjson.Options{
		Truncated: v.GetBool("truncated"),
		Lenient:   v.GetBool("lenient"),
	})
	if err != nil {
		return err
	}
	slog.Info("recovered JSON", "recovery", recovery, "input_len", len(raw), "output_len", len(text))

	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportClass(v.GetInt64("class-id"))
	if err != nil {
		return fmt.Errorf("export class: %w", err)
	}
	return writeJSONOutput(v.GetString("output"), export)
}

// writeJSONOutput writes v as indented JSON to outPath, or stdout for "-".
func writeJSONOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or MATHWHIZ_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
