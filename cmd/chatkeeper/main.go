package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/chatkeeper/internal/commands"
	"github.com/stellarlinkco/chatkeeper/internal/config"
	"github.com/stellarlinkco/chatkeeper/internal/cron"
	"github.com/stellarlinkco/chatkeeper/internal/gateway"
	"github.com/stellarlinkco/chatkeeper/internal/observability"
	"github.com/stellarlinkco/chatkeeper/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "chatkeeper",
	Short: "chatkeeper - Telegram group bot with per-chat memory",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot (Telegram + scheduler + metrics)",
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question with a chat's memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Add text to a chat's memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemember,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show message statistics of a chat",
	RunE:  runStats,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chatkeeper status",
	RunE:  runStatus,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled jobs (changes apply on the next serve start)",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsList(os.Stdout)
	},
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsEnable(os.Stdout, args[0], true)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsEnable(os.Stdout, args[0], false)
	},
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsRemove(os.Stdout, args[0])
	},
}

var chatID int64

func init() {
	for _, c := range []*cobra.Command{askCmd, rememberCmd, statsCmd} {
		c.Flags().Int64VarP(&chatID, "chat", "c", 0, "Telegram chat id")
		_ = c.MarkFlagRequired("chat")
	}

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsEnableCmd)
	jobsCmd.AddCommand(jobsDisableCmd)
	jobsCmd.AddCommand(jobsRemoveCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// CLIOptions allows dependency injection for the one-shot chat commands.
type CLIOptions struct {
	StoreFactory     gateway.StoreFactory
	CompleterFactory gateway.CompleterFactory
	Stdout           io.Writer
}

func (o CLIOptions) stdout() io.Writer {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)

	if cfg.Provider.APIKey == "" && cfg.Provider.Type != config.ProviderCompatible {
		return fmt.Errorf("API key not set. Run 'chatkeeper onboard' or set CHATKEEPER_API_KEY / OPENAI_API_KEY")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Set CHATKEEPER_TELEGRAM_TOKEN or telegram.token in %s", config.ConfigPath())
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runAsk(cmd *cobra.Command, args []string) error {
	return runAskWithOptions(cmd.Context(), chatID, args, CLIOptions{})
}

func runAskWithOptions(ctx context.Context, chat int64, args []string, opts CLIOptions) error {
	return withServices(ctx, opts, func(svc *gateway.Services) error {
		answer, err := svc.Assistant.Ask(ctx, chat, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(opts.stdout(), answer)
		return nil
	})
}

func runRemember(cmd *cobra.Command, args []string) error {
	return runRememberWithOptions(cmd.Context(), chatID, args, CLIOptions{})
}

func runRememberWithOptions(ctx context.Context, chat int64, args []string, opts CLIOptions) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("nothing to remember")
	}
	return withServices(ctx, opts, func(svc *gateway.Services) error {
		if err := svc.Memory.Append(ctx, chat, text); err != nil {
			return err
		}
		mem, err := svc.Memory.Get(ctx, chat)
		if err != nil {
			return err
		}
		fmt.Fprintf(opts.stdout(), "Memory of chat %d: %s\n", chat, mem)
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return runStatsWithOptions(cmd.Context(), chatID, CLIOptions{})
}

func runStatsWithOptions(ctx context.Context, chat int64, opts CLIOptions) error {
	return withServices(ctx, opts, func(svc *gateway.Services) error {
		total, err := svc.Store.CountMessages(ctx, chat)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		activity, err := svc.Store.UserActivity(ctx, chat)
		if err != nil {
			return fmt.Errorf("user activity: %w", err)
		}
		fmt.Fprintln(opts.stdout(), commands.FormatStats(total, activity))

		info, err := svc.Store.ChatInfo(ctx, chat)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return fmt.Errorf("chat info: %w", err)
		default:
			fmt.Fprintf(opts.stdout(), "\nBot added on %s\n", info.AddedOn.UTC().Format(time.RFC3339))
		}
		return nil
	})
}

// withServices opens the configured store and completer for the duration of fn.
func withServices(ctx context.Context, opts CLIOptions, fn func(*gateway.Services) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)

	svc, err := gateway.OpenServices(ctx, cfg, opts.StoreFactory, opts.CompleterFactory, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(svc)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	return runOnboardTo(os.Stdout)
}

func runOnboardTo(w io.Writer) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(w, "Config already exists: %s\n", cfgPath)
	}

	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Fprintf(w, "Data directory ready: %s\n", config.DataDir())

	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Edit %s to set your API key and Telegram token\n", cfgPath)
	fmt.Fprintln(w, "  2. Or set CHATKEEPER_API_KEY and CHATKEEPER_TELEGRAM_TOKEN")
	fmt.Fprintln(w, "  3. Run 'chatkeeper serve'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runStatusWithOptions(cmd.Context(), CLIOptions{})
}

func runStatusWithOptions(ctx context.Context, opts CLIOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w := opts.stdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(w, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(w, "Model: %s\n", cfg.Model.Name)
	fmt.Fprintf(w, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(w, "API Key: %s\n", maskSecret(cfg.Provider.APIKey))
	fmt.Fprintf(w, "Telegram: enabled=%v token=%s\n", cfg.Telegram.Enabled, maskSecret(cfg.Telegram.Token))
	fmt.Fprintf(w, "Store: %s\n", cfg.Store.Driver)
	fmt.Fprintf(w, "Timezone: %s\n", cfg.Bot.Timezone)
	if cfg.Bot.DailySummaryCron != "" {
		fmt.Fprintf(w, "Daily summary: %s\n", cfg.Bot.DailySummaryCron)
	}
	if cfg.Gateway.Port > 0 {
		fmt.Fprintf(w, "Metrics: http://%s:%d/metrics\n", cfg.Gateway.Host, cfg.Gateway.Port)
	} else {
		fmt.Fprintln(w, "Metrics: disabled")
	}

	jobs, err := loadJobs()
	if err != nil {
		fmt.Fprintf(w, "Jobs: error (%v)\n", err)
	} else {
		fmt.Fprintf(w, "Jobs: %d scheduled\n", len(jobs))
	}

	stores := opts.StoreFactory
	if stores == nil {
		stores = gateway.DefaultStoreFactory
	}
	st, err := stores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(w, "Chats: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	chats, err := st.Chats(ctx)
	if err != nil {
		fmt.Fprintf(w, "Chats: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(w, "Chats: %d\n", len(chats))
	for _, c := range chats {
		fmt.Fprintf(w, "  %d (added %s)\n", c.ChatID, c.AddedOn.UTC().Format(time.RFC3339))
	}

	return nil
}

func loadJobs() ([]cron.CronJob, error) {
	svc, err := openJobs()
	if err != nil {
		return nil, err
	}
	return svc.ListJobs(), nil
}

func openJobs() (*cron.Service, error) {
	svc := cron.NewService(gateway.JobsPath())
	if err := svc.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return svc, nil
}

func runJobsList(w io.Writer) error {
	jobs, err := loadJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No scheduled jobs.")
		return nil
	}
	for _, job := range jobs {
		fmt.Fprintf(w, "%s  %-24s chat=%d kind=%s schedule=%s enabled=%v last=%s\n",
			job.ID, job.Name, job.Payload.ChatID, job.Payload.Kind, describeSchedule(job.Schedule),
			job.Enabled, lastRun(job.State))
	}
	return nil
}

func runJobsEnable(w io.Writer, id string, enabled bool) error {
	svc, err := openJobs()
	if err != nil {
		return err
	}
	job, err := svc.EnableJob(id, enabled)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Job %s (%s) enabled=%v\n", job.ID, job.Name, job.Enabled)
	return nil
}

func runJobsRemove(w io.Writer, id string) error {
	svc, err := openJobs()
	if err != nil {
		return err
	}
	if !svc.RemoveJob(id) {
		return fmt.Errorf("job %s not found", id)
	}
	fmt.Fprintf(w, "Removed job %s\n", id)
	return nil
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindCron:
		return "cron " + s.Expr
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMs).UTC().Format(time.RFC3339)
	}
	return s.Kind
}

func lastRun(st cron.JobState) string {
	if st.LastRunAtMs == 0 {
		return "never"
	}
	out := time.UnixMilli(st.LastRunAtMs).UTC().Format(time.RFC3339) + " " + st.LastStatus
	if st.LastError != "" {
		out += " (" + st.LastError + ")"
	}
	return out
}

func providerDisplay(t string) string {
	if t == "" {
		return "openai (default)"
	}
	return t
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}
