package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/chatkeeper/internal/config"
	"github.com/stellarlinkco/chatkeeper/internal/cron"
	"github.com/stellarlinkco/chatkeeper/internal/gateway"
	"github.com/stellarlinkco/chatkeeper/internal/llm"
	"github.com/stellarlinkco/chatkeeper/internal/store"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []llm.Prompt
}

func (f *fakeCompleter) Complete(_ context.Context, p llm.Prompt) (string, error) {
	f.prompts = append(f.prompts, p)
	return f.reply, f.err
}

func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	for _, key := range []string{
		"CHATKEEPER_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN",
		"CHATKEEPER_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"CHATKEEPER_BASE_URL", "CHATKEEPER_MODEL",
		"CHATKEEPER_STORE_DRIVER", "CHATKEEPER_STORE_DSN", "URI",
		"CHATKEEPER_JOKE_PROBABILITY", "CHATKEEPER_LOG_LEVEL", "CHATKEEPER_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func cliOptions(c *fakeCompleter, out *bytes.Buffer) CLIOptions {
	return CLIOptions{
		CompleterFactory: func(*config.Config) (llm.Completer, error) { return c, nil },
		Stdout:           out,
	}
}

func TestInit(t *testing.T) {
	want := map[string]bool{"serve": false, "ask": false, "remember": false, "stats": false, "onboard": false, "status": false, "jobs": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, c := range []*cobra.Command{askCmd, rememberCmd, statsCmd} {
		if c.Flags().Lookup("chat") == nil {
			t.Errorf("%s has no --chat flag", c.Name())
		}
	}
}

func TestRunRememberThenAsk(t *testing.T) {
	setupHome(t)
	ctx := context.Background()
	completer := &fakeCompleter{reply: "  Blue.  "}

	var out bytes.Buffer
	if err := runRememberWithOptions(ctx, -42, []string{"the", "sky", "is", "blue"}, cliOptions(completer, &out)); err != nil {
		t.Fatalf("remember error: %v", err)
	}
	if !strings.Contains(out.String(), "Memory of chat -42: the sky is blue") {
		t.Errorf("remember output = %q", out.String())
	}

	out.Reset()
	if err := runAskWithOptions(ctx, -42, []string{"what", "color?"}, cliOptions(completer, &out)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if out.String() != "Blue.\n" {
		t.Errorf("ask output = %q, want %q", out.String(), "Blue.\n")
	}
	if len(completer.prompts) != 1 {
		t.Fatalf("completer calls = %d, want 1", len(completer.prompts))
	}
	p := completer.prompts[0]
	if p.Context != "Memory: the sky is blue" {
		t.Errorf("context = %q", p.Context)
	}
	if p.Question != "Question: what color?" {
		t.Errorf("question = %q", p.Question)
	}
}

func TestRunAsk_OtherChatMemoryNotUsed(t *testing.T) {
	setupHome(t)
	ctx := context.Background()
	completer := &fakeCompleter{reply: "ok"}
	var out bytes.Buffer

	if err := runRememberWithOptions(ctx, 1, []string{"secret"}, cliOptions(completer, &out)); err != nil {
		t.Fatalf("remember error: %v", err)
	}
	if err := runAskWithOptions(ctx, 2, []string{"anything?"}, cliOptions(completer, &out)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if got := completer.prompts[0].Context; got != "Memory: " {
		t.Errorf("context for chat 2 = %q, want empty memory", got)
	}
}

func TestRunAsk_CompletionFailureFallsBack(t *testing.T) {
	setupHome(t)
	completer := &fakeCompleter{err: &llm.ServiceError{Op: "ask", Err: errors.New("quota")}}

	var out bytes.Buffer
	if err := runAskWithOptions(context.Background(), 7, []string{"hi"}, cliOptions(completer, &out)); err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if !strings.Contains(out.String(), "unable to process that request") {
		t.Errorf("output = %q, want fallback", out.String())
	}
}

func TestRunRemember_Empty(t *testing.T) {
	setupHome(t)
	var out bytes.Buffer
	if err := runRememberWithOptions(context.Background(), 1, []string{"  "}, cliOptions(&fakeCompleter{}, &out)); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestRunAsk_CompleterFactoryError(t *testing.T) {
	setupHome(t)
	opts := CLIOptions{
		CompleterFactory: func(*config.Config) (llm.Completer, error) { return nil, errors.New("no backend") },
		Stdout:           &bytes.Buffer{},
	}
	err := runAskWithOptions(context.Background(), 1, []string{"hi"}, opts)
	if err == nil || !strings.Contains(err.Error(), "no backend") {
		t.Fatalf("err = %v, want completer error", err)
	}
}

func TestRunStats(t *testing.T) {
	tmpDir := setupHome(t)
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(tmpDir, ".chatkeeper", "data", "chatkeeper.db"))
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, m := range []store.Message{
		{MessageID: 1, ChatID: 5, UserID: 1, Username: "alice", Text: "a", Timestamp: now},
		{MessageID: 2, ChatID: 5, UserID: 1, Username: "alice", Text: "b", Timestamp: now},
		{MessageID: 3, ChatID: 5, UserID: 2, FullName: "Bob B", Text: "c", Timestamp: now},
		{MessageID: 4, ChatID: 6, UserID: 3, Username: "carol", Text: "d", Timestamp: now},
	} {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage %d: %v", i, err)
		}
	}
	s.Close()

	var out bytes.Buffer
	if err := runStatsWithOptions(ctx, 5, cliOptions(&fakeCompleter{}, &out)); err != nil {
		t.Fatalf("stats error: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Total messages: 3", "@alice: 2 messages", "Bob B: 1 messages"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "carol") {
		t.Errorf("output leaks another chat:\n%s", got)
	}
	if strings.Contains(got, "Bot added on") {
		t.Errorf("unexpected added-on line for an unknown chat:\n%s", got)
	}
}

func TestRunOnboard(t *testing.T) {
	tmpDir := setupHome(t)

	var out bytes.Buffer
	if err := runOnboardTo(&out); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	cfgPath := filepath.Join(tmpDir, ".chatkeeper", "config.json")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".chatkeeper", "data")); os.IsNotExist(err) {
		t.Error("data dir was not created")
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	tmpDir := setupHome(t)

	cfgDir := filepath.Join(tmpDir, ".chatkeeper")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{}"), 0644)

	var out bytes.Buffer
	if err := runOnboardTo(&out); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out.String())
	}
}

func TestRunStatus(t *testing.T) {
	setupHome(t)

	var out bytes.Buffer
	if err := runStatusWithOptions(context.Background(), CLIOptions{Stdout: &out}); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	output := out.String()
	for _, want := range []string{
		"Config:",
		"Provider: openai (default)",
		"API Key: not set",
		"Telegram: enabled=true token=not set",
		"Store: sqlite",
		"Timezone: UTC+1",
		"/metrics",
		"Jobs: 0 scheduled",
		"Chats: 0",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("missing %q in output: %s", want, output)
		}
	}
}

func TestRunStatus_ListsChatsAndJobs(t *testing.T) {
	tmpDir := setupHome(t)
	ctx := context.Background()

	s, err := store.NewSQLite(filepath.Join(tmpDir, ".chatkeeper", "data", "chatkeeper.db"))
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	added := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := s.MarkAdded(ctx, -100, added); err != nil {
		t.Fatalf("MarkAdded error: %v", err)
	}
	s.Close()

	jobs := cron.NewService(gateway.JobsPath())
	if _, err := jobs.AddJob("support-week:-100", cron.At(added.Add(7*24*time.Hour)), cron.Payload{Kind: cron.PayloadMessage, ChatID: -100, Text: "hi"}); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	var out bytes.Buffer
	if err := runStatusWithOptions(ctx, CLIOptions{Stdout: &out}); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	for _, want := range []string{"Jobs: 1 scheduled", "Chats: 1", "-100 (added 2024-06-01T10:00:00Z)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in output: %s", want, out.String())
		}
	}
}

func TestRunStatus_StoreError(t *testing.T) {
	setupHome(t)
	opts := CLIOptions{
		StoreFactory: func(context.Context, *config.Config) (store.Store, error) { return nil, errors.New("unreachable") },
		Stdout:       &bytes.Buffer{},
	}
	if err := runStatusWithOptions(context.Background(), opts); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if got := opts.Stdout.(*bytes.Buffer).String(); !strings.Contains(got, "Chats: error (unreachable)") {
		t.Errorf("output = %s", got)
	}
}

func TestRunJobs_ListEnableRemove(t *testing.T) {
	setupHome(t)

	var out bytes.Buffer
	if err := runJobsList(&out); err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(out.String(), "No scheduled jobs.") {
		t.Errorf("empty list output = %q", out.String())
	}

	svc := cron.NewService(gateway.JobsPath())
	job, err := svc.AddJob("daily-summary:-5", cron.Cron("0 0 21 * * *"), cron.Payload{Kind: cron.PayloadSummary, ChatID: -5})
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	out.Reset()
	if err := runJobsList(&out); err != nil {
		t.Fatalf("list error: %v", err)
	}
	for _, want := range []string{job.ID, "daily-summary:-5", "chat=-5", "kind=summary", "schedule=cron 0 0 21 * * *", "enabled=true", "last=never"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("list missing %q: %s", want, out.String())
		}
	}

	out.Reset()
	if err := runJobsEnable(&out, job.ID, false); err != nil {
		t.Fatalf("disable error: %v", err)
	}
	jobs, err := loadJobs()
	if err != nil || len(jobs) != 1 || jobs[0].Enabled {
		t.Fatalf("jobs after disable = %+v, %v", jobs, err)
	}

	if err := runJobsEnable(&out, "missing", true); err == nil {
		t.Error("expected error enabling unknown job")
	}

	out.Reset()
	if err := runJobsRemove(&out, job.ID); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if jobs, _ := loadJobs(); len(jobs) != 0 {
		t.Errorf("jobs after remove = %+v", jobs)
	}
	if err := runJobsRemove(&out, job.ID); err == nil {
		t.Error("expected error removing a job twice")
	}
}

func TestDescribeSchedule(t *testing.T) {
	at := time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		schedule cron.Schedule
		want     string
	}{
		{cron.Cron("0 0 21 * * *"), "cron 0 0 21 * * *"},
		{cron.Every(90 * time.Second), "every 1m30s"},
		{cron.At(at), "at 2024-06-08T10:00:00Z"},
	}
	for _, tt := range tests {
		if got := describeSchedule(tt.schedule); got != tt.want {
			t.Errorf("describeSchedule(%+v) = %q, want %q", tt.schedule, got, tt.want)
		}
	}
}

func TestRunStatus_WithAPIKey(t *testing.T) {
	setupHome(t)
	t.Setenv("CHATKEEPER_API_KEY", "sk-test-key-12345678")

	var out bytes.Buffer
	runStatusWithOptions(context.Background(), CLIOptions{Stdout: &out})
	if !strings.Contains(out.String(), "API Key: sk-t...5678") {
		t.Errorf("expected masked key, got: %s", out.String())
	}
}

func TestRunStatus_InvalidConfig(t *testing.T) {
	tmpDir := setupHome(t)
	cfgDir := filepath.Join(tmpDir, ".chatkeeper")
	os.MkdirAll(cfgDir, 0755)
	os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{broken"), 0644)

	var out bytes.Buffer
	if err := runStatusWithOptions(context.Background(), CLIOptions{Stdout: &out}); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	if !strings.Contains(out.String(), "Config: error") {
		t.Errorf("output = %q", out.String())
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                 "not set",
		"short":            "set",
		"abcd1234efgh5678": "abcd...5678",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunServe_NoAPIKey(t *testing.T) {
	setupHome(t)
	err := runServe(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "API key not set") {
		t.Fatalf("err = %v, want missing API key", err)
	}
}

func TestRunServe_NoTelegramToken(t *testing.T) {
	setupHome(t)
	t.Setenv("CHATKEEPER_API_KEY", "sk-test")
	err := runServe(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "telegram token not set") {
		t.Fatalf("err = %v, want missing token", err)
	}
}
