// Command overseer supervises one agent execution from the terminal: it
// starts the run, streams the agent's narration and proposed actions,
// prompts for approvals, answers clarifying questions, and executes
// approved actions until the run reaches a terminal phase.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"overseer/pkg/approval"
	"overseer/pkg/client"
	"overseer/pkg/config"
	"overseer/pkg/eventlog"
	"overseer/pkg/logx"
	"overseer/pkg/metrics"
	"overseer/pkg/persistence"
	"overseer/pkg/proto"
	"overseer/pkg/session"
	"overseer/pkg/utils"
)

func main() {
	var (
		projectDir  string
		taskID      string
		serverURL   string
		metricsAddr string
		autoApprove bool
		storeToken  bool
		listRuns    bool
	)
	flag.StringVar(&projectDir, "project", "", "Project directory (default: current directory)")
	flag.StringVar(&taskID, "task", "", "Task id to run the agent against")
	flag.StringVar(&serverURL, "server", "", "Agent server URL override")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flag.BoolVar(&autoApprove, "auto", false, "Auto-approve actions the approval policy allows")
	flag.BoolVar(&storeToken, "store-token", false, "Store the agent server API token in the encrypted secrets file and exit")
	flag.BoolVar(&listRuns, "list", false, "List locally mirrored executions and exit")
	flag.Parse()

	if projectDir == "" {
		var err error
		projectDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("Failed to resolve working directory: %v", err)
		}
	}

	if err := config.LoadConfig(projectDir); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	if storeToken {
		if err := runStoreToken(projectDir); err != nil {
			log.Fatalf("Failed to store token: %v", err)
		}
		return
	}

	store, err := persistence.Open(config.ResolvePath(cfg.DatabasePath))
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer store.Close()

	if listRuns {
		if err := runList(store); err != nil {
			log.Fatalf("Failed to list executions: %v", err)
		}
		return
	}

	if taskID == "" {
		log.Fatal("a task id is required: overseer -task <id>")
	}

	token, err := resolveToken(projectDir)
	if err != nil {
		log.Fatalf("Failed to resolve API token: %v", err)
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	if err := runSupervised(projectDir, taskID, token, cfg, store, autoApprove); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// runSupervised drives one execution end to end.
func runSupervised(projectDir, taskID, token string, cfg config.Config,
	store *persistence.Store, autoApprove bool) error {
	logger := logx.NewLogger("overseer")

	journal, err := eventlog.NewWriter(config.ResolvePath(cfg.JournalDir))
	if err != nil {
		return fmt.Errorf("failed to open frame journal: %w", err)
	}
	defer journal.Close()

	counter, err := utils.NewTokenCounter()
	if err != nil {
		logger.Warn("token counting disabled: %v", err)
	}

	c := client.New(cfg.ServerURL, token,
		client.WithJournal(journal),
		client.WithRecorder(metrics.NewPrometheusRecorder()),
		client.WithTokenCounter(counter),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Approval policy: prefer the server's per-project settings, fall back
	// to the local file, then built-in defaults.
	settings, err := c.GetToolApprovals(ctx)
	if err != nil {
		logger.Warn("using local approval settings: %v", err)
		settings, err = approval.Load(projectDir)
		if err != nil {
			return fmt.Errorf("failed to load approval settings: %w", err)
		}
	}

	console := &consoleObserver{out: os.Stdout}
	sess := session.New(taskID, session.Multi(
		console,
		persistence.NewSessionObserver(store, taskID),
	))

	// Ctrl-C requests remote cancellation; the decode loop then observes
	// the stream close on its own.
	go func() {
		<-ctx.Done()
		if sess.Status().IsTerminal() {
			return
		}
		logger.Info("cancelling execution %s", sess.ExecutionID())
		if err := c.Cancel(context.Background(), sess); err != nil {
			logger.Error("cancel failed: %v", err)
		}
	}()

	fmt.Printf("starting agent run for task %s against %s\n", taskID, cfg.ServerURL)
	if err := c.Start(ctx, sess); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for !sess.Status().IsTerminal() {
		if question := sess.PendingQuestion(); question != nil {
			if err := handleQuestion(ctx, c, sess, question, reader); err != nil {
				return err
			}
			continue
		}

		proposed := sess.ActionsByStatus(proto.ActionProposed)
		if len(proposed) == 0 {
			// Agent turn ended with nothing left to decide or run.
			break
		}
		if err := decideBatch(ctx, c, sess, settings, proposed, reader, autoApprove); err != nil {
			return err
		}

		if len(sess.ActionsByStatus(proto.ActionApproved)) > 0 {
			fmt.Println("executing approved actions...")
			if err := c.ExecuteApproved(ctx, sess); err != nil {
				return err
			}
		}
	}

	printSummary(sess)
	if sess.Status() == proto.ExecutionFailed {
		return fmt.Errorf("execution failed: %s", sess.Err())
	}
	return nil
}

// decideBatch approves or rejects each proposed action, consulting the
// approval policy when running with -auto.
func decideBatch(ctx context.Context, c *client.Client, sess *session.Session,
	settings approval.Settings, proposed []*proto.Action, reader *bufio.Reader, autoApprove bool) error {
	var approve, reject []string
	for _, action := range proposed {
		if autoApprove && !settings.RequiresApproval(action.Type) {
			fmt.Printf("  auto-approving %s %s\n", action.Type, describeParams(action))
			approve = append(approve, action.ID)
			continue
		}

		fmt.Printf("  %s %s  approve? [y/N] ", action.Type, describeParams(action))
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read decision: %w", err)
		}
		if answer := strings.ToLower(strings.TrimSpace(line)); answer == "y" || answer == "yes" {
			approve = append(approve, action.ID)
		} else {
			reject = append(reject, action.ID)
		}
	}

	if len(approve) > 0 {
		if err := c.ApproveActions(ctx, sess, approve...); err != nil {
			return err
		}
	}
	if len(reject) > 0 {
		if err := c.RejectActions(ctx, sess, reject...); err != nil {
			return err
		}
	}
	return nil
}

// handleQuestion prompts for an answer, submits it, and resumes the stream.
func handleQuestion(ctx context.Context, c *client.Client, sess *session.Session,
	question *session.Question, reader *bufio.Reader) error {
	fmt.Printf("\nagent asks: %s\n", question.Question)
	if question.Context != "" {
		fmt.Printf("context: %s\n", question.Context)
	}
	fmt.Print("answer: ")

	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read answer: %w", err)
	}

	if err := c.AnswerQuestion(ctx, sess, strings.TrimSpace(line)); err != nil {
		return err
	}
	return c.Resume(ctx, sess)
}

func printSummary(sess *session.Session) {
	fmt.Printf("\nexecution %s finished: %s\n", sess.ExecutionID(), sess.Status())
	if errMsg := sess.Err(); errMsg != "" {
		fmt.Printf("error: %s\n", errMsg)
	}
	for _, status := range []proto.ActionStatus{
		proto.ActionCompleted, proto.ActionFailed, proto.ActionRejected,
	} {
		if actions := sess.ActionsByStatus(status); len(actions) > 0 {
			fmt.Printf("  %s: %d\n", status, len(actions))
		}
	}
}

// runStoreToken prompts for the API token and a passphrase without echo,
// then writes the encrypted secrets file.
func runStoreToken(projectDir string) error {
	fmt.Print("agent server API token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	fmt.Print("secrets passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read passphrase: %w", err)
	}

	err = config.SaveSecrets(projectDir, string(passphrase), map[string]string{
		config.APITokenSecret: strings.TrimSpace(string(token)),
	})
	if err != nil {
		return err
	}
	fmt.Println("token stored")
	return nil
}

// resolveToken prefers the environment, then the encrypted secrets file
// (prompting for its passphrase).
func resolveToken(projectDir string) (string, error) {
	if token := os.Getenv(config.APITokenEnv); token != "" {
		return token, nil
	}
	if !config.HasSecretsFile(projectDir) {
		return "", fmt.Errorf("no API token: set %s or run overseer -store-token", config.APITokenEnv)
	}

	fmt.Print("secrets passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return config.GetAPIToken(projectDir, string(passphrase))
}

func runList(store *persistence.Store) error {
	executions, err := store.ListExecutions()
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Println("no executions recorded")
		return nil
	}
	for _, exec := range executions {
		fmt.Printf("%s  task=%s  %s  %s\n",
			exec.ID, exec.TaskID, exec.Status, exec.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.NewLogger("metrics").Error("metrics server stopped: %v", err)
	}
}

// consoleObserver renders session notifications to the terminal.
type consoleObserver struct {
	session.NopObserver
	out *os.File
}

func (o *consoleObserver) OnStatusChange(executionID string, _, to proto.ExecutionStatus) {
	fmt.Fprintf(o.out, "[%s] phase: %s\n", executionID, to)
}

func (o *consoleObserver) OnActionUpsert(_ string, action *proto.Action) {
	if action.Result != nil && action.Result.Error != "" {
		fmt.Fprintf(o.out, "[action %s] %s %s (%s)\n", action.ID, action.Type, action.Status, action.Result.Error)
		return
	}
	fmt.Fprintf(o.out, "[action %s] %s %s\n", action.ID, action.Type, action.Status)
}

func (o *consoleObserver) OnText(_ string, content string) {
	fmt.Fprint(o.out, content)
}

func (o *consoleObserver) OnReasoning(_ string, step proto.ReasoningStep) {
	fmt.Fprintf(o.out, "[%s] %s\n", step.Kind, step.Content)
}

func (o *consoleObserver) OnTaskChanged(executionID string) {
	fmt.Fprintf(o.out, "[%s] task record changed, reload the board\n", executionID)
}

func describeParams(action *proto.Action) string {
	switch action.Type {
	case proto.ActionExecuteCommand:
		return action.Params.Command
	case proto.ActionCompleteTask:
		return action.Params.Summary
	default:
		return action.Params.Path
	}
}
