package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polzovatel/webagent/internal/action"
	"github.com/polzovatel/webagent/internal/agent"
	"github.com/polzovatel/webagent/internal/browser"
	"github.com/polzovatel/webagent/internal/llm"
	"github.com/polzovatel/webagent/internal/tools"
)

const defaultStoragePath = "browser_state.json"

type cliOptions struct {
	task     string
	storage  string
	maxSteps int
	verbose  bool
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llmClient, err := llm.NewClientWithLogger(log.With().Str("comp", "llm").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("llm init")
	}

	launcher, err := browser.NewLauncher(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer launcher.Close()

	ctrl, err := launcher.NewController(ctx, opts.storage)
	if err != nil {
		log.Fatal().Err(err).Msg("browser controller")
	}
	defer func() {
		// Session survives restarts: logins and cookies are kept.
		if err := ctrl.SaveState(context.Background(), opts.storage); err != nil {
			log.Warn().Err(err).Msg("save session on exit")
		}
		_ = ctrl.Close(context.Background())
	}()

	exec := action.NewExecutor(ctrl, log.Logger)
	toolbox := tools.New(ctrl, exec, opts.storage, log.Logger)
	op := newTerminalOperator()
	runner := agent.New(llmClient, toolbox, op, log.Logger, agent.WithMaxSteps(opts.maxSteps))

	printBanner(llmClient.Name())

	if opts.task != "" {
		runTask(ctx, runner, opts.task)
		return
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		if ctx.Err() != nil {
			break
		}
		task, quit := promptTask(reader)
		if quit {
			break
		}
		if task == "" {
			continue
		}
		runTask(ctx, runner, task)
	}

	fmt.Println()
	fmt.Println("  Выход.")
}

func runTask(ctx context.Context, runner *agent.Agent, task string) {
	fmt.Println()
	fmt.Println("  " + sep(48))
	fmt.Println("  ▶ Начинаю выполнение")
	fmt.Println("  " + sep(48))

	out, err := runner.Run(ctx, task)

	fmt.Println()
	fmt.Println("  " + sep(48))
	fmt.Println("  ИТОГ")
	fmt.Println("  " + sep(48))
	switch {
	case err != nil:
		fmt.Printf("  Ошибка: %v\n", err)
	case out.Summary != "":
		for _, line := range strings.Split(out.Summary, "\n") {
			fmt.Println("  " + line)
		}
	case !out.Done:
		fmt.Printf("  Достигнут лимит шагов (%d).\n", out.Steps)
	}
	if out.FailedActions > 0 {
		fmt.Printf("  Неудачных действий: %d (таймауты/ошибки кликов и т.п.)\n", out.FailedActions)
	}
	if out.Handovers > 0 {
		fmt.Printf("  Передано пользователю: %d\n", out.Handovers)
	}
	fmt.Printf("  ⏱ Время: %s\n", fmtDuration(out.Elapsed))
	fmt.Println("  " + sep(48))
	fmt.Println()
}

func parseFlags() cliOptions {
	task := flag.String("task", "", "Задача для выполнения (без флага — интерактивный режим)")
	storage := flag.String("storage", envOr("AGENT_STORAGE_STATE", defaultStoragePath), "Файл сессии браузера")
	maxSteps := flag.Int("max-steps", 50, "Максимум шагов на задачу")
	verbose := flag.Bool("v", false, "Подробные логи")
	flag.Parse()
	return cliOptions{
		task:     strings.TrimSpace(*task),
		storage:  strings.TrimSpace(*storage),
		maxSteps: *maxSteps,
		verbose:  *verbose,
	}
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func printBanner(model string) {
	fmt.Println()
	fmt.Println(sep(52))
	fmt.Println("  Browser Agent")
	fmt.Println(sep(52))
	fmt.Printf("  Модель: %s\n", model)
	fmt.Println("  Введи задачу и нажми Enter. Выход: quit / exit / q / выход")
	fmt.Println(sep(52))
}

func promptTask(reader *bufio.Reader) (string, bool) {
	fmt.Print("\n  Задача > ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", true
	}
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "quit", "exit", "q", "выход":
		return "", true
	}

	const maxTaskLength = 2000
	if len(line) > maxTaskLength {
		fmt.Printf("  Задача слишком длинная (макс. %d символов), обрезана\n", maxTaskLength)
		line = line[:maxTaskLength]
	}
	var sanitized strings.Builder
	for _, r := range line {
		if r >= 32 || r == '\t' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String(), false
}

// terminalOperator is the human side of the loop: confirmations for
// sensitive clicks and pauses for manual browser work.
type terminalOperator struct {
	reader *bufio.Reader
}

func newTerminalOperator() *terminalOperator {
	return &terminalOperator{reader: bufio.NewReader(os.Stdin)}
}

func (o *terminalOperator) Confirm(prompt string) (bool, error) {
	fmt.Printf("\n  %s (y/n) > ", prompt)
	line, err := o.reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "д", "да":
		return true, nil
	default:
		return false, nil
	}
}

func (o *terminalOperator) WaitReady(prompt string) error {
	fmt.Println()
	fmt.Println("  ⏸ " + prompt)
	fmt.Println("     Напишите «готово» или «done» и нажмите Enter, когда закончите.")
	for {
		fmt.Print("  Готово? (готово/done) > ")
		line, err := o.reader.ReadString('\n')
		if err != nil {
			return err
		}
		if agent.IsReady(strings.ToLower(strings.TrimSpace(line))) {
			return nil
		}
		fmt.Println("     Введите «готово» или «done», чтобы продолжить.")
	}
}

func (o *terminalOperator) Progress(line string) {
	fmt.Println("  " + line)
}

func sep(w int) string {
	return strings.Repeat("─", w)
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%d мин %d с", m, s)
	}
	return fmt.Sprintf("%d с", s)
}
