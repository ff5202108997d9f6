// Package console drives a single training run from a terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gridsim/internal/events"
	"gridsim/internal/grading"
	"gridsim/internal/recorder"
	"gridsim/internal/report"
	"gridsim/internal/runner"
	"gridsim/internal/scenario"
	"gridsim/internal/store"

	"github.com/charmbracelet/lipgloss"
	"k8s.io/utils/clock"
)

var (
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	amber = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
)

// ErrQuit はオペレーターが途中で終了したことを示す
var ErrQuit = errors.New("session abandoned by operator")

// ErrInputClosed は完了前に入力が終わったことを示す
var ErrInputClosed = errors.New("input closed before session completed")

// Option はConsoleの設定を変更する
type Option func(*Console)

// WithInput は入力元を設定する
func WithInput(in io.Reader) Option {
	return func(c *Console) { c.in = in }
}

// WithOutput は出力先を設定する
func WithOutput(out io.Writer) Option {
	return func(c *Console) { c.out = out }
}

// WithEventBus はタイマー起因の解決を受け取るバスを設定する
func WithEventBus(bus *events.Bus) Option {
	return func(c *Console) { c.bus = bus }
}

// WithLabels は操作の表示名テーブルを設定する
func WithLabels(labels scenario.Labels) Option {
	return func(c *Console) { c.labels = labels }
}

// WithCriteria は最終レポートの合格条件を設定する
func WithCriteria(criteria *grading.Criteria) Option {
	return func(c *Console) { c.criteria = criteria }
}

// WithOperator はレポートに載せるオペレーター名を設定する
func WithOperator(name string) Option {
	return func(c *Console) { c.operator = name }
}

// WithClock は開始・終了時刻の時計を設定する
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Console) { c.clock = clk }
}

// Console は1回の訓練を端末で進行させる
type Console struct {
	runner   *runner.Runner
	scenario scenario.Scenario
	in       io.Reader
	out      io.Writer
	bus      *events.Bus
	labels   scenario.Labels
	criteria *grading.Criteria
	operator string
	clock    clock.PassiveClock

	// 表示中の目標のステップ番号
	shown int
}

// New は新しいConsoleを作成する
// ランナーはまだ開始されていない必要がある
func New(r *runner.Runner, sc scenario.Scenario, opts ...Option) *Console {
	c := &Console{
		runner:   r,
		scenario: sc,
		in:       os.Stdin,
		out:      os.Stdout,
		labels:   scenario.DefaultLabels(),
		criteria: &grading.Criteria{},
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run はセッションを開始し、完了するまで入力を処理する
// 完了前に終了した場合もそれまでの結果を返す
func (c *Console) Run(ctx context.Context) (report.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timeouts <-chan events.Event
	if c.bus != nil {
		ch := c.bus.SubscribeFiltered(func(e events.Event) bool {
			return e.SessionID == c.runner.SessionID() &&
				e.Type == events.EventStepResolved && e.Data.TimedOut
		})
		defer c.bus.Unsubscribe(ch)
		timeouts = ch
	}

	startedAt := c.clock.Now()
	objective, err := c.runner.Start()
	if err != nil {
		return report.Result{}, err
	}

	c.printf("%s %s\n", cyan.Render("●"), c.scenario.Name)
	if c.scenario.Description != "" {
		c.printf("%s\n", gray.Render(c.scenario.Description))
	}
	c.printf("%s\n\n", gray.Render("Type 'help' for commands."))
	c.printObjective(objective)

	lines := c.readLines(ctx)

	for {
		select {
		case <-ctx.Done():
			c.runner.Abandon()
			res, _ := c.result(startedAt)
			return res, ctx.Err()
		case e, ok := <-timeouts:
			if !ok {
				timeouts = nil
				continue
			}
			c.onTimerExpired(e)
			if c.done() {
				return c.finish(startedAt)
			}
		case line, ok := <-lines:
			if !ok {
				c.runner.Abandon()
				res, _ := c.result(startedAt)
				return res, ErrInputClosed
			}
			quit := c.handle(line)
			if c.done() {
				return c.finish(startedAt)
			}
			if quit {
				c.runner.Abandon()
				res, _ := c.result(startedAt)
				return res, ErrQuit
			}
		}
	}
}

func (c *Console) readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// handle は1行の入力を処理する。quitの場合にtrueを返す
func (c *Console) handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		c.printHelp()
		return false
	case "actions":
		c.printActions()
		return false
	case "quit", "exit":
		return true
	}

	action := c.resolveAction(fields[0])
	value := restOfLine(line, fields[0])

	out, err := c.runner.SubmitActionAt(c.shown, action, value)
	switch {
	case errors.Is(err, runner.ErrStaleStep):
		c.printf("%s\n", amber.Render("Step already resolved, input ignored."))
		return false
	case err != nil:
		c.printf("%s\n", red.Render(err.Error()))
		return false
	}

	c.printOutcome(out)
	return false
}

// resolveAction は番号（actionsの一覧順）または種別名を受け付ける
// 既知の種別だけは大文字小文字を区別せずに解決し、それ以外はそのまま渡す
func (c *Console) resolveAction(token string) scenario.ActionType {
	known := scenario.KnownActions()
	if n, err := strconv.Atoi(token); err == nil {
		if n >= 1 && n <= len(known) {
			return known[n-1]
		}
	}
	for _, a := range known {
		if strings.EqualFold(string(a), token) {
			return a
		}
	}
	return scenario.ActionType(token)
}

// restOfLine は最初のトークンより後ろを空白を詰めずに返す
func restOfLine(line, token string) string {
	i := strings.Index(line, token)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(line[i+len(token):])
}

func (c *Console) onTimerExpired(e events.Event) {
	if e.Data.StepOrder != c.shown {
		return
	}
	c.printf("%s\n", red.Render(fmt.Sprintf("✗ Time expired on step %d", e.Data.StepOrder)))
	if next := c.runner.CurrentObjective(); next != nil {
		c.printObjective(*next)
	}
}

func (c *Console) done() bool {
	return c.runner.State().Status == runner.StatusCompleted
}

// result はこれまでの結果からレポートを作る
func (c *Console) result(startedAt time.Time) (report.Result, error) {
	rec := Record(c.runner, c.scenario, c.operator)
	rec.StartedAt = startedAt
	if c.done() {
		completedAt := c.clock.Now()
		rec.CompletedAt = &completedAt
		rec.FinalScorePercent = c.runner.FinalScorePercent()
	}
	return report.FromRecord(rec, c.criteria)
}

func (c *Console) finish(startedAt time.Time) (report.Result, error) {
	res, err := c.result(startedAt)
	if err != nil {
		return res, err
	}

	c.printf("\n%s\n\n", res.Report())
	verdict := fmt.Sprintf("%s  %d%% (%d/%d pts)", res.Verdict(), res.ScorePercent, res.TotalPoints, res.MaxPoints)
	if res.Passed {
		c.printf("%s\n", green.Render("✓ "+verdict))
	} else {
		c.printf("%s\n", red.Render("✗ "+verdict))
	}
	return res, nil
}

func (c *Console) printObjective(v runner.StepView) {
	c.shown = v.Order

	header := fmt.Sprintf("Step %d/%d: %s", v.Order, c.runner.StepCount(), v.Description)
	c.printf("%s %s\n", cyan.Render("→"), header)

	detail := fmt.Sprintf("   %s · %d pts", v.ActionLabel, v.PointValue)
	if v.IsCritical {
		detail += " · CRITICAL"
	}
	if v.Timed {
		detail += fmt.Sprintf(" · %ds", v.TimeLimitSeconds)
	}
	c.printf("%s\n", gray.Render(detail))
}

func (c *Console) printOutcome(out runner.Outcome) {
	if out.IsCorrect {
		c.printf("%s\n", green.Render(fmt.Sprintf("✓ Correct (+%d)", out.PointsAwarded)))
	} else {
		msg := "✗ Incorrect"
		if out.IsCritical {
			msg += " (critical step)"
		}
		c.printf("%s\n", red.Render(msg))
	}
	if out.NextStep != nil {
		c.printf("\n")
		c.printObjective(*out.NextStep)
	}
}

func (c *Console) printHelp() {
	c.printf("%s\n", gray.Render(`Commands:
  <action> [value]  perform an action (name or number from 'actions')
  actions           list available actions
  help              show this help
  quit              abandon the session`))
}

func (c *Console) printActions() {
	for i, a := range scenario.KnownActions() {
		c.printf("  %2d. %-18s %s\n", i+1, a, gray.Render(c.labels.Label(a)))
	}
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// Record はランナーの状態から保存形式のセッション記録を組み立てる
func Record(r *runner.Runner, sc scenario.Scenario, operator string) store.SessionRecord {
	state := r.State()
	rec := store.SessionRecord{
		ID:           r.SessionID(),
		ScenarioID:   sc.ID,
		ScenarioName: sc.Name,
		Operator:     operator,
		StepCount:    r.StepCount(),
		MaxPoints:    r.MaxPoints(),
		Steps:        make([]store.StepRecord, 0, len(state.Results)),
	}
	for _, res := range state.Results {
		rec.Steps = append(rec.Steps, recorder.StepRecord(res))
	}
	return rec
}
