// Package gateway wires channels, the intent pipeline, the log store and
// the reminder scheduler into one process loop.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/quenchlab/aqualog/internal/bus"
	"github.com/quenchlab/aqualog/internal/channel"
	"github.com/quenchlab/aqualog/internal/clock"
	"github.com/quenchlab/aqualog/internal/config"
	"github.com/quenchlab/aqualog/internal/cron"
	"github.com/quenchlab/aqualog/internal/extract"
	"github.com/quenchlab/aqualog/internal/intent"
	"github.com/quenchlab/aqualog/internal/llm"
	"github.com/quenchlab/aqualog/internal/store"
)

const (
	nudgeJobName   = "hydration_nudge"
	summaryJobName = "daily_summary"
)

// Options for creating a Gateway with injected dependencies (for testing).
type Options struct {
	Classifier    llm.Classifier
	CronStorePath string
	SignalChan    chan os.Signal
}

type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	clk      *clock.Clock
	resolver *intent.Resolver
	store    *store.Store
	channels *channel.Manager
	cron     *cron.Service

	signalChan chan os.Signal

	// last chat seen, so reminders have a destination
	mu          sync.Mutex
	lastChannel string
	lastChatID  string
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		clk:        clock.New(cfg.Clock.UTCOffsetMinutes),
		signalChan: opts.SignalChan,
	}

	st, err := store.New(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	g.store = st

	classifier := opts.Classifier
	if classifier == nil {
		classifier = llm.NewClient(cfg)
	}
	g.resolver = intent.NewResolver(g.clk, classifier)

	cronStorePath := opts.CronStorePath
	if cronStorePath == "" {
		cronStorePath = filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
	}
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.handleJob

	chMgr, err := channel.NewManager(cfg.Channels, g.bus)
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureReminderJobs(); err != nil {
		log.Printf("[gateway] ensure reminder jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) ensureReminderJobs() error {
	if !g.cfg.Reminders.Enabled {
		return nil
	}

	hasNudge := false
	hasSummary := false
	for _, job := range g.cron.ListJobs() {
		switch job.Name {
		case nudgeJobName:
			hasNudge = true
		case summaryJobName:
			hasSummary = true
		}
	}

	if !hasNudge {
		everyMs := int64(g.cfg.Reminders.NudgeEveryMin) * 60 * 1000
		if _, err := g.cron.AddJob(nudgeJobName, cron.Schedule{Kind: "every", EveryMs: everyMs}, cron.Payload{Kind: "nudge"}); err != nil {
			return err
		}
	}
	if !hasSummary {
		if _, err := g.cron.AddJob(summaryJobName, cron.Schedule{Kind: "cron", Expr: g.cfg.Reminders.SummaryCron}, cron.Payload{Kind: "summary"}); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) handleJob(job cron.Job) error {
	ch, chatID := g.lastChat()
	if job.Payload.Channel != "" {
		ch, chatID = job.Payload.Channel, job.Payload.To
	}
	if ch == "" || chatID == "" {
		// Nobody has messaged yet; nowhere to deliver.
		return nil
	}

	switch job.Payload.Kind {
	case "nudge":
		now := g.clk.Now()
		if now.Hour() < g.cfg.Reminders.WakeStartHour || now.Hour() >= g.cfg.Reminders.WakeEndHour {
			return nil
		}
		total, goal, err := g.todayProgress()
		if err != nil {
			return err
		}
		if total >= goal {
			return nil
		}
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: ch,
			ChatID:  chatID,
			Content: fmt.Sprintf("Time for some water! You're at %d / %d ml today.", total, goal),
		}
	case "summary":
		total, goal, err := g.todayProgress()
		if err != nil {
			return err
		}
		verdict := "Goal reached, nice work!"
		if total < goal {
			verdict = fmt.Sprintf("%d ml short of your goal.", goal-total)
		}
		g.bus.Outbound <- bus.OutboundMessage{
			Channel: ch,
			ChatID:  chatID,
			Content: fmt.Sprintf("Today's water: %d / %d ml. %s", total, goal, verdict),
		}
	default:
		return fmt.Errorf("unknown job payload kind %q", job.Payload.Kind)
	}
	return nil
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			g.rememberChat(msg.Channel, msg.ChatID)

			reply := g.HandleMessage(ctx, msg.Content)
			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage runs one message through the full pipeline and returns the
// reply text. Exposed for the CLI parse command and tests.
func (g *Gateway) HandleMessage(ctx context.Context, text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "/") {
		return g.handleCommand(trimmed)
	}

	// Excluded beverages never reach the resolver.
	if extract.MentionsExcludedBeverage(trimmed) {
		return "I only track water — that one doesn't count toward your goal."
	}

	prefs := g.prefs()
	res := g.resolver.Resolve(ctx, trimmed, prefs.BottleMl)

	switch res.Kind {
	case intent.KindLog:
		if _, err := g.store.AddLog(res.AmountMl, res.LogTimestamp, g.clk.Format(g.clk.Now())); err != nil {
			log.Printf("[gateway] add log error: %v", err)
			return "Something went wrong saving that. Please try again."
		}
		total, goal, err := g.todayProgress()
		if err != nil {
			log.Printf("[gateway] progress error: %v", err)
			return fmt.Sprintf("Logged %d ml.", res.AmountMl)
		}
		return fmt.Sprintf("Logged %d ml. Today: %d / %d ml.", res.AmountMl, total, goal)

	case intent.KindEdit:
		entry, ok, err := g.store.ReduceLast(res.AdjustMl, g.startOfToday())
		if err != nil {
			log.Printf("[gateway] reduce error: %v", err)
			return "Something went wrong adjusting that. Please try again."
		}
		if !ok {
			return "Nothing logged today to adjust."
		}
		if entry.AmountMl == 0 {
			return fmt.Sprintf("Took %d ml off — that removed the last entry entirely.", res.AdjustMl)
		}
		return fmt.Sprintf("Adjusted your last entry down by %d ml (now %d ml).", res.AdjustMl, entry.AmountMl)

	case intent.KindUndo:
		victims, removedMl, err := g.store.UndoLast(res.Count, g.startOfToday())
		if err != nil {
			log.Printf("[gateway] undo error: %v", err)
			return "Something went wrong undoing that. Please try again."
		}
		if len(victims) == 0 {
			return "Nothing to undo today."
		}
		if len(victims) == 1 {
			return fmt.Sprintf("Removed the last entry (%d ml).", removedMl)
		}
		return fmt.Sprintf("Removed the last %d entries (%d ml).", len(victims), removedMl)

	case intent.KindQuery:
		return g.progressReply()

	case intent.KindNoAction:
		return "Okay, nothing logged."

	case intent.KindChitchat:
		if res.ReplyText != "" {
			return res.ReplyText
		}
		return `Happy to chat, but my real talent is logging water. Try "500ml".`

	case intent.KindClarify:
		return res.Prompt
	}

	return intent.PromptGeneric
}

func (g *Gateway) handleCommand(text string) string {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/start":
		prefs := g.prefs()
		return fmt.Sprintf(
			"Hi! Tell me what you drank and I'll track it — \"500ml\", \"2 glasses\", \"half a bottle\", or \"300ml 2 hours ago\".\n"+
				"Your bottle is %d ml and your daily goal is %d ml. Change them with /bottle and /goal.",
			prefs.BottleMl, prefs.DailyGoalMl)

	case "/today":
		return g.progressReply()

	case "/goal":
		if len(fields) < 2 {
			return "Usage: /goal <ml>, e.g. /goal 2500"
		}
		goal, err := strconv.Atoi(fields[1])
		if err != nil || goal <= 0 {
			return "That goal doesn't look right. Try something like /goal 2500."
		}
		prefs := g.prefs()
		prefs.DailyGoalMl = goal
		if err := g.store.SetPrefs(prefs); err != nil {
			log.Printf("[gateway] set prefs error: %v", err)
			return "Couldn't save that. Please try again."
		}
		return fmt.Sprintf("Daily goal set to %d ml.", goal)

	case "/bottle":
		if len(fields) < 2 {
			return "Usage: /bottle <ml>, e.g. /bottle 750"
		}
		size, err := strconv.Atoi(fields[1])
		if err != nil || size < config.MinBottleMl || size > config.MaxBottleMl {
			return fmt.Sprintf("Bottle size should be between %d and %d ml.", config.MinBottleMl, config.MaxBottleMl)
		}
		prefs := g.prefs()
		prefs.BottleMl = size
		if err := g.store.SetPrefs(prefs); err != nil {
			log.Printf("[gateway] set prefs error: %v", err)
			return "Couldn't save that. Please try again."
		}
		return fmt.Sprintf("Bottle size set to %d ml.", size)
	}

	return "I know /start, /today, /goal and /bottle."
}

func (g *Gateway) prefs() store.Prefs {
	prefs, err := g.store.GetPrefs(store.Prefs{
		BottleMl:    g.cfg.User.BottleMl,
		DailyGoalMl: g.cfg.User.DailyGoalMl,
	})
	if err != nil {
		log.Printf("[gateway] get prefs error: %v", err)
		return store.Prefs{BottleMl: g.cfg.User.BottleMl, DailyGoalMl: g.cfg.User.DailyGoalMl}
	}
	return prefs
}

func (g *Gateway) startOfToday() string {
	return g.clk.Format(g.clk.StartOfToday())
}

func (g *Gateway) todayProgress() (total, goal int, err error) {
	start := g.clk.StartOfToday()
	end := start.AddDate(0, 0, 1)
	total, err = g.store.SumBetween(g.clk.Format(start), g.clk.Format(end))
	if err != nil {
		return 0, 0, err
	}
	return total, g.prefs().DailyGoalMl, nil
}

func (g *Gateway) progressReply() string {
	total, goal, err := g.todayProgress()
	if err != nil {
		log.Printf("[gateway] progress error: %v", err)
		return "Couldn't read your log right now. Please try again."
	}
	if total >= goal {
		return fmt.Sprintf("You've logged %d ml today — goal reached!", total)
	}
	return fmt.Sprintf("You've logged %d ml today. %d ml to go.", total, goal-total)
}

func (g *Gateway) rememberChat(channelName, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastChannel = channelName
	g.lastChatID = chatID
}

func (g *Gateway) lastChat() (string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastChannel, g.lastChatID
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
