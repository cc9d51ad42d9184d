package actuator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/config"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
)

// CDPActuator applies actions in real Chrome tabs over the DevTools
// protocol. Each task gets its own tab so concurrent tasks never share page
// state; tabs are created lazily on the first action for a task.
type CDPActuator struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*tabSession
}

type tabSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a browser allocator from the config. The browser process itself
// launches lazily with the first tab.
func New(cfg config.BrowserConfig, logger *zap.Logger) *CDPActuator {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if cfg.SettleWait <= 0 {
		cfg.SettleWait = 500 * time.Millisecond
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(cfg)...)
	return &CDPActuator{
		cfg:         cfg,
		logger:      logger.Named("actuator.cdp"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sessions:    make(map[string]*tabSession),
	}
}

// execOptions translates the browser config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		if !strings.Contains(arg, "=") {
			if !strings.HasPrefix(arg, "--") {
				arg = "--" + arg
			}
			opts = append(opts, chromedp.Flag(arg, true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		key := parts[0]
		if !strings.HasPrefix(key, "--") {
			key = "--" + key
		}
		opts = append(opts, chromedp.Flag(key, parts[1]))
	}
	return opts
}

// Apply runs one action in the task's tab, waits for the page to settle and
// returns the resulting DOM and URL.
func (a *CDPActuator) Apply(ctx context.Context, taskID string, action schemas.Action) (*engine.ApplyResult, error) {
	session, err := a.session(taskID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(session.ctx, a.cfg.ActionTimeout)
	defer cancel()

	tasks, err := a.buildTasks(action)
	if err != nil {
		return nil, err
	}
	if err := chromedp.Run(runCtx, tasks...); err != nil {
		return nil, fmt.Errorf("action %s failed: %w", action.Type, err)
	}

	var html, location string
	harvest := chromedp.Tasks{
		chromedp.Sleep(a.cfg.SettleWait),
		chromedp.Location(&location),
		chromedp.ActionFunc(func(ctx context.Context) error {
			root, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
			return err
		}),
	}
	if err := chromedp.Run(runCtx, harvest); err != nil {
		return nil, fmt.Errorf("failed to harvest page state: %w", err)
	}

	a.logger.Debug("Applied action",
		zap.String("task_id", taskID),
		zap.String("action", string(action.Type)),
		zap.String("url", location))
	return &engine.ApplyResult{DOMSnapshot: html, URL: location}, nil
}

// buildTasks maps the action onto chromedp primitives.
func (a *CDPActuator) buildTasks(action schemas.Action) (chromedp.Tasks, error) {
	switch action.Type {
	case schemas.ActionNavigate:
		target := action.Value
		if target == "" {
			target = action.Selector
		}
		if target == "" {
			return nil, fmt.Errorf("navigate requires a target URL")
		}
		return chromedp.Tasks{chromedp.Navigate(target)}, nil

	case schemas.ActionClick:
		if action.Selector == "" {
			return nil, fmt.Errorf("click requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.Click(action.Selector, chromedp.ByQuery),
		}, nil

	case schemas.ActionSetValue:
		if action.Selector == "" {
			return nil, fmt.Errorf("setValue requires a selector")
		}
		return chromedp.Tasks{
			chromedp.WaitVisible(action.Selector, chromedp.ByQuery),
			chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery),
		}, nil

	case schemas.ActionScroll:
		if action.Selector != "" {
			return chromedp.Tasks{chromedp.ScrollIntoView(action.Selector, chromedp.ByQuery)}, nil
		}
		return chromedp.Tasks{
			chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
		}, nil

	case schemas.ActionWait:
		if action.Selector != "" {
			return chromedp.Tasks{chromedp.WaitVisible(action.Selector, chromedp.ByQuery)}, nil
		}
		wait := a.cfg.SettleWait
		if action.Value != "" {
			parsed, err := time.ParseDuration(action.Value)
			if err != nil {
				return nil, fmt.Errorf("wait duration %q is invalid: %w", action.Value, err)
			}
			wait = parsed
		}
		return chromedp.Tasks{chromedp.Sleep(wait)}, nil

	default:
		return nil, fmt.Errorf("action type %q is not a browser action", action.Type)
	}
}

// session returns the task's tab, creating it on first use.
func (a *CDPActuator) session(taskID string) (*tabSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if session, ok := a.sessions[taskID]; ok {
		return session, nil
	}
	tabCtx, tabCancel := chromedp.NewContext(a.allocCtx)
	session := &tabSession{ctx: tabCtx, cancel: tabCancel}
	a.sessions[taskID] = session
	a.logger.Info("Opened tab for task", zap.String("task_id", taskID))
	return session, nil
}

// CloseTask tears down the tab backing one task.
func (a *CDPActuator) CloseTask(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if session, ok := a.sessions[taskID]; ok {
		session.cancel()
		delete(a.sessions, taskID)
	}
}

// Shutdown closes every open tab and the browser itself.
func (a *CDPActuator) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[string]*tabSession)
	a.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for taskID, session := range sessions {
		g.Go(func() error {
			session.cancel()
			a.logger.Debug("Closed tab", zap.String("task_id", taskID))
			return nil
		})
	}
	err := g.Wait()
	a.allocCancel()
	return err
}

var _ engine.Actuator = (*CDPActuator)(nil)
