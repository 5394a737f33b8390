package router

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "chronobot/internal/runtime/supervisor"
	kit "chronobot/internal/transport"
	logx "chronobot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "jobs" or "jobs del".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["rm"]
	Description string
	Usage       string
	Access      Access

	// Limited commands count against the per-user rate limit.
	Limited bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens
	Command string
	Args    []string // tokens after the path (quotes honoured)
	Text    string   // text after the path, as typed
	ReqID   string
	Logger  logx.Logger
	IsOwner bool

	sender kit.Sender
}

// Reply answers in the request's chat, quoting the command message.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ReplyTo: r.Message.ID})
	return err
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML", ReplyTo: r.Message.ID})
	return err
}

// UserError carries a message meant for the person who sent the command.
// The router replies with it verbatim.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

// Reject builds a UserError.
func Reject(msg string) error { return &UserError{Msg: msg} }

// AsUserError returns the UserError in err's chain, or wraps err's text so
// it is shown as-is (parse errors are already phrased for people).
func AsUserError(err error) *UserError {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue
	}
	return &UserError{Msg: err.Error()}
}

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	owners []int64
	limits *UserLimits

	log    logx.Logger
	sender kit.Sender

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, sender kit.Sender, owners []int64, limits *UserLimits) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:   newRoot(),
		alias:  map[string]*cmdNode{},
		log:    log,
		sender: sender,
		owners: append([]int64(nil), owners...),
		limits: limits,
		jobs:   make(chan func(), 256),
	}
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		leaf := root.find(route)
		// Multi-token routes also answer to their Telegram menu form
		// ("jobs del" -> "/jobs_del"). The single-token name itself must not
		// become an alias or it would hide its subcommands.
		if menu, ok := menuName(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := commandName(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	if up, ok := m.sender.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(root, menuCandidates)
		run := func(parent context.Context) {
			ctx, cancel := context.WithTimeout(parent, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}
		if sup := m.Supervisor(); sup != nil {
			sup.Go0("telegram.menu.update", run)
		} else {
			go run(context.Background())
		}
	}
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job != nil {
						job()
					}
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message != nil {
				m.routeMessage(ctx, *up.Message)
			}
		}
	}
}

// resolve finds the command for a message. ok is false for non-commands.
// A nil cmd with ok means an unknown command or a group without a handler.
func (m *CommandManager) resolve(text string) (cmd *Command, path []string, rest string, ok bool) {
	word, rest, ok := splitCommand(text)
	if !ok {
		return nil, nil, "", false
	}

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, hit := aliasMap[word]; hit && leaf != nil && leaf.cmd != nil {
		c := *leaf.cmd
		return &c, splitRoute(c.Route), rest, true
	}

	cur, found := rootNode.child(word)
	if !found {
		return nil, []string{word}, rest, true
	}
	path = []string{word}
	for _, tok := range strings.Fields(rest) {
		child, ok := cur.child(tok)
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		rest = dropWords(rest, 1)
	}
	if cur.cmd == nil {
		return nil, path, rest, true
	}
	c := *cur.cmd
	return &c, path, rest, true
}

func (m *CommandManager) routeMessage(ctx context.Context, msg kit.Message) {
	cmd, path, rest, ok := m.resolve(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd == nil {
		// In groups other bots' commands are common; only answer in private.
		if m.find(path) != nil {
			_, _ = m.sender.SendText(ctx, chat, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		} else if !msg.IsGroup {
			_, _ = m.sender.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}

	owners := m.ownersSnapshot()
	owner := isOwner(msg.FromID, owners)
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = m.sender.SendText(ctx, chat, "this command is for bot owners only", &kit.SendOptions{ReplyTo: msg.ID})
		return
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Path:    path,
		Command: cmd.Route,
		Args:    tokenizeCommandLine(rest),
		Text:    rest,
		ReqID:   rid,
		IsOwner: owner,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
		sender: m.sender,
	}

	mws := []Middleware{MWPanicRecover(m.log), MWReplyErrors(), MWRequestLog(m.log)}
	if cmd.Limited && !owner {
		mws = append(mws, MWRateLimit(m.limits))
	}
	mws = append(mws, MWTimeout(cmd.Timeout))
	final := Chain(cmd.Handle, mws...)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}

func (m *CommandManager) find(path []string) *cmdNode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root.find(path)
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
