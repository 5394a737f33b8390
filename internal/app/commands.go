package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"chronobot/internal/actions"
	"chronobot/internal/config"
	"chronobot/internal/jobs"
	"chronobot/internal/task/scheduler"
	"chronobot/internal/timeexpr"
	kit "chronobot/internal/transport"
	"chronobot/internal/transport/telegram/router"
)

const (
	listLimit   = 25
	minIDPrefix = 4
	displayTime = "2006-01-02 15:04 UTC"
)

// commandSet holds the chat commands. cfg is read per request so a config
// reload (default offset, mute role, banner dirs) applies immediately.
type commandSet struct {
	sched *scheduler.Service
	roles kit.RoleManager
	bans  kit.BanManager
	cfg   func() *config.Config
}

func (c *commandSet) commands() []router.Command {
	return []router.Command{
		{
			Route:       "remind",
			Aliases:     []string{"r"},
			Description: "schedule a reminder in this chat",
			Usage:       "/remind <when> <text>, e.g. /remind in 2 hours stretch",
			Limited:     true,
			Handle:      c.remind,
		},
		{
			Route:       "jobs",
			Description: "list scheduled jobs",
			Usage:       "/jobs [kind]",
			Handle:      c.list,
		},
		{
			Route:       "job",
			Description: "show one job",
			Usage:       "/job <id>",
			Handle:      c.show,
		},
		{
			Route:       "deljob",
			Aliases:     []string{"rm"},
			Description: "cancel a scheduled job",
			Usage:       "/deljob <id>",
			Handle:      c.del,
		},
		{
			Route:       "tempmute",
			Description: "mute a member until a time",
			Usage:       "/tempmute <user id> <when> (or reply to their message)",
			Access:      router.AccessOwnerOnly,
			Handle:      c.tempmute,
		},
		{
			Route:       "tempban",
			Description: "ban a member until a time",
			Usage:       "/tempban <user id> <when> (or reply to their message)",
			Access:      router.AccessOwnerOnly,
			Handle:      c.tempban,
		},
		{
			Route:       "banner",
			Description: "rotate the chat photo from a directory",
			Usage:       "/banner <dir> <when>, e.g. /banner seasons every day 6:00",
			Access:      router.AccessOwnerOnly,
			Handle:      c.banner,
		},
		{
			Route:       "status",
			Description: "scheduler status",
			Access:      router.AccessOwnerOnly,
			Handle:      c.status,
		},
	}
}

func (c *commandSet) parse(text string) (timeexpr.Result, error) {
	res, err := ParserFor(c.cfg()).Parse(text, c.sched.Now())
	if err != nil {
		return timeexpr.Result{}, router.AsUserError(err)
	}
	return res, nil
}

// newJob builds a job, turning schedule problems into replies.
func (c *commandSet) newJob(action jobs.Action, res timeexpr.Result) (jobs.Job, error) {
	j, err := jobs.New(action, res.At, res.Repeat, c.sched.Now())
	switch {
	case errors.Is(err, jobs.ErrPast):
		return jobs.Job{}, router.Reject("that time has already passed")
	case errors.Is(err, jobs.ErrOutOfRange):
		return jobs.Job{}, router.Reject("that is too far in the future")
	case err != nil:
		return jobs.Job{}, err
	}
	return j, nil
}

func (c *commandSet) remind(ctx context.Context, req *router.Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return router.Reject("usage: /remind <when> <text>, e.g. /remind in 2 hours stretch")
	}
	res, err := c.parse(req.Text)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(res.Remainder)
	if text == "" {
		return router.Reject("what should I remind you about? Put the text after the time.")
	}
	j, err := c.newJob(jobs.Echo{
		ChatID:      req.Chat.ChatID,
		ThreadID:    req.Chat.ThreadID,
		Text:        text,
		RequestedBy: req.FromID,
	}, res)
	if err != nil {
		return err
	}
	if err := c.sched.Create(ctx, j); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("ok, reminder %s set for %s", j.ID, when(j, c.sched.Now())))
}

// visible reports whether req may see or cancel j. Members only see the
// reminders they created.
func visible(j jobs.Job, req *router.Request) bool {
	if req.IsOwner {
		return true
	}
	e, ok := j.Action.(jobs.Echo)
	return ok && e.RequestedBy == req.FromID
}

func (c *commandSet) list(ctx context.Context, req *router.Request) error {
	var kinds []jobs.ActionKind
	for _, a := range req.Args {
		k, ok := jobs.ParseKind(a)
		if !ok {
			return router.Reject(fmt.Sprintf("unknown kind %q, expected one of: %s", a, kindList()))
		}
		kinds = append(kinds, k)
	}

	var shown []jobs.Job
	for _, j := range c.sched.List(kinds...) {
		if visible(j, req) {
			shown = append(shown, j)
		}
	}
	if len(shown) == 0 {
		return req.Reply(ctx, "no scheduled jobs")
	}

	now := c.sched.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled job(s):\n", len(shown))
	for i, j := range shown {
		if i == listLimit {
			fmt.Fprintf(&b, "... and %d more", len(shown)-listLimit)
			break
		}
		b.WriteString(jobs.FormatLine(j, now))
		b.WriteByte('\n')
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func kindList() string {
	ks := jobs.Kinds()
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return strings.Join(out, ", ")
}

// lookup resolves a full id or a unique prefix of one.
func (c *commandSet) lookup(req *router.Request) (jobs.Job, error) {
	if len(req.Args) == 0 {
		return jobs.Job{}, router.Reject("which job? Give its id, see /jobs")
	}
	id := strings.ToLower(req.Args[0])
	if j, err := c.sched.Get(id); err == nil && visible(j, req) {
		return j, nil
	}
	if len(id) < minIDPrefix {
		return jobs.Job{}, router.Reject(fmt.Sprintf("no job %q", id))
	}
	var found []jobs.Job
	for _, j := range c.sched.Query(func(j jobs.Job) bool { return strings.HasPrefix(j.ID, id) }) {
		if visible(j, req) {
			found = append(found, j)
		}
	}
	switch len(found) {
	case 0:
		return jobs.Job{}, router.Reject(fmt.Sprintf("no job %q", id))
	case 1:
		return found[0], nil
	default:
		return jobs.Job{}, router.Reject(fmt.Sprintf("%q matches %d jobs, give more of the id", id, len(found)))
	}
}

func (c *commandSet) show(ctx context.Context, req *router.Request) error {
	j, err := c.lookup(req)
	if err != nil {
		return err
	}
	return req.Reply(ctx, jobs.FormatJob(j, c.sched.Now()))
}

func (c *commandSet) del(ctx context.Context, req *router.Request) error {
	j, err := c.lookup(req)
	if err != nil {
		return err
	}
	if _, err := c.sched.Delete(ctx, j.ID); err != nil {
		return err
	}
	return req.Reply(ctx, "deleted "+j.ID+": "+j.Action.Describe())
}

// target picks the member a moderation command acts on: a leading numeric
// id, or else the author of the replied-to message. rest is the text after
// the id.
func target(req *router.Request) (userID int64, rest string, err error) {
	if !req.Message.IsGroup {
		return 0, "", router.Reject("use this in a group")
	}
	if len(req.Args) > 0 {
		if id, perr := strconv.ParseInt(req.Args[0], 10, 64); perr == nil && id > 0 {
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(req.Text), req.Args[0]))
			return id, rest, nil
		}
	}
	if req.Message.ReplyToUserID != 0 {
		return req.Message.ReplyToUserID, req.Text, nil
	}
	return 0, "", router.Reject("reply to the member's message or give their numeric id")
}

// oneShot parses the end time of a temporary restriction.
func (c *commandSet) oneShot(text string) (timeexpr.Result, error) {
	if strings.TrimSpace(text) == "" {
		return timeexpr.Result{}, router.Reject("until when? e.g. in 2 hours")
	}
	res, err := c.parse(text)
	if err != nil {
		return timeexpr.Result{}, err
	}
	if res.Repeat.Repeats() {
		return timeexpr.Result{}, router.Reject("a restriction ends once; drop the repeat")
	}
	return res, nil
}

func (c *commandSet) tempmute(ctx context.Context, req *router.Request) error {
	if c.roles == nil {
		return router.Reject("this chat platform cannot change roles")
	}
	userID, rest, err := target(req)
	if err != nil {
		return err
	}
	res, err := c.oneShot(rest)
	if err != nil {
		return err
	}
	role := muteRole(c.cfg())
	j, err := c.newJob(jobs.RoleRemoval{ChatID: req.Chat.ChatID, UserID: userID, Role: role}, res)
	if err != nil {
		return err
	}
	if err := c.roles.SetRole(ctx, req.Chat.ChatID, userID, role, true); err != nil {
		return fmt.Errorf("mute %d: %w", userID, err)
	}
	if err := c.sched.Create(ctx, j); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("muted %d until %s (job %s)", userID, when(j, c.sched.Now()), j.ID))
}

func (c *commandSet) tempban(ctx context.Context, req *router.Request) error {
	if c.bans == nil {
		return router.Reject("this chat platform cannot ban members")
	}
	userID, rest, err := target(req)
	if err != nil {
		return err
	}
	res, err := c.oneShot(rest)
	if err != nil {
		return err
	}
	j, err := c.newJob(jobs.Unban{ChatID: req.Chat.ChatID, UserID: userID}, res)
	if err != nil {
		return err
	}
	if err := c.bans.Ban(ctx, req.Chat.ChatID, userID); err != nil {
		return fmt.Errorf("ban %d: %w", userID, err)
	}
	if err := c.sched.Create(ctx, j); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("banned %d until %s (job %s)", userID, when(j, c.sched.Now()), j.ID))
}

// bannerDir matches name against the configured directories, by full path
// or by base name.
func bannerDir(cfg *config.Config, name string) (string, bool) {
	for _, d := range cfg.Commands.BannerDirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if name == d || name == filepath.Base(filepath.Clean(d)) {
			return d, true
		}
	}
	return "", false
}

func (c *commandSet) banner(ctx context.Context, req *router.Request) error {
	cfg := c.cfg()
	if len(req.Args) == 0 {
		names := make([]string, 0, len(cfg.Commands.BannerDirs))
		for _, d := range cfg.Commands.BannerDirs {
			names = append(names, filepath.Base(filepath.Clean(d)))
		}
		sort.Strings(names)
		if len(names) == 0 {
			return router.Reject("no banner directories are configured")
		}
		return router.Reject("usage: /banner <dir> <when>; dirs: " + strings.Join(names, ", "))
	}
	dir, ok := bannerDir(cfg, req.Args[0])
	if !ok {
		return router.Reject(fmt.Sprintf("%q is not a configured banner directory", req.Args[0]))
	}
	files, err := actions.ListBanners(dir)
	if err != nil {
		return router.Reject(err.Error())
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(req.Text), req.Args[0]))
	if rest == "" {
		return router.Reject("when? e.g. every day 6:00")
	}
	res, err := c.parse(rest)
	if err != nil {
		return err
	}
	j, err := c.newJob(jobs.BannerRotation{ChatID: req.Chat.ChatID, Dir: dir}, res)
	if err != nil {
		return err
	}
	if err := c.sched.Create(ctx, j); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("rotating %d image(s) from %s, first at %s (job %s)",
		len(files), filepath.Base(dir), when(j, c.sched.Now()), j.ID))
}

func (c *commandSet) status(ctx context.Context, req *router.Request) error {
	snap := c.sched.Snapshot()
	now := c.sched.Now()

	var b strings.Builder
	state := "stopped"
	if snap.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "scheduler: %s, poll %s, action timeout %s\n", state, snap.PollInterval, snap.ActionTimeout)
	fmt.Fprintf(&b, "jobs: %d", snap.Jobs)
	for _, k := range jobs.Kinds() {
		if n := snap.Kinds[k]; n > 0 {
			fmt.Fprintf(&b, ", %s %d", k, n)
		}
	}
	b.WriteByte('\n')
	if !snap.NextAt.IsZero() {
		fmt.Fprintf(&b, "next due: %s (%s)\n", snap.NextAt.UTC().Format(displayTime), jobs.Until(snap.NextAt, now))
	}
	fmt.Fprintf(&b, "executed %d, failed %d, failing now %d", snap.Executed, snap.Failed, snap.Failing)
	if !snap.LastPass.At.IsZero() {
		fmt.Fprintf(&b, "\nlast pass: %s, %d due, took %s", jobs.Until(snap.LastPass.At, now), snap.LastPass.Due, snap.LastPass.Took.Round(time.Millisecond))
	}
	return req.Reply(ctx, b.String())
}

// when renders a job's next run for a confirmation reply.
func when(j jobs.Job, now time.Time) string {
	s := fmt.Sprintf("%s (%s)", j.ExecuteAt.UTC().Format(displayTime), jobs.Until(j.ExecuteAt, now))
	if j.Repeat.Repeats() {
		s += ", repeats " + j.Repeat.String()
	}
	return s
}
