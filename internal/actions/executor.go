// Package actions performs job actions against the chat platform.
package actions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"chronobot/internal/jobs"
	kit "chronobot/internal/transport"
	logx "chronobot/pkg/logx"
)

var (
	// ErrUnsupported is returned for action kinds the executor has no case for.
	ErrUnsupported = errors.New("unsupported action")
	// ErrNoPort is returned when the platform capability an action needs was
	// not wired in (e.g. running without a chat transport).
	ErrNoPort = errors.New("platform capability not available")
	// ErrNoBanners is returned when a rotation directory holds no images.
	ErrNoBanners = errors.New("no banner images")
)

// DefaultBannerPeriod is the rotation step for banner jobs that do not repeat.
const DefaultBannerPeriod = 24 * time.Hour

// Ports are the platform capabilities actions need. Any may be nil; actions
// that need a missing port fail with ErrNoPort.
type Ports struct {
	Sender kit.Sender
	Roles  kit.RoleManager
	Bans   kit.BanManager
	Photos kit.ChatPhotoSetter
}

// PortsFrom picks every capability v implements.
func PortsFrom(v any) Ports {
	var p Ports
	p.Sender, _ = v.(kit.Sender)
	p.Roles, _ = v.(kit.RoleManager)
	p.Bans, _ = v.(kit.BanManager)
	p.Photos, _ = v.(kit.ChatPhotoSetter)
	return p
}

type Executor struct {
	ports Ports
	log   logx.Logger
}

func New(ports Ports, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{ports: ports, log: log}
}

// Execute performs j's action once. It satisfies scheduler.Executor.
func (e *Executor) Execute(ctx context.Context, j jobs.Job) error {
	switch a := j.Action.(type) {
	case jobs.Echo:
		return e.echo(ctx, a)
	case jobs.RoleAddition:
		return e.setRole(ctx, a.ChatID, a.UserID, a.Role, true)
	case jobs.RoleRemoval:
		return e.setRole(ctx, a.ChatID, a.UserID, a.Role, false)
	case jobs.Unban:
		if e.ports.Bans == nil {
			return fmt.Errorf("unban: %w", ErrNoPort)
		}
		return e.ports.Bans.Unban(ctx, a.ChatID, a.UserID)
	case jobs.BannerRotation:
		return e.rotateBanner(ctx, a, j)
	case nil:
		return jobs.ErrNoAction
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, j.Action.Kind())
	}
}

func (e *Executor) echo(ctx context.Context, a jobs.Echo) error {
	if e.ports.Sender == nil {
		return fmt.Errorf("echo: %w", ErrNoPort)
	}
	text := a.Text
	if a.RequestedBy != 0 {
		text = "⏰ " + text
	}
	_, err := e.ports.Sender.SendText(ctx, kit.ChatTarget{ChatID: a.ChatID, ThreadID: a.ThreadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (e *Executor) setRole(ctx context.Context, chatID, userID int64, role string, grant bool) error {
	if e.ports.Roles == nil {
		return fmt.Errorf("role %s: %w", role, ErrNoPort)
	}
	return e.ports.Roles.SetRole(ctx, chatID, userID, role, grant)
}

func (e *Executor) rotateBanner(ctx context.Context, a jobs.BannerRotation, j jobs.Job) error {
	if e.ports.Photos == nil {
		return fmt.Errorf("banner: %w", ErrNoPort)
	}
	files, err := ListBanners(a.Dir)
	if err != nil {
		return err
	}
	period := j.Repeat.Period()
	if period <= 0 {
		period = DefaultBannerPeriod
	}
	pick := files[BannerIndex(j.ExecuteAt, period, len(files))]
	e.log.Debug("rotating banner",
		logx.String("job_id", j.ID),
		logx.Int64("chat_id", a.ChatID),
		logx.String("file", filepath.Base(pick)),
	)
	return e.ports.Photos.SetChatPhoto(ctx, a.ChatID, pick)
}

// BannerIndex maps an execution time onto one of n images so consecutive
// occurrences walk through the set in order.
func BannerIndex(at time.Time, period time.Duration, n int) int {
	if n <= 0 {
		return 0
	}
	step := int64(period / time.Second)
	if step <= 0 {
		step = int64(DefaultBannerPeriod / time.Second)
	}
	slot := at.Unix() / step
	idx := slot % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}

// ListBanners returns the jpg/jpeg/png files in dir, sorted by name.
func ListBanners(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("banner dir: %w", err)
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".jpg", ".jpeg", ".png":
			out = append(out, filepath.Join(dir, ent.Name()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoBanners, dir)
	}
	sort.Strings(out)
	return out, nil
}
