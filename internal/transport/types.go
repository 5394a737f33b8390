package transport

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by adapters for operations the platform (or the
// bot's permissions in that chat) cannot perform.
var ErrUnsupported = errors.New("operation not supported by transport")

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// ReplyToUserID is the author of the message this one replies to (0 if none).
	// Moderation commands use it to pick their target.
	ReplyToUserID int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo quotes a message in the same chat (0 = no reply).
	ReplyTo int
}

// Sender delivers text messages. Echo jobs, replies and the log sink use it.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// RoleManager grants or revokes a named role for a chat member.
type RoleManager interface {
	SetRole(ctx context.Context, chatID, userID int64, role string, grant bool) error
}

// BanManager bans and unbans chat members.
type BanManager interface {
	Ban(ctx context.Context, chatID, userID int64) error
	Unban(ctx context.Context, chatID, userID int64) error
}

// ChatPhotoSetter replaces a chat's photo with a local image file.
type ChatPhotoSetter interface {
	SetChatPhoto(ctx context.Context, chatID int64, path string) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
