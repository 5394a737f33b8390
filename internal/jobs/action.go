package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// ActionKind tags an Action variant in persisted records.
type ActionKind string

const (
	KindRoleRemoval    ActionKind = "role_remove"
	KindRoleAddition   ActionKind = "role_add"
	KindUnban          ActionKind = "unban"
	KindEcho           ActionKind = "echo"
	KindBannerRotation ActionKind = "banner_rotate"
)

// Kinds lists every known action kind in display order.
func Kinds() []ActionKind {
	return []ActionKind{KindEcho, KindRoleAddition, KindRoleRemoval, KindUnban, KindBannerRotation}
}

// ParseKind accepts a kind tag case-insensitively.
func ParseKind(s string) (ActionKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Action is the effect a job performs when it becomes due.
//
// Actions are plain data; executing them is the job of whoever owns the
// platform side effects (see internal/actions). The set of variants is
// closed: adding one means a new type here plus a case in the codec and in
// the executor's switch.
type Action interface {
	Kind() ActionKind
	Validate() error
	// Describe is a one-line human readable summary.
	Describe() string

	isAction()
}

// RoleRemoval takes a role away from a chat member.
type RoleRemoval struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// RoleAddition grants a role to a chat member.
type RoleAddition struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// Unban lifts a ban on an account.
type Unban struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

// Echo sends a message, typically a reminder.
type Echo struct {
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	Text        string `json:"text"`
	RequestedBy int64  `json:"requested_by,omitempty"`
}

// BannerRotation sets the chat photo to the next image from Dir.
type BannerRotation struct {
	ChatID int64  `json:"chat_id"`
	Dir    string `json:"dir"`
}

var errNoChat = errors.New("chat id required")

func (RoleRemoval) Kind() ActionKind    { return KindRoleRemoval }
func (RoleAddition) Kind() ActionKind   { return KindRoleAddition }
func (Unban) Kind() ActionKind          { return KindUnban }
func (Echo) Kind() ActionKind           { return KindEcho }
func (BannerRotation) Kind() ActionKind { return KindBannerRotation }

func (RoleRemoval) isAction()    {}
func (RoleAddition) isAction()   {}
func (Unban) isAction()          {}
func (Echo) isAction()           {}
func (BannerRotation) isAction() {}

func validateMember(chatID, userID int64) error {
	if chatID == 0 {
		return errNoChat
	}
	if userID == 0 {
		return errors.New("user id required")
	}
	return nil
}

func (a RoleRemoval) Validate() error {
	if err := validateMember(a.ChatID, a.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(a.Role) == "" {
		return errors.New("role required")
	}
	return nil
}

func (a RoleAddition) Validate() error {
	if err := validateMember(a.ChatID, a.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(a.Role) == "" {
		return errors.New("role required")
	}
	return nil
}

func (a Unban) Validate() error { return validateMember(a.ChatID, a.UserID) }

func (a Echo) Validate() error {
	if a.ChatID == 0 {
		return errNoChat
	}
	if strings.TrimSpace(a.Text) == "" {
		return errors.New("text required")
	}
	return nil
}

func (a BannerRotation) Validate() error {
	if a.ChatID == 0 {
		return errNoChat
	}
	if strings.TrimSpace(a.Dir) == "" {
		return errors.New("banner directory required")
	}
	return nil
}

func (a RoleRemoval) Describe() string {
	return fmt.Sprintf("remove role %q from user %d in chat %d", a.Role, a.UserID, a.ChatID)
}

func (a RoleAddition) Describe() string {
	return fmt.Sprintf("add role %q to user %d in chat %d", a.Role, a.UserID, a.ChatID)
}

func (a Unban) Describe() string {
	return fmt.Sprintf("unban user %d in chat %d", a.UserID, a.ChatID)
}

func (a Echo) Describe() string {
	return fmt.Sprintf("send %q to chat %d", truncate(a.Text, 60), a.ChatID)
}

func (a BannerRotation) Describe() string {
	return fmt.Sprintf("rotate chat %d photo from %s", a.ChatID, a.Dir)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
