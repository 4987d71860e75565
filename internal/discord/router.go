package discord

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// Sender is the subset of *discordgo.Session used to post messages.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Sender = (*discordgo.Session)(nil)

// Context is passed to command handlers.
type Context struct {
	Sender  Sender
	Message *discordgo.MessageCreate

	// Command is the lower-cased command name without prefix. Empty for text
	// turns.
	Command string

	// Args is the trimmed remainder of the message after the command name,
	// or the text of a text turn.
	Args string

	// IsAdmin reports whether the author passes the admin role check.
	IsAdmin bool
}

// GuildID returns the guild the message was posted in.
func (c *Context) GuildID() string { return c.Message.GuildID }

// ChannelID returns the text channel the message was posted in.
func (c *Context) ChannelID() string { return c.Message.ChannelID }

// AuthorID returns the message author's user id.
func (c *Context) AuthorID() string {
	if c.Message.Author == nil {
		return ""
	}
	return c.Message.Author.ID
}

// AuthorName returns the author's display name.
func (c *Context) AuthorName() string {
	return DisplayName(c.Message.Member, c.Message.Author)
}

// Reply answers the message, splitting content over Discord's message
// length limit.
func (c *Context) Reply(content string) {
	Reply(c.Sender, c.Message.Message, content)
}

// HandlerFunc is the signature for command handlers.
type HandlerFunc func(ctx context.Context, c *Context)

type commandEntry struct {
	name    string
	usage   string
	help    string
	admin   bool
	handler HandlerFunc
}

// Command describes a command for registration.
type Command struct {
	// Name is matched case-insensitively, e.g. "setSpeaker".
	Name string

	// Usage is shown by help, e.g. "<id>".
	Usage string

	// Help is a one-line description.
	Help string

	// Admin restricts the command to members with the admin role.
	Admin bool

	Handler HandlerFunc
}

// Router dispatches prefixed messages to registered handlers. Each author
// is rate limited independently.
type Router struct {
	prefix     string
	textPrefix string
	perms      *PermissionChecker

	mu       sync.RWMutex
	commands map[string]commandEntry
	text     HandlerFunc

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithRateLimit sets the per-author command rate. The default allows a burst
// of 3 and one command per second afterwards.
func WithRateLimit(every time.Duration, burst int) RouterOption {
	return func(r *Router) {
		r.limit = rate.Every(every)
		r.burst = burst
	}
}

// NewRouter creates an empty router.
func NewRouter(prefix, textPrefix string, perms *PermissionChecker, opts ...RouterOption) *Router {
	if perms == nil {
		perms = NewPermissionChecker("")
	}
	r := &Router{
		prefix:     prefix,
		textPrefix: textPrefix,
		perms:      perms,
		commands:   make(map[string]commandEntry),
		limiters:   make(map[string]*rate.Limiter),
		limit:      rate.Every(time.Second),
		burst:      3,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Register adds a command. Registering a name twice replaces the handler.
func (r *Router) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = commandEntry{
		name:    cmd.Name,
		usage:   cmd.Usage,
		help:    cmd.Help,
		admin:   cmd.Admin,
		handler: cmd.Handler,
	}
}

// RegisterText sets the handler for text turns.
func (r *Router) RegisterText(h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = h
}

// Help returns one line per registered command, sorted by name.
func (r *Router) Help() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lines := make([]string, 0, len(r.commands)+1)
	for _, e := range r.commands {
		line := r.prefix + e.name
		if e.usage != "" {
			line += " " + e.usage
		}
		line += " - " + e.help
		if e.admin && r.perms.Restricted() {
			line += " (admin)"
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	if r.text != nil {
		lines = append(lines, r.textPrefix+"<text> - テキストで話しかける")
	}
	return lines
}

// Handle parses m and runs the matching handler. Messages from bots,
// messages without a prefix, and unknown commands are ignored.
func (r *Router) Handle(ctx context.Context, s Sender, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	c, handler, admin := r.match(m)
	if handler == nil {
		return
	}
	c.Sender = s
	c.IsAdmin = r.perms.IsAdmin(m)

	if !r.allow(m.Author.ID) {
		slog.Debug("discord: rate limited", "user", m.Author.ID, "command", c.Command)
		return
	}
	if admin && !c.IsAdmin {
		c.Reply("❌ このコマンドを実行する権限がありません")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("discord: command handler panicked",
				"command", c.Command, "panic", rec, "stack", string(debug.Stack()))
			c.Reply("❌ エラーが発生しました")
		}
	}()
	handler(ctx, c)
}

// match resolves the handler for m without side effects.
func (r *Router) match(m *discordgo.MessageCreate) (*Context, HandlerFunc, bool) {
	content := strings.TrimSpace(m.Content)
	c := &Context{Message: m}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.prefix != "" && strings.HasPrefix(content, r.prefix) {
		name, args, _ := strings.Cut(strings.TrimPrefix(content, r.prefix), " ")
		if e, ok := r.commands[strings.ToLower(name)]; ok {
			c.Command = strings.ToLower(name)
			c.Args = strings.TrimSpace(args)
			return c, e.handler, e.admin
		}
	}
	if r.text != nil && r.textPrefix != "" && strings.HasPrefix(content, r.textPrefix) {
		text := strings.TrimSpace(strings.TrimPrefix(content, r.textPrefix))
		if text == "" {
			return c, nil, false
		}
		c.Args = text
		return c, r.text, false
	}
	return c, nil, false
}

func (r *Router) allow(userID string) bool {
	r.limitMu.Lock()
	defer r.limitMu.Unlock()
	l, ok := r.limiters[userID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[userID] = l
	}
	return l.Allow()
}
