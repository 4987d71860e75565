package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/internal/discord/mock"
	"github.com/MrWong99/voxrelay/internal/history"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type textCall struct {
	guildID, speaker, text, channelID string
}

type fakeSessions struct {
	mu        sync.Mutex
	active    map[string]bool
	joinErr   error
	leaveErr  error
	submitErr error
	joins     []string
	texts     []textCall
}

func (f *fakeSessions) Join(_ context.Context, guildID, voiceChannelID, textChannelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, voiceChannelID+"/"+textChannelID)
	if f.active == nil {
		f.active = make(map[string]bool)
	}
	f.active[guildID] = true
	return nil
}

func (f *fakeSessions) Leave(_ context.Context, guildID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.active[guildID]
	delete(f.active, guildID)
	return was, f.leaveErr
}

func (f *fakeSessions) Active(guildID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[guildID]
}

func (f *fakeSessions) SubmitText(_ context.Context, guildID, speaker, text, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.texts = append(f.texts, textCall{guildID, speaker, text, channelID})
	return nil
}

type clearFunc func(context.Context) error

func (f clearFunc) ClearHistory(ctx context.Context) error { return f(ctx) }

type fakeLookup map[string]string

func (f fakeLookup) UserVoiceChannel(_, userID string) (string, error) {
	if ch, ok := f[userID]; ok {
		return ch, nil
	}
	return "", discord.ErrNotInVoice
}

type fixture struct {
	router   *discord.Router
	sender   *mock.Sender
	sessions *fakeSessions
	settings *config.SettingsStore
	store    *history.MemoryStore
	log      *history.Log
	tts      *ttsmock.Provider
}

func newFixture(t *testing.T, adminRole string, msgs ...types.Message) *fixture {
	t.Helper()
	store := history.NewMemoryStore(history.New(msgs...))
	f := &fixture{
		router:   discord.NewRouter("!", ".", discord.NewPermissionChecker(adminRole), discord.WithRateLimit(0, 1000)),
		sender:   &mock.Sender{},
		sessions: &fakeSessions{},
		settings: config.NewSettingsStore(config.Settings{VoiceID: 1, SystemPrompt: "be nice"}),
		store:    store,
		log:      history.NewLog(context.Background(), store),
		tts:      &ttsmock.Provider{},
	}
	Register(f.router, Deps{
		Sessions: f.sessions,
		Voice:    fakeLookup{"alice": "vc-1"},
		Settings: f.settings,
		History:  f.log,
		Clearer:  clearFunc(f.log.Clear),
		TTS:      f.tts,
		Stats:    discord.NewTurnStats(10),
	})
	return f
}

func (f *fixture) send(author, content string, roles ...string) string {
	f.sender.Reset()
	f.router.Handle(context.Background(), f.sender, mock.Message("m1", "g1", "text-1", author, content, roles...))
	return strings.Join(f.sender.Contents(), "\n")
}

// ─── voice ───────────────────────────────────────────────────────────────────

func TestJoinLeave(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	if got := f.send("bob", "!join"); got != "ボイスチャンネルに参加してください" {
		t.Errorf("join outside voice = %q", got)
	}
	if got := f.send("alice", "!join"); got != "✅ ボイスチャンネルに接続しました" {
		t.Errorf("join = %q", got)
	}
	if len(f.sessions.joins) != 1 || f.sessions.joins[0] != "vc-1/text-1" {
		t.Errorf("joins = %v", f.sessions.joins)
	}
	if got := f.send("alice", "!leave"); got != "👋 ボイスチャンネルから退出しました" {
		t.Errorf("leave = %q", got)
	}
	if got := f.send("alice", "!leave"); got != "接続していません" {
		t.Errorf("second leave = %q", got)
	}
}

func TestJoinFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.sessions.joinErr = errors.New("boom")

	if got := f.send("alice", "!join"); got != "❌ 接続に失敗しました" {
		t.Errorf("join = %q", got)
	}
}

func TestLeaveFailureIsReported(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.send("alice", "!join")
	f.sessions.leaveErr = errors.New("udp closed")

	if got := f.send("alice", "!leave"); got != "⚠️ 切断中にエラーが発生しました: udp closed" {
		t.Errorf("leave = %q", got)
	}
}

func TestTextTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	if got := f.send("alice", ".こんにちは"); got != "先にボイスチャンネルに接続してください（!join）" {
		t.Errorf("text without voice = %q", got)
	}
	f.send("alice", "!join")
	if got := f.send("alice", ". こんにちは "); got != "" {
		t.Errorf("text turn replied %q, want silence", got)
	}
	want := textCall{"g1", "user-alice", "こんにちは", "text-1"}
	if len(f.sessions.texts) != 1 || f.sessions.texts[0] != want {
		t.Errorf("texts = %+v, want %+v", f.sessions.texts, want)
	}

	f.sessions.submitErr = errors.New("full")
	if got := f.send("alice", ".もう一度"); !strings.HasPrefix(got, "❌") {
		t.Errorf("rejected text turn = %q", got)
	}
}

// ─── settings ────────────────────────────────────────────────────────────────

func TestSpeakers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.tts.Voices = []tts.Voice{{ID: 1, Name: "四国めたん", StyleName: "ノーマル"}, {ID: 3, Name: "ずんだもん", StyleName: "ノーマル"}}

	got := f.send("alice", "!speakers")
	want := "```\nID:   1 | 四国めたん (ノーマル)\nID:   3 | ずんだもん (ノーマル)\n```"
	if got != want {
		t.Errorf("speakers = %q, want %q", got, want)
	}

	f.tts.ListVoicesErr = errors.New("engine down")
	if got := f.send("alice", "!speakers"); got != "❌ エラー: engine down" {
		t.Errorf("speakers error = %q", got)
	}
}

func TestSpeakers_SplitsLongListing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	for i := range 200 {
		f.tts.Voices = append(f.tts.Voices, tts.Voice{ID: i, Name: "speaker", StyleName: "style"})
	}

	f.send("alice", "!speakers")
	if len(f.sender.Messages) < 2 {
		t.Fatalf("messages = %d, want the listing split", len(f.sender.Messages))
	}
	for i, m := range f.sender.Messages {
		if len([]rune(m.Content)) > discord.MessageLimit {
			t.Errorf("message %d has %d runes", i, len([]rune(m.Content)))
		}
		if !strings.HasPrefix(m.Content, "```\n") || !strings.HasSuffix(m.Content, "\n```") {
			t.Errorf("message %d is not a code block", i)
		}
	}
}

func TestSetSpeaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	for _, arg := range []string{"", "abc", "-1"} {
		if got := f.send("alice", "!setSpeaker "+arg); got != "❌ 無効なスピーカーID" {
			t.Errorf("setSpeaker %q = %q", arg, got)
		}
	}
	if got := f.send("alice", "!setspeaker 8"); got != "✅ スピーカーをID 8 に変更しました" {
		t.Errorf("setSpeaker = %q", got)
	}
	if v := f.settings.Snapshot().VoiceID; v != 8 {
		t.Errorf("VoiceID = %d, want 8", v)
	}
}

func TestNoContextToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	if got := f.send("alice", "!nc"); got != "🔄 No-Context Mode: **ON**\n履歴なしで応答します" {
		t.Errorf("first toggle = %q", got)
	}
	if !f.settings.Snapshot().NoContext {
		t.Error("NoContext should be on")
	}
	if got := f.send("alice", "!nc"); got != "🔄 No-Context Mode: **OFF**\n履歴を使用して応答します" {
		t.Errorf("second toggle = %q", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	if got := f.send("alice", "!system"); !strings.HasPrefix(got, "❌ プロンプトを入力してください") {
		t.Errorf("empty system = %q", got)
	}
	if got := f.send("alice", "!system あなたは猫です"); got != "✅ システムプロンプトを更新しました:\n```\nあなたは猫です\n```" {
		t.Errorf("system = %q", got)
	}
	if p := f.settings.Snapshot().SystemPrompt; p != "あなたは猫です" {
		t.Errorf("SystemPrompt = %q", p)
	}
}

func TestAdminCommandsRequireRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "admins", types.UserMessage("A", "hi"))

	if got := f.send("alice", "!system x"); got != "❌ このコマンドを実行する権限がありません" {
		t.Errorf("system without role = %q", got)
	}
	if got := f.send("alice", "!clear"); got != "❌ このコマンドを実行する権限がありません" {
		t.Errorf("clear without role = %q", got)
	}
	if f.log.Snapshot().Len() != 1 {
		t.Error("history cleared without permission")
	}
	if got := f.send("alice", "!clear", "admins"); got != "🗑️ 会話履歴をリセットしました" {
		t.Errorf("clear with role = %q", got)
	}
}

// ─── history ─────────────────────────────────────────────────────────────────

func TestHistory(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, "")
		if got := f.send("alice", "!history"); got != "📝 会話履歴は空です" {
			t.Errorf("history = %q", got)
		}
	})

	t.Run("last ten", func(t *testing.T) {
		t.Parallel()
		var msgs []types.Message
		for i := range 12 {
			msgs = append(msgs, types.UserMessage("A", strings.Repeat("x", i)))
		}
		msgs = append(msgs, types.ModelMessage("ok"))
		f := newFixture(t, "", msgs...)

		got := f.send("alice", "!history")
		if !strings.HasPrefix(got, "📝 会話履歴 (最新10件):\n```\n") {
			t.Fatalf("history = %q", got)
		}
		if n := strings.Count(got, "👤 User: ") + strings.Count(got, "🤖 Model: "); n != 10 {
			t.Errorf("lines = %d, want 10", n)
		}
		if !strings.Contains(got, "🤖 Model: ok\n```") {
			t.Errorf("newest line missing: %q", got)
		}
	})
}

func TestFormatHistory_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("あ", 150)
	got := FormatHistory([]types.Message{{Role: types.RoleUser, Content: long}, types.ModelMessage("短い")})
	lines := strings.Split(got, "\n")
	if want := "👤 User: " + strings.Repeat("あ", 100) + "..."; lines[0] != want {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "🤖 Model: 短い" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", types.UserMessage("A", "hi"), types.ModelMessage("yo"))

	f.store.FailWith(errors.New("disk full"))
	if got := f.send("alice", "!clear"); got != "❌ 履歴のリセットに失敗しました" {
		t.Errorf("failed clear = %q", got)
	}
	if f.log.Snapshot().Len() != 2 {
		t.Error("history lost after failed clear")
	}

	f.store.FailWith(nil)
	if got := f.send("alice", "!clear"); got != "🗑️ 会話履歴をリセットしました" {
		t.Errorf("clear = %q", got)
	}
	if f.log.Snapshot().Len() != 0 || f.store.Load(context.Background()).Len() != 0 {
		t.Error("history not cleared")
	}
}

// ─── help & stats ────────────────────────────────────────────────────────────

func TestHelpAndStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	help := f.send("alice", "!help")
	for _, want := range []string{"!join", "!leave", "!speakers", "!setSpeaker <id>", "!nc", "!system <prompt>", "!history", "!clear", "!stats", ".<text>"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
	if got := f.send("alice", "!stats"); !strings.HasPrefix(got, "📊 処理統計:\n```") {
		t.Errorf("stats = %q", got)
	}
}
