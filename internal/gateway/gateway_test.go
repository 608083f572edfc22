package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/governance"
	"github.com/rahul/handsfree/internal/intent"
	"github.com/rahul/handsfree/internal/observability"
	"github.com/rahul/handsfree/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	mu    sync.Mutex
	cmds  []agent.Command
	plans []string
}

func (f *fakeHandler) Handle(_ context.Context, cmd agent.Command) agent.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return agent.Outcome{CommandID: "c1", Reply: "ok: " + cmd.Text}
}

func (f *fakeHandler) ExecutePlan(_ context.Context, _ agent.Command, raw string) agent.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, raw)
	plan := intent.Parse(raw)
	return agent.Outcome{CommandID: "p1", Plan: plan, Reply: plan.Message}
}

func (f *fakeHandler) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.cmds {
		out = append(out, c.Text)
	}
	return out
}

type fakeBot struct {
	updates chan tgbotapi.Update
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) StopReceivingUpdates() { b.stopped = true }

func message(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID}}}
}

func TestTelegramGateway_RoutesAllowedChats(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 4)}
	h := &fakeHandler{}
	tg := &TelegramGateway{Bot: bot, Handler: h, AllowFrom: []string{"42"}, Logger: observability.NewNopLogger()}

	bot.updates <- message(42, "open notepad")
	bot.updates <- message(7, "open notepad")
	bot.updates <- tgbotapi.Update{}
	close(bot.updates)

	require.NoError(t, tg.Start(context.Background()))

	assert.Equal(t, []string{"open notepad"}, h.texts())
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "ok: open notepad", bot.sent[0].Text)
	assert.Equal(t, "telegram", h.cmds[0].Source)

	require.NoError(t, tg.Stop())
	assert.True(t, bot.stopped)
}

func TestTelegramGateway_StopsOnContext(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update)}
	tg := &TelegramGateway{Bot: bot, Handler: &fakeHandler{}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gateway did not stop")
	}
}

func TestTelegramGateway_SendRejectsBadChatID(t *testing.T) {
	tg := &TelegramGateway{Bot: &fakeBot{}}
	assert.Error(t, tg.Send("abc", "hi"))
	assert.Error(t, tg.Send("0", "hi"))
}

type fakeSession struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (s *fakeSession) AddHandler(interface{}) func() { return func() {} }
func (s *fakeSession) Open() error                  { return nil }
func (s *fakeSession) Close() error                 { return nil }

func (s *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = map[string][]string{}
	}
	s.sent[channelID] = append(s.sent[channelID], content)
	return &discordgo.Message{}, nil
}

func TestDiscordGateway_OnMessage(t *testing.T) {
	sess := &fakeSession{}
	h := &fakeHandler{}
	d := &DiscordGateway{Session: sess, Handler: h, AllowFrom: []string{"u1"}, Logger: observability.NewNopLogger()}

	ctx := context.Background()
	d.onMessage(ctx, "chan", "u1", "  type hello ")
	d.onMessage(ctx, "chan", "u2", "type hello")
	d.onMessage(ctx, "chan", "u1", "   ")
	d.wg.Wait()

	assert.Equal(t, []string{"type hello"}, h.texts())
	assert.Equal(t, []string{"ok: type hello"}, sess.sent["chan"])
}

func TestDiscordGateway_SendTruncates(t *testing.T) {
	sess := &fakeSession{}
	d := &DiscordGateway{Session: sess}
	require.NoError(t, d.Send("chan", strings.Repeat("x", 2500)))
	assert.Len(t, sess.sent["chan"][0], discordMaxMessage)
	assert.Error(t, d.Send("", "hi"))
}

func TestConsoleGateway(t *testing.T) {
	var out bytes.Buffer
	h := &fakeHandler{}
	c := NewConsoleGateway(strings.NewReader("open notepad\n\n  press enter \n"), &out, h)

	require.NoError(t, c.Start(context.Background()))

	assert.ElementsMatch(t, []string{"open notepad", "press enter"}, h.texts())
	assert.Contains(t, out.String(), "> ok: open notepad\n")
	assert.Contains(t, out.String(), "> ok: press enter\n")
}

// approvingHandler asks the console for approval before replying.
type approvingHandler struct {
	console  *ConsoleGateway
	mu       sync.Mutex
	texts    []string
	verdicts []bool
}

func (h *approvingHandler) Handle(ctx context.Context, cmd agent.Command) agent.Outcome {
	ok, err := h.console.Approve(ctx, governance.Request{Action: "open", Target: "calc.exe"})
	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, cmd.Text)
	h.verdicts = append(h.verdicts, ok && err == nil)
	return agent.Outcome{Reply: "done"}
}

// promptWriter signals each approval question written to the console.
type promptWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	prompt chan struct{}
}

func (w *promptWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if bytes.Contains(p, []byte("Approve")) {
		w.prompt <- struct{}{}
	}
	return w.buf.Write(p)
}

func TestConsoleGateway_AnswersApprovalFromSameInput(t *testing.T) {
	pr, pw := io.Pipe()
	out := &promptWriter{prompt: make(chan struct{}, 1)}
	h := &approvingHandler{}
	c := NewConsoleGateway(pr, out, h)
	h.console = c

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	_, err := io.WriteString(pw, "open calculator\n")
	require.NoError(t, err)
	select {
	case <-out.prompt:
	case <-time.After(time.Second):
		t.Fatal("no approval question")
	}
	_, err = io.WriteString(pw, "y\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop")
	}
	assert.Equal(t, []string{"open calculator"}, h.texts)
	assert.Equal(t, []bool{true}, h.verdicts)
	assert.Contains(t, out.buf.String(), `Approve open "calc.exe"?`)
}

func TestConsoleGateway_EndOfInputDeniesPendingQuestion(t *testing.T) {
	pr, pw := io.Pipe()
	out := &promptWriter{prompt: make(chan struct{}, 1)}
	h := &approvingHandler{}
	c := NewConsoleGateway(pr, out, h)
	h.console = c

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	_, err := io.WriteString(pw, "open calculator\n")
	require.NoError(t, err)
	<-out.prompt
	require.NoError(t, pw.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop")
	}
	assert.Equal(t, []bool{false}, h.verdicts)

	ok, err := c.Approve(context.Background(), governance.Request{Action: "open"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsoleGateway_WithdrawnQuestionLeavesNextLineAsCommand(t *testing.T) {
	c := NewConsoleGateway(strings.NewReader(""), io.Discard, &fakeHandler{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Approve(ctx, governance.Request{Action: "open"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.answer("open notepad"))
}

func newTestRouter(t *testing.T, token string) (*gin.Engine, *fakeHandler, *governance.Guardrail) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &fakeHandler{}
	g := governance.NewGuardrail(governance.NewSecurityPolicy(nil, nil, false))
	g.LogAction("open_app:notepad", true)
	g.LogAction("open:evil.com", false)
	gw := NewHTTPGateway("", token, h, g, fakeCommands{}, nil)
	return gw.Router(), h, g
}

type fakeCommands struct{}

func (fakeCommands) RecentCommands(_ context.Context, n int) ([]store.CommandRecord, error) {
	return []store.CommandRecord{{ID: "c1", Command: "open notepad"}}[:min(n, 1)], nil
}

func do(r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHTTPGateway_PostCommand(t *testing.T) {
	r, h, _ := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/api/v1/commands", `{"text":"open notepad","context":"desktop"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var out agent.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "ok: open notepad", out.Reply)
	require.Len(t, h.cmds, 1)
	assert.Equal(t, "desktop", h.cmds[0].ScreenContext)
	assert.Equal(t, "http", h.cmds[0].Source)

	w = do(r, http.MethodPost, "/api/v1/commands", `{"context":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPGateway_PostPlan(t *testing.T) {
	r, h, _ := newTestRouter(t, "")

	w := do(r, http.MethodPost, "/api/v1/plans", `{"raw":"Which app?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Which app?"}, h.plans)

	var out agent.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, intent.ActionClarify, out.Plan.Action)
}

func TestHTTPGateway_PostPlanDeepNesting(t *testing.T) {
	r, _, _ := newTestRouter(t, "")

	raw := `{"action":"x","steps":` + strings.Repeat("[", 400_000) + strings.Repeat("]", 400_000) + `}`
	body, err := json.Marshal(PlanRequest{Raw: raw})
	require.NoError(t, err)
	require.Less(t, len(body), maxBodyBytes)

	w := do(r, http.MethodPost, "/api/v1/plans", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	var out agent.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, intent.ActionError, out.Plan.Action)
	assert.False(t, out.Plan.Success)
}

func TestHTTPGateway_BodyTooLarge(t *testing.T) {
	r, h, _ := newTestRouter(t, "")

	body, err := json.Marshal(PlanRequest{Raw: strings.Repeat("x", maxBodyBytes)})
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/api/v1/plans", string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, h.plans)
}

func TestHTTPGateway_Audit(t *testing.T) {
	r, _, _ := newTestRouter(t, "")

	w := do(r, http.MethodGet, "/api/v1/audit?last=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Logs []governance.ActionLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "open:evil.com", body.Logs[0].Action)
	assert.False(t, body.Logs[0].Approved)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/audit?last=-1", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/commands", "").Code)
}

func TestHTTPGateway_BearerToken(t *testing.T) {
	r, _, _ := newTestRouter(t, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/audit", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/v1/audit", "", "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/audit", "", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code, "health needs no token")
}

func TestHTTPGateway_SendUnsupported(t *testing.T) {
	assert.ErrorIs(t, NewHTTPGateway("", "", nil, nil, nil, nil).Send("x", "y"), ErrNoPush)
}
