package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kha1dx/clarityai/internal/generation"
	"github.com/kha1dx/clarityai/internal/models"
	"github.com/kha1dx/clarityai/internal/services"
)

const testUser = "user-1"

// stubProvider returns a canned completion without touching the network.
type stubProvider struct {
	result *generation.Result
	err    error
}

func (p *stubProvider) Generate(context.Context, []generation.Turn) (*generation.Result, error) {
	return p.result, p.err
}

func (p *stubProvider) GenerateStream(ctx context.Context, history []generation.Turn, onToken func(string)) (*generation.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	onToken(p.result.Content)
	return p.result, p.err
}

func newTestApp(t *testing.T, provider generation.Provider) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.GeneratedPrompt{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := services.NewConversationService(db)
	usage := services.NewUsageService(db)
	conv := NewConversationHandler(svc, usage, nil)
	chat := NewChatHandler(svc, provider, nil)

	app := fiber.New()
	api := app.Group("/api")
	api.Get("/conversations", conv.ListConversations)
	api.Post("/conversations", conv.CreateConversation)
	api.Get("/conversations/stats", conv.UserStats)
	api.Get("/conversations/:id", conv.GetConversation)
	api.Put("/conversations/:id", conv.UpdateConversation)
	api.Delete("/conversations/:id", conv.DeleteConversation)
	api.Post("/conversations/:id/star", conv.StarConversation)
	api.Post("/conversations/:id/archive", conv.ArchiveConversation)
	api.Put("/conversations/:id/tags", conv.SetTags)
	api.Post("/conversations/:id/tags", conv.AddTags)
	api.Post("/conversations/:id/messages", conv.AddMessage)
	api.Patch("/conversations/:id/messages/:messageId", conv.UpdateMessage)
	api.Get("/conversations/:id/analytics", conv.ConversationAnalytics)
	api.Post("/conversations/:id/chat", chat.SendMessage)
	return app
}

type env struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func request(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, env) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var e env
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, e
}

func createConversation(t *testing.T, app *fiber.App, title string) models.Conversation {
	t.Helper()
	status, e := request(t, app, "POST", "/api/conversations?userId="+testUser, fiber.Map{"title": title})
	if status != http.StatusCreated || !e.Success {
		t.Fatalf("create conversation: status %d, envelope %+v", status, e)
	}
	var conv models.Conversation
	if err := json.Unmarshal(e.Data, &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conv
}

func TestCreateConversation_Envelope(t *testing.T) {
	app := newTestApp(t, &stubProvider{})

	conv := createConversation(t, app, "My Conversation")
	if conv.Title != "My Conversation" {
		t.Errorf("Title = %q, want %q", conv.Title, "My Conversation")
	}
	if conv.UserID != testUser {
		t.Errorf("UserID = %q, want %q", conv.UserID, testUser)
	}
	if conv.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("conversation created without an id")
	}
}

func TestCreateConversation_MissingUser(t *testing.T) {
	app := newTestApp(t, &stubProvider{})

	status, e := request(t, app, "POST", "/api/conversations", fiber.Map{"title": "No owner"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if e.Success || e.Error == nil || e.Error.Code != CodeValidation {
		t.Fatalf("envelope = %+v, want VALIDATION_ERROR", e)
	}
}

func TestCreateConversation_EmptyTitle(t *testing.T) {
	app := newTestApp(t, &stubProvider{})

	status, e := request(t, app, "POST", "/api/conversations?userId="+testUser, fiber.Map{"title": "   "})
	if status != http.StatusBadRequest || e.Error == nil || e.Error.Code != CodeValidation {
		t.Fatalf("status = %d, envelope %+v, want 400 VALIDATION_ERROR", status, e)
	}
}

func TestGetConversation_NotFoundAfterDelete(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, "Short-lived")
	path := "/api/conversations/" + conv.ID.String() + "?userId=" + testUser

	status, e := request(t, app, "DELETE", path, nil)
	if status != http.StatusOK || !e.Success {
		t.Fatalf("delete: status %d, envelope %+v", status, e)
	}

	status, e = request(t, app, "GET", path, nil)
	if status != http.StatusNotFound || e.Error == nil || e.Error.Code != CodeNotFound {
		t.Fatalf("get after delete: status %d, envelope %+v, want 404 NOT_FOUND", status, e)
	}

	// A second delete is indistinguishable from deleting a conversation that
	// never existed.
	status, e = request(t, app, "DELETE", path, nil)
	if status != http.StatusNotFound || e.Error == nil || e.Error.Code != CodeNotFound {
		t.Fatalf("duplicate delete: status %d, envelope %+v, want 404 NOT_FOUND", status, e)
	}
}

func TestStarConversation_NonBooleanRejected(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, "Flagged")
	path := "/api/conversations/" + conv.ID.String() + "/star?userId=" + testUser

	status, e := request(t, app, "POST", path, fiber.Map{})
	if status != http.StatusBadRequest || e.Error == nil || e.Error.Code != CodeValidation {
		t.Fatalf("missing isStarred: status %d, envelope %+v, want 400", status, e)
	}

	status, e = request(t, app, "POST", path, fiber.Map{"isStarred": "yes"})
	if status != http.StatusBadRequest {
		t.Fatalf("string isStarred: status %d, want 400", status)
	}

	status, e = request(t, app, "POST", path, fiber.Map{"isStarred": true})
	if status != http.StatusOK || !e.Success {
		t.Fatalf("boolean isStarred: status %d, envelope %+v", status, e)
	}
	var got models.Conversation
	json.Unmarshal(e.Data, &got)
	if !got.IsStarred {
		t.Fatal("IsStarred = false after starring")
	}
}

func TestTags_MergeAndCap(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, "Tagged")
	base := "/api/conversations/" + conv.ID.String() + "/tags?userId=" + testUser

	status, e := request(t, app, "PUT", base, fiber.Map{"tags": []string{"a", "b"}})
	if status != http.StatusOK || !e.Success {
		t.Fatalf("set tags: status %d, envelope %+v", status, e)
	}

	status, e = request(t, app, "POST", base, fiber.Map{"tags": []string{"b", "c"}})
	if status != http.StatusOK || !e.Success {
		t.Fatalf("add tags: status %d, envelope %+v", status, e)
	}
	var got models.Conversation
	json.Unmarshal(e.Data, &got)
	if len(got.Tags) != 3 {
		t.Fatalf("Tags = %v, want union of size 3", got.Tags)
	}

	oversized := make([]string, models.MaxTags+1)
	for i := range oversized {
		oversized[i] = fmt.Sprintf("tag-%d", i)
	}
	status, e = request(t, app, "PUT", base, fiber.Map{"tags": oversized})
	if status != http.StatusBadRequest || e.Error == nil || e.Error.Code != CodeValidation {
		t.Fatalf("oversized tag set: status %d, envelope %+v, want 400", status, e)
	}
}

func TestAddMessage_MissingParent(t *testing.T) {
	app := newTestApp(t, &stubProvider{})

	status, e := request(t, app, "POST",
		"/api/conversations/6a9e0c4e-98e1-4f9f-93a8-0d5c3483b7c1/messages",
		fiber.Map{"role": models.RoleUser, "content": "orphan"})
	if status != http.StatusNotFound || e.Error == nil || e.Error.Code != CodeNotFound {
		t.Fatalf("status = %d, envelope %+v, want 404 NOT_FOUND", status, e)
	}
}

func TestAddMessage_RecordsUsage(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, "Usage")

	status, e := request(t, app, "POST",
		"/api/conversations/"+conv.ID.String()+"/messages",
		fiber.Map{"role": models.RoleUser, "content": "Hello", "tokensUsed": 5, "cost": 0.001})
	if status != http.StatusCreated || !e.Success {
		t.Fatalf("add message: status %d, envelope %+v", status, e)
	}
	var msg models.Message
	json.Unmarshal(e.Data, &msg)
	if msg.TokensUsed != 5 {
		t.Errorf("TokensUsed = %d, want 5", msg.TokensUsed)
	}

	status, e = request(t, app, "GET",
		"/api/conversations/"+conv.ID.String()+"/analytics?userId="+testUser, nil)
	if status != http.StatusOK {
		t.Fatalf("analytics: status %d", status)
	}
	var usage services.ConversationUsage
	json.Unmarshal(e.Data, &usage)
	if usage.TotalTokens != 5 || usage.UserMessages != 1 {
		t.Fatalf("analytics = %+v, want 5 tokens / 1 user message", usage)
	}
}

func TestAddMessage_AutoTitlesDefaultConversation(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, models.DefaultTitle)

	status, e := request(t, app, "POST",
		"/api/conversations/"+conv.ID.String()+"/messages?userId="+testUser,
		fiber.Map{"role": models.RoleUser, "content": "Draft a launch announcement"})
	if status != http.StatusCreated || !e.Success {
		t.Fatalf("add message: status %d, envelope %+v", status, e)
	}

	status, e = request(t, app, "GET",
		"/api/conversations/"+conv.ID.String()+"?userId="+testUser, nil)
	if status != http.StatusOK {
		t.Fatalf("get: status %d", status)
	}
	var data struct {
		Conversation models.Conversation `json:"conversation"`
	}
	json.Unmarshal(e.Data, &data)
	if data.Conversation.Title != "Draft a launch announcement" {
		t.Fatalf("Title = %q, want the first user message", data.Conversation.Title)
	}
}

func TestChatFlow_AutoTitles(t *testing.T) {
	provider := &stubProvider{result: &generation.Result{Content: "Hi there", TokensUsed: 8, Cost: 0.002}}
	app := newTestApp(t, provider)
	conv := createConversation(t, app, models.DefaultTitle)

	status, e := request(t, app, "POST",
		"/api/conversations/"+conv.ID.String()+"/chat?userId="+testUser,
		fiber.Map{"message": "Help me write a code review prompt"})
	if status != http.StatusOK || !e.Success {
		t.Fatalf("chat: status %d, envelope %+v", status, e)
	}

	var data struct {
		UserMessage      models.Message      `json:"user_message"`
		AssistantMessage models.Message      `json:"assistant_message"`
		Conversation     models.Conversation `json:"conversation"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		t.Fatalf("decode chat result: %v", err)
	}
	if data.AssistantMessage.Content != "Hi there" {
		t.Errorf("assistant content = %q", data.AssistantMessage.Content)
	}
	if data.AssistantMessage.TokensUsed != 8 {
		t.Errorf("assistant tokens = %d, want 8", data.AssistantMessage.TokensUsed)
	}
	if data.Conversation.Title != "Help me write a code review prompt" {
		t.Errorf("Title = %q, want the first user message", data.Conversation.Title)
	}
}

func TestChatFlow_ProviderFailureKeepsUserTurn(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream down")}
	app := newTestApp(t, provider)
	conv := createConversation(t, app, "Resilient")
	base := "/api/conversations/" + conv.ID.String()

	status, e := request(t, app, "POST", base+"/chat?userId="+testUser, fiber.Map{"message": "Hello?"})
	if status != http.StatusBadGateway || e.Error == nil || e.Error.Code != CodeDependency {
		t.Fatalf("chat failure: status %d, envelope %+v, want 502 DEPENDENCY_ERROR", status, e)
	}

	// The user's turn is durable even though generation failed.
	status, e = request(t, app, "GET", base+"?userId="+testUser, nil)
	if status != http.StatusOK {
		t.Fatalf("get: status %d", status)
	}
	var data struct {
		Messages []models.Message `json:"messages"`
	}
	json.Unmarshal(e.Data, &data)
	if len(data.Messages) != 1 || data.Messages[0].Role != models.RoleUser {
		t.Fatalf("messages = %v, want the single persisted user turn", data.Messages)
	}
}

func TestUpdateConversation_PartialFields(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, "Before")
	path := "/api/conversations/" + conv.ID.String() + "?userId=" + testUser

	status, e := request(t, app, "PUT", path, fiber.Map{"title": "After", "is_starred": true})
	if status != http.StatusOK || !e.Success {
		t.Fatalf("update: status %d, envelope %+v", status, e)
	}
	var got models.Conversation
	json.Unmarshal(e.Data, &got)
	if got.Title != "After" || !got.IsStarred {
		t.Fatalf("conversation = %+v, want renamed and starred", got)
	}
	if got.IsArchived {
		t.Fatal("IsArchived flipped by an update that never mentioned it")
	}
}

func TestUpdateMessage_EditAndStar(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	conv := createConversation(t, app, "Edits")

	_, e := request(t, app, "POST",
		"/api/conversations/"+conv.ID.String()+"/messages",
		fiber.Map{"role": models.RoleUser, "content": "tpyo"})
	var msg models.Message
	json.Unmarshal(e.Data, &msg)

	path := "/api/conversations/" + conv.ID.String() + "/messages/" + msg.ID.String() + "?userId=" + testUser
	status, e := request(t, app, "PATCH", path, fiber.Map{"content": "typo", "isStarred": true})
	if status != http.StatusOK || !e.Success {
		t.Fatalf("patch: status %d, envelope %+v", status, e)
	}
	var got models.Message
	json.Unmarshal(e.Data, &got)
	if got.Content != "typo" || !got.IsStarred {
		t.Fatalf("message = %+v, want edited and starred", got)
	}

	status, e = request(t, app, "PATCH", path, fiber.Map{})
	if status != http.StatusBadRequest {
		t.Fatalf("empty patch: status %d, want 400", status)
	}
}

func TestUserStats_RouteNotShadowedByID(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	createConversation(t, app, "Only one")

	status, e := request(t, app, "GET", "/api/conversations/stats?userId="+testUser, nil)
	if status != http.StatusOK || !e.Success {
		t.Fatalf("stats: status %d, envelope %+v", status, e)
	}
	var stats services.UserUsage
	if err := json.Unmarshal(e.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ConversationCount != 1 {
		t.Fatalf("ConversationCount = %d, want 1", stats.ConversationCount)
	}
}

func TestListConversations_ScopedToUser(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	createConversation(t, app, "Mine")

	status, e := request(t, app, "GET", "/api/conversations?userId=someone-else", nil)
	if status != http.StatusOK || !e.Success {
		t.Fatalf("list: status %d, envelope %+v", status, e)
	}
	var convs []models.Conversation
	json.Unmarshal(e.Data, &convs)
	if len(convs) != 0 {
		t.Fatalf("another user sees %d conversations, want 0", len(convs))
	}

	status, e = request(t, app, "GET", "/api/conversations?userId="+testUser, nil)
	if status != http.StatusOK {
		t.Fatalf("list own: status %d", status)
	}
	convs = nil
	json.Unmarshal(e.Data, &convs)
	if len(convs) != 1 || !strings.EqualFold(convs[0].Title, "Mine") {
		t.Fatalf("own list = %v, want [Mine]", convs)
	}
}
