package services

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/kha1dx/clarityai/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPerConversation_EmptyReturnsZeros(t *testing.T) {
	db := openTestDB(t)
	svc := NewConversationService(db)
	usage := NewUsageService(db)

	conv, _ := svc.Create(owner, "Empty", "")

	got, err := usage.PerConversation(conv.ID, owner)
	if err != nil {
		t.Fatalf("PerConversation() error = %v", err)
	}
	if got.TotalTokens != 0 || got.TotalCost != 0 || got.MessageCount != 0 {
		t.Fatalf("totals = %+v, want all zero", got)
	}
	if math.IsNaN(got.AvgTokensPerMsg) || math.IsInf(got.AvgTokensPerMsg, 0) {
		t.Fatalf("AvgTokensPerMsg = %v, want 0 not NaN/Inf", got.AvgTokensPerMsg)
	}
	if got.AvgTokensPerMsg != 0 || got.AvgCostPerMsg != 0 {
		t.Fatalf("averages = (%v, %v), want (0, 0)", got.AvgTokensPerMsg, got.AvgCostPerMsg)
	}
}

func TestPerConversation_EndToEnd(t *testing.T) {
	db := openTestDB(t)
	svc := NewConversationService(db)
	usage := NewUsageService(db)

	conv, err := svc.Create("U", "Demo", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.AppendMessage(conv.ID, models.RoleUser, "Hello", 5, 0.001); err != nil {
		t.Fatalf("AppendMessage(user) error = %v", err)
	}
	if _, err := svc.AppendMessage(conv.ID, models.RoleAssistant, "Hi there", 8, 0.002); err != nil {
		t.Fatalf("AppendMessage(assistant) error = %v", err)
	}

	got, err := usage.PerConversation(conv.ID, "U")
	if err != nil {
		t.Fatalf("PerConversation() error = %v", err)
	}
	if got.TotalTokens != 13 {
		t.Errorf("TotalTokens = %d, want 13", got.TotalTokens)
	}
	if !almostEqual(got.TotalCost, 0.003) {
		t.Errorf("TotalCost = %v, want 0.003", got.TotalCost)
	}
	if got.UserMessages != 1 || got.AssistantMessages != 1 {
		t.Errorf("role counts = (%d, %d), want (1, 1)", got.UserMessages, got.AssistantMessages)
	}
	if !almostEqual(got.AvgTokensPerMsg, 6.5) {
		t.Errorf("AvgTokensPerMsg = %v, want 6.5", got.AvgTokensPerMsg)
	}
}

func TestPerConversation_NotFound(t *testing.T) {
	db := openTestDB(t)
	usage := NewUsageService(db)

	if _, err := usage.PerConversation(uuid.New(), owner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("PerConversation(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestAnalyticsGoneAfterDelete(t *testing.T) {
	db := openTestDB(t)
	svc := NewConversationService(db)
	usage := NewUsageService(db)

	conv, _ := svc.Create(owner, "Short-lived", "")
	svc.AppendMessage(conv.ID, models.RoleUser, "hi", 1, 0)

	if err := svc.Delete(conv.ID, owner); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := usage.PerConversation(conv.ID, owner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("analytics after delete error = %v, want ErrNotFound", err)
	}
}

func TestPerUser_ZeroConversations(t *testing.T) {
	db := openTestDB(t)
	usage := NewUsageService(db)

	got, err := usage.PerUser("nobody")
	if err != nil {
		t.Fatalf("PerUser() error = %v", err)
	}
	if got.ConversationCount != 0 || got.TotalMessages != 0 || got.TotalTokens != 0 {
		t.Fatalf("PerUser(nobody) = %+v, want zeroed structure", got)
	}
	if got.TopTags == nil || len(got.TopTags) != 0 {
		t.Fatalf("TopTags = %v, want empty non-nil slice", got.TopTags)
	}
}

func TestPerUser_Rollup(t *testing.T) {
	db := openTestDB(t)
	svc := NewConversationService(db)
	usage := NewUsageService(db)

	a, _ := svc.Create(owner, "First", "")
	b, _ := svc.Create(owner, "Second", "")
	c, _ := svc.Create(owner, "Third", "")

	svc.SetStarred(a.ID, owner, true)
	svc.SetArchived(b.ID, owner, true)

	// "review" appears in all three, "draft" and "idea" once each. The tie
	// between "draft" and "idea" resolves by first-seen order.
	svc.SetTags(a.ID, owner, []string{"review", "draft", "idea"})
	svc.SetTags(b.ID, owner, []string{"review"})
	svc.SetTags(c.ID, owner, []string{"review"})

	svc.AppendMessage(a.ID, models.RoleUser, "q", 10, 0.01)
	svc.AppendMessage(a.ID, models.RoleAssistant, "a", 20, 0.02)
	svc.AppendMessage(b.ID, models.RoleUser, "q2", 5, 0.005)

	got, err := usage.PerUser(owner)
	if err != nil {
		t.Fatalf("PerUser() error = %v", err)
	}

	if got.ConversationCount != 3 {
		t.Errorf("ConversationCount = %d, want 3", got.ConversationCount)
	}
	if got.StarredConversations != 1 || got.ArchivedConversations != 1 {
		t.Errorf("starred/archived = (%d, %d), want (1, 1)", got.StarredConversations, got.ArchivedConversations)
	}
	if got.TotalMessages != 3 || got.TotalTokens != 35 {
		t.Errorf("messages/tokens = (%d, %d), want (3, 35)", got.TotalMessages, got.TotalTokens)
	}
	if !almostEqual(got.TotalCost, 0.035) {
		t.Errorf("TotalCost = %v, want 0.035", got.TotalCost)
	}

	wantTags := []TagCount{{"review", 3}, {"draft", 1}, {"idea", 1}}
	if len(got.TopTags) != len(wantTags) {
		t.Fatalf("TopTags = %v, want %v", got.TopTags, wantTags)
	}
	for i, want := range wantTags {
		if got.TopTags[i] != want {
			t.Errorf("TopTags[%d] = %v, want %v (desc, first-seen ties)", i, got.TopTags[i], want)
		}
	}
}
