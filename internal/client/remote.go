package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kha1dx/clarityai/internal/models"
)

// ChatResult is the server's reply to a chat send: both persisted turns plus
// the conversation as it stands after auto-titling.
type ChatResult struct {
	UserMessage      models.Message      `json:"user_message"`
	AssistantMessage models.Message      `json:"assistant_message"`
	Conversation     models.Conversation `json:"conversation"`
}

// Remote is the lifecycle service as seen from the client. The controller
// only talks to this interface; tests substitute failing implementations.
type Remote interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, []models.Message, error)
	CreateConversation(ctx context.Context, title, category string) (*models.Conversation, error)
	Rename(ctx context.Context, id uuid.UUID, title string) (*models.Conversation, error)
	SetStarred(ctx context.Context, id uuid.UUID, starred bool) (*models.Conversation, error)
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) (*models.Conversation, error)
	SetTags(ctx context.Context, id uuid.UUID, tags []string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	SendMessage(ctx context.Context, id uuid.UUID, text string) (*ChatResult, error)
}

// RemoteError carries the error envelope returned by the server.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPRemote speaks the server's JSON contract over plain HTTP.
type HTTPRemote struct {
	baseURL string
	userID  string
	token   string
	client  *http.Client
}

func NewHTTPRemote(baseURL, userID, token string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		userID:  userID,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// do sends one request and decodes the envelope into out (when non-nil).
func (r *HTTPRemote) do(ctx context.Context, method, path string, body, out interface{}) error {
	u := r.baseURL + path
	if r.token == "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "userId=" + url.QueryEscape(r.userID)
	}

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response %s %s: %w", method, path, err)
	}
	if !env.Success {
		re := &RemoteError{Status: resp.StatusCode, Message: "request failed"}
		if env.Error != nil {
			re.Code = env.Error.Code
			re.Message = env.Error.Message
		}
		return re
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (r *HTTPRemote) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := r.do(ctx, "GET", "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *HTTPRemote) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, []models.Message, error) {
	var data struct {
		Conversation models.Conversation `json:"conversation"`
		Messages     []models.Message    `json:"messages"`
	}
	if err := r.do(ctx, "GET", "/api/conversations/"+id.String(), nil, &data); err != nil {
		return nil, nil, err
	}
	return &data.Conversation, data.Messages, nil
}

func (r *HTTPRemote) CreateConversation(ctx context.Context, title, category string) (*models.Conversation, error) {
	var conv models.Conversation
	body := map[string]string{"title": title, "userId": r.userID}
	if category != "" {
		body["category"] = category
	}
	if err := r.do(ctx, "POST", "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *HTTPRemote) Rename(ctx context.Context, id uuid.UUID, title string) (*models.Conversation, error) {
	var conv models.Conversation
	body := map[string]string{"title": title}
	if err := r.do(ctx, "PUT", "/api/conversations/"+id.String(), body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *HTTPRemote) SetStarred(ctx context.Context, id uuid.UUID, starred bool) (*models.Conversation, error) {
	var conv models.Conversation
	body := map[string]bool{"isStarred": starred}
	if err := r.do(ctx, "POST", "/api/conversations/"+id.String()+"/star", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *HTTPRemote) SetArchived(ctx context.Context, id uuid.UUID, archived bool) (*models.Conversation, error) {
	var conv models.Conversation
	body := map[string]bool{"isArchived": archived}
	if err := r.do(ctx, "POST", "/api/conversations/"+id.String()+"/archive", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *HTTPRemote) SetTags(ctx context.Context, id uuid.UUID, tags []string) (*models.Conversation, error) {
	var conv models.Conversation
	body := map[string][]string{"tags": tags}
	if err := r.do(ctx, "PUT", "/api/conversations/"+id.String()+"/tags", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *HTTPRemote) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	return r.do(ctx, "DELETE", "/api/conversations/"+id.String(), nil, nil)
}

func (r *HTTPRemote) SendMessage(ctx context.Context, id uuid.UUID, text string) (*ChatResult, error) {
	var result ChatResult
	body := map[string]string{"message": text}
	if err := r.do(ctx, "POST", "/api/conversations/"+id.String()+"/chat", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
