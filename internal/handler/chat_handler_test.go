package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/mosaic/internal/chat"
	"github.com/hitoshi/mosaic/internal/model"
)

func TestChatHandler_Start_ReturnsCanonicalChat(t *testing.T) {
	h := NewChatHandler(&mockChatService{})

	req := httptest.NewRequest(http.MethodPost, "/chats/"+testPeerID+"/start", nil)
	req = withURLParams(jsonRequest(withIdentity(req, testIdentity())), "peer", testPeerID)
	w := httptest.NewRecorder()
	h.Start(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, sort.StringsAreSorted(body.Participants[:]), "participants must be in canonical order")
	assert.ElementsMatch(t, []string{testUserID, testPeerID}, body.Participants[:])
}

func TestChatHandler_Start_RedirectsToThread(t *testing.T) {
	h := NewChatHandler(&mockChatService{})

	req := httptest.NewRequest(http.MethodPost, "/chats/"+testPeerID+"/start", nil)
	req = withURLParams(withIdentity(req, testIdentity()), "peer", testPeerID)
	w := httptest.NewRecorder()
	h.Start(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/chats/"+testPeerID, w.Header().Get("Location"))
}

func TestChatHandler_NotMutualFollowersIsForbidden(t *testing.T) {
	svc := &mockChatService{
		startFn: func(context.Context, string, string) (*model.Chat, error) {
			return nil, model.NewNotMutualFollowersError()
		},
		sendFn: func(context.Context, string, string, string) (*model.Message, error) {
			return nil, model.NewNotMutualFollowersError()
		},
	}
	h := NewChatHandler(svc)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		body    url.Values
	}{
		{"start", h.Start, nil},
		{"thread", h.Thread, nil},
		{"send", h.Send, url.Values{"text": {"hi"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := formRequest(http.MethodPost, "/chats/"+testPeerID, tt.body)
			req = withURLParams(withIdentity(req, testIdentity()), "peer", testPeerID)
			w := httptest.NewRecorder()
			tt.handler(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, model.ErrCodeNotMutualFollowers, decodeErrorCode(t, w))
		})
	}
}

func TestChatHandler_Thread_ReturnsMessagesInOrder(t *testing.T) {
	t0 := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockChatService{
		threadFn: func(_ context.Context, userID, peerID string) (*chat.Thread, error) {
			low, high := model.CanonicalPair(userID, peerID)
			return &chat.Thread{
				Chat: &model.Chat{ID: "chat-1", ParticipantA: low, ParticipantB: high},
				Peer: &model.UserSummary{ID: peerID, Username: "bob"},
				Messages: []model.Message{
					{ID: "m1", SenderID: userID, Text: "hi", CreatedAt: t0},
					{ID: "m2", SenderID: peerID, Text: "hello", CreatedAt: t0.Add(time.Second)},
				},
			}, nil
		},
	}
	h := NewChatHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/chats/"+testPeerID, nil)
	req = withURLParams(withIdentity(req, testIdentity()), "peer", testPeerID)
	w := httptest.NewRecorder()
	h.Thread(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body threadResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "m1", body.Messages[0].ID)
	assert.Equal(t, "m2", body.Messages[1].ID)
	assert.Equal(t, "bob", body.Peer.Username)
}

func TestChatHandler_Send(t *testing.T) {
	var gotText string
	svc := &mockChatService{
		sendFn: func(_ context.Context, userID, peerID, text string) (*model.Message, error) {
			gotText = text
			return &model.Message{ID: "m1", ChatID: "chat-1", SenderID: userID, RecipientID: peerID, Text: text}, nil
		},
	}
	h := NewChatHandler(svc)

	req := jsonRequest(formRequest(http.MethodPost, "/chats/"+testPeerID+"/messages", url.Values{"text": {"hello"}}))
	req = withURLParams(withIdentity(req, testIdentity()), "peer", testPeerID)
	w := httptest.NewRecorder()
	h.Send(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "hello", gotText)
	var body MessageResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, testUserID, body.SenderID)
	assert.Equal(t, testPeerID, body.RecipientID)
}

func TestChatHandler_Send_EmptyText(t *testing.T) {
	svc := &mockChatService{
		sendFn: func(context.Context, string, string, string) (*model.Message, error) {
			return nil, model.NewEmptyTextError("メッセージ")
		},
	}
	h := NewChatHandler(svc)

	req := formRequest(http.MethodPost, "/chats/"+testPeerID+"/messages", url.Values{"text": {"  "}})
	req = withURLParams(withIdentity(req, testIdentity()), "peer", testPeerID)
	w := httptest.NewRecorder()
	h.Send(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatHandler_List_WithPreview(t *testing.T) {
	svc := &mockChatService{
		listFn: func(context.Context, string) ([]model.ChatPreview, error) {
			return []model.ChatPreview{
				{
					Chat:        model.Chat{ID: "chat-1", ParticipantA: testUserID, ParticipantB: testPeerID},
					Peer:        &model.UserSummary{ID: testPeerID, Username: "bob"},
					LastMessage: &model.Message{ID: "m9", Text: "latest"},
				},
				{
					Chat: model.Chat{ID: "chat-2", ParticipantA: testUserID, ParticipantB: testOtherID},
				},
			}, nil
		},
	}
	h := NewChatHandler(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/chats", nil), testIdentity())
	w := httptest.NewRecorder()
	h.List(w, req)

	var body []ChatPreviewResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body, 2)
	require.NotNil(t, body[0].LastMessage)
	assert.Equal(t, "latest", body[0].LastMessage.Text)
	assert.Nil(t, body[1].LastMessage)
}

func TestChatHandler_InvalidPeerID(t *testing.T) {
	h := NewChatHandler(&mockChatService{})

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/chats/nope", nil), "peer", "nope")
	w := httptest.NewRecorder()
	h.Thread(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
