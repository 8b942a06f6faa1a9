// internal/services/chat_service_test.go
package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/models"
)

func TestSendChatMessage(t *testing.T) {
	provider := &fakeProvider{chatFunc: func(req llm.ChatRequest) (string, error) {
		return "The Colosseum opened in 80 AD.", nil
	}}
	service := NewChatService(NewLLMServiceWithProvider(provider, testModels()), nil)

	history := []models.ChatMessage{
		{Role: models.ChatRoleUser, Text: "Who built it?"},
		{Role: models.ChatRoleModel, Text: "Emperor Vespasian."},
	}
	reply := service.SendChatMessage(context.Background(), history, "When did it open?", models.ChatContext{Location: "Rome"})
	assert.Equal(t, "The Colosseum opened in 80 AD.", reply)

	require.Len(t, provider.chatCalls, 1)
	req := provider.chatCalls[0]
	assert.Equal(t, "chat", req.Model)
	assert.Equal(t, "When did it open?", req.Message)
	assert.Equal(t, []llm.ChatTurn{{Role: "user", Text: "Who built it?"}, {Role: "model", Text: "Emperor Vespasian."}}, req.History)
	assert.Contains(t, req.SystemPrompt, "historian guide for the location: Rome")
	assert.Contains(t, req.SystemPrompt, "Current Era Context: General History.")
}

func TestSendChatMessage_DemoReplyOnFailure(t *testing.T) {
	provider := &fakeProvider{chatFunc: func(req llm.ChatRequest) (string, error) {
		return "", errors.New("503 unavailable")
	}}
	service := NewChatService(NewLLMServiceWithProvider(provider, testModels()), nil)

	reply := service.SendChatMessage(context.Background(), nil, "Hello", models.ChatContext{Location: "Rome", Era: "Medieval Rome"})
	assert.Equal(t, chatDemoModeReply, reply)
	assert.Contains(t, provider.chatCalls[0].SystemPrompt, "Current Era Context: Medieval Rome.")
}
