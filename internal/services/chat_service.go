// internal/services/chat_service.go
package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Corphon/ChronoAtlas/internal/llm"
	"github.com/Corphon/ChronoAtlas/internal/models"
	"github.com/Corphon/ChronoAtlas/internal/utils"
)

const stageChat = "chat"

// ChatService 历史学家角色对话
type ChatService struct {
	llm     *LLMService
	metrics *utils.PipelineMetrics
}

// NewChatService 创建对话服务
func NewChatService(llmService *LLMService, metrics *utils.PipelineMetrics) *ChatService {
	if metrics == nil {
		metrics = utils.NewPipelineMetrics(nil)
	}
	return &ChatService{llm: llmService, metrics: metrics}
}

// SendChatMessage 返回向导的回复；失败时返回演示模式回复而不是错误
func (s *ChatService) SendChatMessage(ctx context.Context, history []models.ChatMessage, message string, chatContext models.ChatContext) string {
	start := time.Now()

	turns := make([]llm.ChatTurn, 0, len(history))
	for _, msg := range history {
		role := string(models.ChatRoleUser)
		if msg.Role == models.ChatRoleModel {
			role = string(models.ChatRoleModel)
		}
		turns = append(turns, llm.ChatTurn{Role: role, Text: msg.Text})
	}

	resp, err := s.llm.Provider().Chat(ctx, llm.ChatRequest{
		SystemPrompt: chatSystemPrompt(chatContext),
		Model:        s.llm.Models().Chat,
		History:      turns,
		Message:      message,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		utils.GetLogger().Warn("chat failed, replying in demo mode",
			zap.String("location", chatContext.Location),
			zap.Error(err))
		s.metrics.RecordStage(stageChat, true, time.Since(start))
		return chatDemoModeReply
	}

	s.metrics.RecordStage(stageChat, false, time.Since(start))
	return resp.Text
}
