package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/newsdesk/internal/config"
	"github.com/zhouzirui/newsdesk/internal/model/chat"
)

// Service 将聊天模型包装进新闻问答的提示词链。
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	template  PromptTemplate
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
	now       func() time.Time
}

// Option 用于定制 Service。
type Option func(*Service)

// WithLogger 设置生成过程的诊断日志。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPromptTemplate 替换默认的新闻助手提示词。
func WithPromptTemplate(template PromptTemplate) Option {
	return func(s *Service) {
		s.template = template
	}
}

// NewService 创建基于 Ark 的模型并编译调用链。
func NewService(ctx context.Context, cfg config.AIConfig, opts ...Option) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg, opts...)
}

// NewServiceWithModel 基于已有模型编译调用链。
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, cfg config.AIConfig, opts ...Option) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}\n\nRelated news articles:\n{context}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	s := &Service{
		chatModel: chatModel,
		cfg:       cfg,
		template:  DefaultPromptTemplate(),
		chain:     runnable,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateResponse 基于会话历史和检索到的新闻回答问题。
func (s *Service) GenerateResponse(ctx context.Context, sessionID string, history []chat.Message, articles []chat.Article, query string) (*schema.Message, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(history, articles, query))
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.Debug("generated response",
		zap.String("session", sessionID),
		zap.Int("history", len(history)),
		zap.Int("articles", len(articles)),
		zap.Int("length", len(response.Content)),
	)
	return response, nil
}

// StreamResponse 通过配置的链流式返回 AI 响应片段。
func (s *Service) StreamResponse(ctx context.Context, history []chat.Message, articles []chat.Article, query string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(history, articles, query))
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(history []chat.Message, articles []chat.Article, query string) map[string]any {
	return map[string]any{
		"system":  s.template.BuildSystemPrompt(s.now()),
		"context": BuildArticleContext(articles),
		"history": buildHistoryMessages(history, s.cfg.HistoryLimit),
		"query":   query,
	}
}

// buildHistoryMessages 保留最近 limit 条已送达消息，失败的回合不会发送给模型。
func buildHistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if limit <= 0 || len(messages) == 0 {
		return nil
	}

	delivered := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if !msg.Failed() {
			delivered = append(delivered, msg)
		}
	}

	if len(delivered) > limit {
		delivered = delivered[len(delivered)-limit:]
	}

	history := make([]*schema.Message, 0, len(delivered))
	for _, msg := range delivered {
		switch msg.Author {
		case chat.AuthorUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.AuthorAgent:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
