package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/model"
)

// jokeDateLayout matches the date format jokes from the content API use
const jokeDateLayout = "2006/1/2"

// AIService runs the text embellishments and cold joke generation on the
// Zhipu chat model
type AIService struct {
	zhipu  *client.ZhipuClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewAIService creates a new AI service. Without a configured client every
// method answers with canned content.
func NewAIService(zhipu *client.ZhipuClient, logger zerolog.Logger) *AIService {
	return &AIService{
		zhipu:  zhipu,
		logger: logger.With().Str("component", "ai").Logger(),
		now:    time.Now,
	}
}

// IsConfigured reports whether a real model backs the service
func (s *AIService) IsConfigured() bool {
	return s.zhipu != nil && s.zhipu.IsConfigured()
}

// Generate runs one text action on a joke
func (s *AIService) Generate(ctx context.Context, req *model.AIGenerateRequest) (*model.AIGenerateResponse, error) {
	prompt, err := buildActionPrompt(req.Type, req.Content, req.Style)
	if err != nil {
		return nil, err
	}

	if !s.IsConfigured() {
		return &model.AIGenerateResponse{Type: req.Type, Result: mockActionResult(req.Type, req.Content)}, nil
	}

	result, err := s.zhipu.ChatCompletion(ctx, prompt, client.DefaultChatOptions)
	if err != nil {
		return nil, fmt.Errorf("AI generation failed: %w", err)
	}

	return &model.AIGenerateResponse{Type: req.Type, Result: result}, nil
}

// ImagePrompt describes the picture to draw for a joke. The cold style asks
// for the black and orange text card look.
func (s *AIService) ImagePrompt(ctx context.Context, content, style string) (string, error) {
	action := model.AIActionImage
	if style == "cold" {
		action = model.AIActionColdImage
	}
	resp, err := s.Generate(ctx, &model.AIGenerateRequest{Type: action, Content: content})
	if err != nil {
		return "", err
	}
	if resp.Result == "" {
		return "", fmt.Errorf("empty image description")
	}
	return resp.Result, nil
}

// ColdJoke generates a single cold joke
func (s *AIService) ColdJoke(ctx context.Context) ([]model.Joke, error) {
	if !s.IsConfigured() {
		return s.toJokes(mockColdJokes[:1]), nil
	}

	content, err := s.zhipu.ChatCompletion(ctx, buildColdJokePrompt(), coldJokeOptions)
	if err != nil {
		return nil, fmt.Errorf("cold joke generation failed: %w", err)
	}
	if content == "" {
		return nil, fmt.Errorf("cold joke generation returned nothing")
	}

	return s.toJokes([]string{content}), nil
}

// ColdJokes generates a page of cold jokes. Pages are generated fresh, so
// there is always exactly one.
func (s *AIService) ColdJokes(ctx context.Context, page int) (*model.JokePage, error) {
	if page < 1 {
		page = 1
	}

	var contents []string
	if !s.IsConfigured() {
		contents = mockColdJokes
	} else {
		reply, err := s.zhipu.ChatCompletion(ctx, buildColdJokeListPrompt(coldJokePageSize), coldJokeListOptions)
		if err != nil {
			return nil, fmt.Errorf("cold joke generation failed: %w", err)
		}
		contents = splitJokes(reply, coldJokeSeparator, coldJokePageSize)
	}

	jokes := s.toJokes(contents)
	return &model.JokePage{
		Page:       page,
		TotalCount: len(jokes),
		TotalPage:  1,
		Limit:      coldJokePageSize,
		List:       jokes,
	}, nil
}

// SimilarColdJokes generates cold jokes in the style of content
func (s *AIService) SimilarColdJokes(ctx context.Context, content string) ([]model.Joke, error) {
	if !s.IsConfigured() {
		return s.toJokes(mockColdJokes), nil
	}

	reply, err := s.zhipu.ChatCompletion(ctx, buildSimilarColdJokePrompt(content, similarColdJokeSize), similarColdJokeOptions)
	if err != nil {
		return nil, fmt.Errorf("similar joke generation failed: %w", err)
	}

	return s.toJokes(splitJokes(reply, "\n", similarColdJokeSize)), nil
}

func (s *AIService) toJokes(contents []string) []model.Joke {
	today := s.now().Format(jokeDateLayout)
	jokes := make([]model.Joke, 0, len(contents))
	for _, c := range contents {
		jokes = append(jokes, model.Joke{
			ID:         client.NewJokeID(),
			Content:    c,
			UpdateTime: today,
		})
	}
	return jokes
}

var mockColdJokes = []string{
	"制定了plan，因为lan。完成了个p。",
	"什么动物生气时最安静？大猩猩，因为敲咪咪。",
	"小鸡、小鸭、小鹅打球，谁最容易被砸？小鸭，因为duck不避。",
	"为什么橙子怕蘑菇？菌要橙死，橙不得不死。",
	"绿豆鲨吃了绿豆，变成了绿豆沙。",
}

func mockActionResult(action model.AIActionType, content string) string {
	switch action {
	case model.AIActionContinue:
		return content + "\n后来，他再也没有讲过这个笑话。"
	case model.AIActionRewrite:
		return "据说，" + content
	case model.AIActionRoast:
		return "这个段子的笑点，和我的工资一样难找。"
	case model.AIActionSimilar:
		return "谐音梗，职场日常，冷知识"
	case model.AIActionImage:
		return "简约文字卡片，白底黑字，一个无奈的表情包"
	case model.AIActionColdImage:
		return "纯黑背景，橙色大字，极简排版"
	case model.AIActionMoments:
		return "今天的快乐来自这个段子，不接受反驳。"
	}
	return content
}
