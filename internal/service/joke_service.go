package service

import (
	"context"
	"fmt"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/model"
)

// JokeService serves jokes from the content API
type JokeService struct {
	jokes *client.JokeClient
}

func NewJokeService(jokes *client.JokeClient) *JokeService {
	return &JokeService{jokes: jokes}
}

// Random returns a batch of random jokes
func (s *JokeService) Random(ctx context.Context) ([]model.Joke, error) {
	if s.jokes == nil || !s.jokes.IsConfigured() {
		return mockJokes(), nil
	}

	jokes, err := s.jokes.Random(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch random jokes: %w", err)
	}
	return jokes, nil
}

// Page returns one page of the joke list
func (s *JokeService) Page(ctx context.Context, page int) (*model.JokePage, error) {
	if s.jokes == nil || !s.jokes.IsConfigured() {
		list := mockJokes()
		return &model.JokePage{Page: 1, TotalCount: len(list), TotalPage: 1, Limit: len(list), List: list}, nil
	}

	p, err := s.jokes.Page(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch joke page %d: %w", page, err)
	}
	return p, nil
}

func mockJokes() []model.Joke {
	contents := []string{
		"老板说今天要加班，我说好的。然后我加了个微信好友。",
		"我问朋友借钱，他说没带钱包。我说那你带手机了吗？他说带了，但是手机也没钱。",
		"医生说我需要多运动，于是我每天把手机放在另一个房间。",
	}
	jokes := make([]model.Joke, 0, len(contents))
	for _, c := range contents {
		jokes = append(jokes, model.Joke{ID: client.NewJokeID(), Content: c, UpdateTime: "2024-01-01 00:00:00"})
	}
	return jokes
}
