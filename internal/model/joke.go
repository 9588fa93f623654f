package model

// Joke is a single joke record from the content source
type Joke struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	UpdateTime string `json:"updateTime"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// JokePage is one page of the paginated joke list
type JokePage struct {
	Page       int    `json:"page"`
	TotalCount int    `json:"totalCount"`
	TotalPage  int    `json:"totalPage"`
	Limit      int    `json:"limit"`
	List       []Joke `json:"list"`
}
