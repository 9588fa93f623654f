package model

// AIActionType selects the text embellishment to run
type AIActionType string

const (
	AIActionContinue  AIActionType = "continue"
	AIActionRewrite   AIActionType = "rewrite"
	AIActionRoast     AIActionType = "roast"
	AIActionSimilar   AIActionType = "similar"
	AIActionImage     AIActionType = "image"
	AIActionMoments   AIActionType = "moments"
	AIActionColdImage AIActionType = "coldImage"
)

// RewriteStyles maps a style key to the style name used in prompts
var RewriteStyles = map[string]string{
	"cold":     "冷幽默",
	"dark":     "黑色幽默",
	"silly":    "沙雕",
	"literary": "文艺",
	"joker":    "脱口秀",
}

// DefaultRewriteStyle is used when no or an unknown style is given
const DefaultRewriteStyle = "冷幽默"

// AIGenerateRequest is the body of POST /api/ai/generate
type AIGenerateRequest struct {
	Type    AIActionType `json:"type" validate:"required,oneof=continue rewrite roast similar image moments coldImage"`
	Content string       `json:"content" validate:"required,max=2000"`
	Style   string       `json:"style" validate:"omitempty,max=32"`
}

// AIGenerateResponse carries generated text
type AIGenerateResponse struct {
	Type   AIActionType `json:"type"`
	Result string       `json:"result"`
}

// ImageRequest is the body of POST /api/ai/image
type ImageRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
	Style   string `json:"style" validate:"omitempty,oneof=cold default"`
}

// ImageResponse is the result of an image generation
type ImageResponse struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt,omitempty"`
	Cached bool   `json:"cached"`
}

// ShareImageRequest is the body of POST /api/ai/share-image
type ShareImageRequest struct {
	Content    string `json:"content" validate:"required,max=2000"`
	URL        string `json:"url" validate:"omitempty,url"`
	ID         string `json:"id" validate:"omitempty,max=64"`
	UpdateTime string `json:"updateTime" validate:"omitempty,max=64"`
}

// ShareImageResponse is a composed share card. QRCodeURL is empty when the
// QR step failed and the raw image is delivered alone.
type ShareImageResponse struct {
	ImageURL  string `json:"imageUrl"`
	QRCodeURL string `json:"qrCodeUrl,omitempty"`
	ShareURL  string `json:"shareUrl"`
	Prompt    string `json:"prompt,omitempty"`
	Cached    bool   `json:"cached"`
}

// GenerationStartRequest is the body of POST /api/generations
type GenerationStartRequest struct {
	Kind     Kind   `json:"kind" validate:"required,oneof=image video shareCard"`
	Content  string `json:"content" validate:"required,max=2000"`
	Style    string `json:"style" validate:"omitempty,max=32"`
	Link     string `json:"link" validate:"omitempty,url"`
	ImageURL string `json:"imageUrl" validate:"omitempty,url"`
	Retry    bool   `json:"retry"`
}

// Params converts the request body to prompt parameters
func (r *GenerationStartRequest) Params() map[string]string {
	params := map[string]string{ParamContent: r.Content}
	if r.Style != "" {
		params[ParamStyle] = r.Style
	}
	if r.Link != "" {
		params[ParamLink] = r.Link
	}
	if r.ImageURL != "" {
		params[ParamImageURL] = r.ImageURL
	}
	return params
}

// GenerationStartResponse is returned when a task is created or served from cache
type GenerationStartResponse struct {
	TaskID      string     `json:"taskId,omitempty"`
	Status      TaskStatus `json:"status"`
	Fingerprint string     `json:"fingerprint"`
	ResultURL   string     `json:"resultUrl,omitempty"`
	Cached      bool       `json:"cached"`
}

// GenerationCancelResponse is returned by the cancel endpoint
type GenerationCancelResponse struct {
	Success bool       `json:"success"`
	TaskID  string     `json:"taskId"`
	Status  TaskStatus `json:"status"`
}

// SimilarColdRequest is the body of POST /api/ai/similar-cold
type SimilarColdRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}
