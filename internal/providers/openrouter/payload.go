package openrouter

// ChatPayload is the chat completion request body sent to the aggregator.
type ChatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []ContentPart for multimodal
}

type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// BuildMessages creates the single user turn, multimodal when an image is given.
func BuildMessages(prompt, imageURL string) []Message {
	if imageURL == "" {
		return []Message{{Role: "user", Content: prompt}}
	}
	return []Message{{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
		},
	}}
}

// WithModel returns a copy of the payload targeting model.
func (p ChatPayload) WithModel(model string) ChatPayload {
	p.Model = model
	return p
}
