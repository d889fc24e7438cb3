package agent

import "strings"

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType distinguishes the kind of content a ContentBlock carries.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ImageMediaType enumerates the media types adapters are required to accept
// for image content blocks.
type ImageMediaType string

const (
	ImagePNG  ImageMediaType = "image/png"
	ImageJPEG ImageMediaType = "image/jpeg"
	ImageGIF  ImageMediaType = "image/gif"
	ImageWebP ImageMediaType = "image/webp"
)

// ContentBlock is either a text block or a base64-encoded image block.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text is set when Type == BlockText.
	Text string `json:"text,omitempty"`

	// MediaType and Data are set when Type == BlockImage. Data is the
	// base64-encoded image payload.
	MediaType ImageMediaType `json:"media_type,omitempty"`
	Data      string         `json:"data,omitempty"`
}

// Message is one turn in a conversation sent to a provider.
//
// Invariants (enforced by callers, not by this type): tool messages carry a
// non-empty ToolCallID; assistant messages with ToolCalls may have empty
// Content; system messages are never placed in a provider's turn sequence —
// adapters pull them out into a dedicated system prompt field before wire
// translation.
type Message struct {
	Role Role `json:"role"`

	// Content is either a plain string (Blocks is nil) or an ordered
	// sequence of content blocks.
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`

	// ToolCalls is only meaningful when Role == RoleAssistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is only meaningful when Role == RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is an optional display/function name for the message author.
	Name string `json:"name,omitempty"`
}

// ExtractText concatenates the text of all text blocks, skipping images. If
// the message uses the plain-string form it is returned unchanged.
func (m Message) ExtractText() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}
