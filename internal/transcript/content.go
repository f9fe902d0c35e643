package transcript

import (
	"bytes"
	"encoding/json"
)

// ///////////////////////////////////////////////
// Content Blocks
// ///////////////////////////////////////////////

// BlockKind identifies a structured content block.
type BlockKind int

const (
	BlockOther BlockKind = iota
	BlockText
	BlockToolUse
	BlockToolResult
	BlockThinking
)

// String returns the wire name of the block kind.
func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockToolUse:
		return "tool_use"
	case BlockToolResult:
		return "tool_result"
	case BlockThinking:
		return "thinking"
	default:
		return "other"
	}
}

// Block is one element of an array-valued message content.
type Block struct {
	// Kind is the decoded block type; unknown or malformed blocks are BlockOther.
	Kind BlockKind
	// Text is the block's "text" field, if any.
	Text string
	// Name is the tool name for tool_use blocks.
	Name string
}

// rawBlock is the subset of block fields the parser reads.
type rawBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// decodeBlock decodes a single block field by field. Anything that is not an
// object with a string type becomes a BlockOther.
func decodeBlock(raw json.RawMessage) Block {
	var rb rawBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return Block{Kind: BlockOther}
	}
	b := Block{Text: rb.Text, Name: rb.Name}
	switch rb.Type {
	case "text":
		b.Kind = BlockText
	case "tool_use", "server_tool_use":
		b.Kind = BlockToolUse
	case "tool_result":
		b.Kind = BlockToolResult
	case "thinking", "redacted_thinking":
		b.Kind = BlockThinking
	default:
		b.Kind = BlockOther
	}
	return b
}

// ///////////////////////////////////////////////
// Content
// ///////////////////////////////////////////////

// Content is a message body: either a plain string or an array of blocks.
type Content struct {
	// Text is set when the content was a JSON string.
	Text string
	// Blocks is set when the content was a JSON array.
	Blocks []Block
	// IsArray records which of the two shapes was decoded.
	IsArray bool
}

// UnmarshalJSON accepts a string, an array, or null. Other shapes decode to
// an empty Content rather than failing the whole line.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &c.Text)
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return err
		}
		c.IsArray = true
		c.Blocks = make([]Block, 0, len(raws))
		for _, r := range raws {
			c.Blocks = append(c.Blocks, decodeBlock(r))
		}
	}
	return nil
}

// Empty reports whether the content carries nothing at all.
func (c Content) Empty() bool {
	if c.IsArray {
		return len(c.Blocks) == 0
	}
	return c.Text == ""
}

// ThinkingOnly reports whether the content is a non-empty array made up
// solely of reasoning blocks.
func (c Content) ThinkingOnly() bool {
	if !c.IsArray || len(c.Blocks) == 0 {
		return false
	}
	for _, b := range c.Blocks {
		if b.Kind != BlockThinking {
			return false
		}
	}
	return true
}

// Has reports whether any block is of kind k.
func (c Content) Has(k BlockKind) bool {
	for _, b := range c.Blocks {
		if b.Kind == k {
			return true
		}
	}
	return false
}

// PrimaryText returns the string content, or the first non-empty block
// "text" field for array content.
func (c Content) PrimaryText() string {
	if !c.IsArray {
		return c.Text
	}
	for _, b := range c.Blocks {
		if b.Text != "" {
			return b.Text
		}
	}
	return ""
}
