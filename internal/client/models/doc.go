package models

import (
	"fmt"

	"github.com/dmitrijs2005/deskclient/internal/common"
)

// DocType is the type of every document root.
const DocType = "doc"

// MaxDocDepth bounds nesting so a hostile payload cannot blow the stack.
const MaxDocDepth = 256

// Block is a node of a rich-text tree. Children are held by value, so a
// node exclusively owns its content and cycles cannot be represented.
type Block struct {
	Type    string  `json:"type"`
	Content []Block `json:"content,omitempty"`
}

// Doc is the root of a rich-text document as exchanged with the API and
// the editor. Block type semantics belong to the editor.
type Doc struct {
	Type    string  `json:"type"`
	Content []Block `json:"content"`
}

// NewDoc returns an empty document root.
func NewDoc(blocks ...Block) Doc {
	if blocks == nil {
		blocks = []Block{}
	}
	return Doc{Type: DocType, Content: blocks}
}

// Validate checks the tree shape only: the root type and that every block
// names a type, within MaxDocDepth.
func (d Doc) Validate() error {
	if d.Type != DocType {
		return fmt.Errorf("%w: root type %q", common.ErrMalformedDoc, d.Type)
	}
	return validateBlocks(d.Content, 1)
}

func validateBlocks(blocks []Block, depth int) error {
	if depth > MaxDocDepth {
		return fmt.Errorf("%w: nesting deeper than %d", common.ErrMalformedDoc, MaxDocDepth)
	}
	for i, b := range blocks {
		if b.Type == "" {
			return fmt.Errorf("%w: block %d at depth %d has no type", common.ErrMalformedDoc, i, depth)
		}
		if err := validateBlocks(b.Content, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// CountBlocks returns the number of blocks below the root.
func (d Doc) CountBlocks() int {
	return countBlocks(d.Content)
}

func countBlocks(blocks []Block) int {
	n := len(blocks)
	for _, b := range blocks {
		n += countBlocks(b.Content)
	}
	return n
}
