// File: internal/interaction/command.go
package interaction

import "github.com/xkilldash9x/threadweaver/internal/surface"

// Command is one of Like, Comment, Reply, OpenTab or CloseTab.
type Command interface {
	commandName() string
}

// Like applies a reaction kind to Target, or to the post when Target is nil.
type Like struct {
	Target surface.Element
	Kind   string
}

// Comment posts a top-level comment.
type Comment struct {
	Text string
}

// Reply posts Text as a reply to the Parent item.
type Reply struct {
	Parent surface.Element
	Text   string
}

// OpenTab opens URL in a new tab and makes it current.
type OpenTab struct {
	URL string
}

// CloseTab closes the current tab.
type CloseTab struct{}

func (Like) commandName() string     { return "like" }
func (Comment) commandName() string  { return "comment" }
func (Reply) commandName() string    { return "reply" }
func (OpenTab) commandName() string  { return "open-tab" }
func (CloseTab) commandName() string { return "close-tab" }
