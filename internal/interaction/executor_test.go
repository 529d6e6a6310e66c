// File: internal/interaction/executor_test.go
package interaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/threadweaver/internal/activation"
	"github.com/xkilldash9x/threadweaver/internal/adapter"
	"github.com/xkilldash9x/threadweaver/internal/config"
	"github.com/xkilldash9x/threadweaver/internal/reaction"
	"github.com/xkilldash9x/threadweaver/internal/surface"
	"github.com/xkilldash9x/threadweaver/internal/surface/surfacetest"
)

var selectors = config.SelectorsConfig{
	CommentItem:            "comment",
	CommentText:            "comment-text",
	CommentBox:             "comment-box",
	SubmitButton:           "",
	ReplyButton:            "reply",
	ReplyBox:               "reply-box",
	ExpandMore:             "more",
	PostReaction:           "post-like",
	ReactionStateAttribute: "aria-label",
	ReactionActiveTemplates: []string{
		"Remove %s",
	},
}

type fixture struct {
	page *surfacetest.Page
	exec *Executor
}

func newFixture(t *testing.T, sel config.SelectorsConfig, nodes ...*surfacetest.Node) *fixture {
	t.Helper()
	page := surfacetest.NewPage(nodes...)
	logger := zaptest.NewLogger(t)
	act := activation.New(logger, page, nil)
	ad := adapter.New(logger, act, sel, 30*time.Millisecond)
	machine := reaction.NewMachine(logger, ad, nil)
	return &fixture{page: page, exec: NewExecutor(logger, act, ad, machine, nil, 60*time.Millisecond)}
}

var seq int

// commentItem builds a rendered comment with a body and a reply control.
func commentItem(text string) *surfacetest.Node {
	seq++
	id := fmt.Sprintf("c%d", seq)
	return surfacetest.El(id, "", "comment").Append(
		surfacetest.El(id+"-body", text, "comment-text"),
		surfacetest.El(id+"-reply", "Reply", "reply"),
	)
}

// postingBox returns an input that renders its value as a new comment on Enter.
func postingBox(id, selector string) *surfacetest.Node {
	box := surfacetest.El(id, "", selector)
	box.OnEnter = func(p *surfacetest.Page, n *surfacetest.Node) {
		p.Add(commentItem(n.Value))
	}
	return box
}

func TestExecuteComment(t *testing.T) {
	ctx := context.Background()

	t.Run("typed text appears and is confirmed", func(t *testing.T) {
		f := newFixture(t, selectors, commentItem("existing"), postingBox("box", "comment-box"))

		res := f.exec.Execute(ctx, Comment{Text: "Nice shot!"})
		require.True(t, res.Succeeded, res.Reason)
		assert.Equal(t, "comment", res.Command)
		assert.Contains(t, f.page.ActionLog(), "type box")
		assert.Contains(t, f.page.ActionLog(), "enter box")
	})

	t.Run("multi-line text is typed whole and submitted once", func(t *testing.T) {
		box := postingBox("box", "comment-box")
		f := newFixture(t, selectors, box)

		res := f.exec.Execute(ctx, Comment{Text: "first line\nsecond line"})
		require.True(t, res.Succeeded, res.Reason)
		assert.Equal(t, "first line\nsecond line", box.Value)
		enters := 0
		for _, a := range f.page.ActionLog() {
			if a == "enter box" {
				enters++
			}
		}
		assert.Equal(t, 1, enters)
	})

	t.Run("submission that never renders is unconfirmed", func(t *testing.T) {
		f := newFixture(t, selectors, surfacetest.El("box", "", "comment-box"))

		res := f.exec.Execute(ctx, Comment{Text: "lost"})
		assert.False(t, res.Succeeded)
		assert.Equal(t, ReasonNotConfirmed, res.Reason)
	})

	t.Run("missing composer is reported", func(t *testing.T) {
		f := newFixture(t, selectors)
		res := f.exec.Execute(ctx, Comment{Text: "x"})
		assert.False(t, res.Succeeded)
		assert.Equal(t, ReasonComposerMissing, res.Reason)
		assert.Equal(t, surface.ErrNotFound.Error(), res.Detail)
	})

	t.Run("configured submit button is clicked instead of enter", func(t *testing.T) {
		sel := selectors
		sel.SubmitButton = "send"
		box := surfacetest.El("box", "", "comment-box")
		send := surfacetest.El("send", "Send", "send")
		f := newFixture(t, sel, box, send)
		send.OnClick = func(p *surfacetest.Page, n *surfacetest.Node) error {
			p.Add(commentItem(box.Value))
			return nil
		}

		res := f.exec.Execute(ctx, Comment{Text: "via button"})
		require.True(t, res.Succeeded, res.Reason)
		assert.NotContains(t, f.page.ActionLog(), "enter box")
		assert.Contains(t, f.page.ActionLog(), "click send")
	})

	t.Run("composer that refuses clicks is focused directly", func(t *testing.T) {
		box := postingBox("box", "comment-box")
		box.ClickErr = fmt.Errorf("intercepted")
		f := newFixture(t, selectors, box)

		res := f.exec.Execute(ctx, Comment{Text: "focused anyway"})
		require.True(t, res.Succeeded, res.Reason)
		assert.Contains(t, f.page.ActionLog(), "script-click box")
	})
}

func TestExecuteReply(t *testing.T) {
	ctx := context.Background()

	openOnClick := func(parent *surfacetest.Node) func(*surfacetest.Page, *surfacetest.Node) error {
		return func(p *surfacetest.Page, n *surfacetest.Node) error {
			parent.Append(postingBox(parent.ID+"-box", "reply-box"))
			return nil
		}
	}

	t.Run("reply opens the nested box and is confirmed", func(t *testing.T) {
		parent := commentItem("Parent text")
		parent.Children[1].OnClick = openOnClick(parent)
		f := newFixture(t, selectors, parent)

		res := f.exec.Execute(ctx, Reply{Parent: parent, Text: "child text"})
		require.True(t, res.Succeeded, res.Reason)
		assert.Equal(t, "reply", res.Command)
	})

	t.Run("script click opens the box when the native click does nothing", func(t *testing.T) {
		parent := commentItem("Parent text")
		trigger := parent.Children[1]
		trigger.OnClick = func(*surfacetest.Page, *surfacetest.Node) error { return nil }
		trigger.OnScriptClick = openOnClick(parent)
		f := newFixture(t, selectors, parent)

		res := f.exec.Execute(ctx, Reply{Parent: parent, Text: "child"})
		require.True(t, res.Succeeded, res.Reason)
		log := f.page.ActionLog()
		assert.Contains(t, log, "click "+trigger.ID)
		assert.Contains(t, log, "script-click "+trigger.ID)
	})

	t.Run("stale parent is reported as such", func(t *testing.T) {
		parent := commentItem("Parent text")
		f := newFixture(t, selectors, parent)
		parent.Remove()

		res := f.exec.Execute(ctx, Reply{Parent: parent, Text: "child"})
		assert.False(t, res.Succeeded)
		assert.Equal(t, ReasonParentStale, res.Reason)
	})

	t.Run("reply box that never opens is reported", func(t *testing.T) {
		parent := commentItem("Parent text")
		f := newFixture(t, selectors, parent)

		res := f.exec.Execute(ctx, Reply{Parent: parent, Text: "child"})
		assert.False(t, res.Succeeded)
		assert.Equal(t, ReasonReplyNotOpened, res.Reason)
		assert.NotEmpty(t, res.Detail)
	})
}

func TestExecuteTabsAndLike(t *testing.T) {
	ctx := context.Background()

	t.Run("tabs are opened and closed", func(t *testing.T) {
		f := newFixture(t, selectors)
		require.True(t, f.exec.Execute(ctx, OpenTab{URL: "https://example.test/p/1"}).Succeeded)
		require.True(t, f.exec.Execute(ctx, CloseTab{}).Succeeded)
		assert.Equal(t, []string{"https://example.test/p/1"}, f.page.OpenedTabs)
		assert.Equal(t, 1, f.page.ClosedTabs)
	})

	t.Run("tab failure is reported", func(t *testing.T) {
		f := newFixture(t, selectors)
		f.page.OpenTabErr = fmt.Errorf("target closed")
		res := f.exec.Execute(ctx, OpenTab{URL: "https://example.test"})
		assert.False(t, res.Succeeded)
		assert.Equal(t, ReasonTabFailed, res.Reason)
		assert.Equal(t, "target closed", res.Detail)
	})

	t.Run("like delegates to the reaction machine", func(t *testing.T) {
		trigger := surfacetest.El("post-like", "", "post-like")
		trigger.Attrs["aria-label"] = "Like"
		trigger.OnClick = func(p *surfacetest.Page, n *surfacetest.Node) error {
			n.Attrs["aria-label"] = "Remove Like"
			return nil
		}
		f := newFixture(t, selectors, trigger)

		res := f.exec.Execute(ctx, Like{Kind: "like"})
		require.True(t, res.Succeeded, res.Reason)
		require.NotNil(t, res.Reaction)
		assert.Equal(t, []string{"apply:like"}, res.Reaction.Steps)
	})

	t.Run("nil command is rejected", func(t *testing.T) {
		f := newFixture(t, selectors)
		res := f.exec.Execute(ctx, nil)
		assert.False(t, res.Succeeded)
		assert.Equal(t, ReasonUnknownCommand, res.Reason)
	})
}

func TestExpandAndRender(t *testing.T) {
	ctx := context.Background()
	more := surfacetest.El("more", "View more", "more")
	clicks := 0
	more.OnClick = func(p *surfacetest.Page, n *surfacetest.Node) error {
		clicks++
		p.Add(commentItem(fmt.Sprintf("older %d", clicks)))
		if clicks == 2 {
			n.Hidden = true
		}
		return nil
	}
	f := newFixture(t, selectors, commentItem("newest"), more)

	assert.Equal(t, 2, f.exec.ExpandItems(ctx, 5))

	var texts []string
	for _, it := range f.exec.RenderedItems(ctx) {
		texts = append(texts, it.Text)
	}
	assert.Equal(t, []string{"newest", "older 1", "older 2"}, texts)
	assert.Zero(t, f.exec.ExpandItems(ctx, 0))

}
