package browser

import (
	"context"
	"errors"
	"strconv"
)

// ErrInteractionUnsupported is returned by drivers that can only load
// documents and cannot type into or click on them.
var ErrInteractionUnsupported = errors.New("page driver does not support interaction")

// Page is the browser capability the store adapters and the extractor need.
// Text and Attribute return "" with a nil error when nothing matches the
// selector; errors are reserved for driver failures.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	Count(ctx context.Context, selector string) (int, error)
}

// Session is a page owned by exactly one scraping task.
type Session interface {
	Page
	Close() error
}

type SessionOptions struct {
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string
}

// Launcher opens isolated sessions. Implementations must be safe for
// concurrent use since every store task opens its own session.
type Launcher interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Close() error
}

// Nth scopes a container selector to one position among its siblings.
func Nth(container string, pos int) string {
	return container + ":nth-child(" + strconv.Itoa(pos) + ")"
}

// Within composes a descendant selector under scope. An empty field selector
// means the field is not exposed by the site and yields "".
func Within(scope, field string) string {
	if field == "" {
		return ""
	}
	return scope + " " + field
}
