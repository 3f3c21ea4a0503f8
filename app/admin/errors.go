package admin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrWrongArgumentCount = errors.New("wrong number of arguments")
	ErrNonNumericIndex    = errors.New("not a valid numeric index")
	ErrNotAFeed           = errors.New("URL is not an RSS or Atom feed")
)

// NotAFeedError is returned when a URL does not serve a parsable feed.
// Suggestions holds feed links discovered on the page, if any.
type NotAFeedError struct {
	URL         string
	Suggestions []string
}

func (e *NotAFeedError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("%s: %s", ErrNotAFeed, e.URL)
	}
	return fmt.Sprintf("%s: %s (found %s)", ErrNotAFeed, e.URL, strings.Join(e.Suggestions, ", "))
}

func (e *NotAFeedError) Is(target error) bool {
	return target == ErrNotAFeed
}
