package line

import (
	"strings"

	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// ErrNoUserID is returned when a push has no explicit recipient and no
// default destination is configured.
var ErrNoUserID = errorsx.New(errorsx.ReasonInvalidArgs,
	"Error: Specify the userId or set the DESTINATION_USER_ID in the environment variables of this MCP Server.")

// Recipient returns the first non-blank candidate, or ErrNoUserID.
func Recipient(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c, nil
		}
	}
	return "", ErrNoUserID
}

// FirstRecipient is Recipient without the error, for optional pushes.
func FirstRecipient(candidates ...string) string {
	to, _ := Recipient(candidates...)
	return to
}
