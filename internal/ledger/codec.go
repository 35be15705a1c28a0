package ledger

import (
	"regexp"
	"strings"

	"github.com/slipkeeper/slipkeeper/internal/gateway"
)

// CreditMark is the repeated token that encodes one credit period inside a
// ledger message.
const CreditMark = "✅"

const entryPrefix = "👤 Member: "

// The first line of a ledger message must match this grammar exactly.
// Anything else is a foreign message and is never treated as an entry.
var firstLineRe = regexp.MustCompile(`^👤 Member: <@!?(\d+)> :`)

// Encode renders a member's balance as canonical ledger-message text. Suffix
// is any free-form annotation text that followed the first line of a prior
// encoding; it is carried over byte-for-byte so operator notes survive edits.
func Encode(memberID string, credits int, suffix string) string {
	var b strings.Builder
	b.WriteString(entryPrefix)
	b.WriteString(gateway.Mention(memberID))
	b.WriteString(" :")
	for i := 0; i < credits; i++ {
		b.WriteString(" ")
		b.WriteString(CreditMark)
	}
	if suffix != "" {
		b.WriteString("\n")
		b.WriteString(suffix)
	}
	return b.String()
}

// Decode parses ledger-message text. It succeeds only when the first line
// matches the entry grammar; credits is the count of credit marks anywhere in
// the text, and suffix is everything after the first line, unmodified.
// Authorship is not checked here; callers filter to the service account
// before decoding.
func Decode(text string) (memberID string, credits int, suffix string, ok bool) {
	firstLine, rest, _ := strings.Cut(text, "\n")
	m := firstLineRe.FindStringSubmatch(firstLine)
	if m == nil {
		return "", 0, "", false
	}
	return m[1], strings.Count(text, CreditMark), rest, true
}
