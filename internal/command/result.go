package command

// Kind tags every command outcome so one renderer produces all user-facing
// replies. Rejections of any kind never mutate the ledger.
type Kind int

const (
	KindOK Kind = iota
	KindUsage
	KindPermission
	KindCancelled
	KindTimeout
	KindInternal
)

// Result is a command outcome plus its user-facing text.
type Result struct {
	Kind Kind
	Text string
}

func ok(text string) Result         { return Result{Kind: KindOK, Text: text} }
func usage(text string) Result      { return Result{Kind: KindUsage, Text: text} }
func permission(text string) Result { return Result{Kind: KindPermission, Text: text} }
func internal(text string) Result   { return Result{Kind: KindInternal, Text: text} }

// render turns a result into the reply string. Failures always carry a
// distinct marker so they can never be mistaken for confirmations.
func render(r Result) string {
	switch r.Kind {
	case KindOK:
		return "✅ " + r.Text
	case KindCancelled:
		return "❌ " + r.Text
	case KindTimeout:
		return "⏰ " + r.Text
	case KindUsage, KindPermission, KindInternal:
		return "❌ " + r.Text
	default:
		return r.Text
	}
}
