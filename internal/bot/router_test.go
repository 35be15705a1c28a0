package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slipkeeper/slipkeeper/internal/allocation"
	"github.com/slipkeeper/slipkeeper/internal/gateway"
	"github.com/slipkeeper/slipkeeper/internal/gateway/gatewaytest"
	"github.com/slipkeeper/slipkeeper/internal/slip"
)

const slipChan = "slip-chan"

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubVerifier struct {
	calls int
	v     *slip.Verification
	err   error
}

func (s *stubVerifier) Verify(_ context.Context, _ []byte, _, _ string) (*slip.Verification, error) {
	s.calls++
	return s.v, s.err
}

type stubAllocator struct {
	started  []string
	consumed bool
	pending  bool
}

func (s *stubAllocator) Start(_ context.Context, payer, _ string, _ *slip.Verification, _ float64) error {
	s.started = append(s.started, payer)
	return nil
}

func (s *stubAllocator) HandleMessage(_ context.Context, _ gateway.Message) bool { return s.consumed }

func (s *stubAllocator) HasPending(_, _ string) bool { return s.pending }

type stubCommander struct {
	consumed  bool
	msgCalls  int
	reactions int
}

func (s *stubCommander) HandleMessage(_ context.Context, _ gateway.Message) bool {
	s.msgCalls++
	return s.consumed
}

func (s *stubCommander) HandleReaction(_ context.Context, _ gateway.Reaction) bool {
	s.reactions++
	return true
}

func newTestRouter(t *testing.T, verifier *stubVerifier, alloc *stubAllocator, cmds *stubCommander) (*Router, *gatewaytest.FakeChannel) {
	t.Helper()
	ch := gatewaytest.NewFakeChannel("bot")
	return NewRouter(ch, verifier, alloc, cmds, slipChan, 60, nil), ch
}

func uploadMsg(author, contentType, url string) gateway.Message {
	return gateway.Message{
		ID:        "up",
		ChannelID: slipChan,
		AuthorID:  author,
		Attachments: []gateway.Attachment{
			{URL: url, Filename: "slip.png", ContentType: contentType},
		},
	}
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRouter_DropsOwnMessages(t *testing.T) {
	cmds := &stubCommander{}
	r, _ := newTestRouter(t, &stubVerifier{}, &stubAllocator{}, cmds)

	r.HandleMessage(context.Background(), gateway.Message{ChannelID: slipChan, AuthorID: "bot", Content: "!verify <@1>"})
	if cmds.msgCalls != 0 {
		t.Fatal("own message reached the command gateway")
	}
}

func TestRouter_CommandsBeforeAllocation(t *testing.T) {
	verifier := &stubVerifier{}
	alloc := &stubAllocator{}
	cmds := &stubCommander{consumed: true}
	r, _ := newTestRouter(t, verifier, alloc, cmds)

	// A message that is a command and carries an attachment: the command
	// gateway consumes it and the slip flow never runs.
	msg := uploadMsg("admin", "image/png", "http://example/x.png")
	msg.Content = "!monthly_reset"
	r.HandleMessage(context.Background(), msg)
	if verifier.calls != 0 {
		t.Fatal("verifier called for a consumed command")
	}
}

func TestRouter_UnsupportedAttachmentWarned(t *testing.T) {
	verifier := &stubVerifier{}
	r, ch := newTestRouter(t, verifier, &stubAllocator{}, &stubCommander{})

	r.HandleMessage(context.Background(), uploadMsg("payer", "application/pdf", "http://example/x.pdf"))
	if verifier.calls != 0 {
		t.Fatal("verifier called for unsupported type")
	}
	msgs := ch.MessagesIn(slipChan)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "not a supported image") {
		t.Fatalf("reply = %+v", msgs)
	}
}

func TestRouter_PendingPayerRejectedBeforeVerification(t *testing.T) {
	verifier := &stubVerifier{}
	alloc := &stubAllocator{pending: true}
	r, ch := newTestRouter(t, verifier, alloc, &stubCommander{})

	r.HandleMessage(context.Background(), uploadMsg("payer", "image/png", "http://example/x.png"))
	if verifier.calls != 0 {
		t.Fatal("verification spent on a rejected second slip")
	}
	if len(alloc.started) != 0 {
		t.Fatal("allocation started for a rejected second slip")
	}
	if got := ch.MessagesIn(slipChan); len(got) != 1 || !strings.Contains(got[0].Content, "already have an allocation") {
		t.Fatalf("reply = %+v", got)
	}
}

func TestRouter_VerifiedSlipStartsAllocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	verifier := &stubVerifier{v: &slip.Verification{Amount: 185}}
	alloc := &stubAllocator{}
	r, _ := newTestRouter(t, verifier, alloc, &stubCommander{})

	r.HandleMessage(context.Background(), uploadMsg("payer", "image/png", srv.URL))
	if verifier.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1", verifier.calls)
	}
	if len(alloc.started) != 1 || alloc.started[0] != "payer" {
		t.Fatalf("started = %v", alloc.started)
	}
}

func TestRouter_RejectionAndTransportRepliesDiffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	rejected := &stubVerifier{err: &slip.RejectedError{Reason: "slip already used"}}
	alloc := &stubAllocator{}
	r, ch := newTestRouter(t, rejected, alloc, &stubCommander{})
	r.HandleMessage(context.Background(), uploadMsg("payer", "image/png", srv.URL))

	transport := &stubVerifier{err: context.DeadlineExceeded}
	r2, ch2 := newTestRouter(t, transport, alloc, &stubCommander{})
	r2.HandleMessage(context.Background(), uploadMsg("payer", "image/png", srv.URL))

	if len(alloc.started) != 0 {
		t.Fatal("failed verification started an allocation")
	}
	got1 := ch.MessagesIn(slipChan)[0].Content
	got2 := ch2.MessagesIn(slipChan)[0].Content
	if !strings.Contains(got1, "slip already used") {
		t.Fatalf("rejection reply = %q, want service reason", got1)
	}
	if !strings.Contains(got2, "try again") || strings.Contains(got2, "slip already used") {
		t.Fatalf("transport reply = %q, want retryable failure text", got2)
	}
}

// ---------------------------------------------------------------------------
// Router + real allocation manager
// ---------------------------------------------------------------------------

type recordingLedger struct {
	grants []grant
}

type grant struct {
	member  string
	periods int
}

func (l *recordingLedger) Grant(_ context.Context, memberID string, periods int) (int, error) {
	l.grants = append(l.grants, grant{member: memberID, periods: periods})
	return periods, nil
}

func TestRouter_SecondSlipWhileWindowOpenIsRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	ch := gatewaytest.NewFakeChannel("bot")
	led := &recordingLedger{}
	mgr := allocation.NewManager(led, ch, time.Hour, nil)
	verifier := &stubVerifier{v: &slip.Verification{Amount: 185}}
	r := NewRouter(ch, verifier, mgr, &stubCommander{}, slipChan, 60, nil)

	r.HandleMessage(context.Background(), uploadMsg("501", "image/png", srv.URL))
	if !mgr.HasPending("501", slipChan) {
		t.Fatal("first upload did not open an allocation window")
	}

	// A second upload while the window is open must be refused outright:
	// not verified, not treated as a choice, window left intact.
	r.HandleMessage(context.Background(), uploadMsg("501", "image/png", srv.URL))
	if verifier.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1 (second upload refused before verification)", verifier.calls)
	}
	if !mgr.HasPending("501", slipChan) {
		t.Fatal("second upload closed the open window")
	}
	if len(led.grants) != 0 {
		t.Fatalf("grants = %+v, want none while the window is open", led.grants)
	}
	msgs := ch.MessagesIn(slipChan)
	if last := msgs[len(msgs)-1].Content; !strings.Contains(last, "already have an allocation") {
		t.Fatalf("reply = %q, want the pending-upload refusal", last)
	}

	// The original window still resolves normally afterwards.
	r.HandleMessage(context.Background(), gateway.Message{ID: "choice", ChannelID: slipChan, AuthorID: "501", Content: "<@77>"})
	if len(led.grants) != 1 || led.grants[0] != (grant{member: "77", periods: 3}) {
		t.Fatalf("grants = %+v, want member 77 x3", led.grants)
	}
	if mgr.HasPending("501", slipChan) {
		t.Fatal("window still open after resolution")
	}
}

func TestRouter_ReactionsGoToCommands(t *testing.T) {
	cmds := &stubCommander{}
	r, _ := newTestRouter(t, &stubVerifier{}, &stubAllocator{}, cmds)

	r.HandleReaction(context.Background(), gateway.Reaction{MessageID: "m", UserID: "admin", Emoji: "✅"})
	r.HandleReaction(context.Background(), gateway.Reaction{MessageID: "m", UserID: "bot", Emoji: "✅"})
	if cmds.reactions != 1 {
		t.Fatalf("reactions forwarded = %d, want 1 (own reaction dropped)", cmds.reactions)
	}
}
