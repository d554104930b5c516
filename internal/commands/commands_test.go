package commands

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/postbox/internal/directory"
	"github.com/2389/postbox/internal/mailbox"
	"github.com/2389/postbox/internal/metrics"
	"github.com/2389/postbox/internal/store"
)

// fakeMessenger records direct messages and can be told to fail.
type fakeMessenger struct {
	sent []sentDM
	fail error
}

type sentDM struct {
	userID string
	text   string
}

func (f *fakeMessenger) SendDirectMessage(_ context.Context, userID, text string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentDM{userID: userID, text: text})
	return nil
}

type fixture struct {
	store     *store.SQLiteStore
	handler   *Handler
	messenger *fakeMessenger
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := &fakeMessenger{}
	cfg := Config{
		Directory: directory.New(s, directory.DefaultCodeLength),
		Mailbox:   mailbox.New(s, 0),
		Messenger: m,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{store: s, handler: New(cfg), messenger: m}
}

func inv(command, sender, senderName, args string) *Invocation {
	return &Invocation{
		ID:         "test-invocation",
		Command:    command,
		SenderID:   sender,
		SenderName: senderName,
		Args:       args,
	}
}

var codeRe = regexp.MustCompile(`\*\*(\d{4,8})\*\*`)

// issueCode runs the profile command and extracts the code from the reply.
func issueCode(t *testing.T, f *fixture, sender, name string) string {
	t.Helper()
	reply := f.handler.Dispatch(context.Background(), inv(CmdProfile, sender, name, ""))
	m := codeRe.FindStringSubmatch(reply)
	if m == nil {
		t.Fatalf("no code in profile reply: %q", reply)
	}
	return m[1]
}

func TestProfileIssuesCode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")

	profile, err := f.store.GetProfileByUser(ctx, "@alice:x")
	if err != nil {
		t.Fatalf("GetProfileByUser: %v", err)
	}
	if profile.Code != code {
		t.Errorf("stored code %q, reply said %q", profile.Code, code)
	}
	if profile.Username != "alice" {
		t.Errorf("unexpected username snapshot %q", profile.Username)
	}
}

func TestProfileReissueKeepsOneRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issueCode(t, f, "@alice:x", "alice")
	second := issueCode(t, f, "@alice:x", "alice")

	count, err := f.store.CountProfiles(ctx)
	if err != nil {
		t.Fatalf("CountProfiles: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 profile, got %d", count)
	}
	profile, _ := f.store.GetProfileByUser(ctx, "@alice:x")
	if profile.Code != second {
		t.Errorf("second issue should win: stored %q, want %q", profile.Code, second)
	}
}

func TestSendDeliversAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")
	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" hi"))

	if !strings.Contains(reply, "sent") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(f.messenger.sent) != 1 {
		t.Fatalf("expected 1 DM, got %d", len(f.messenger.sent))
	}
	dm := f.messenger.sent[0]
	if dm.userID != "@alice:x" {
		t.Errorf("DM went to %q", dm.userID)
	}
	if !strings.Contains(dm.text, "bob") || !strings.Contains(dm.text, "hi") {
		t.Errorf("DM text missing attribution or body: %q", dm.text)
	}

	mails, err := f.store.ListMailFor(ctx, "@alice:x")
	if err != nil {
		t.Fatalf("ListMailFor: %v", err)
	}
	if len(mails) != 1 {
		t.Fatalf("expected exactly 1 mail record, got %d", len(mails))
	}
	if mails[0].SenderName != "bob" || mails[0].Body != "hi" {
		t.Errorf("unexpected mail record: %+v", mails[0])
	}
}

func TestSendPreservesMessageWhitespace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")
	f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" hello  there\nsecond line"))

	mails, _ := f.store.ListMailFor(ctx, "@alice:x")
	if len(mails) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mails))
	}
	if mails[0].Body != "hello  there\nsecond line" {
		t.Errorf("body mangled: %q", mails[0].Body)
	}
}

func TestSendUnknownCode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", "0000 hi"))

	if !strings.Contains(reply, "not found") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(f.messenger.sent) != 0 {
		t.Errorf("no DM should be attempted for an unknown code")
	}
	mails, _ := f.store.ListMailFor(ctx, "@bob:x")
	if len(mails) != 0 {
		t.Errorf("no mail should be stored for an unknown code")
	}
}

func TestSendUnreachableRecipientStoresNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")
	f.messenger.fail = ErrUnreachable

	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" hi"))

	if !strings.Contains(reply, "unreachable") {
		t.Errorf("unexpected reply: %q", reply)
	}
	mails, _ := f.store.ListMailFor(ctx, "@alice:x")
	if len(mails) != 0 {
		t.Errorf("failed delivery must not persist mail, got %d records", len(mails))
	}
}

func TestSendDeliveryTimeoutTreatedAsUnreachable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")
	f.messenger.fail = context.DeadlineExceeded

	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" hi"))

	if !strings.Contains(reply, "unreachable") {
		t.Errorf("timeout should read as unreachable, got %q", reply)
	}
	mails, _ := f.store.ListMailFor(ctx, "@alice:x")
	if len(mails) != 0 {
		t.Errorf("timed-out delivery must not persist mail")
	}
}

func TestSendEmptyMessageRejectedBeforeDelivery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")
	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+"   "))

	if !strings.Contains(reply, "Usage") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(f.messenger.sent) != 0 {
		t.Errorf("no DM should be attempted for an empty message")
	}
}

func TestSendMissingArgs(t *testing.T) {
	f := newFixture(t, nil)

	reply := f.handler.Dispatch(context.Background(), inv(CmdSend, "@bob:x", "bob", ""))
	if !strings.Contains(reply, "Usage") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.SendsPerMinute = 1
		cfg.SendBurst = 2
	})
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")

	for i := 0; i < 2; i++ {
		reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" hi"))
		if !strings.Contains(reply, "sent") {
			t.Fatalf("send %d should pass, got %q", i+1, reply)
		}
	}

	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" hi"))
	if !strings.Contains(reply, "too quickly") {
		t.Errorf("third send should be limited, got %q", reply)
	}

	mails, _ := f.store.ListMailFor(ctx, "@alice:x")
	if len(mails) != 2 {
		t.Errorf("limited send must not persist, got %d records", len(mails))
	}
}

func TestMailEmptyMailbox(t *testing.T) {
	f := newFixture(t, nil)

	reply := f.handler.Dispatch(context.Background(), inv(CmdMail, "@alice:x", "alice", ""))
	if !strings.Contains(reply, "no mail") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestMailListsOldestFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@alice:x", "alice")
	f.handler.Dispatch(ctx, inv(CmdSend, "@bob:x", "bob", code+" first"))
	f.handler.Dispatch(ctx, inv(CmdSend, "@carol:x", "carol", code+" second"))

	reply := f.handler.Dispatch(ctx, inv(CmdMail, "@alice:x", "alice", ""))
	firstIdx := strings.Index(reply, "first")
	secondIdx := strings.Index(reply, "second")
	if firstIdx < 0 || secondIdx < 0 {
		t.Fatalf("mailbox listing incomplete: %q", reply)
	}
	if firstIdx > secondIdx {
		t.Errorf("mailbox should list oldest first: %q", reply)
	}
	if !strings.Contains(reply, "bob") || !strings.Contains(reply, "carol") {
		t.Errorf("sender attribution missing: %q", reply)
	}
}

func TestExploreListsAllProfiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	aliceCode := issueCode(t, f, "@alice:x", "alice")
	issueCode(t, f, "@bob:x", "bob")
	// Reissue must not inflate the directory.
	bobCode := issueCode(t, f, "@bob:x", "bob")

	reply := f.handler.Dispatch(ctx, inv(CmdExplore, "@carol:x", "carol", ""))
	if !strings.Contains(reply, "2 profiles") {
		t.Errorf("expected 2 profiles in directory, got %q", reply)
	}
	if !strings.Contains(reply, aliceCode) || !strings.Contains(reply, bobCode) {
		t.Errorf("directory listing missing codes: %q", reply)
	}
}

func TestExploreEmptyDirectory(t *testing.T) {
	f := newFixture(t, nil)

	reply := f.handler.Dispatch(context.Background(), inv(CmdExplore, "@carol:x", "carol", ""))
	if !strings.Contains(reply, "No profiles") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestExploreAllowlist(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.ExploreAllowed = []string{"@admin:x"}
	})
	ctx := context.Background()
	issueCode(t, f, "@alice:x", "alice")

	denied := f.handler.Dispatch(ctx, inv(CmdExplore, "@carol:x", "carol", ""))
	if !strings.Contains(denied, "not allowed") {
		t.Errorf("unexpected reply for denied user: %q", denied)
	}

	allowed := f.handler.Dispatch(ctx, inv(CmdExplore, "@admin:x", "admin", ""))
	if !strings.Contains(allowed, "1 profiles") {
		t.Errorf("unexpected reply for allowed user: %q", allowed)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, nil)

	reply := f.handler.Dispatch(context.Background(), inv("frobnicate", "@alice:x", "alice", ""))
	if !strings.Contains(reply, "Unknown command") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestEndToEndScenario(t *testing.T) {
	// User A issues a profile; user B sends to A's code; A receives a DM
	// and A's mailbox holds exactly one entry attributed to B.
	f := newFixture(t, nil)
	ctx := context.Background()

	code := issueCode(t, f, "@a:x", "A")
	reply := f.handler.Dispatch(ctx, inv(CmdSend, "@b:x", "B", code+" hi"))
	if !strings.Contains(reply, "sent") {
		t.Fatalf("send failed: %q", reply)
	}

	if len(f.messenger.sent) != 1 || f.messenger.sent[0].userID != "@a:x" {
		t.Fatalf("expected one DM to @a:x, got %+v", f.messenger.sent)
	}

	mails, err := f.store.ListMailFor(ctx, "@a:x")
	if err != nil {
		t.Fatalf("ListMailFor: %v", err)
	}
	if len(mails) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mails))
	}
	if mails[0].SenderName != "B" || mails[0].Body != "hi" {
		t.Errorf("unexpected mailbox entry: %+v", mails[0])
	}
}

func TestSplitFirstToken(t *testing.T) {
	tests := []struct {
		in    string
		token string
		rest  string
	}{
		{"4821 hello there", "4821", "hello there"},
		{"4821", "4821", ""},
		{"  4821  spaced", "4821", "spaced"},
		{"4821 line one\nline two", "4821", "line one\nline two"},
		{"", "", ""},
	}
	for _, tc := range tests {
		token, rest := splitFirstToken(tc.in)
		if token != tc.token || rest != tc.rest {
			t.Errorf("splitFirstToken(%q) = (%q, %q), want (%q, %q)", tc.in, token, rest, tc.token, tc.rest)
		}
	}
}
