package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elonfeng/redditmon/pkg/source"
)

func samplePosts() []source.Post {
	return []source.Post{
		{ID: "1", Title: "Go 1.24 <released>", Subreddit: "golang", Author: "gopher", Score: 900, NumComments: 120, EngagementScore: 1500, URL: "https://www.reddit.com/r/golang/comments/1/"},
		{ID: "2", Title: "Small thing", Subreddit: "golang", Score: 3, EngagementScore: 10, URL: "https://www.reddit.com/r/golang/comments/2/"},
		{ID: "3", Title: "Rust & Go", Subreddit: "rust", Score: 50, EngagementScore: 200, URL: "https://www.reddit.com/r/rust/comments/3/"},
	}
}

type stubNotifier struct {
	name string
	err  error
	got  []*Notification
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(_ context.Context, n *Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func TestManagerBroadcastJoinsErrors(t *testing.T) {
	ok := &stubNotifier{name: "ok"}
	bad := &stubNotifier{name: "bad", err: errors.New("boom")}
	m := NewManager([]Notifier{ok, bad})

	err := m.Broadcast(context.Background(), &Notification{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Fatalf("err = %v", err)
	}
	if len(ok.got) != 1 || len(bad.got) != 1 {
		t.Error("every notifier should be attempted")
	}
	if got := m.Names(); len(got) != 2 || got[0] != "ok" {
		t.Errorf("names = %v", got)
	}
	if NewManager(nil).HasNotifiers() {
		t.Error("empty manager reports notifiers")
	}
}

func TestDigestAndFormat(t *testing.T) {
	n := Digest("default", samplePosts())
	if n.Summary == nil || n.Summary.TotalPosts != 3 {
		t.Fatalf("summary = %+v", n.Summary)
	}

	msg := FormatDigest(n)
	if !strings.Contains(msg, "Go 1.24 &lt;released&gt;") {
		t.Errorf("title not escaped:\n%s", msg)
	}
	if strings.Index(msg, "Go 1.24") > strings.Index(msg, "Rust &amp; Go") {
		t.Errorf("posts not ordered by engagement:\n%s", msg)
	}
	if !strings.Contains(msg, "Posts found: 3") {
		t.Errorf("missing stats:\n%s", msg)
	}

	post := FormatPost(samplePosts()[0])
	for _, want := range []string{"u/gopher", "r/golang", "<b>Score:</b> 900", `href="https://www.reddit.com/r/golang/comments/1/"`} {
		if !strings.Contains(post, want) {
			t.Errorf("FormatPost missing %q:\n%s", want, post)
		}
	}
}

func TestFormatPicksLayout(t *testing.T) {
	posts := samplePosts()
	if got := Format(PostAlert("default", posts[0])); !strings.HasPrefix(got, "🔥 <b>New post detected</b>") {
		t.Errorf("post alert = %q", got)
	}
	if got := Format(Digest("default", posts[:1])); !strings.HasPrefix(got, "📊 <b>Reddit Monitor report: default</b>") {
		t.Errorf("one-post digest = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestTopLimitsPosts(t *testing.T) {
	var posts []source.Post
	for i := 0; i < 8; i++ {
		posts = append(posts, source.Post{ID: string(rune('a' + i)), EngagementScore: float64(i)})
	}
	top := (&Notification{Posts: posts}).Top()
	if len(top) != DigestSize || top[0].ID != "h" {
		t.Errorf("top = %+v", top)
	}
}

func TestWebhookSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret")
	if err := wh.Send(context.Background(), Digest("default", samplePosts())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotSig != "sha256="+Sign("s3cret", gotBody) {
		t.Errorf("signature %q does not match body", gotSig)
	}
	var decoded Notification
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Profile != "default" || len(decoded.Posts) != 3 {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestSlackAndDiscordStatus(t *testing.T) {
	status := http.StatusOK
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		payloads = append(payloads, p)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n := Digest("default", samplePosts())
	for _, nt := range []Notifier{NewSlack(srv.URL), NewDiscord(srv.URL)} {
		status = http.StatusOK
		if err := nt.Send(context.Background(), n); err != nil {
			t.Errorf("%s: %v", nt.Name(), err)
		}
		status = http.StatusInternalServerError
		if err := nt.Send(context.Background(), n); err == nil {
			t.Errorf("%s: expected error on 500", nt.Name())
		}
	}
	if _, ok := payloads[0]["blocks"]; !ok {
		t.Errorf("slack payload = %v", payloads[0])
	}
	if _, ok := payloads[2]["embeds"]; !ok {
		t.Errorf("discord payload = %v", payloads[2])
	}
}

func TestTelegramSend(t *testing.T) {
	var mu sync.Mutex
	sent := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			mu.Lock()
			sent["chat_id"] = r.PostForm.Get("chat_id")
			sent["parse_mode"] = r.PostForm.Get("parse_mode")
			sent["text"] = r.PostForm.Get("text")
			mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegramWithEndpoint("TOKEN", "", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewTelegramWithEndpoint: %v", err)
	}

	n := Digest("default", samplePosts())
	if err := tg.Send(context.Background(), n); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("without recipient: err = %v", err)
	}

	n.Recipient = "42"
	if err := tg.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	if sent["chat_id"] != "42" || sent["parse_mode"] != "HTML" {
		t.Errorf("sent = %v", sent)
	}
	if !strings.Contains(sent["text"], "Top 3 posts") {
		t.Errorf("text = %q", sent["text"])
	}
	mu.Unlock()

	single := PostAlert("default", samplePosts()[0])
	single.Recipient = "42"
	if err := tg.Send(context.Background(), single); err != nil {
		t.Fatalf("Send post alert: %v", err)
	}
	mu.Lock()
	if !strings.Contains(sent["text"], "New post detected") {
		t.Errorf("post alert text = %q", sent["text"])
	}
	mu.Unlock()

	n.Recipient = "not-a-number"
	if err := tg.Send(context.Background(), n); err == nil {
		t.Error("expected error for invalid chat id")
	}
}
