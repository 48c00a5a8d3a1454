package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/twilio"
)

func TestSendPostsMessage(t *testing.T) {
	var got struct{ path, to, from, body string }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got.path = r.URL.Path
		got.to = r.PostForm.Get("To")
		got.from = r.PostForm.Get("From")
		got.body = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM9"}`))
	}))
	defer srv.Close()

	n := NewSMS(twilio.NewClient("AC77", "tok"), srv.URL, "+15557770000")
	require.NoError(t, n.Send(context.Background(), "+15559998888", "hello rep"))
	assert.Equal(t, "/Accounts/AC77/Messages.json", got.path)
	assert.Equal(t, "+15559998888", got.to)
	assert.Equal(t, "+15557770000", got.from)
	assert.Equal(t, "hello rep", got.body)
}

func TestSendTruncatesLongBody(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		body = r.PostForm.Get("Body")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	require.NoError(t, NewSMS(twilio.NewClient("AC", "t"), srv.URL, "+1").Send(context.Background(), "+2", strings.Repeat("x", 2000)))
	assert.Len(t, []rune(body), maxBody)
}

func TestSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	assert.Error(t, NewSMS(twilio.NewClient("AC", "t"), srv.URL, "+1").Send(context.Background(), "+2", "x"))
}
