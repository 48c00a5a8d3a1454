package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/handoff"
	"github.com/repchat/internal/identity"
	"github.com/repchat/internal/twilio"
)

func TestProvisionAndAddParticipants(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		forms []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		paths = append(paths, r.URL.Path)
		f := map[string]string{}
		for k := range r.PostForm {
			f[k] = r.PostForm.Get(k)
		}
		forms = append(forms, f)
		mu.Unlock()
		switch r.URL.Path {
		case "/Conversations":
			_, _ = w.Write([]byte(`{"sid":"CH42"}`))
		case "/Conversations/CH42/Participants":
			if r.PostForm.Get("MessagingBinding.Address") == "+15550000000" {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"code":50416,"message":"A binding for this participant and proxy address already exists","status":409}`))
				return
			}
			_, _ = w.Write([]byte(`{"sid":"MB1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := New(twilio.NewClient("AC", "tok"), srv.URL, "+15557770000")
	ctx := context.Background()
	ref, err := b.Provision(ctx, identity.Phone("+15551230000"), "+15559998888")
	require.NoError(t, err)
	assert.Equal(t, "CH42", ref)

	require.NoError(t, b.AddParticipant(ctx, ref, handoff.Participant{Phone: "+15559998888"}))
	require.NoError(t, b.AddParticipant(ctx, ref, handoff.Participant{Phone: "+15550000000"}), "existing binding is not an error")

	assert.Equal(t, []string{"/Conversations", "/Conversations/CH42/Participants", "/Conversations/CH42/Participants"}, paths)
	assert.Equal(t, "+15557770000", forms[1]["MessagingBinding.ProxyAddress"])
	assert.Equal(t, "+15559998888", forms[1]["MessagingBinding.Address"])
}

func TestProvisionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(twilio.NewClient("AC", "tok"), srv.URL, "+1").Provision(context.Background(), identity.Instagram("x"), "+1")
	var apiErr *twilio.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
}
