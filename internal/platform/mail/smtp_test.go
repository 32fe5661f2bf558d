package mail

import (
	"context"
	"errors"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	err   error
	delay time.Duration
	sent  []*gomail.Message
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.sent = append(f.sent, m...)
	return f.err
}

func TestSMTPSenderOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		wantOK  bool
		wantErr bool
	}{
		{"delivered", nil, true, false},
		{"mailbox rejected", &textproto.Error{Code: 550, Msg: "no such user"}, false, false},
		{"greylisted", &textproto.Error{Code: 451, Msg: "try later"}, false, true},
		{"network", errors.New("dial tcp: connection refused"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDialer{err: tc.err}
			s := &SMTPSender{dialer: d, from: "noreply@example.com", fromName: "Members"}
			ok, err := s.Send(context.Background(), "ada@example.com", "Hi", "Body")
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, d.sent, 1)
			assert.Equal(t, []string{"Hi"}, d.sent[0].GetHeader("Subject"))
		})
	}
}

func TestSMTPSenderTimeoutIsTransient(t *testing.T) {
	s := &SMTPSender{dialer: &fakeDialer{delay: 200 * time.Millisecond}, from: "noreply@example.com"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ok, err := s.Send(ctx, "ada@example.com", "Hi", "Body")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPSenderEmptyRecipient(t *testing.T) {
	d := &fakeDialer{}
	ok, err := (&SMTPSender{dialer: d}).Send(context.Background(), " ", "Hi", "Body")
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Empty(t, d.sent)
}
