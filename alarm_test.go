package job_dispatcher

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailAlarm(t *testing.T) {
	e := NewEmailAlarm(EmailConfig{Host: "smtp.example.com", Port: 25, Username: "u", Password: "p", From: "dispatcher@example.com"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	e.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.NotNil(t, a)
		assert.Equal(t, "dispatcher@example.com", from)
		return nil
	}

	job := domain.JobDefinition{ID: 3, Description: "nightly", AlarmEmail: "a@example.com, b@example.com,"}
	record := domain.DispatchRecord{ID: 9, TriggerCode: 500, TriggerMsg: "address list is empty"}
	require.NoError(t, e.Alarm(context.Background(), job, record))
	assert.Equal(t, "smtp.example.com:25", gotAddr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Job dispatch alarm: job 3")
	assert.Contains(t, gotMsg, "Log ID: 9")
	assert.Contains(t, gotMsg, "address list is empty")

	e.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.ErrorContains(t, e.Alarm(context.Background(), job, record), "refused")

	// 没有收件人时不发送
	assert.NoError(t, e.Alarm(context.Background(), domain.JobDefinition{}, record))
}

func TestCompositeAlarm(t *testing.T) {
	ok := &mockAlarm{}
	ok.On("Alarm", context.Background(), domain.JobDefinition{}, domain.DispatchRecord{}).Return(nil)
	bad := &mockAlarm{}
	bad.On("Alarm", context.Background(), domain.JobDefinition{}, domain.DispatchRecord{}).Return(errors.New("x"))

	assert.NoError(t, CompositeAlarm{ok}.Alarm(context.Background(), domain.JobDefinition{}, domain.DispatchRecord{}))
	assert.Error(t, CompositeAlarm{ok, bad}.Alarm(context.Background(), domain.JobDefinition{}, domain.DispatchRecord{}))
	assert.NoError(t, CompositeAlarm(nil).Alarm(context.Background(), domain.JobDefinition{}, domain.DispatchRecord{}))
	ok.AssertNumberOfCalls(t, "Alarm", 2)
}
