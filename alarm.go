package job_dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/TimeWtr/job_dispatcher/domain"
)

// JobAlarm 调度或执行失败时的告警方式
type JobAlarm interface {
	Alarm(ctx context.Context, job domain.JobDefinition, record domain.DispatchRecord) error
}

// CompositeAlarm 依次调用所有告警，全部成功才算成功
type CompositeAlarm []JobAlarm

func (c CompositeAlarm) Alarm(ctx context.Context, job domain.JobDefinition, record domain.DispatchRecord) error {
	var errs []error
	for _, a := range c {
		if err := a.Alarm(ctx, job, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmailConfig SMTP配置
type EmailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailAlarm 向任务配置的告警邮箱发送邮件
type EmailAlarm struct {
	cfg  EmailConfig
	send sendMailFunc
}

func NewEmailAlarm(cfg EmailConfig) *EmailAlarm {
	return &EmailAlarm{cfg: cfg, send: smtp.SendMail}
}

func (e *EmailAlarm) Alarm(_ context.Context, job domain.JobDefinition, record domain.DispatchRecord) error {
	var to []string
	for _, addr := range strings.Split(job.AlarmEmail, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Job dispatch alarm: job %d", job.ID)
	body := fmt.Sprintf("Job ID: %d\nDescription: %s\nLog ID: %d\nTrigger code: %d\nTrigger msg:\n%s\n\nHandle code: %d\nHandle msg:\n%s\n",
		job.ID, job.Description, record.ID, record.TriggerCode, record.TriggerMsg, record.HandleCode, record.HandleMsg)
	msg := "From: " + e.cfg.From + "\r\n" +
		"To: " + strings.Join(to, ",") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" + body

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	if err := e.send(addr, auth, e.cfg.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("send alarm email: %w", err)
	}
	return nil
}
