package mail

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// fakeRelay accepts one SMTP session and returns the envelope and data
func fakeRelay(t *testing.T) (string, int, <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	lines := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		var got []string
		write("220 relay.test ESMTP")
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				lines <- got
				return
			}
			line = strings.TrimRight(line, "\r\n")
			got = append(got, line)
			if inData {
				if line == "." {
					inData = false
					write("250 queued")
				}
				continue
			}
			switch {
			case strings.HasPrefix(line, "EHLO"):
				write("250 relay.test")
			case strings.HasPrefix(line, "MAIL"), strings.HasPrefix(line, "RCPT"):
				write("250 ok")
			case line == "DATA":
				inData = true
				write("354 go ahead")
			case line == "QUIT":
				write("221 bye")
				lines <- got
				return
			default:
				write("502 unsupported")
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p, lines
}

func TestSMTPMailerSend(t *testing.T) {
	host, port, lines := fakeRelay(t)
	m := NewSMTPMailer(SMTPConfig{Host: host, Port: port, From: "noreply@sites.example"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.Send(ctx, domain.Message{
		To:      "owner@acme.example",
		Subject: "Welcome to Acme - Your New Website",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	var got []string
	select {
	case got = <-lines:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}
	joined := strings.Join(got, "\n")
	assert.Contains(t, joined, "MAIL FROM:<noreply@sites.example>")
	assert.Contains(t, joined, "RCPT TO:<owner@acme.example>")
	assert.Contains(t, joined, "Subject: Welcome to Acme - Your New Website")
	assert.Contains(t, joined, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, joined, "line two")
}

func TestSMTPMailerDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	m := NewSMTPMailer(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, From: "a@b.c"}, nil)
	err = m.Send(context.Background(), domain.Message{To: "x@y.z"})
	assert.ErrorContains(t, err, "dial smtp")
}

func TestHeaderSafe(t *testing.T) {
	assert.Equal(t, "Hello  Bcc: x", headerSafe("Hello\r\nBcc: x"))
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	require.NoError(t, o.Send(context.Background(), domain.Message{To: "a@x.com"}))
	o.FailWith(errors.New("relay down"))
	assert.Error(t, o.Send(context.Background(), domain.Message{To: "b@x.com"}))
	o.FailWith(nil)
	require.NoError(t, o.Send(context.Background(), domain.Message{To: "c@x.com"}))

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "c@x.com", msgs[1].To)
}
