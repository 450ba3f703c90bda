package mailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mealbridge/mealbridge-core/internal/infrastructure/config"
)

// fakeSMTPServer speaks just enough server-side SMTP to accept one message.
type fakeSMTPServer struct {
	listener      net.Listener
	advertiseAuth bool

	mu       sync.Mutex
	commands []string
	data     string
}

func newFakeSMTPServer(t *testing.T, advertiseAuth bool) *fakeSMTPServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("creating listener: %v", err)
	}

	s := &fakeSMTPServer{listener: listener, advertiseAuth: advertiseAuth}
	go s.acceptLoop()
	t.Cleanup(func() { listener.Close() })

	return s
}

func (s *fakeSMTPServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	fmt.Fprintf(conn, "220 fake ESMTP ready\r\n")

	inData := false
	var body strings.Builder

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if inData {
			if line == "." {
				inData = false
				s.mu.Lock()
				s.data = body.String()
				s.mu.Unlock()
				fmt.Fprintf(conn, "250 ok\r\n")
				continue
			}
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			if s.advertiseAuth {
				fmt.Fprintf(conn, "250-fake\r\n250 AUTH PLAIN\r\n")
			} else {
				fmt.Fprintf(conn, "250 fake\r\n")
			}
		case strings.HasPrefix(upper, "AUTH"):
			s.record(line)
			fmt.Fprintf(conn, "235 ok\r\n")
		case strings.HasPrefix(upper, "MAIL"), strings.HasPrefix(upper, "RCPT"):
			s.record(line)
			fmt.Fprintf(conn, "250 ok\r\n")
		case strings.HasPrefix(upper, "DATA"):
			inData = true
			fmt.Fprintf(conn, "354 go ahead\r\n")
		case strings.HasPrefix(upper, "QUIT"):
			fmt.Fprintf(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprintf(conn, "250 ok\r\n")
		}
	}
}

func (s *fakeSMTPServer) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
}

func (s *fakeSMTPServer) config(t *testing.T) config.SMTPConfig {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		t.Fatalf("splitting listener address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing listener port: %v", err)
	}

	return config.SMTPConfig{
		Host:      host,
		Port:      port,
		FromEmail: "no-reply@mealbridge.local",
		FromName:  "MealBridge",
	}
}

func (s *fakeSMTPServer) receivedData() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *fakeSMTPServer) receivedCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

func TestSMTP_SendOTP(t *testing.T) {
	server := newFakeSMTPServer(t, false)
	m := New(server.config(t))

	err := m.SendOTP(context.Background(), "admin@example.com", "483920", 10*time.Minute)
	if err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}

	data := server.receivedData()
	if !strings.Contains(data, "483920") {
		t.Error("message should contain the OTP code")
	}
	if !strings.Contains(data, "expires in 10 minutes") {
		t.Error("message should name the expiry in minutes")
	}
	if !strings.Contains(data, "Subject: Your Admin Login OTP") {
		t.Error("message should carry the OTP subject")
	}
	if !strings.Contains(data, "From: MealBridge <no-reply@mealbridge.local>") {
		t.Error("message should carry the display-name From header")
	}
	if !strings.Contains(data, "To: admin@example.com") {
		t.Error("message should carry the To header")
	}

	commands := server.receivedCommands()
	var sawMail, sawRcpt bool
	for _, c := range commands {
		if strings.Contains(c, "no-reply@mealbridge.local") && strings.HasPrefix(strings.ToUpper(c), "MAIL") {
			sawMail = true
		}
		if strings.Contains(c, "admin@example.com") && strings.HasPrefix(strings.ToUpper(c), "RCPT") {
			sawRcpt = true
		}
	}
	if !sawMail {
		t.Error("server should receive MAIL FROM with the configured sender")
	}
	if !sawRcpt {
		t.Error("server should receive RCPT TO with the recipient")
	}
}

func TestSMTP_SendOTP_WithAuth(t *testing.T) {
	server := newFakeSMTPServer(t, true)

	cfg := server.config(t)
	cfg.Username = "mailer@mealbridge.local"
	cfg.Password = "relay-password"
	m := New(cfg)

	err := m.SendOTP(context.Background(), "admin@example.com", "112233", 5*time.Minute)
	if err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}

	var sawAuth bool
	for _, c := range server.receivedCommands() {
		if strings.HasPrefix(strings.ToUpper(c), "AUTH") {
			sawAuth = true
		}
	}
	if !sawAuth {
		t.Error("server should receive AUTH when a username is configured")
	}
}

func TestSMTP_SendOTP_NoAuthWithoutUsername(t *testing.T) {
	// Even when the server advertises AUTH, skip it if no credentials exist.
	server := newFakeSMTPServer(t, true)
	m := New(server.config(t))

	err := m.SendOTP(context.Background(), "admin@example.com", "998877", 5*time.Minute)
	if err != nil {
		t.Fatalf("SendOTP() error = %v", err)
	}

	for _, c := range server.receivedCommands() {
		if strings.HasPrefix(strings.ToUpper(c), "AUTH") {
			t.Error("server should not receive AUTH without configured credentials")
		}
	}
}

func TestSMTP_SendOTP_NotConfigured(t *testing.T) {
	m := New(config.SMTPConfig{})

	err := m.SendOTP(context.Background(), "admin@example.com", "123456", 10*time.Minute)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SendOTP() = %v, want ErrNotConfigured", err)
	}
}

func TestSMTP_SendOTP_RelayUnreachable(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("creating listener: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	host, portStr, _ := net.SplitHostPort(addr) //nolint:errcheck // listener address is well-formed
	port, _ := strconv.Atoi(portStr)            //nolint:errcheck // listener address is well-formed

	m := New(config.SMTPConfig{Host: host, Port: port, FromEmail: "no-reply@mealbridge.local"})

	err = m.SendOTP(context.Background(), "admin@example.com", "123456", 10*time.Minute)
	if err == nil {
		t.Error("SendOTP() should fail when nothing is listening")
	}
}

func TestSMTP_SendOTP_CancelledContext(t *testing.T) {
	server := newFakeSMTPServer(t, false)
	m := New(server.config(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.SendOTP(ctx, "admin@example.com", "123456", 10*time.Minute)
	if err == nil {
		t.Error("SendOTP() should fail with a cancelled context")
	}
}

func TestSMTP_Message_NoFromName(t *testing.T) {
	m := New(config.SMTPConfig{FromEmail: "no-reply@mealbridge.local"})

	msg := m.message("admin@example.com", "Test", "body\r\n")
	if !strings.Contains(msg, "From: no-reply@mealbridge.local\r\n") {
		t.Error("From header should be the bare address when no display name is set")
	}
	if !strings.HasSuffix(msg, "\r\n\r\nbody\r\n") {
		t.Error("headers and body should be separated by a blank line")
	}
}
