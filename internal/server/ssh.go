package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	DefaultPort                 = 22
	defaultSSHHandshakeTimeout  = 15 * time.Second
	defaultKillGrace            = 2 * time.Second
	ptyTerm                     = "dumb"
	ptyRows                     = 24
	ptyCols                     = 80
	unknownExitStatus           = -1
	sudoNonInteractivePrefix    = "sudo -n "
	sudoPasswordFromStdinPrefix = "sudo -S -p '' "
)

// Target identifies the remote host and the account used on it.
type Target struct {
	Name string
	Host string
	Port int
	User User
}

// NewTarget builds a Target from an address that may carry its own port.
// An explicit port in address wins over port; zero port means 22.
func NewTarget(name, address string, port int, user User) (Target, error) {
	address = strings.TrimSpace(address)
	host := address
	if h, p, err := net.SplitHostPort(address); err == nil {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return Target{}, fmt.Errorf("invalid port in address %q", address)
		}
		host, port = h, parsed
	}
	if port == 0 {
		port = DefaultPort
	}
	t := Target{Name: name, Host: host, Port: port, User: user}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	if t.Name == "" {
		t.Name = t.Host
	}
	return t, nil
}

// Validate checks host and port bounds.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return errors.New("host address cannot be empty")
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", t.Port)
	}
	if strings.TrimSpace(t.User.Name) == "" {
		return errors.New("ssh user cannot be empty")
	}
	return nil
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// SSHOptions tunes connection and command execution.
type SSHOptions struct {
	UseAgent         *bool
	HandshakeTimeout time.Duration
	HostKey          HostKeyConfig
	// MaxOutputBytes caps captured stdout+stderr per command.
	MaxOutputBytes int
	// DisablePTY runs commands without a pseudo-terminal.
	DisablePTY bool
	// KillGrace bounds how long a killed command may take to go away.
	KillGrace time.Duration
	Logger    *slog.Logger
}

// Session is one authenticated SSH connection to a host. It is owned by a
// single caller and runs one command at a time.
type Session struct {
	target Target
	opts   SSHOptions
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	transitions []Transition
	callbacks   []StateCallback
	client      *ssh.Client
	lost        chan struct{}
}

// NewSession returns a disconnected Session for target.
func NewSession(target Target, opts SSHOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		target: target,
		opts:   opts,
		logger: logger,
		state:  StateDisconnected,
	}
}

// Connect opens a Session in one attempt. Retry policy is up to the caller.
func Connect(ctx context.Context, target Target, opts SSHOptions) (*Session, error) {
	s := NewSession(target, opts)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string      { return s.target.Name }
func (s *Session) Address() string { return s.target.Addr() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns the recorded state history.
func (s *Session) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// OnStateChange registers a callback fired after every transition.
func (s *Session) OnStateChange(cb StateCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

func (s *Session) setState(to State) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return invalidTransition(from, to)
	}
	s.transitions = append(s.transitions, Transition{From: from, To: to, At: time.Now()})
	s.state = to
	cbs := make([]StateCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.mu.Unlock()

	s.logger.Debug("Session state changed", "server", s.target.Name, "from", from, "to", to)
	for _, cb := range cbs {
		cb(s.target.Name, from, to)
	}
	return nil
}

// Connect dials, authenticates and verifies the host key.
func (s *Session) Connect(ctx context.Context) error {
	addr := s.target.Addr()
	if err := s.setState(StateConnecting); err != nil {
		return &ConnectionError{Op: OpState, Addr: addr, Err: err}
	}

	client, err := s.dial(ctx)
	if err != nil {
		_ = s.setState(StateDisconnected)
		return err
	}

	lost := make(chan struct{})
	s.mu.Lock()
	s.client = client
	s.lost = lost
	s.mu.Unlock()
	go func() {
		_ = client.Wait()
		close(lost)
	}()

	if err := s.setState(StateConnected); err != nil {
		client.Close()
		return &ConnectionError{Op: OpState, Addr: addr, Err: err}
	}
	s.logger.Info("Connected", "server", s.target.Name, "address", addr, "user", s.target.User)
	return nil
}

func (s *Session) dial(ctx context.Context) (*ssh.Client, error) {
	addr := s.target.Addr()
	if err := s.target.Validate(); err != nil {
		return nil, &ConnectionError{Op: OpConfig, Addr: addr, Err: err}
	}
	if err := s.opts.HostKey.Validate(); err != nil {
		return nil, &ConnectionError{Op: OpConfig, Addr: addr, Err: err}
	}

	auth, closeAgent, err := authMethods(s.target.User, s.useAgent())
	defer closeAgent()
	if err != nil {
		return nil, &ConnectionError{Op: OpConfig, Addr: addr, Err: err}
	}

	verifier := &hostKeyVerifier{}
	hostKeyCallback, err := verifier.callback(s.opts.HostKey, s.logger)
	if err != nil {
		return nil, &ConnectionError{Op: OpConfig, Addr: addr, Err: err}
	}

	config := &ssh.ClientConfig{
		User:            s.target.User.Name,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: OpDial, Addr: addr, Err: err}
	}

	if err := applyHandshakeDeadline(ctx, conn, s.handshakeTimeout()); err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: OpHandshake, Addr: addr, Err: err}
	}
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(handshakeDone)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(ctx, addr, verifier, err)
	}
	if err := clearDeadline(conn); err != nil {
		sshConn.Close()
		return nil, &ConnectionError{Op: OpHandshake, Addr: addr, Err: err}
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func classifyHandshakeError(ctx context.Context, addr string, verifier *hostKeyVerifier, err error) error {
	if rejected := verifier.rejection(); rejected != nil {
		return &ConnectionError{Op: OpHostKey, Addr: addr, Err: rejected}
	}
	if isAuthFailure(err) {
		return &ConnectionError{Op: OpAuth, Addr: addr, Err: errors.New("authentication rejected")}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ConnectionError{Op: OpHandshake, Addr: addr, Err: fmt.Errorf("%w: %v", ctxErr, err)}
	}
	return &ConnectionError{Op: OpHandshake, Addr: addr, Err: err}
}

// Execute runs command under a PTY and waits for its exit status, the
// timeout, ctx cancellation or loss of the connection, whichever comes first.
// Timeouts, cancellation and transport loss close the Session.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) (Output, error) {
	if timeout <= 0 {
		return Output{ExitStatus: unknownExitStatus}, &ExecutionError{Reason: ReasonStart, Err: errors.New("a positive timeout is required")}
	}

	client, lost, err := s.beginExecute()
	if err != nil {
		return Output{ExitStatus: unknownExitStatus}, err
	}

	out, closeSession, execErr := s.run(ctx, client, lost, command, timeout)
	if closeSession {
		s.shutdown()
	} else if err := s.setState(StateConnected); err != nil {
		s.logger.Debug("Session closed during command", "server", s.target.Name, "error", err)
	}
	return out, execErr
}

func (s *Session) beginExecute() (*ssh.Client, chan struct{}, error) {
	s.mu.Lock()
	state, client, lost := s.state, s.client, s.lost
	s.mu.Unlock()

	switch state {
	case StateConnected:
	case StateExecuting:
		return nil, nil, &ExecutionError{Reason: ReasonStart, Err: errors.New("session is busy with another command")}
	default:
		return nil, nil, &ExecutionError{Reason: ReasonClosed, Err: fmt.Errorf("session is %s", state)}
	}

	if isClosed(lost) {
		s.shutdown()
		return nil, nil, &ExecutionError{Reason: ReasonTransport, Err: errors.New("connection lost")}
	}
	if err := s.setState(StateExecuting); err != nil {
		return nil, nil, &ExecutionError{Reason: ReasonClosed, Err: err}
	}
	return client, lost, nil
}

func (s *Session) run(ctx context.Context, client *ssh.Client, lost chan struct{}, command string, timeout time.Duration) (Output, bool, error) {
	start := time.Now()
	failed := func(reason ExecReason, err error) (Output, bool, error) {
		return Output{ExitStatus: unknownExitStatus, Elapsed: time.Since(start)}, reason != ReasonStart, &ExecutionError{Reason: reason, Err: err}
	}

	session, err := client.NewSession()
	if err != nil {
		if isClosed(lost) {
			return failed(ReasonTransport, err)
		}
		return failed(ReasonStart, fmt.Errorf("failed to create session: %w", err))
	}
	defer session.Close()

	if !s.opts.DisablePTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := session.RequestPty(ptyTerm, ptyRows, ptyCols, modes); err != nil {
			return failed(ReasonStart, fmt.Errorf("failed to request pty: %w", err))
		}
	}

	capt := newCapture(s.opts.MaxOutputBytes)
	session.Stdout = capt.Stdout()
	session.Stderr = capt.Stderr()

	commandToRun := command
	if s.target.User.SudoPassword != "" && strings.HasPrefix(command, sudoNonInteractivePrefix) {
		commandToRun = sudoPasswordFromStdinPrefix + strings.TrimPrefix(command, sudoNonInteractivePrefix)
		session.Stdin = strings.NewReader(s.target.User.SudoPassword + "\n")
	}

	if err := session.Start(commandToRun); err != nil {
		if isClosed(lost) {
			return failed(ReasonTransport, err)
		}
		return failed(ReasonStart, fmt.Errorf("failed to start command: %w", err))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	collect := func(status int) Output {
		stdout, stderr := capt.strings()
		return Output{ExitStatus: status, Stdout: stdout, Stderr: stderr, Elapsed: time.Since(start)}
	}

	select {
	case waitErr := <-waitCh:
		if overflow := capt.err(); overflow != nil {
			return collect(unknownExitStatus), false, overflow
		}
		return s.exitResult(collect, waitErr)

	case <-capt.overflow:
		stopped := s.kill(session, waitCh)
		return collect(unknownExitStatus), !stopped, capt.err()

	case <-timer.C:
		s.kill(session, waitCh)
		s.logger.Warn("Command timed out, closing session", "server", s.target.Name, "timeout", timeout)
		return collect(unknownExitStatus), true, &ExecutionError{Reason: ReasonTimeout, Timeout: timeout, Err: context.DeadlineExceeded}

	case <-ctx.Done():
		s.kill(session, waitCh)
		return collect(unknownExitStatus), true, &ExecutionError{Reason: ReasonCanceled, Err: ctx.Err()}

	case <-lost:
		return collect(unknownExitStatus), true, &ExecutionError{Reason: ReasonTransport, Err: errors.New("connection lost")}
	}
}

func (s *Session) exitResult(collect func(int) Output, waitErr error) (Output, bool, error) {
	if waitErr == nil {
		return collect(0), false, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		return collect(exitErr.ExitStatus()), false, nil
	}
	return collect(unknownExitStatus), true, &ExecutionError{Reason: ReasonTransport, Err: waitErr}
}

// kill asks the remote side to stop the command and closes the channel.
// It reports whether the command went away within the grace period.
func (s *Session) kill(session *ssh.Session, waitCh <-chan error) bool {
	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
	select {
	case <-waitCh:
		return true
	case <-time.After(s.killGrace()):
		return false
	}
}

// Close releases the connection. Closed is terminal.
func (s *Session) Close() error {
	return s.shutdown()
}

func (s *Session) shutdown() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if err := s.setState(StateClosed); err != nil {
		return err
	}
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close ssh connection: %w", err)
	}
	s.logger.Info("Connection closed", "server", s.target.Name)
	return nil
}

func (s *Session) useAgent() bool {
	if s.opts.UseAgent == nil {
		return true
	}
	return *s.opts.UseAgent
}

func (s *Session) handshakeTimeout() time.Duration {
	if s.opts.HandshakeTimeout > 0 {
		return s.opts.HandshakeTimeout
	}
	return defaultSSHHandshakeTimeout
}

func (s *Session) killGrace() time.Duration {
	if s.opts.KillGrace > 0 {
		return s.opts.KillGrace
	}
	return defaultKillGrace
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func applyHandshakeDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	deadline, ok := handshakeDeadline(ctx, timeout)
	if !ok {
		return nil
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set ssh handshake deadline: %w", err)
	}
	return nil
}

func clearDeadline(conn net.Conn) error {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear ssh handshake deadline: %w", err)
	}
	return nil
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	var deadline time.Time
	now := time.Now()
	if timeout > 0 {
		deadline = now.Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if deadline.IsZero() || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}
	if deadline.IsZero() {
		return time.Time{}, false
	}
	return deadline, true
}
