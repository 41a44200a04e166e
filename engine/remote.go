package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/danmuck/mediactl/channel"
	"github.com/danmuck/mediactl/internal/observability"
)

// SSHLauncher runs the engine binary on a remote host with the channel over
// the SSH session stdio.
type SSHLauncher struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration

	BinaryPath string
	StartHook  func()
	Logger     zerolog.Logger
}

func (l SSHLauncher) Launch(ctx context.Context, args []string) (*Handle, error) {
	if strings.TrimSpace(l.BinaryPath) == "" {
		return nil, ErrMissingBinary
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := l.dial()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("engine: ssh session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("engine: ssh stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("engine: ssh stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("engine: ssh stderr pipe: %w", err)
	}

	if l.StartHook != nil {
		l.StartHook()
	}
	if err := session.Start(joinCommand(l.BinaryPath, args)); err != nil {
		client.Close()
		return nil, fmt.Errorf("engine: remote start %s: %w", l.BinaryPath, err)
	}
	observability.RecordEngineSpawn()
	l.Logger.Debug().Str("host", l.Host).Strs("args", args).Msg("remote engine spawned")

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			l.Logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
		}
	}()

	exited := make(chan ExitStatus, 1)
	go func() {
		status := exitStatusFromSSHWait(session.Wait())
		observability.RecordEngineExit(status.Outcome())
		client.Close()
		exited <- status
	}()

	transport := channel.NewStreamTransport(stdout, stdin, stdin, client)
	kill := func() {
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
	}
	return NewHandle(transport, exited, kill), nil
}

func exitStatusFromSSHWait(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Ok: true}
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		status := ExitStatus{Code: exitErr.ExitStatus(), Err: err}
		if sig := exitErr.Signal(); sig != "" {
			status.Signal = sig
		}
		return status
	}
	return ExitStatus{Code: -1, Err: err}
}

func (l SSHLauncher) dial() (*ssh.Client, error) {
	addr, err := l.remoteAddr()
	if err != nil {
		return nil, err
	}
	cfg, err := l.clientConfig()
	if err != nil {
		return nil, err
	}

	// ssh.Dial alone has no dial deadline; when a timeout is configured the
	// TCP connect gets one too.
	if l.Timeout <= 0 {
		return ssh.Dial("tcp", addr, cfg)
	}
	conn, err := net.DialTimeout("tcp", addr, l.Timeout)
	if err != nil {
		return nil, fmt.Errorf("engine: dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine: ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// remoteAddr renders Host/Port as a dialable address. A Host that already
// carries a port wins over the default of 22.
func (l SSHLauncher) remoteAddr() (string, error) {
	host := strings.TrimSpace(l.Host)
	switch {
	case host == "":
		return "", fmt.Errorf("engine: ssh launcher needs a host")
	case l.Port != "":
		return net.JoinHostPort(host, l.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	return net.JoinHostPort(host, "22"), nil
}

func (l SSHLauncher) clientConfig() (*ssh.ClientConfig, error) {
	if l.User == "" {
		return nil, fmt.Errorf("engine: ssh launcher needs a user")
	}
	signer, err := l.loadSigner()
	if err != nil {
		return nil, err
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if !l.InsecureSkipHostKeyChecking {
		hostKeys, err = l.hostKeyCallback()
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            l.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         l.Timeout,
	}, nil
}

func (l SSHLauncher) loadSigner() (ssh.Signer, error) {
	if l.KeyPath == "" {
		return nil, fmt.Errorf("engine: ssh launcher needs a key path")
	}
	pem, err := os.ReadFile(l.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("engine: read ssh key: %w", err)
	}
	if len(l.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(pem, l.Passphrase)
	}
	return ssh.ParsePrivateKey(pem)
}

// hostKeyCallback verifies the remote host key against KnownHostsPath,
// defaulting to the user's own known_hosts file.
func (l SSHLauncher) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(l.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("engine: no known hosts path and no home dir: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// joinCommand renders the engine invocation as a single shell line. Every
// token is single-quoted so argv survives the remote shell untouched.
func joinCommand(cmd string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(cmd))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(v string) string {
	if v == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}
