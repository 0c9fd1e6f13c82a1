package nodedriver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// sshConfig builds the client config for dialing a node directly. Nodes in
// this design are reached over a project-internal network and trust is
// established the same way the original's `gcloud ... ssh` wrapper did:
// via the caller's configured key, not host-key pinning — InsecureIgnoreHostKey
// is deliberate here since these are ephemeral, just-created VMs with no
// prior host key to pin against.
func sshConfig(user string) (*ssh.ClientConfig, error) {
	keyPath := os.Getenv("TPU_SSH_PRIVATE_KEY")
	if keyPath == "" {
		keyPath = os.ExpandEnv("$HOME/.ssh/google_compute_engine")
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh private key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh private key: %w", err)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}, nil
}

func sshUser() string {
	if u := os.Getenv("TPU_SSH_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

// buildCommand prepends envStmts to cmd, matching the original's pattern of
// inlining environment assignments ahead of the command string rather than
// relying on SendEnv (which most sshd configs don't accept from clients).
func buildCommand(envStmts []string, cmd string) string {
	if len(envStmts) == 0 {
		return cmd
	}
	return strings.Join(envStmts, "; ") + "; " + cmd
}

func (d *GCloudDriver) dial(ctx context.Context, name string) (*ssh.Client, error) {
	ip, err := d.IP(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg, err := sshConfig(sshUser())
	if err != nil {
		return nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, "22"), cfg.Timeout)
	if err != nil {
		return nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, net.JoinHostPort(ip, "22"), cfg)
	if err != nil {
		return nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func (d *GCloudDriver) SSH(ctx context.Context, name string, envStmts []string, cmd string, mode SSHMode, timeout time.Duration) (*SSHResult, *StreamHandle, error) {
	client, err := d.dial(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	full := buildCommand(envStmts, cmd)

	switch mode {
	case ModeFireAndForget:
		session, err := client.NewSession()
		if err != nil {
			client.Close()
			return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
		}
		if err := session.Start(full); err != nil {
			session.Close()
			client.Close()
			return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
		}
		go func() {
			defer client.Close()
			defer session.Close()
			_ = session.Wait()
		}()
		return nil, nil, nil

	case ModeStream:
		return d.sshStream(client, name, full)

	default: // ModeCapture
		return d.sshCapture(ctx, client, name, full, timeout)
	}
}

func (d *GCloudDriver) sshCapture(ctx context.Context, client *ssh.Client, name, full string, timeout time.Duration) (*SSHResult, *StreamHandle, error) {
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	if err := session.Start(full); err != nil {
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}
	go func() { done <- session.Wait() }()

	select {
	case <-runCtx.Done():
		session.Signal(ssh.SIGTERM)
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: runCtx.Err()}
	case err := <-done:
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
			}
		}
		result := &SSHResult{Output: buf.String(), ExitCode: exitCode}
		if exitCode != 0 {
			return result, nil, &Error{Code: CodeRemoteNonZero, Node: name, ExitCode: exitCode, Err: fmt.Errorf("remote command exited %d", exitCode)}
		}
		return result, nil, nil
	}
}

func (d *GCloudDriver) sshStream(client *ssh.Client, name, full string) (*SSHResult, *StreamHandle, error) {
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}

	if err := session.Start(full); err != nil {
		session.Close()
		client.Close()
		return nil, nil, &Error{Code: CodeSSHTimeout, Node: name, Err: err}
	}

	lines := make(chan StreamLine, 64)
	doneCh := make(chan SSHResult, 1)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go tailStream(stdout, false, lines, &wg)
	go tailStream(stderr, true, lines, &wg)

	go func() {
		wg.Wait()
		close(lines)
		err := session.Wait()
		defer client.Close()
		defer session.Close()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				errCh <- &Error{Code: CodeSSHTimeout, Node: name, Err: err}
				return
			}
		}
		doneCh <- SSHResult{ExitCode: exitCode}
	}()

	return nil, &StreamHandle{Lines: lines, Done: doneCh, Err: errCh}, nil
}

func tailStream(r interface{ Read([]byte) (int, error) }, stderr bool, out chan<- StreamLine, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- StreamLine{Stderr: stderr, Text: scanner.Text()}
	}
}
