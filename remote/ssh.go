// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/rowanphipps/Cerberus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPort is the port dialed when a target's host does not
// include one.
const DefaultSSHPort = "22"

// SSH is a transport that runs commands over SSH sessions. Clients
// authenticate with the keys held by the user's ssh-agent (found
// through $SSH_AUTH_SOCK) and with unencrypted identity files; remote
// hosts must use key-based login.
type SSH struct {
	// IdentityFiles lists private key files to authenticate with. If
	// empty, the default identities in ~/.ssh are tried.
	IdentityFiles []string
	// KnownHosts is the known_hosts file used to verify host keys.
	// It defaults to ~/.ssh/known_hosts.
	KnownHosts string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
	// DialTimeout bounds connection establishment, including the SSH
	// handshake. Zero means no timeout.
	DialTimeout time.Duration
}

// Start implements Transport.
func (s *SSH) Start(ctx context.Context, target cerberus.Target, command []string) (*Process, error) {
	config, release, err := s.clientConfig(target.User)
	if err != nil {
		return nil, err
	}
	// The agent is only consulted during the handshake.
	defer release()
	addr := target.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultSSHPort)
	}
	if s.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.DialTimeout)
		defer cancel()
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.E(errors.Net, fmt.Sprintf("dial %s", addr), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, errors.E(errors.Net, fmt.Sprintf("ssh handshake with %s", target), err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errors.E(errors.Net, fmt.Sprintf("open session on %s", target), err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		client.Close()
		return nil, err
	}
	cmd := Quote(command)
	if err := sess.Start(cmd); err != nil {
		client.Close()
		return nil, errors.E(errors.Net, fmt.Sprintf("start %q on %s", cmd, target), err)
	}
	wait := func() error {
		err := sess.Wait()
		client.Close()
		return err
	}
	kill := func() error {
		sess.Close()
		return client.Close()
	}
	return NewProcess(stdin, stdout, stderr, wait, kill), nil
}

// clientConfig returns the client configuration for user. The
// returned release func closes the connection to the ssh agent, if
// one was opened.
func (s *SSH) clientConfig(user string) (config *ssh.ClientConfig, release func(), err error) {
	if user == "" {
		user = os.Getenv("USER")
	}
	var (
		auth      []ssh.AuthMethod
		agentConn net.Conn
	)
	release = func() {
		if agentConn != nil {
			agentConn.Close()
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.Debug.Printf("ssh: agent at %s: %v", sock, err)
		} else {
			agentConn = conn
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if signers := s.identities(); len(signers) > 0 {
		auth = append(auth, ssh.PublicKeys(signers...))
	}
	if len(auth) == 0 {
		return nil, nil, errors.E(errors.NotAllowed, "ssh: no agent or identity files available")
	}
	config = &ssh.ClientConfig{
		User: user,
		Auth: auth,
	}
	if s.InsecureIgnoreHostKey {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
		return config, release, nil
	}
	path := s.KnownHosts
	if path == "" {
		path = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, nil, errors.E(errors.Precondition, fmt.Sprintf("ssh: known hosts %s", path), err)
	}
	config.HostKeyCallback = callback
	return config, release, nil
}

func (s *SSH) identities() []ssh.Signer {
	files := s.IdentityFiles
	if len(files) == 0 {
		dir := filepath.Join(homeDir(), ".ssh")
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			files = append(files, filepath.Join(dir, name))
		}
	}
	var signers []ssh.Signer
	for _, file := range files {
		pem, err := os.ReadFile(file)
		if err != nil {
			if !os.IsNotExist(err) || len(s.IdentityFiles) > 0 {
				log.Error.Printf("ssh: read identity %s: %v", file, err)
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			// Passphrase-protected keys are expected to be served by
			// the agent.
			if _, ok := err.(*ssh.PassphraseMissingError); !ok {
				log.Error.Printf("ssh: parse identity %s: %v", file, err)
			}
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func homeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	return os.Getenv("HOME")
}
