// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package remote

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/rowanphipps/Cerberus"
)

func TestQuote(t *testing.T) {
	for _, c := range []struct {
		command []string
		want    string
	}{
		{[]string{".cerberus/proj/bin", "controller", "4"}, ".cerberus/proj/bin controller 4"},
		{[]string{"-framing=length", ""}, "-framing=length ''"},
		{[]string{"a b", "it's", "$HOME"}, `'a b' 'it'\''s' '$HOME'`},
	} {
		assert.EQ(t, Quote(c.command), c.want)
	}
}

// echo serves commands by upper-casing each input line.
func echo(ctx context.Context, target cerberus.Target, command []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fmt.Fprintf(stderr, "serving %s for %s\n", strings.Join(command, " "), target)
	scan := bufio.NewScanner(stdin)
	for scan.Scan() {
		if scan.Text() == "end" {
			return nil
		}
		if _, err := fmt.Fprintln(stdout, strings.ToUpper(scan.Text())); err != nil {
			return err
		}
	}
	return io.ErrUnexpectedEOF
}

func TestLoopback(t *testing.T) {
	transport := Loopback(echo)
	proc, err := transport.Start(context.Background(), cerberus.Target{Host: "h", User: "u"}, []string{"echo"})
	assert.NoError(t, err)
	go io.Copy(ioutil.Discard, proc.Stderr)
	out := bufio.NewReader(proc.Stdout)
	fmt.Fprintln(proc.Stdin, "hello")
	line, err := out.ReadString('\n')
	assert.NoError(t, err)
	assert.EQ(t, line, "HELLO\n")
	fmt.Fprintln(proc.Stdin, "end")
	assert.NoError(t, proc.Wait())
	if _, err := out.ReadString('\n'); err != io.EOF {
		t.Errorf("got %v, want EOF", err)
	}
}

func TestLoopbackKill(t *testing.T) {
	proc, err := Loopback(echo).Start(context.Background(), cerberus.Target{Host: "h"}, []string{"echo"})
	assert.NoError(t, err)
	go io.Copy(ioutil.Discard, proc.Stderr)
	assert.NoError(t, proc.Kill())
	if _, err := proc.Stdout.Read(make([]byte, 1)); err == nil {
		t.Error("expected read error after kill")
	}
	if err := proc.Wait(); err == nil {
		t.Error("expected serve error after kill")
	}
}

func TestCommand(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	// A fake ssh client that checks its destination and then acts as
	// the remote command.
	script := filepath.Join(dir, "fakessh")
	err := ioutil.WriteFile(script, []byte(`#!/bin/sh
[ "$2" = "u@h" ] || exit 3
[ "$3" = "--" ] || exit 4
[ "$4" = "run 'a b'" ] || exit 5
exec cat
`), 0755)
	assert.NoError(t, err)
	transport := &Command{Path: script, Args: []string{"-q"}}
	proc, err := transport.Start(context.Background(), cerberus.Target{Host: "h", User: "u"}, []string{"run", "a b"})
	assert.NoError(t, err)
	fmt.Fprintln(proc.Stdin, "ping")
	assert.NoError(t, proc.Stdin.Close())
	b, err := ioutil.ReadAll(proc.Stdout)
	assert.NoError(t, err)
	assert.EQ(t, string(b), "ping\n")
	assert.NoError(t, proc.Wait())
}

func TestSSHNoCredentials(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	t.Setenv("SSH_AUTH_SOCK", "")
	transport := &SSH{IdentityFiles: []string{filepath.Join(dir, "missing")}}
	if _, err := transport.Start(context.Background(), cerberus.Target{Host: "127.0.0.1:1"}, []string{"true"}); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestSSHAgentReleased(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	sock := filepath.Join(dir, "agent.sock")
	l, err := net.Listen("unix", sock)
	assert.NoError(t, err)
	defer l.Close()
	t.Setenv("SSH_AUTH_SOCK", sock)

	transport := &SSH{
		IdentityFiles: []string{filepath.Join(dir, "missing")},
		KnownHosts:    filepath.Join(dir, "known_hosts"),
	}
	for _, insecure := range []bool{true, false} {
		transport.InsecureIgnoreHostKey = insecure
		config, release, err := transport.clientConfig("test")
		if insecure {
			assert.NoError(t, err)
			assert.EQ(t, config.User, "test")
			release()
		} else if !errors.Is(errors.Precondition, err) {
			t.Errorf("got %v, want precondition error", err)
		}
		// Either way, the agent connection is closed.
		conn, err := l.Accept()
		assert.NoError(t, err)
		assert.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, err = conn.Read(make([]byte, 1))
		assert.EQ(t, err, io.EOF)
		conn.Close()
	}
}
