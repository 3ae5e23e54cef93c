// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package manifest reads and writes cerberus project manifests. A
// manifest names the project's target function and the remote
// machines on which it is computed. Manifests are stored as JSON,
// by convention in a file named cerberus.conf in the project
// directory.
package manifest

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	jsoniter "github.com/json-iterator/go"
	"github.com/rowanphipps/Cerberus"
)

// DefaultPath is the conventional name of a project's manifest.
const DefaultPath = "cerberus.conf"

// DefaultBinary is the name of the binary started on remote machines
// when the manifest names none.
const DefaultBinary = "cerberus"

// RemoteDir is the directory, relative to the remote user's home, in
// which project files are installed.
const RemoteDir = ".cerberus"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// A Remote is a machine on which the project is computed.
type Remote struct {
	// Name is the remote's alias. It defaults to Location.
	Name string `json:"name"`
	// Location is the machine's address.
	Location string `json:"location"`
	// User is the login used on the machine.
	User string `json:"user"`
	// Cores is the size of the machine's worker pool; 0 uses all
	// of its cores.
	Cores int `json:"cores"`
}

// A Project is the contents of a manifest.
type Project struct {
	// Name names the project. Project files are installed in
	// RemoteDir/Name on each remote.
	Name string `json:"name"`
	// File and Function name the target function, registered as
	// "File.Function".
	File     string `json:"file"`
	Function string `json:"function"`
	// Files lists supporting files installed alongside the binary.
	Files []string `json:"files"`
	// Remotes lists the project's remote machines.
	Remotes []Remote `json:"remotes"`
	// Local tells whether the controller binary is installed from the
	// project directory rather than from the user's shared copy in
	// ~/.cerberus.
	Local bool `json:"local"`
	// Binary is the name of the installed controller binary.
	Binary string `json:"binary,omitempty"`
}

// Load reads and validates the manifest at path. If there is no
// manifest at path, Load returns an error of kind errors.NotExist.
func Load(ctx context.Context, path string) (*Project, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		if errors.Is(errors.NotExist, err) || os.IsNotExist(err) {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("no project manifest at %s", path), err)
		}
		return nil, err
	}
	defer f.Close(ctx) // nolint: errcheck
	b, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, err
	}
	p := new(Project)
	if err := json.Unmarshal(b, p); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("parse manifest %s", path), err)
	}
	for i := range p.Remotes {
		if p.Remotes[i].Name == "" {
			p.Remotes[i].Name = p.Remotes[i].Location
		}
	}
	if err := p.Validate(); err != nil {
		return nil, errors.E(fmt.Sprintf("manifest %s", path), err)
	}
	return p, nil
}

// Save writes p to path.
func (p *Project) Save(ctx context.Context, path string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := f.Writer(ctx).Write(append(b, '\n')); err != nil {
		f.Discard(ctx)
		return err
	}
	return f.Close(ctx)
}

// Validate checks that p names a function and that its remotes are
// well formed and distinct.
func (p *Project) Validate() error {
	switch {
	case p.Name == "":
		return errors.E(errors.Invalid, "project has no name")
	case strings.ContainsAny(p.Name, "/ "):
		return errors.E(errors.Invalid, fmt.Sprintf("invalid project name %q", p.Name))
	case p.Function == "":
		return errors.E(errors.Invalid, "project has no function")
	}
	var (
		names     = make(map[string]bool)
		locations = make(map[string]bool)
	)
	for i, r := range p.Remotes {
		switch {
		case r.Location == "":
			return errors.E(errors.Invalid, fmt.Sprintf("remote %d has no location", i))
		case r.User == "":
			return errors.E(errors.Invalid, fmt.Sprintf("remote %s has no user", r.Location))
		case r.Cores < 0:
			return errors.E(errors.Invalid, fmt.Sprintf("remote %s: invalid core count %d", r.Location, r.Cores))
		case names[r.Name]:
			return errors.E(errors.Invalid, fmt.Sprintf("duplicate remote name %s", r.Name))
		case locations[r.Location]:
			return errors.E(errors.Invalid, fmt.Sprintf("duplicate remote location %s", r.Location))
		}
		names[r.Name] = true
		locations[r.Location] = true
	}
	return nil
}

// FuncName returns the registered name of the project's function.
func (p *Project) FuncName() string {
	if p.File == "" {
		return p.Function
	}
	return p.File + "." + p.Function
}

// Targets returns the project's remotes as compute targets.
func (p *Project) Targets() []cerberus.Target {
	targets := make([]cerberus.Target, len(p.Remotes))
	for i, r := range p.Remotes {
		name := r.Name
		if name == "" {
			name = r.Location
		}
		targets[i] = cerberus.Target{Name: name, Host: r.Location, User: r.User, Cores: r.Cores}
	}
	return targets
}

// ControllerCommand returns the command that starts the project's
// controller on a remote, relative to the remote user's home.
func (p *Project) ControllerCommand() []string {
	binary := p.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	return []string{path.Join(RemoteDir, p.Name, binary), "controller"}
}
