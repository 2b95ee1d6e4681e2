package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed host.mjs
var hostScript []byte

// denoLocations are checked when deno is not on PATH.
var denoLocations = []string{
	"/usr/local/bin/deno",
	"/usr/bin/deno",
	"/opt/homebrew/bin/deno",
	"/home/linuxbrew/.linuxbrew/bin/deno",
}

// VM runs esbuild on the Deno JavaScript VM.
type VM struct {
	deno        string
	denoVersion string

	scriptOnce sync.Once
	script     string
	scriptErr  error
}

// NewVM locates deno and checks that it runs.
func NewVM(ctx context.Context) (*VM, error) {
	deno, err := findDeno()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, deno, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("run %s --version: %w", deno, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return &VM{deno: deno, denoVersion: strings.TrimSpace(line)}, nil
}

// VMProbe loads the VM variant.
func VMProbe() Probe {
	return Probe{Kind: KindVM, Load: func(ctx context.Context) (Backend, error) {
		return NewVM(ctx)
	}}
}

func findDeno() (string, error) {
	if p, err := exec.LookPath("deno"); err == nil {
		return p, nil
	}
	candidates := denoLocations
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(slices.Clip(candidates), filepath.Join(home, ".deno", "bin", "deno"))
	}
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", errors.New("deno executable not found in PATH or common locations")
}

func (*VM) Kind() Kind { return KindVM }

// Version is the esbuild release; the host script pins the same one.
func (*VM) Version() string { return EsbuildVersion }

// Runtime describes the deno executable in use.
func (v *VM) Runtime() string { return v.denoVersion }

// hostPath writes the embedded host script once, named by its digest so
// concurrent processes agree on the content.
func (v *VM) hostPath() (string, error) {
	v.scriptOnce.Do(func() {
		sum := sha256.Sum256(hostScript)
		p := filepath.Join(os.TempDir(), "ngbundle-host-"+hex.EncodeToString(sum[:8])+".mjs")
		if existing, err := os.ReadFile(p); err == nil && bytes.Equal(existing, hostScript) {
			v.script = p
			return
		}
		tmp, err := os.CreateTemp(filepath.Dir(p), "ngbundle-host-*.mjs")
		if err != nil {
			v.scriptErr = fmt.Errorf("write host script: %w", err)
			return
		}
		_, werr := tmp.Write(hostScript)
		cerr := tmp.Close()
		if err := errors.Join(werr, cerr); err != nil {
			_ = os.Remove(tmp.Name())
			v.scriptErr = fmt.Errorf("write host script: %w", err)
			return
		}
		if err := os.Rename(tmp.Name(), p); err != nil {
			_ = os.Remove(tmp.Name())
			v.scriptErr = fmt.Errorf("write host script: %w", err)
			return
		}
		v.script = p
	})
	return v.script, v.scriptErr
}

// Build implements Backend. The host process stays alive, holding the
// esbuild context, until the returned Bundle is closed.
func (v *VM) Build(ctx context.Context, opts Options) (*Bundle, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	script, err := v.hostPath()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, v.deno, "run", "--allow-all", "--quiet", "--no-prompt", script)
	cmd.Env = denoEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("deno stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("deno stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start deno: %w", err)
	}
	log.Debug().Int("pid", cmd.Process.Pid).Str("script", script).Msg("VM backend host started")

	s := newSession(stdout, stdin)
	release := func() error {
		_ = s.dispose()
		_ = stdin.Close()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("deno host: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}

	res, err := s.build(ctx, opts)
	if err != nil {
		_ = release()
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("vm build: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	errs, warnings := res.messages()
	if len(errs) > 0 {
		_ = release()
		return nil, &Failure{Errors: errs, Warnings: warnings}
	}
	return NewBundle(res.files(), res.Metafile, warnings, release), nil
}

// denoEnv pins DENO_DIR and HOME so the npm cache is shared between runs.
func denoEnv() []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DENO_DIR=") || strings.HasPrefix(kv, "HOME=") {
			continue
		}
		env = append(env, kv)
	}
	denoDir := os.Getenv("DENO_DIR")
	if denoDir == "" {
		denoDir = filepath.Join(os.TempDir(), "deno")
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = os.TempDir()
	}
	return append(env, "DENO_DIR="+denoDir, "HOME="+home)
}
