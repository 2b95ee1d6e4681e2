package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ngbundle/internal/backend"
)

const projectConfig = `module_name: acme.lib
entry: src/index.mjs
entry_artifact_name: lib
out_dir: dist
source_root: src
cache:
  dir: .cache
externals:
  first_party_scopes: ["@acme/"]
compiler_options:
  target: es2022
`

// newProject writes a compiled library with a config file and returns its
// root.
func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	t.Setenv(backend.EnvBackend, "")
	root := t.TempDir()
	all := map[string]string{
		"ngbundle.yaml": projectConfig,
		"src/index.mjs": "import { foo } from 'foo';\nimport { bar } from './bar.mjs';\nexport const run = () => foo(bar);\n",
		"src/bar.mjs":   "export const bar = 'BAR_VALUE';\n",
	}
	for name, content := range files {
		all[name] = content
	}
	for name, content := range all {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

type cliResult struct {
	stdout, stderr string
	err            error
}

func execute(t *testing.T, args ...string) cliResult {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

type bundleResponse struct {
	Status   string        `json:"status"`
	Data     BundleSummary `json:"data"`
	Error    *CLIError     `json:"error"`
	Warnings []string      `json:"warnings"`
}

func decodeBundle(t *testing.T, r cliResult) bundleResponse {
	t.Helper()
	var resp bundleResponse
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp), "stdout: %s\nstderr: %s", r.stdout, r.stderr)
	return resp
}

func TestBundleCommandJSON(t *testing.T) {
	root := newProject(t, nil)
	cfg := filepath.Join(root, "ngbundle.yaml")

	r := execute(t, "bundle", "--config", cfg, "--format", "json")
	require.NoError(t, r.err, r.stdout)
	resp := decodeBundle(t, r)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "acme.lib", resp.Data.Module)
	assert.Equal(t, "native", resp.Data.Backend)
	assert.NotEmpty(t, resp.Data.CacheKey)
	require.NotEmpty(t, resp.Data.Files)
	assert.Equal(t, "lib.mjs", resp.Data.Files[0].Name)
	assert.True(t, resp.Data.Files[0].Entry)
	assert.Equal(t, 2, resp.Data.Stats.ModulesTransformed)
	assert.Equal(t, 1, resp.Data.Stats.Externals)

	code, err := os.ReadFile(filepath.Join(root, "dist", "lib.mjs"))
	require.NoError(t, err)
	assert.Contains(t, string(code), `from "foo"`)
	assert.Contains(t, string(code), "BAR_VALUE")

	r = execute(t, "bundle", "--config", cfg, "--format", "json")
	require.NoError(t, r.err)
	resp = decodeBundle(t, r)
	assert.Equal(t, 2, resp.Data.Stats.ModulesReused, "second run reads the cached graph")
}

func TestBundleCommandText(t *testing.T) {
	root := newProject(t, nil)

	r := execute(t, "bundle", "--config", filepath.Join(root, "ngbundle.yaml"))
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "✓ Bundled acme.lib with the native backend")
	assert.Contains(t, r.stdout, "lib.mjs (entry, ")
	assert.Contains(t, r.stdout, "Modules: 2 loaded, 0 reused, 2 transformed")
}

func TestBundleCommandFlagsOverrideConfig(t *testing.T) {
	root := newProject(t, nil)
	out := filepath.Join(t.TempDir(), "out")

	r := execute(t, "bundle", filepath.Join(root, "src", "index.mjs"),
		"--config", filepath.Join(root, "ngbundle.yaml"),
		"--name", "renamed", "--out-dir", out, "--no-cache", "--format", "json")
	require.NoError(t, r.err, r.stdout)
	resp := decodeBundle(t, r)
	assert.Equal(t, "renamed.mjs", resp.Data.Files[0].Name)
	assert.Empty(t, resp.Data.CacheKey)
	assert.FileExists(t, filepath.Join(out, "renamed.mjs"))
	assert.NoDirExists(t, filepath.Join(root, ".cache"))
}

func TestBundleCommandInvalidConfig(t *testing.T) {
	root := newProject(t, map[string]string{"ngbundle.yaml": "out_dir: dist\ncache:\n  store: redis\n"})

	r := execute(t, "bundle", "--config", filepath.Join(root, "ngbundle.yaml"), "--format", "json")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))

	resp := decodeBundle(t, r)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "module_name is required")
	assert.Contains(t, resp.Error.Details, "entry is required")
}

func TestBundleCommandBuildFailure(t *testing.T) {
	root := newProject(t, map[string]string{"src/index.mjs": "import { nope } from './nope.mjs';\nexport default nope;\n"})

	r := execute(t, "bundle", "--config", filepath.Join(root, "ngbundle.yaml"), "--format", "json")
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	resp := decodeBundle(t, r)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "BUILD_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "nope.mjs")
}

func TestBundleCommandSourceMapMissing(t *testing.T) {
	root := newProject(t, map[string]string{"src/bar.mjs": "export const bar = 1;\n//# sourceMappingURL=bar.mjs.map\n"})

	r := execute(t, "bundle", "--config", filepath.Join(root, "ngbundle.yaml"), "--format", "json")
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	resp := decodeBundle(t, r)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SOURCEMAP_FILE_MISSING", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "file not found in memory")
}

func TestBundleCommandPersistFailure(t *testing.T) {
	root := newProject(t, map[string]string{".cache": "not a directory"})
	cfg := filepath.Join(root, "ngbundle.yaml")

	r := execute(t, "bundle", "--config", cfg, "--format", "json")
	require.NoError(t, r.err, "a failed save only warns by default")
	resp := decodeBundle(t, r)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Warnings, 1)
	assert.True(t, strings.HasPrefix(resp.Warnings[0], "CACHE_PERSIST_FAILED"))
	assert.FileExists(t, filepath.Join(root, "dist", "lib.mjs"))

	r = execute(t, "bundle", "--config", cfg, "--format", "json", "--fail-on-persist-error")
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	resp = decodeBundle(t, r)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CACHE_PERSIST_FAILED", resp.Error.Code)
}

func TestCacheCommands(t *testing.T) {
	for _, store := range []string{"file", "sqlite"} {
		t.Run(store, func(t *testing.T) {
			root := newProject(t, nil)
			cfg := filepath.Join(root, "ngbundle.yaml")
			cacheDir := filepath.Join(root, ".cache")

			r := execute(t, "bundle", "--config", cfg, "--store", store, "--format", "json")
			require.NoError(t, r.err, r.stdout)
			key := decodeBundle(t, r).Data.CacheKey

			r = execute(t, "cache", "list", "--dir", cacheDir, "--store", store, "--format", "json")
			require.NoError(t, r.err, r.stdout)
			var list struct {
				Data CacheListResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(r.stdout), &list))
			assert.Equal(t, store, list.Data.Store)
			require.Len(t, list.Data.Entries, 1)
			assert.Equal(t, key, list.Data.Entries[0].Key)
			assert.Positive(t, list.Data.Entries[0].Size)

			r = execute(t, "cache", "list", "--config", cfg, "--store", store)
			require.NoError(t, r.err)
			assert.Contains(t, r.stdout, "KEY")
			assert.Contains(t, r.stdout, key)

			r = execute(t, "cache", "clear", "--dir", cacheDir, "--store", store)
			require.NoError(t, r.err)
			assert.Contains(t, r.stdout, "Removed 1 cached build graph(s)")

			r = execute(t, "cache", "list", "--dir", cacheDir, "--store", store)
			require.NoError(t, r.err)
			assert.Contains(t, r.stdout, "No cached build graphs")
		})
	}
}

func TestCacheCommandErrors(t *testing.T) {
	root := newProject(t, map[string]string{"ngbundle.yaml": "module_name: x\n"})

	r := execute(t, "cache", "list", "--config", filepath.Join(root, "ngbundle.yaml"))
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "no cache directory")

	r = execute(t, "cache", "clear", "--dir", root, "--store", "redis")
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "Error [CACHE_STORE_FAILED]")
}

func TestVersionCommand(t *testing.T) {
	t.Setenv(backend.EnvBackend, "")
	r := execute(t, "version", "--format", "json")
	require.NoError(t, r.err)

	var resp struct {
		Data VersionInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
	assert.Equal(t, Version, resp.Data.Version)
	assert.Equal(t, backend.EsbuildVersion, resp.Data.Esbuild)
	assert.Equal(t, "native", resp.Data.Backend)
	assert.Equal(t, backend.EsbuildVersion, resp.Data.BackendVersion)
}
