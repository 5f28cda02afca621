package grid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeRunner returns canned results per binary name and records calls.
type fakeRunner struct {
	results map[string][]Result
	errs    map[string]error
	calls   []fakeCall
}

type fakeCall struct {
	name string
	args []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: args})
	if err, ok := f.errs[name]; ok && err != nil {
		return Result{ExitCode: -1}, err
	}
	queue := f.results[name]
	if len(queue) == 0 {
		return Result{}, nil
	}
	result := queue[0]
	if len(queue) > 1 {
		f.results[name] = queue[1:]
	}
	return result, nil
}

func TestResolveBinaries(t *testing.T) {
	dir := t.TempDir()
	paths := make(map[string]string)
	for _, name := range []string{"dasgoclient", "curl", "voms_proxy_info", "voms_proxy_init", "xrdcp"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		paths[name] = p
	}

	t.Run("explicit overrides", func(t *testing.T) {
		bins, err := ResolveBinaries(paths)
		if err != nil {
			t.Fatalf("ResolveBinaries: %v", err)
		}
		if bins.Xrdcp != paths["xrdcp"] || bins.VomsProxyInfo != paths["voms_proxy_info"] {
			t.Errorf("paths not taken from overrides: %+v", bins)
		}
	})

	t.Run("non-executable rejected", func(t *testing.T) {
		bad := filepath.Join(dir, "not-exec")
		if err := os.WriteFile(bad, []byte(""), 0o644); err != nil {
			t.Fatal(err)
		}
		override := map[string]string{}
		for k, v := range paths {
			override[k] = v
		}
		override["xrdcp"] = bad

		_, err := ResolveBinaries(override)
		if !errors.Is(err, ErrBinary) {
			t.Errorf("expected ErrBinary, got %v", err)
		}
	})

	t.Run("missing from PATH", func(t *testing.T) {
		t.Setenv("PATH", dir) // none of the dashed names exist here
		_, err := ResolveBinaries(nil)
		if !errors.Is(err, ErrBinary) {
			t.Errorf("expected ErrBinary, got %v", err)
		}
	})
}

func TestDASFileList(t *testing.T) {
	const output = `[
		{"file": [{"name": "/store/data/one.root", "size": 100, "nevents": 5000, "adler32": "deadbeef"}]},
		{"file": [{"name": "/store/data/two.root", "size": 200, "nevents": 9000, "adler32": "cafe"}]},
		{"file": [{"name": "/store/data/one.root", "size": 100, "nevents": 5000, "adler32": "deadbeef"}]}
	]`

	runner := &fakeRunner{results: map[string][]Result{
		"dasgoclient": {{ExitCode: 0, Stdout: output}},
	}}
	das := NewDASClient(runner, "dasgoclient", time.Minute)

	files, err := das.FileList(context.Background(), "/DoubleMuon/Run2018A/NANOAOD", "")
	if err != nil {
		t.Fatalf("FileList: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (duplicates dropped)", len(files))
	}
	if files[0].Name != "/store/data/one.root" || files[0].Size != 100 || files[0].Entries != 5000 {
		t.Errorf("file[0] = %+v", files[0])
	}
	if files[0].Adler32 != 0xdeadbeef {
		t.Errorf("adler32 = %x", files[0].Adler32)
	}

	// default instance is resolved from the dataset name
	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d", len(runner.calls))
	}
	query := runner.calls[0].args[1]
	if query != "--query=file dataset=/DoubleMuon/Run2018A/NANOAOD instance=prod/phys01" {
		t.Errorf("query = %q", query)
	}
}

func TestDASFileListErrors(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		runner := &fakeRunner{results: map[string][]Result{
			"dasgoclient": {{ExitCode: 1, Stderr: "no such dataset"}},
		}}
		das := NewDASClient(runner, "dasgoclient", time.Minute)
		if _, err := das.FileList(context.Background(), "/X/Y/Z", ""); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("bad json", func(t *testing.T) {
		runner := &fakeRunner{results: map[string][]Result{
			"dasgoclient": {{ExitCode: 0, Stdout: "not json"}},
		}}
		das := NewDASClient(runner, "dasgoclient", time.Minute)
		if _, err := das.FileList(context.Background(), "/X/Y/Z", ""); err == nil {
			t.Error("expected error")
		}
	})
}

func TestDefaultInstance(t *testing.T) {
	if got := DefaultInstance("/A/B/USER"); got != "prod/phys03" {
		t.Errorf("user dataset instance = %s", got)
	}
	if got := DefaultInstance("/A/B/NANOAOD"); got != "prod/phys01" {
		t.Errorf("standard dataset instance = %s", got)
	}
}

func TestCopyClient(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{results: map[string][]Result{"xrdcp": {{ExitCode: 0}}}}
		c := NewCopyClient(runner, "xrdcp", time.Minute)

		dst := filepath.Join(t.TempDir(), "sub", "dir", "file.root")
		if err := c.Copy(context.Background(), "root://remote//store/f.root", dst); err != nil {
			t.Fatalf("Copy: %v", err)
		}

		// destination directory was created
		if _, err := os.Stat(filepath.Dir(dst)); err != nil {
			t.Errorf("destination directory missing: %v", err)
		}

		args := runner.calls[0].args
		if args[0] != "--force" || args[1] != "--nopbar" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("failure carries stderr", func(t *testing.T) {
		runner := &fakeRunner{results: map[string][]Result{
			"xrdcp": {{ExitCode: 54, Stderr: "connection refused\nmore detail"}},
		}}
		c := NewCopyClient(runner, "xrdcp", time.Minute)

		err := c.Copy(context.Background(), "root://remote//f.root", filepath.Join(t.TempDir(), "f.root"))
		if err == nil {
			t.Fatal("expected error")
		}
		if want := "connection refused"; !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	})
}

func TestProxyEnsureValid(t *testing.T) {
	newProxy := func(runner Runner, path string) *Proxy {
		bins := &Binaries{VomsProxyInfo: "voms-proxy-info", VomsProxyInit: "voms-proxy-init"}
		return NewProxy(runner, bins, path, "cms")
	}

	t.Run("valid proxy untouched", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".proxy")
		if err := os.WriteFile(path, []byte("proxy"), 0o600); err != nil {
			t.Fatal(err)
		}
		runner := &fakeRunner{results: map[string][]Result{
			"voms-proxy-info": {{ExitCode: 0, Stdout: "RFC3820 compliant impersonation proxy\ncms\n360000\n"}},
		}}

		if err := newProxy(runner, path).EnsureValid(context.Background(), 24*time.Hour); err != nil {
			t.Fatalf("EnsureValid: %v", err)
		}
		for _, call := range runner.calls {
			if call.name == "voms-proxy-init" {
				t.Error("valid proxy was renewed")
			}
		}
		if os.Getenv("X509_USER_PROXY") != path {
			t.Error("X509_USER_PROXY not exported")
		}
	})

	t.Run("short validity triggers renewal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".proxy")
		if err := os.WriteFile(path, []byte("proxy"), 0o600); err != nil {
			t.Fatal(err)
		}
		runner := &fakeRunner{results: map[string][]Result{
			"voms-proxy-info": {{ExitCode: 0, Stdout: "RFC3820 compliant impersonation proxy\ncms\n3600\n"}},
			"voms-proxy-init": {{ExitCode: 0}},
		}}

		if err := newProxy(runner, path).EnsureValid(context.Background(), 24*time.Hour); err != nil {
			t.Fatalf("EnsureValid: %v", err)
		}
		renewed := false
		for _, call := range runner.calls {
			if call.name == "voms-proxy-init" {
				renewed = true
			}
		}
		if !renewed {
			t.Error("expiring proxy was not renewed")
		}
	})

	t.Run("missing proxy file renews", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", ".proxy")
		runner := &fakeRunner{results: map[string][]Result{
			"voms-proxy-init": {{ExitCode: 0}},
		}}

		if err := newProxy(runner, path).EnsureValid(context.Background(), 24*time.Hour); err != nil {
			t.Fatalf("EnsureValid: %v", err)
		}
		if len(runner.calls) != 1 || runner.calls[0].name != "voms-proxy-init" {
			t.Errorf("calls = %+v", runner.calls)
		}
	})

	t.Run("renewal failure surfaces", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".proxy-x")
		runner := &fakeRunner{results: map[string][]Result{
			"voms-proxy-init": {{ExitCode: 1, Stderr: "no credentials"}},
		}}

		if err := newProxy(runner, path).EnsureValid(context.Background(), 24*time.Hour); err == nil {
			t.Error("expected error")
		}
	})
}
