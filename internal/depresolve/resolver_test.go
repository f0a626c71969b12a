package depresolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mattjoyce/vkore/internal/module"
	"github.com/mattjoyce/vkore/internal/state"
)

// fakeFetcher creates the destination directory unless told otherwise.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	fail     map[string]error
	noCreate map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, source, dest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(dest)
	f.calls = append(f.calls, name+"<-"+source)
	if err := f.fail[name]; err != nil {
		return err
	}
	if f.noCreate[name] {
		return nil
	}
	return os.MkdirAll(dest, 0o755)
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type countingWhitelist struct {
	wl    Whitelist
	err   error
	calls int
}

func (c *countingWhitelist) Fetch(context.Context) (Whitelist, error) {
	c.calls++
	return c.wl, c.err
}

type memRecorder struct {
	installs []state.Install
}

func (m *memRecorder) RecordInstall(_ context.Context, in state.Install) error {
	m.installs = append(m.installs, in)
	return nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func desc(name string, deps ...string) *module.Descriptor {
	d := &module.Descriptor{Name: name}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, module.Dependency{Name: dep, Version: "1.0"})
	}
	return d
}

func TestResolveFetchesMissingDependency(t *testing.T) {
	depsDir := t.TempDir()
	fetcher := &fakeFetcher{}
	rec := &memRecorder{}
	r := New(StaticWhitelist{"alpha": "git://x/alpha"}, fetcher, depsDir, rec, newTestLogger())

	err := r.Resolve(context.Background(), desc("weather", "alpha"))
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha<-git://x/alpha"}, fetcher.Calls())
	assert.DirExists(t, filepath.Join(depsDir, "alpha"))
	require.Len(t, rec.installs, 1)
	assert.Equal(t, "weather", rec.installs[0].Module)
	assert.Equal(t, filepath.Join(depsDir, "alpha"), rec.installs[0].Path)
}

func TestResolveNotWhitelistedFailsClosed(t *testing.T) {
	depsDir := t.TempDir()
	fetcher := &fakeFetcher{}
	r := New(StaticWhitelist{}, fetcher, depsDir, nil, newTestLogger())

	err := r.Resolve(context.Background(), desc("weather", "beta"))
	require.Error(t, err)

	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "weather", rerr.Module)
	assert.Equal(t, "beta", rerr.Dependency)
	assert.ErrorIs(t, err, ErrNotWhitelisted)
	assert.Equal(t, "module weather: beta not whitelisted", err.Error())
	assert.Empty(t, fetcher.Calls())
}

func TestResolveChecksWhitelistBeforeAnyFetch(t *testing.T) {
	depsDir := t.TempDir()
	fetcher := &fakeFetcher{}
	r := New(StaticWhitelist{"alpha": "git://x/alpha"}, fetcher, depsDir, nil, newTestLogger())

	err := r.Resolve(context.Background(), desc("weather", "alpha", "beta"))
	require.ErrorIs(t, err, ErrNotWhitelisted)
	assert.Empty(t, fetcher.Calls(), "whitelisted alpha must not be installed when beta is rejected")
	assert.NoDirExists(t, filepath.Join(depsDir, "alpha"))
}

func TestResolveLogsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "depresolve")
	r := New(StaticWhitelist{"alpha": "git://x/alpha"}, &fakeFetcher{}, t.TempDir(), nil, logger)

	require.NoError(t, r.Resolve(context.Background(), desc("weather", "alpha")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Equal(t, 1, bytes.Count(line, []byte(`"component"`)), string(line))
	}
}

func TestResolveAlreadyMaterializedSkipsFetch(t *testing.T) {
	depsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(depsDir, "alpha"), 0o755))
	fetcher := &fakeFetcher{}
	r := New(StaticWhitelist{"alpha": "git://x/alpha"}, fetcher, depsDir, nil, newTestLogger())

	require.NoError(t, r.Resolve(context.Background(), desc("weather", "alpha")))
	assert.Empty(t, fetcher.Calls())
}

func TestResolveNoDependenciesSkipsRegistry(t *testing.T) {
	wl := &countingWhitelist{err: errors.New("should not be called")}
	r := New(wl, &fakeFetcher{}, t.TempDir(), nil, newTestLogger())

	require.NoError(t, r.Resolve(context.Background(), desc("plain")))
	assert.Equal(t, 0, wl.calls)
}

func TestResolveFetchesWhitelistEveryCall(t *testing.T) {
	wl := &countingWhitelist{wl: Whitelist{"alpha": "git://x/alpha"}}
	r := New(wl, &fakeFetcher{}, t.TempDir(), nil, newTestLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Resolve(context.Background(), desc("m", "alpha")))
	}
	assert.Equal(t, 3, wl.calls)
}

func TestResolveRegistryUnavailable(t *testing.T) {
	wl := &countingWhitelist{err: fmt.Errorf("%w: connection refused", ErrRegistryUnavailable)}
	r := New(wl, &fakeFetcher{}, t.TempDir(), nil, newTestLogger())

	err := r.Resolve(context.Background(), desc("weather", "alpha"))
	require.ErrorIs(t, err, ErrRegistryUnavailable)

	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "", rerr.Dependency)
}

func TestResolveDownloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{
			name:    "fetch error",
			fetcher: &fakeFetcher{fail: map[string]error{"alpha": errors.New("network down")}},
		},
		{
			name:    "directory missing after fetch",
			fetcher: &fakeFetcher{noCreate: map[string]bool{"alpha": true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(StaticWhitelist{"alpha": "git://x/alpha"}, tt.fetcher, t.TempDir(), nil, newTestLogger())
			err := r.Resolve(context.Background(), desc("weather", "alpha"))
			require.ErrorIs(t, err, ErrDownload)
			assert.Len(t, tt.fetcher.Calls(), 1, "no automatic retry")
		})
	}
}

func TestResolveRejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"../escape", "a/b", `a\b`, "..", ""} {
		t.Run(fmt.Sprintf("%q", name), func(t *testing.T) {
			fetcher := &fakeFetcher{}
			r := New(StaticWhitelist{name: "git://x"}, fetcher, t.TempDir(), nil, newTestLogger())
			err := r.Resolve(context.Background(), desc("m", name))
			require.ErrorIs(t, err, ErrInvalidName)
			assert.Empty(t, fetcher.Calls())
		})
	}
}

func TestCheckDoesNotFetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	r := New(StaticWhitelist{"alpha": "git://x/alpha"}, fetcher, t.TempDir(), nil, newTestLogger())

	require.NoError(t, r.Check(context.Background(), desc("m", "alpha")))
	require.ErrorIs(t, r.Check(context.Background(), desc("m", "beta")), ErrNotWhitelisted)
	assert.Empty(t, fetcher.Calls())
	assert.Len(t, r.Missing(desc("m", "alpha")), 1)
}

// For all dependency sets containing a name absent from the whitelist,
// resolution fails and nothing is installed.
func TestPropertyUnwhitelistedInstallsNothing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 1, 6, rapid.ID[string]).Draw(rt, "deps")
		missing := rapid.IntRange(0, len(names)-1).Draw(rt, "missing")

		wl := Whitelist{}
		for i, n := range names {
			if i != missing {
				wl[n] = "git://x/" + n
			}
		}

		depsDir, err := os.MkdirTemp("", "vkore-deps-")
		if err != nil {
			rt.Fatalf("mkdtemp: %v", err)
		}
		defer os.RemoveAll(depsDir)

		fetcher := &fakeFetcher{}
		r := New(StaticWhitelist(wl), fetcher, depsDir, nil, newTestLogger())
		err = r.Resolve(context.Background(), desc("m", names...))
		if !errors.Is(err, ErrNotWhitelisted) {
			rt.Fatalf("Resolve() = %v, want ErrNotWhitelisted", err)
		}
		if calls := fetcher.Calls(); len(calls) != 0 {
			rt.Fatalf("fetch calls %v, want none", calls)
		}
		entries, _ := os.ReadDir(depsDir)
		if len(entries) != 0 {
			rt.Fatalf("dependencies dir not empty: %d entries", len(entries))
		}
	})
}

// Re-running resolution over a satisfied set changes nothing on disk.
func TestPropertyResolveIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 0, 6, rapid.ID[string]).Draw(rt, "deps")
		wl := Whitelist{}
		for _, n := range names {
			wl[n] = "git://x/" + n
		}

		depsDir, err := os.MkdirTemp("", "vkore-deps-")
		if err != nil {
			rt.Fatalf("mkdtemp: %v", err)
		}
		defer os.RemoveAll(depsDir)

		r := New(StaticWhitelist(wl), &fakeFetcher{}, depsDir, nil, newTestLogger())
		d := desc("m", names...)
		if err := r.Resolve(context.Background(), d); err != nil {
			rt.Fatalf("first Resolve: %v", err)
		}
		before := snapshotTree(rt, depsDir)

		second := &fakeFetcher{}
		r2 := New(StaticWhitelist(wl), second, depsDir, nil, newTestLogger())
		if err := r2.Resolve(context.Background(), d); err != nil {
			rt.Fatalf("second Resolve: %v", err)
		}
		if calls := second.Calls(); len(calls) != 0 {
			rt.Fatalf("second pass fetched %v", calls)
		}
		after := snapshotTree(rt, depsDir)
		if fmt.Sprint(before) != fmt.Sprint(after) {
			rt.Fatalf("tree changed: %v -> %v", before, after)
		}
	})
}

func snapshotTree(rt *rapid.T, root string) []string {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, fmt.Sprintf("%s|%v|%d", path, info.IsDir(), info.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		rt.Fatalf("walk: %v", err)
	}
	sort.Strings(out)
	return out
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("requests"))
	assert.NoError(t, ValidateName("py-yaml_2"))
	assert.ErrorIs(t, ValidateName("a..b"), ErrInvalidName)
	assert.ErrorIs(t, ValidateName("/abs"), ErrInvalidName)
}
