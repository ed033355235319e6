package boohints

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestRegistry_SharesSessionsByIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "proj.rsp"), "")
	srcA := filepath.Join(dir, "a.boo")
	srcB := filepath.Join(dir, "sub", "b.boo")
	writeFile(t, srcA, "")
	writeFile(t, srcB, "")

	reg := NewRegistry()
	t.Cleanup(func() { reg.Close(context.Background()) })

	s1, err := reg.Session("cat", nil, WithSourceFile(srcA))
	require.NoError(t, err)
	s2, err := reg.Session("cat", nil, WithSourceFile(srcB))
	require.NoError(t, err)

	// Both sources resolve to the same response file, so they share a session.
	require.Same(t, s1, s2)
	require.Equal(t, 1, reg.Len())
}

func TestRegistry_DistinctIdentities(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeFile(t, filepath.Join(dirA, "a.rsp"), "")
	writeFile(t, filepath.Join(dirB, "b.rsp"), "")

	reg := NewRegistry()
	t.Cleanup(func() { reg.Close(context.Background()) })

	s1, err := reg.Session("cat", nil, WithSourceFile(filepath.Join(dirA, "main.boo")))
	require.NoError(t, err)
	s2, err := reg.Session("cat", nil, WithSourceFile(filepath.Join(dirB, "main.boo")))
	require.NoError(t, err)
	require.NotSame(t, s1, s2)

	s3, err := reg.Session("cat", []string{"-v"}, WithSourceFile(filepath.Join(dirA, "main.boo")))
	require.NoError(t, err)
	require.NotSame(t, s1, s3)

	require.Equal(t, 3, reg.Len())
}

func TestRegistry_DefaultsAndOverrides(t *testing.T) {
	base := t.TempDir()
	other := t.TempDir()

	reg := NewRegistry(WithWorkingDir(base))
	t.Cleanup(func() { reg.Close(context.Background()) })

	s1, err := reg.Session("cat", nil)
	require.NoError(t, err)
	require.Equal(t, base, s1.Dir())

	s2, err := reg.Session("cat", nil, WithWorkingDir(other))
	require.NoError(t, err)
	require.Equal(t, other, s2.Dir())
	require.NotSame(t, s1, s2)
}

func TestRegistry_DropRemovesSession(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "proj.rsp"), "")
	src := filepath.Join(dir, "main.boo")

	reg := NewRegistry()
	t.Cleanup(func() { reg.Close(context.Background()) })

	s1, err := reg.Session("cat", nil, WithSourceFile(src))
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Drop(context.Background(), s1))
	require.Equal(t, 0, reg.Len())
	require.Equal(t, StateClosed, s1.State())

	s2, err := reg.Session("cat", nil, WithSourceFile(src))
	require.NoError(t, err)
	require.NotSame(t, s1, s2)
}

func TestRegistry_ResetAllEmptiesPool(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	reg := NewRegistry()
	t.Cleanup(func() { reg.Close(context.Background()) })

	s1, err := reg.Session("cat", nil, WithWorkingDir(dirA))
	require.NoError(t, err)
	s2, err := reg.Session("cat", nil, WithWorkingDir(dirB))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	require.NoError(t, reg.ResetAll(context.Background()))
	require.Equal(t, 0, reg.Len())
	require.Equal(t, StateClosed, s1.State())
	require.Equal(t, StateClosed, s2.State())

	// The registry stays usable after a reset.
	s3, err := reg.Session("cat", nil, WithWorkingDir(dirA))
	require.NoError(t, err)
	require.NotSame(t, s1, s3)
}

func TestRegistry_CloseRejectsNewSessions(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Session("cat", nil, WithWorkingDir(t.TempDir()))
	require.NoError(t, err)

	require.NoError(t, reg.Close(context.Background()))
	require.Equal(t, 0, reg.Len())

	_, err = reg.Session("cat", nil, WithWorkingDir(t.TempDir()))
	require.ErrorIs(t, err, ErrRegistryClosed)

	require.NoError(t, reg.Close(context.Background()))
}

func TestRegistry_SessionRequiresBin(t *testing.T) {
	reg := NewRegistry()
	t.Cleanup(func() { reg.Close(context.Background()) })

	_, err := reg.Session("", nil)
	require.Error(t, err)
	require.Equal(t, 0, reg.Len())
}
