package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/library"
)

// run executes one librarian invocation against db and returns stdout.
func run(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root, a := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append([]string{"--db", db, "--log-level", "error"}, args...))
	err := root.Execute()
	require.NoError(t, a.shutdown())
	return out.String(), err
}

func TestCLIRoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	t.Setenv("LIBRARY_MEMBER", "")
	t.Setenv("LIBRARY_NEW_PASSWORD", "rootpass")
	t.Setenv("LIBRARY_PASSWORD", "rootpass")

	out, err := run(t, db, "--json", "init", "--name", "Root")
	require.NoError(t, err)
	var admin library.Member
	require.NoError(t, json.Unmarshal([]byte(out), &admin))
	require.NotEmpty(t, admin.ID)
	assert.Equal(t, library.RoleAdmin, admin.Role)

	_, err = run(t, db, "init")
	assert.ErrorIs(t, err, library.ErrNotAuthorized)

	_, err = run(t, db, "add-book", "--title", "Dune")
	assert.ErrorContains(t, err, "--as")

	out, err = run(t, db, "--as", admin.ID, "add-book", "--title", "Dune", "--author", "Frank Herbert")
	require.NoError(t, err)
	assert.Contains(t, out, "Book added: Dune")

	out, err = run(t, db, "books")
	require.NoError(t, err)
	assert.Contains(t, out, "Frank Herbert")
	assert.Contains(t, out, "0/0")

	t.Setenv("LIBRARY_PASSWORD", "wrong")
	_, err = run(t, db, "--as", admin.ID, "stats")
	assert.Equal(t, library.ReasonInvalidCredentials, library.ReasonOf(err))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "Dune", truncateString("Dune", 10))
	assert.Equal(t, "The Left...", truncateString("The Left Hand of Darkness", 11))
	assert.Equal(t, "Crime et ch...", truncateString("Crime et châtiment", 14))
	assert.Equal(t, "Les Misérables", truncateString("Les Misérables", 14))
	assert.Equal(t, "Pr", truncateString("Pride and Prejudice", 2))
	assert.Equal(t, "", truncateString("Emma", 0))
}

func TestShutdownSucceedsAfterCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "library.db")
	t.Setenv("LIBRARY_MEMBER", "")

	root, a := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--db", db, "--log-level", "error", "books"})
	require.NoError(t, root.Execute(), "PersistentPostRunE shuts the container down")
	assert.Nil(t, a.injector)
	assert.NoError(t, a.shutdown())
}
