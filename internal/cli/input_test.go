package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPasswords replaces readPassword with a reader returning answers in
// order.
func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	i := 0
	readPassword = func(int) ([]byte, error) {
		if i >= len(answers) {
			return nil, errors.New("no more input")
		}
		a := answers[i]
		i++
		return []byte(a), nil
	}
}

func TestGetSimpleText(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("hello world\n"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("lastline"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetSimpleTextEmptyEOF(t *testing.T) {
	in := bufio.NewReader(strings.NewReader(""))
	var out bytes.Buffer
	_, err := GetSimpleText(in, "Name?", &out)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}
	var out bytes.Buffer
	_, err := GetPassword(&out, "Enter password: ")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetNewPassword(t *testing.T) {
	t.Run("matching", func(t *testing.T) {
		stubPasswords(t, "s3cret-pass", "s3cret-pass")
		var out bytes.Buffer

		pw, err := GetNewPassword(&out)
		require.NoError(t, err)
		assert.Equal(t, "s3cret-pass", string(pw))
		assert.Contains(t, out.String(), "Repeat password: ")
	})

	t.Run("mismatch", func(t *testing.T) {
		stubPasswords(t, "first-pass", "other-pass")
		var out bytes.Buffer

		_, err := GetNewPassword(&out)
		require.ErrorIs(t, err, ErrPasswordMismatch)
	})

	t.Run("second read fails", func(t *testing.T) {
		stubPasswords(t, "first-pass")
		var out bytes.Buffer

		_, err := GetNewPassword(&out)
		require.Error(t, err)
	})
}
