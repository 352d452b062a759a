package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("TestError", func(t *testing.T) {
		ErrBaseErr := New("relay error")
		assert.Equal(t, "relay error", ErrBaseErr.Error())
		assert.Equal(t, "msg", ErrBaseErr.New("msg").Error())
		assert.ErrorIs(t, ErrBaseErr, ErrBaseErr)

		ErrCredential := ErrBaseErr.New("credential error")
		assert.Equal(t, "credential error", ErrCredential.Error())
		assert.ErrorIs(t, ErrCredential, ErrBaseErr)

		ErrUpstream := New("upstream unreachable")
		ErrUpstreamMsg := ErrUpstream.Msg("connect timed out")
		ErrSettings := New("settings file unreadable")
		ErrSettingsMsg := ErrSettings.Msg("no such file")
		ErrWrappedErr := ErrCredential.Err(ErrUpstreamMsg, ErrSettingsMsg)
		assert.Equal(t, "credential error", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, ErrCredential)
		assert.ErrorIs(t, ErrWrappedErr, ErrUpstream)
		assert.ErrorIs(t, ErrWrappedErr, ErrUpstreamMsg)
		assert.ErrorIs(t, ErrWrappedErr, ErrSettings)
		assert.ErrorIs(t, ErrWrappedErr, ErrSettingsMsg)

		err := errors.New("error")
		ErrWrappedErr = ErrCredential.Err(err)
		assert.Equal(t, "credential error", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, err)

		ErrWrappedErr = ErrCredential.MsgErr("exchange rejected", err)
		assert.Equal(t, "exchange rejected", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, err)

		ErrDialGoErr := fmt.Errorf("dial tcp: connection refused")
		ErrTLSGoErr := fmt.Errorf("tls handshake failure")
		ErrWrappedGoErr := ErrCredential.Err(ErrDialGoErr, ErrTLSGoErr)
		assert.Equal(t, "credential error", ErrWrappedGoErr.Error())
		assert.ErrorIs(t, ErrWrappedGoErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedGoErr, ErrDialGoErr)
		assert.ErrorIs(t, ErrWrappedGoErr, ErrTLSGoErr)
	})
}

func TestStatusCode(t *testing.T) {
	ErrBundle := New("bundle error").SetStatusCode(http.StatusInternalServerError)
	assert.Equal(t, http.StatusInternalServerError, ErrBundle.StatusCode())

	// derived errors inherit the status code until overridden
	ErrMissing := ErrBundle.New("required asset missing")
	assert.Equal(t, http.StatusInternalServerError, ErrMissing.StatusCode())
	assert.ErrorIs(t, ErrMissing, ErrBundle)

	ErrDenied := ErrBundle.New("access denied").SetStatusCode(http.StatusForbidden)
	assert.Equal(t, http.StatusForbidden, ErrDenied.StatusCode())
	assert.Equal(t, http.StatusInternalServerError, ErrBundle.StatusCode())
}

func TestErrorAll(t *testing.T) {
	base := New("archive failed")
	wrapped := base.MsgErr("tar exited abnormally", fmt.Errorf("exit status 2"))
	assert.Equal(t, "tar exited abnormally", wrapped.ErrorAll())

	expanded := base.SetExpandError(true).MsgErr("tar exited abnormally", fmt.Errorf("exit status 2"))
	assert.Contains(t, expanded.ErrorAll(), "tar exited abnormally")
	assert.Contains(t, expanded.ErrorAll(), "exit status 2")
	assert.Len(t, expanded.UnwrapAll(), 2)
}
