package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches wrapped domain error", func(t *testing.T) {
		err := fmt.Errorf("process: %w", New(CodeDuplicateVisit, "already checked in today"))
		assert.True(t, HasCode(err, CodeDuplicateVisit))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("wrap keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("driver: bad connection")
		err := Wrap(cause, CodeInternal, "failed to insert visit")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to insert visit: driver: bad connection", err.Error())
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeDuplicateVisit: http.StatusConflict,
		CodeInvalidToken:   http.StatusBadRequest,
		CodeTokenExpired:   http.StatusBadRequest,
		CodeTokenExhausted: http.StatusBadRequest,
		CodeTokenRevoked:   http.StatusBadRequest,
		CodeNotFound:       http.StatusNotFound,
		CodeInternal:       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
