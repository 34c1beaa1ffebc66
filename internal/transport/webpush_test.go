package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		kind      notify.PushErrorKind
		delivered bool
	}{
		{"created", 201, "", true},
		{"ok", 200, "", true},
		{"not found", 404, notify.PushProtocolError, false},
		{"gone", 410, notify.PushProtocolError, false},
		{"bad request", 400, notify.PushProtocolError, false},
		{"payload too large", 413, notify.PushProtocolError, false},
		{"throttled", 429, notify.PushTransportError, false},
		{"server error", 500, notify.PushTransportError, false},
		{"bad gateway", 502, notify.PushTransportError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyStatus(tc.status, "https://push.example.com/ep")

			if tc.delivered {
				assert.NoError(t, err)
				return
			}

			var pushErr *notify.PushError
			require.True(t, errors.As(err, &pushErr))
			assert.Equal(t, tc.kind, pushErr.Kind)
			assert.Equal(t, tc.status, pushErr.StatusCode)
		})
	}
}

func TestClassifyStatus_PermanentFlag(t *testing.T) {
	var pushErr *notify.PushError

	require.True(t, errors.As(classifyStatus(410, "ep"), &pushErr))
	assert.True(t, pushErr.Permanent())

	require.True(t, errors.As(classifyStatus(503, "ep"), &pushErr))
	assert.False(t, pushErr.Permanent())
}
