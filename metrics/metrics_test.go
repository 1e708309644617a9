package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/apperr"
)

func TestResult(t *testing.T) {
	require.Equal(t, "ok", Result(nil))
	require.Equal(t, "conflict", Result(apperr.Conflict(apperr.CodeAlreadyExecuted, "already executed")))
	require.Equal(t, "internal", Result(errors.New("boom")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(WithdrawalOps.WithLabelValues("submit", "ok"))
	WithdrawalOps.WithLabelValues("submit", "ok").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(WithdrawalOps.WithLabelValues("submit", "ok")))

	ListenerState.Set(2)
	require.Equal(t, float64(2), testutil.ToFloat64(ListenerState))
}
