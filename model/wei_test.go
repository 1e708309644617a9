package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omnibus_custody/model"
)

func TestWeiScan(t *testing.T) {
	var w model.Wei
	require.NoError(t, w.Scan("115792089237316195423570985008687907853269984665640564039457584007913129639935"))
	require.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", w.String())

	require.NoError(t, w.Scan([]byte("42")))
	require.Equal(t, "42", w.String())

	require.NoError(t, w.Scan(int64(7)))
	require.Equal(t, "7", w.String())

	require.NoError(t, w.Scan(nil))
	require.Equal(t, "0", w.String())

	// a REAL value has already lost precision
	require.Error(t, w.Scan(float64(1e19)))
	require.Error(t, w.Scan("abc"))
}
