package keys

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestFromMnemonicBIP44Vector(t *testing.T) {
	s, err := FromMnemonic(testMnemonic, 0)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), s.Address())

	other, err := FromMnemonic(testMnemonic, 1)
	require.NoError(t, err)
	require.NotEqual(t, s.Address(), other.Address())
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	_, err := FromMnemonic("not a real mnemonic", 0)
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestFromHex(t *testing.T) {
	// well-known dev key
	s, err := FromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	_, err = FromHex("zz")
	require.Error(t, err)
}

func newTx() *types.Transaction {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
}

func TestLocalSignerSignsForChain(t *testing.T) {
	s, err := FromMnemonic(testMnemonic, 0)
	require.NoError(t, err)
	chainID := big.NewInt(1337)
	signed, err := s.SignTx(t.Context(), newTx(), chainID)
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, s.Address(), from)
}

func signingServer(t *testing.T, key *LocalSigner, mutate func(*types.Transaction) *types.Transaction) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sign", r.URL.Path)
		var req signRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalJSON([]byte(req.UnsignedTx)))
		if mutate != nil {
			tx = mutate(tx)
		}
		signed, err := key.SignTx(r.Context(), tx, big.NewInt(1337))
		require.NoError(t, err)
		raw, err := signed.MarshalBinary()
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(signResponse{SignedTx: hexutil.Encode(raw)})
	}))
}

func TestRemoteSignerRoundTrip(t *testing.T) {
	tss, err := FromMnemonic(testMnemonic, 1)
	require.NoError(t, err)
	srv := signingServer(t, tss, nil)
	defer srv.Close()

	remote := NewRemoteSigner(srv.URL, tss.Address(), srv.Client())
	signed, err := remote.SignTx(t.Context(), newTx(), big.NewInt(1337))
	require.NoError(t, err)
	require.Equal(t, uint64(3), signed.Nonce())
}

func TestRemoteSignerRejectsWrongKey(t *testing.T) {
	other, err := FromMnemonic(testMnemonic, 2)
	require.NoError(t, err)
	srv := signingServer(t, other, nil)
	defer srv.Close()

	remote := NewRemoteSigner(srv.URL, common.HexToAddress("0x01"), srv.Client())
	_, err = remote.SignTx(t.Context(), newTx(), big.NewInt(1337))
	require.ErrorContains(t, err, "expected")
}

func TestRemoteSignerRejectsAlteredTx(t *testing.T) {
	tss, err := FromMnemonic(testMnemonic, 1)
	require.NoError(t, err)
	srv := signingServer(t, tss, func(tx *types.Transaction) *types.Transaction {
		to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
		return types.NewTx(&types.DynamicFeeTx{
			ChainID: tx.ChainId(), Nonce: tx.Nonce(), GasTipCap: tx.GasTipCap(), GasFeeCap: tx.GasFeeCap(),
			Gas: tx.Gas(), To: &to, Value: tx.Value(),
		})
	})
	defer srv.Close()

	remote := NewRemoteSigner(srv.URL, tss.Address(), srv.Client())
	_, err = remote.SignTx(t.Context(), newTx(), big.NewInt(1337))
	require.ErrorContains(t, err, "altered")
}

func TestRemoteSignerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewRemoteSigner(srv.URL, common.Address{}, nil).SignTx(t.Context(), newTx(), big.NewInt(1337))
	require.ErrorContains(t, err, "502")
}
