package keys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// RemoteSigner delegates signing to the TSS service. The service receives the
// unsigned transaction as JSON and answers with the binary-encoded signed
// transaction.
type RemoteSigner struct {
	url    string
	addr   common.Address
	client *http.Client
}

func NewRemoteSigner(url string, addr common.Address, client *http.Client) *RemoteSigner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteSigner{url: strings.TrimRight(url, "/"), addr: addr, client: client}
}

func (s *RemoteSigner) Address() common.Address { return s.addr }

type signRequest struct {
	UnsignedTx string `json:"unsigned_tx"`
	ChainID    string `json:"chain_id"`
	From       string `json:"from"`
}

type signResponse struct {
	SignedTx string `json:"signed_tx"`
}

func (s *RemoteSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	unsigned, err := tx.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal unsigned tx: %w", err)
	}
	body, _ := json.Marshal(signRequest{
		UnsignedTx: string(unsigned),
		ChainID:    chainID.String(),
		From:       s.addr.Hex(),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer returned %d", resp.StatusCode)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode signer response: %w", err)
	}
	raw, err := hexutil.Decode(out.SignedTx)
	if err != nil {
		return nil, fmt.Errorf("signed_tx: %w", err)
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("signed_tx: %w", err)
	}
	if err := verifySigned(tx, signed, chainID, s.addr); err != nil {
		return nil, err
	}
	return signed, nil
}

// verifySigned rejects a response that signs something other than what was
// asked for, or signs it with the wrong key.
func verifySigned(unsigned, signed *types.Transaction, chainID *big.Int, want common.Address) error {
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if from != want {
		return fmt.Errorf("remote signer used %s, expected %s", from.Hex(), want.Hex())
	}
	if signed.Nonce() != unsigned.Nonce() ||
		signed.Value().Cmp(unsigned.Value()) != 0 ||
		!bytes.Equal(signed.Data(), unsigned.Data()) ||
		addrOf(signed.To()) != addrOf(unsigned.To()) {
		return fmt.Errorf("remote signer altered the transaction")
	}
	return nil
}

func addrOf(a *common.Address) common.Address {
	if a == nil {
		return common.Address{}
	}
	return *a
}
