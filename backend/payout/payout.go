// Package payout mirrors verified-report rewards on chain as ERC-20
// transfers from the service wallet.
package payout

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const (
	tokenDecimals = 18

	erc20TransferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],
		"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`
)

func FromWei(src *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(src, -tokenDecimals)
}

func ToWei(tokens decimal.Decimal) *big.Int {
	return tokens.Shift(tokenDecimals).BigInt()
}

type Payer struct {
	// mu is held from the nonce read until the transfer is sent.
	mu sync.Mutex

	client      *ethclient.Client
	chainID     *big.Int
	privateKey  *ecdsa.PrivateKey
	fromAddress ethcommon.Address
	token       *bind.BoundContract
}

func NewPayer(ctx context.Context, ethNetworkURL, privateKey, tokenAddress string) (*Payer, error) {
	if len(privateKey) == 0 {
		return nil, fmt.Errorf("the eth_private_key param isn't specified")
	}
	if !ethcommon.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddress)
	}

	client, err := ethclient.DialContext(ctx, ethNetworkURL)
	if err != nil {
		return nil, fmt.Errorf("error creating ethclient with the network url %s: %w", ethNetworkURL, err)
	}
	p := &Payer{client: client}

	p.chainID, err = client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error getting chain ID: %w", err)
	}
	p.privateKey, err = crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error converting private key: %w", err)
	}
	p.fromAddress = crypto.PubkeyToAddress(p.privateKey.PublicKey)

	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error parsing token ABI: %w", err)
	}
	p.token = bind.NewBoundContract(ethcommon.HexToAddress(tokenAddress), parsed, client, client, client)

	log.Infof("Payer initialized, chain ID: %v, token: %v, wallet: %v", p.chainID, tokenAddress, p.fromAddress)
	return p, nil
}

// Pay transfers tokens to the receiver and returns the transaction hash
// without waiting for it to be mined. Concurrent calls are sent one after
// another so each one gets its own nonce.
func (p *Payer) Pay(ctx context.Context, to ethcommon.Address, tokens int64) (ethcommon.Hash, error) {
	if tokens <= 0 {
		return ethcommon.Hash{}, fmt.Errorf("nothing to pay")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	nonce, err := p.client.PendingNonceAt(ctx, p.fromAddress)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	auth, err := bind.NewKeyedTransactorWithChainID(p.privateKey, p.chainID)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	auth.Context = ctx
	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasPrice = gasPrice

	amount := ToWei(decimal.NewFromInt(tokens))
	tx, err := p.token.Transact(auth, "transfer", to, amount)
	if err != nil {
		return ethcommon.Hash{}, fmt.Errorf("call token transfer: %w", err)
	}
	log.Infof("Paid %s tokens to %v, transaction %s", FromWei(amount), to, tx.Hash().Hex())
	return tx.Hash(), nil
}
