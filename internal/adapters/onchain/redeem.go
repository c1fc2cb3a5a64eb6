package onchain

// redeem.go — redención on-chain de pares YES+NO vía CTF mergePositions.
//
// mergePositions() convierte pares completos de vuelta a colateral:
//   100 YES + 100 NO → $100 USDC.e
//
// Toda transacción sale por el Sequencer: nonce atómico, cap de pendientes,
// escalación de gas si se atasca y halt cuando el gas supera el máximo.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	polygonChainID = int64(137)

	// USDC.e, colateral en Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF — custodia los conditional tokens (ERC-1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Exchanges que necesitan setApprovalForAll ERC-1155
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	// Gas limits conservadores
	mergeGasLimit    = uint64(200_000)
	approvalGasLimit = uint64(80_000)

	// Fallback del precio POL (USD) sin oráculo disponible
	polPriceFallbackUSD = 0.12
)

var (
	ctfABI     abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	var err error

	ctfABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "mergePositions",
			"type": "function",
			"inputs": [
				{"name": "collateralToken", "type": "address"},
				{"name": "parentCollectionId", "type": "bytes32"},
				{"name": "conditionId", "type": "bytes32"},
				{"name": "partition", "type": "uint256[]"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": []
		}
	]`))
	if err != nil {
		panic("ctf abi parse: " + err.Error())
	}

	erc1155ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "setApprovalForAll",
			"type": "function",
			"inputs": [
				{"name": "operator", "type": "address"},
				{"name": "approved", "type": "bool"}
			],
			"outputs": []
		},
		{
			"name": "isApprovedForAll",
			"type": "function",
			"inputs": [
				{"name": "account", "type": "address"},
				{"name": "operator", "type": "address"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		}
	]`))
	if err != nil {
		panic("erc1155 abi parse: " + err.Error())
	}

	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "approve",
			"type": "function",
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// RedeemClient implementa ports.Redeemer.
type RedeemClient struct {
	client     *ethclient.Client
	seq        *Sequencer
	privateKey []byte
	address    common.Address
	httpClient *http.Client

	mu             sync.RWMutex
	cachedPOLPrice float64
	polPriceAt     time.Time
}

// NewRedeemClient crea el redeemer conectado al RPC de Polygon dado. La
// privateKeyHex va sin prefijo 0x. Hace el Resync inicial del sequencer.
func NewRedeemClient(ctx context.Context, rpcURL, privateKeyHex string, checkpoint CheckpointStore, seqCfg SequencerConfig) (*RedeemClient, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("redeem: decode private key: %w", err)
	}

	privKey, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("redeem: invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("redeem: dial rpc %s: %w", rpcURL, err)
	}

	seq := NewSequencer(client, addr, checkpoint, seqCfg)
	if err := seq.Resync(ctx); err != nil {
		return nil, fmt.Errorf("redeem: initial resync: %w", err)
	}

	return &RedeemClient{
		client:     client,
		seq:        seq,
		privateKey: pkBytes,
		address:    addr,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Sequencer expone el sequencer para que el engine lance EscalateStuck
// periódicamente.
func (rc *RedeemClient) Sequencer() *Sequencer {
	return rc.seq
}

// GasHalted delega en el sequencer.
func (rc *RedeemClient) GasHalted(ctx context.Context) (bool, error) {
	return rc.seq.GasHalted(ctx)
}

// EstimateGasCostUSD devuelve el coste de gas estimado en USD de un merge.
func (rc *RedeemClient) EstimateGasCostUSD(ctx context.Context) (float64, error) {
	gasPrice, err := rc.seq.GasPrice(ctx)
	if err != nil {
		return rc.polPriceUSD() * float64(mergeGasLimit) * 100e-9, nil
	}

	gasCostPOL := new(big.Float).SetInt(new(big.Int).Mul(gasPrice, big.NewInt(int64(mergeGasLimit))))
	gasCostPOL.Quo(gasCostPOL, new(big.Float).SetFloat64(1e18))

	gasCostPOLf, _ := gasCostPOL.Float64()
	return gasCostPOLf * rc.polPriceUSD(), nil
}

// polPriceUSD devuelve el precio POL cacheado, refrescando de CoinGecko si caducó.
func (rc *RedeemClient) polPriceUSD() float64 {
	rc.mu.RLock()
	price := rc.cachedPOLPrice
	updatedAt := rc.polPriceAt
	rc.mu.RUnlock()

	if price > 0 && time.Since(updatedAt) < 15*time.Minute {
		return price
	}

	fetched, err := rc.fetchPOLPrice()
	if err != nil {
		slog.Warn("redeem: failed to fetch POL price, using fallback", "err", err)
		if price > 0 {
			return price
		}
		return polPriceFallbackUSD
	}

	rc.mu.Lock()
	rc.cachedPOLPrice = fetched
	rc.polPriceAt = time.Now()
	rc.mu.Unlock()

	return fetched
}

func (rc *RedeemClient) fetchPOLPrice() (float64, error) {
	const url = "https://api.coingecko.com/api/v3/simple/price?ids=polygon-ecosystem-token&vs_currencies=usd"

	resp, err := rc.httpClient.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, body)
	}

	var data map[string]map[string]float64
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, err
	}

	price, ok := data["polygon-ecosystem-token"]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("POL price not found in response")
	}
	return price, nil
}

// signFn devuelve una SignFn que firma una transacción a `to` con el calldata
// dado. El sequencer la reutiliza en cada escalación con gas distinto.
func (rc *RedeemClient) signFn(to common.Address, gasLimit uint64, callData []byte) SignFn {
	return func(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
		privKey, err := crypto.ToECDSA(rc.privateKey)
		if err != nil {
			return nil, fmt.Errorf("private key: %w", err)
		}
		tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, callData)
		return types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), privKey)
	}
}

// submitAndWait asigna nonce, envía por el sequencer y espera el receipt.
func (rc *RedeemClient) submitAndWait(ctx context.Context, to common.Address, gasLimit uint64, callData []byte, timeout time.Duration) (uint64, *types.Receipt, common.Hash, error) {
	seq, err := rc.seq.Allocate(ctx)
	if err != nil {
		return 0, nil, common.Hash{}, err
	}

	hash, err := rc.seq.Submit(ctx, seq, rc.signFn(to, gasLimit, callData))
	if err != nil {
		return seq, nil, common.Hash{}, err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := rc.seq.WaitForReceipt(receiptCtx, seq)
	return seq, receipt, hash, err
}

// RedeemPair mezcla amount pares YES+NO del mercado dado en USDC.e.
// amount va en unidades USDC (10.0 = 10 pares completos).
// Los mercados NegRisk se saltan: requieren el adapter con un
// parentCollectionId específico del mercado que no tenemos.
func (rc *RedeemClient) RedeemPair(ctx context.Context, conditionID, pairID string, amount float64, negRisk bool) (domain.RedeemResult, error) {
	result := domain.RedeemResult{
		ConditionID: conditionID,
		PairID:      pairID,
		ExecutedAt:  time.Now().UTC(),
	}

	if negRisk {
		result.Error = "NegRisk merges not supported: requires NegRisk adapter with parentCollectionId"
		return result, fmt.Errorf("redeem: %s", result.Error)
	}

	condBytes, err := hexToBytes32(conditionID)
	if err != nil {
		result.Error = fmt.Sprintf("invalid conditionID: %v", err)
		return result, err
	}

	amountInt := new(big.Int).SetInt64(int64(amount * 1_000_000))
	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}

	callData, err := ctfABI.Pack("mergePositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		partition,
		amountInt,
	)
	if err != nil {
		result.Error = fmt.Sprintf("pack calldata: %v", err)
		return result, fmt.Errorf("redeem: pack: %w", err)
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	gasPrice, _ := rc.seq.GasPrice(ctx)

	gasEstimate, err := rc.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     rc.address,
		To:       &ctfAddr,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasEstimate = mergeGasLimit
		slog.Warn("redeem: gas estimate failed, using default", "err", err, "limit", mergeGasLimit)
	}
	// buffer del 20%
	gasEstimate = gasEstimate * 12 / 10

	seq, receipt, hash, err := rc.submitAndWait(ctx, ctfAddr, gasEstimate, callData, 60*time.Second)
	result.Seq = seq
	if hash != (common.Hash{}) {
		result.TxHash = hash.Hex()
	}
	if err != nil {
		if result.TxHash != "" {
			// Enviada pero sin confirmar: el escalador del sequencer sigue con
			// ella; el USDC llegará cuando mine.
			slog.Warn("redeem: could not confirm receipt, tx may still succeed", "tx", result.TxHash, "err", err)
			result.Success = true
			result.USDCReceived = domain.FromUSDC(amount, domain.RoundDown)
			return result, nil
		}
		result.Error = err.Error()
		return result, fmt.Errorf("redeem: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		result.Error = "transaction reverted on-chain"
		return result, fmt.Errorf("redeem: tx reverted: %s", result.TxHash)
	}

	gasUsed := new(big.Float).SetUint64(receipt.GasUsed)
	gasPriceF := new(big.Float).SetInt(gasPrice)
	gasCostWei := new(big.Float).Mul(gasUsed, gasPriceF)
	gasCostPOL, _ := new(big.Float).Quo(gasCostWei, new(big.Float).SetFloat64(1e18)).Float64()

	result.Success = true
	result.GasUsedPOL = gasCostPOL
	result.GasCostUSD = gasCostPOL * rc.polPriceUSD()
	result.USDCReceived = domain.FromUSDC(amount, domain.RoundDown) // merge 1:1

	slog.Info("redeem: confirmed",
		"condition", shortID(conditionID),
		"pair", pairID,
		"seq", seq,
		"tx", result.TxHash,
		"gas_usd", fmt.Sprintf("$%.4f", result.GasCostUSD),
		"usdc_received", amount,
	)
	return result, nil
}

// EnsureApprovals verifica y setea:
//   - setApprovalForAll ERC-1155 en los tres operadores (transferencia de tokens)
//   - approve ERC-20 de USDC.e para ambos exchanges (colateral de BUY)
func (rc *RedeemClient) EnsureApprovals(ctx context.Context) error {
	operators := []string{normalExchange, negRiskExchange, negRiskAdapter}

	for _, op := range operators {
		approved, err := rc.isApprovedForAll(ctx, common.HexToAddress(op))
		if err != nil {
			return fmt.Errorf("check ERC1155 approval for %s: %w", op, err)
		}
		if approved {
			slog.Debug("redeem: ERC1155 approval already set", "operator", op)
			continue
		}

		slog.Info("redeem: setting ERC1155 approval", "operator", op)
		if err := rc.setApprovalForAll(ctx, common.HexToAddress(op)); err != nil {
			return fmt.Errorf("set ERC1155 approval for %s: %w", op, err)
		}
	}

	exchanges := []string{normalExchange, negRiskExchange}
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e

	for _, ex := range exchanges {
		allowance, err := rc.erc20Allowance(ctx, common.HexToAddress(usdcEAddress), common.HexToAddress(ex))
		if err != nil {
			return fmt.Errorf("check USDC.e allowance for %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			slog.Debug("redeem: USDC.e allowance sufficient", "exchange", ex)
			continue
		}

		slog.Info("redeem: setting USDC.e approval", "exchange", ex)
		callData, err := erc20ABI.Pack("approve", common.HexToAddress(ex), maxUint256)
		if err != nil {
			return fmt.Errorf("pack approve: %w", err)
		}
		if err := rc.sendApprovalTx(ctx, common.HexToAddress(usdcEAddress), callData); err != nil {
			return fmt.Errorf("set USDC.e approval for %s: %w", ex, err)
		}
	}

	return nil
}

func (rc *RedeemClient) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", rc.address, operator)
	if err != nil {
		return false, err
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	result, err := rc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ctfAddr,
		Data: callData,
	}, nil)
	if err != nil {
		return false, err
	}

	vals, err := erc1155ABI.Unpack("isApprovedForAll", result)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	return vals[0].(bool), nil
}

func (rc *RedeemClient) setApprovalForAll(ctx context.Context, operator common.Address) error {
	callData, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return err
	}
	return rc.sendApprovalTx(ctx, common.HexToAddress(ctfAddress), callData)
}

// sendApprovalTx envía una tx de approval por el sequencer y espera el receipt.
func (rc *RedeemClient) sendApprovalTx(ctx context.Context, to common.Address, callData []byte) error {
	_, receipt, _, err := rc.submitAndWait(ctx, to, approvalGasLimit, callData, 30*time.Second)
	if err != nil {
		return fmt.Errorf("wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("approval tx reverted")
	}
	return nil
}

func (rc *RedeemClient) erc20Allowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	callData, err := erc20ABI.Pack("allowance", rc.address, spender)
	if err != nil {
		return nil, err
	}

	result, err := rc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, err
	}

	vals, err := erc20ABI.Unpack("allowance", result)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	return vals[0].(*big.Int), nil
}

func shortID(s string) string {
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}

// hexToBytes32 convierte un hex con prefijo 0x en [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
