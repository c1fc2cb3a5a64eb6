package polymarket

// trading.go — Real order execution via Polymarket CLOB API.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth. Entry and
// unwind legs go out as FOK (fill-or-kill) so a leg either fills whole or
// fails fast; the coordinator decides what to do with the failure.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOrderDetail is GET /data/order/{id}.
type clobOrderDetail struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	CreatedAt    string `json:"created_at"`
}

const (
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
)

var (
	balanceOfABI     abi.ABI
	balanceOfERC1155 abi.ABI
)

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
	balanceOfERC1155, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf erc1155 abi: " + err.Error())
	}
}

// TradingClient implements ports.OrderExecutor.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
}

// NewTradingClient creates a TradingClient. rpcURL is used for on-chain balance checks.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	return &TradingClient{auth: auth, rpcClient: rpc}, nil
}

// PlaceOrder signs and submits an order to the CLOB. The venue response is
// checked for its explicit success flag; anything else is an error and never
// creates local state.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: creds: %w", err)
	}

	buy := req.Side == domain.SideBuy
	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.Price, req.Shares, buy, req.NegRisk)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: sign: %w", err)
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = "FOK"
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: orderType,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("place order: clob error: %s", resp.ErrorMsg)
	}

	return domain.PlacedOrder{
		CLOBOrderID: resp.OrderID,
		Status:      resp.Status,
		TakenAmount: parseUSDC(resp.TakingAmount),
		MadeAmount:  parseUSDC(resp.MakingAmount),
	}, nil
}

// GetOrderState queries the current state of an order by its CLOB ID.
func (tc *TradingClient) GetOrderState(ctx context.Context, clobOrderID string) (ports.OrderState, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return ports.OrderState{}, fmt.Errorf("get order: creds: %w", err)
	}

	var resp clobOrderDetail
	if err := tc.auth.doL2(ctx, http.MethodGet, "/data/order/"+clobOrderID, nil, &resp); err != nil {
		return ports.OrderState{}, fmt.Errorf("get order %s: %w", clobOrderID, err)
	}

	return ports.OrderState{
		Status:      mapOrderStatus(resp.Status, parseFloat(resp.OriginalSize), parseFloat(resp.SizeMatched)),
		FilledSize:  parseFloat(resp.SizeMatched),
		FilledPrice: parseFloat(resp.Price),
	}, nil
}

// mapOrderStatus translates CLOB status strings into the local lifecycle.
func mapOrderStatus(raw string, original, matched float64) domain.OrderStatus {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "MATCHED") || strings.Contains(upper, "FILLED"):
		return domain.OrderFilled
	case strings.Contains(upper, "CANCEL"):
		return domain.OrderCancelled
	case strings.Contains(upper, "EXPIRED") || strings.Contains(upper, "UNMATCHED"):
		return domain.OrderExpired
	case strings.Contains(upper, "INVALID") || strings.Contains(upper, "REJECT"):
		return domain.OrderRejected
	}
	// FOK que llenó todo pero con status ambiguo: el matched manda.
	if original > 0 && matched >= original {
		return domain.OrderFilled
	}
	return domain.OrderSubmitted
}

// CancelOrder cancels a single order by its CLOB order ID.
func (tc *TradingClient) CancelOrder(ctx context.Context, clobOrderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel order: creds: %w", err)
	}

	if err := tc.auth.doL2(ctx, http.MethodDelete, "/order/"+clobOrderID, nil, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", clobOrderID, err)
	}
	return nil
}

// CancelAll cancels all open orders for this wallet.
func (tc *TradingClient) CancelAll(ctx context.Context) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel all: creds: %w", err)
	}

	if err := tc.auth.doL2(ctx, http.MethodDelete, "/orders", nil, nil); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}

// GetBalance returns the on-chain USDC.e balance of the funder address.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	callData, err := balanceOfABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), new(big.Float).SetFloat64(1e6)).Float64()
	return bal, nil
}

// TokenBalance returns the on-chain ERC-1155 balance for a conditional token.
// Returns shares (not micro-units) — e.g. 13.51 means 13.51 shares.
func (tc *TradingClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	tid := new(big.Int)
	if _, ok := tid.SetString(tokenID, 10); !ok {
		tidBytes, err := hex.DecodeString(strings.TrimPrefix(tokenID, "0x"))
		if err != nil {
			return 0, fmt.Errorf("token balance: invalid token ID: %s", tokenID)
		}
		tid.SetBytes(tidBytes)
	}

	callData, err := balanceOfERC1155.Pack("balanceOf", tc.auth.address, tid)
	if err != nil {
		return 0, fmt.Errorf("token balance: pack: %w", err)
	}

	ctf := common.HexToAddress(ctfAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &ctf,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("token balance: call: %w", err)
	}

	vals, err := balanceOfERC1155.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("token balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	shares := new(big.Float).SetInt(raw)
	shares.Quo(shares, big.NewFloat(1e6))
	f, _ := shares.Float64()
	return f, nil
}

// parseUSDC converts a micro-USDC string (e.g., "1000000") to USDC float.
func parseUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	n.SetString(s, 10)
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / 1_000_000
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
