package modules

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"dusd/core"
	"dusd/core/state"
	"dusd/crypto"
	nativecommon "dusd/native/common"
	"dusd/native/oracle"
	"dusd/native/vault"
)

// VaultModule adapts vault engine operations for the JSON-RPC surface.
type VaultModule struct {
	node *core.Node
}

func NewVaultModule(node *core.Node) *VaultModule {
	return &VaultModule{node: node}
}

type depositParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type depositAndMintParams struct {
	From             string `json:"from"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	MintAmount       string `json:"mintAmount"`
}

type redeemParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type burnParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type redeemForSyntheticParams struct {
	From             string `json:"from"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateralAmount"`
	BurnAmount       string `json:"burnAmount"`
}

type liquidateParams struct {
	From        string `json:"from"`
	Asset       string `json:"asset"`
	Account     string `json:"account"`
	DebtToCover string `json:"debtToCover"`
}

type accountParams struct {
	Account string `json:"account"`
}

type collateralBalanceParams struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type usdValueParams struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type tokenAmountParams struct {
	Asset string `json:"asset"`
	Usd   string `json:"usd"`
}

// PositionResult reports the state-backed side of a position after a
// mutation. Valuation fields are deliberately absent so results stay
// available while the oracle is stale.
type PositionResult struct {
	Account    string   `json:"account"`
	Asset      string   `json:"asset,omitempty"`
	Collateral *big.Int `json:"collateral,omitempty"`
	Debt       *big.Int `json:"debt,omitempty"`
}

// LiquidationResult reports a completed liquidation.
type LiquidationResult struct {
	Liquidator  string   `json:"liquidator"`
	Account     string   `json:"account"`
	Asset       string   `json:"asset"`
	DebtCovered *big.Int `json:"debtCovered"`
	Seized      *big.Int `json:"seizedCollateral"`
}

type HealthFactorResult struct {
	Account      string   `json:"account"`
	HealthFactor *big.Int `json:"healthFactor"`
}

type AccountInfoResult struct {
	Account       string   `json:"account"`
	Debt          *big.Int `json:"debt"`
	CollateralUSD *big.Int `json:"collateralUsd"`
	HealthFactor  *big.Int `json:"healthFactor"`
}

type CollateralBalanceResult struct {
	Account    string   `json:"account"`
	Asset      string   `json:"asset"`
	Collateral *big.Int `json:"collateral"`
}

type ValueResult struct {
	Asset  string   `json:"asset"`
	Amount *big.Int `json:"amount"`
	Usd    *big.Int `json:"usd"`
}

type BalanceResult struct {
	Account string   `json:"account"`
	Balance *big.Int `json:"balance"`
}

func (m *VaultModule) Deposit(raw json.RawMessage) (*PositionResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params depositParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	from, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := decodeAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.DepositCollateral(from, params.Asset, amount); err != nil {
		return nil, moduleError(err)
	}
	return m.position(from, params.Asset, true, false)
}

func (m *VaultModule) Mint(raw json.RawMessage) (*PositionResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params mintParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	from, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := decodeAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.MintSynthetic(from, amount); err != nil {
		return nil, moduleError(err)
	}
	return m.position(from, "", false, true)
}

func (m *VaultModule) DepositAndMint(raw json.RawMessage) (*PositionResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params depositAndMintParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	from, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	collateralAmount, modErr := decodeAmount("collateralAmount", params.CollateralAmount)
	if modErr != nil {
		return nil, modErr
	}
	mintAmount, modErr := decodeAmount("mintAmount", params.MintAmount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.DepositCollateralAndMint(from, params.Asset, collateralAmount, mintAmount); err != nil {
		return nil, moduleError(err)
	}
	return m.position(from, params.Asset, true, true)
}

func (m *VaultModule) Redeem(raw json.RawMessage) (*PositionResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params redeemParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	from, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := decodeAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.RedeemCollateral(from, params.Asset, amount); err != nil {
		return nil, moduleError(err)
	}
	return m.position(from, params.Asset, true, false)
}

func (m *VaultModule) Burn(raw json.RawMessage) (*PositionResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params burnParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	from, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	amount, modErr := decodeAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.BurnSynthetic(from, amount); err != nil {
		return nil, moduleError(err)
	}
	return m.position(from, "", false, true)
}

func (m *VaultModule) RedeemForSynthetic(raw json.RawMessage) (*PositionResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params redeemForSyntheticParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	from, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	collateralAmount, modErr := decodeAmount("collateralAmount", params.CollateralAmount)
	if modErr != nil {
		return nil, modErr
	}
	burnAmount, modErr := decodeAmount("burnAmount", params.BurnAmount)
	if modErr != nil {
		return nil, modErr
	}
	if err := m.node.RedeemCollateralForSynthetic(from, params.Asset, collateralAmount, burnAmount); err != nil {
		return nil, moduleError(err)
	}
	return m.position(from, params.Asset, true, true)
}

func (m *VaultModule) Liquidate(raw json.RawMessage) (*LiquidationResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params liquidateParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	liquidator, modErr := decodeAddress("from", params.From)
	if modErr != nil {
		return nil, modErr
	}
	account, modErr := decodeAddress("account", params.Account)
	if modErr != nil {
		return nil, modErr
	}
	debtToCover, modErr := decodeAmount("debtToCover", params.DebtToCover)
	if modErr != nil {
		return nil, modErr
	}
	seized, err := m.node.Liquidate(liquidator, params.Asset, account, debtToCover)
	if err != nil {
		return nil, moduleError(err)
	}
	return &LiquidationResult{
		Liquidator:  liquidator.String(),
		Account:     account.String(),
		Asset:       state.NormalizeAsset(params.Asset),
		DebtCovered: debtToCover,
		Seized:      seized,
	}, nil
}

func (m *VaultModule) HealthFactor(raw json.RawMessage) (*HealthFactorResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params accountParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	account, modErr := decodeAddress("account", params.Account)
	if modErr != nil {
		return nil, modErr
	}
	factor, err := m.node.HealthFactor(account)
	if err != nil {
		return nil, moduleError(err)
	}
	return &HealthFactorResult{Account: account.String(), HealthFactor: factor}, nil
}

func (m *VaultModule) AccountInformation(raw json.RawMessage) (*AccountInfoResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params accountParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	account, modErr := decodeAddress("account", params.Account)
	if modErr != nil {
		return nil, modErr
	}
	info, err := m.node.AccountInformation(account)
	if err != nil {
		return nil, moduleError(err)
	}
	factor, err := m.node.HealthFactor(account)
	if err != nil {
		return nil, moduleError(err)
	}
	return &AccountInfoResult{
		Account:       account.String(),
		Debt:          info.Debt,
		CollateralUSD: info.CollateralUSD,
		HealthFactor:  factor,
	}, nil
}

func (m *VaultModule) CollateralBalance(raw json.RawMessage) (*CollateralBalanceResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params collateralBalanceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	account, modErr := decodeAddress("account", params.Account)
	if modErr != nil {
		return nil, modErr
	}
	balance, err := m.node.CollateralBalance(account, params.Asset)
	if err != nil {
		return nil, moduleError(err)
	}
	return &CollateralBalanceResult{
		Account:    account.String(),
		Asset:      state.NormalizeAsset(params.Asset),
		Collateral: balance,
	}, nil
}

func (m *VaultModule) UsdValue(raw json.RawMessage) (*ValueResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params usdValueParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	amount, modErr := decodeAmount("amount", params.Amount)
	if modErr != nil {
		return nil, modErr
	}
	usd, err := m.node.USDValue(params.Asset, amount)
	if err != nil {
		return nil, moduleError(err)
	}
	return &ValueResult{Asset: state.NormalizeAsset(params.Asset), Amount: amount, Usd: usd}, nil
}

func (m *VaultModule) TokenAmountFromUsd(raw json.RawMessage) (*ValueResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params tokenAmountParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	usd, modErr := decodeAmount("usd", params.Usd)
	if modErr != nil {
		return nil, modErr
	}
	amount, err := m.node.TokenAmountFromUSD(params.Asset, usd)
	if err != nil {
		return nil, moduleError(err)
	}
	return &ValueResult{Asset: state.NormalizeAsset(params.Asset), Amount: amount, Usd: usd}, nil
}

func (m *VaultModule) CollateralAssets(json.RawMessage) ([]vault.CollateralAsset, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	return m.node.CollateralAssets(), nil
}

func (m *VaultModule) SyntheticBalance(raw json.RawMessage) (*BalanceResult, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	var params accountParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	account, modErr := decodeAddress("account", params.Account)
	if modErr != nil {
		return nil, modErr
	}
	balance, err := m.node.SyntheticBalance(account)
	if err != nil {
		return nil, moduleError(err)
	}
	return &BalanceResult{Account: account.String(), Balance: balance}, nil
}

func (m *VaultModule) ProtocolStatus(json.RawMessage) (*core.ProtocolStatus, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	status, err := m.node.ProtocolStatus()
	if err != nil {
		return nil, moduleError(err)
	}
	return &status, nil
}

func (m *VaultModule) Parameters(json.RawMessage) (*vault.Parameters, *ModuleError) {
	if modErr := m.ready(); modErr != nil {
		return nil, modErr
	}
	params := m.node.Parameters()
	return &params, nil
}

func (m *VaultModule) ready() *ModuleError {
	if m == nil || m.node == nil {
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "vault module not initialised"}
	}
	return nil
}

func (m *VaultModule) position(addr crypto.Address, asset string, withCollateral, withDebt bool) (*PositionResult, *ModuleError) {
	result := &PositionResult{Account: addr.String()}
	if withCollateral {
		balance, err := m.node.CollateralBalance(addr, asset)
		if err != nil {
			return nil, moduleError(err)
		}
		result.Asset = state.NormalizeAsset(asset)
		result.Collateral = balance
	}
	if withDebt {
		debt, err := m.node.DebtBalance(addr)
		if err != nil {
			return nil, moduleError(err)
		}
		result.Debt = debt
	}
	return result, nil
}

func invalidParams(message string, data interface{}) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message, Data: data}
}

func decodeAddress(field, value string) (crypto.Address, *ModuleError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, invalidParams("invalid "+field, err.Error())
	}
	return addr, nil
}

func decodeAmount(field, value string) (*big.Int, *ModuleError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(field+" is required", nil)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("invalid "+field, value)
	}
	return amount, nil
}

// moduleError classifies engine and oracle failures for the transport:
// caller mistakes map to invalid-params, paused modules and stale oracle
// data map to service-unavailable, anything else is a server error.
func moduleError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	if errors.Is(err, nativecommon.ErrModulePaused) || errors.Is(err, oracle.ErrStalePrice) {
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: err.Error()}
	}
	var exceeds *vault.AmountExceedsBalanceError
	if errors.As(err, &exceeds) {
		data := map[string]string{
			"available": exceeds.Available.String(),
			"requested": exceeds.Requested.String(),
		}
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error(), Data: data}
	}
	var broken *vault.HealthFactorBrokenError
	if errors.As(err, &broken) {
		data := map[string]string{"healthFactor": broken.Factor.String()}
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error(), Data: data}
	}
	switch {
	case errors.Is(err, vault.ErrNeedsMoreThanZero),
		errors.Is(err, vault.ErrNotAllowedToken),
		errors.Is(err, vault.ErrTransferFailed),
		errors.Is(err, vault.ErrMintFailed),
		errors.Is(err, vault.ErrHealthFactorOk),
		errors.Is(err, vault.ErrHealthFactorNotImproved),
		errors.Is(err, oracle.ErrUnknownFeed):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	}
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
}
