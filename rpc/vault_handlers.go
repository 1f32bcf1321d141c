package rpc

import "net/http"

func (s *Server) handleVaultDeposit(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.Deposit(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultMint(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.Mint(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultDepositAndMint(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.DepositAndMint(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultRedeem(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.Redeem(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultBurn(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.Burn(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultRedeemForSynthetic(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.RedeemForSynthetic(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultLiquidate(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.Liquidate(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultHealthFactor(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.HealthFactor(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultAccountInformation(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.AccountInformation(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultCollateralBalance(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.CollateralBalance(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultUsdValue(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.UsdValue(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultTokenAmountFromUsd(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.TokenAmountFromUsd(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultCollateralAssets(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.CollateralAssets(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultSyntheticBalance(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.SyntheticBalance(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultProtocolStatus(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.ProtocolStatus(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleVaultParameters(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.vault.Parameters(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
