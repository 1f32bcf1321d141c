package rpc

import "net/http"

func (s *Server) handleOracleSetPrice(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.oracle.SetPrice(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleOracleGetQuote(w http.ResponseWriter, req *RPCRequest) {
	result, modErr := s.oracle.GetQuote(firstParam(req))
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
