package chain

import (
	"encoding/json"
	"fmt"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ContractParam is a typed parameter for contract invocation.
type ContractParam struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// NewIntegerParam builds an Integer contract parameter.
func NewIntegerParam(v interface{}) ContractParam {
	return ContractParam{Type: "Integer", Value: fmt.Sprintf("%v", v)}
}

// NewHash160Param builds a Hash160 contract parameter from an address or
// script hash string.
func NewHash160Param(v string) ContractParam {
	return ContractParam{Type: "Hash160", Value: v}
}

// StackItem is a typed VM stack item returned by invokefunction.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// InvokeResult is the result of a read-only contract invocation.
type InvokeResult struct {
	Script      string      `json:"script"`
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception"`
	Stack       []StackItem `json:"stack"`
}
