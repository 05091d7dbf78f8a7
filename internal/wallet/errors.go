package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 and JSON-RPC error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
	CodeInvalidParams     = -32602
	CodeInternal          = -32603
)

// ProviderError is an error reported by a wallet provider. ShortMessage
// mirrors the condensed message some client libraries attach.
type ProviderError struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	ShortMessage string `json:"shortMessage,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wallet: %s (code %d)", e.Message, e.Code)
}

// Is maps well-known codes onto domain sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case domain.ErrUserRejected:
		return e.Code == CodeUserRejected
	case domain.ErrUnknownChain:
		return e.Code == CodeUnrecognizedChain
	}
	return false
}

// ErrorCode returns the provider code of err, or 0.
func ErrorCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	var re rpc.Error
	if errors.As(err, &re) {
		return re.ErrorCode()
	}
	return 0
}

// FromRPC converts a go-ethereum rpc client error into a ProviderError,
// keeping the error data. Other errors are returned unchanged.
func FromRPC(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var re rpc.Error
	if !errors.As(err, &re) {
		return err
	}
	out := &ProviderError{Code: re.ErrorCode(), Message: re.Error()}
	var de rpc.DataError
	if errors.As(err, &de) {
		out.Data = de.ErrorData()
	}
	return out
}

// ErrorMessage extracts the most specific human-readable message from err:
// a revert reason or nested data message, then the short message, then the
// message itself.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if msg := dataMessage(pe.Data); msg != "" {
			return msg
		}
		if pe.ShortMessage != "" {
			return pe.ShortMessage
		}
		if pe.Message != "" {
			return pe.Message
		}
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		if msg := dataMessage(de.ErrorData()); msg != "" {
			return msg
		}
	}
	return err.Error()
}

// dataMessage digs a reason out of a provider error's data member. MetaMask
// nests the node error as {data: {message, data}}; nodes put the raw revert
// payload in data as hex.
func dataMessage(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return revertReason(v)
	case json.RawMessage:
		var decoded any
		if json.Unmarshal(v, &decoded) != nil {
			return ""
		}
		return dataMessage(decoded)
	case map[string]any:
		if inner, ok := v["data"]; ok {
			if msg := dataMessage(inner); msg != "" {
				return msg
			}
		}
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
		if reason, ok := v["reason"].(string); ok && reason != "" {
			return reason
		}
	}
	return ""
}

func revertReason(s string) string {
	if !strings.HasPrefix(s, "0x") {
		return ""
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return ""
	}
	reason, err := abi.UnpackRevert(b)
	if err != nil {
		return ""
	}
	return reason
}
