package factory

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"tokenScope/internal/model"
)

// DecodeError reports a factory log that could not be turned into a token.
type DecodeError struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Reason      string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s:%d at block %d: %s", e.TxHash.Hex(), e.LogIndex, e.BlockNumber, e.Reason)
}

// Record converts the error into its persisted form.
func (e *DecodeError) Record(log types.Log) model.DecodeError {
	rec := model.DecodeError{
		BlockNumber: e.BlockNumber,
		TxHash:      strings.ToLower(e.TxHash.Hex()),
		LogIndex:    uint64(e.LogIndex),
		Factory:     NormalizeAddress(log.Address),
		Data:        hexutil.Encode(log.Data),
		Removed:     log.Removed,
		Reason:      e.Reason,
	}
	if len(log.Topics) > 0 {
		rec.Topic0 = log.Topics[0].Hex()
	}
	return rec
}

// Decoder decodes TokenCreated logs.
type Decoder struct {
	event abi.Event
}

// NewDecoder builds a decoder for the factory TokenCreated event.
func NewDecoder() (*Decoder, error) {
	parsed, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	event, ok := parsed.Events[tokenCreatedEvent]
	if !ok {
		return nil, fmt.Errorf("factory abi has no %s event", tokenCreatedEvent)
	}
	return &Decoder{event: event}, nil
}

// Topic returns the event topic used to filter factory logs.
func (d *Decoder) Topic() common.Hash {
	return d.event.ID
}

// Decode turns one raw log into a TokenCreation. The deployer is left for
// the resolver; only the legacy event field is filled in.
func (d *Decoder) Decode(log types.Log) (model.TokenCreation, error) {
	fail := func(format string, args ...interface{}) (model.TokenCreation, error) {
		return model.TokenCreation{}, &DecodeError{
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.Index,
			Reason:      fmt.Sprintf(format, args...),
		}
	}

	if log.Removed {
		return fail("log removed by reorg")
	}
	if len(log.Topics) == 0 {
		return fail("missing topic0")
	}
	if log.Topics[0] != d.event.ID {
		return fail("unexpected topic0 %s", log.Topics[0].Hex())
	}

	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return fail("unpack %s: %v", d.event.Name, err)
	}
	if len(values) != 8 {
		return fail("unexpected %s values: %d", d.event.Name, len(values))
	}

	token, err := asAddress(values[0])
	if err != nil {
		return fail("token: %v", err)
	}
	if _, err := asBigInt(values[1]); err != nil {
		return fail("token id: %v", err)
	}
	legacy, err := asAddress(values[2])
	if err != nil {
		return fail("deployer: %v", err)
	}
	name, ok := values[3].(string)
	if !ok {
		return fail("name: unsupported type %T", values[3])
	}
	symbol, ok := values[4].(string)
	if !ok {
		return fail("symbol: unsupported type %T", values[4])
	}
	if token == (common.Address{}) {
		return fail("zero token address")
	}

	return model.TokenCreation{
		ContractAddress: NormalizeAddress(token),
		Name:            name,
		Symbol:          symbol,
		Decimals:        model.TokenDecimals,
		Deployer:        model.DeployerUnknown,
		BlockNumber:     log.BlockNumber,
		TransactionHash: strings.ToLower(log.TxHash.Hex()),
		LegacyDeployer:  NormalizeAddress(legacy),
	}, nil
}

// NormalizeAddress renders an address as lowercase hex.
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}
