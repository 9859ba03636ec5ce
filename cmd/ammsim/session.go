package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/defistate/clamm-engine-go/ledger"
	"github.com/defistate/clamm-engine-go/pool"
)

// poolAccount is the ledger account holding the pool's reserves.
var poolAccount = common.HexToAddress("0x00000000000000000000000000000000000c1a00")

// scriptOp is one line of a session script.
type scriptOp struct {
	Op string `json:"op"`

	Owner     string `json:"owner,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	TickLower int64  `json:"tickLower,omitempty"`
	TickUpper int64  `json:"tickUpper,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`

	ZeroForOne        bool   `json:"zeroForOne,omitempty"`
	AmountSpecified   string `json:"amountSpecified,omitempty"`
	SqrtPriceLimitX96 string `json:"sqrtPriceLimitX96,omitempty"`

	Amount0 string `json:"amount0,omitempty"`
	Amount1 string `json:"amount1,omitempty"`

	SqrtPriceX96 string   `json:"sqrtPriceX96,omitempty"`
	SecondsAgos  []uint32 `json:"secondsAgos,omitempty"`
	Cardinality  uint16   `json:"cardinality,omitempty"`

	Asset   string `json:"asset,omitempty"`
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// session executes script operations against a pool. Callbacks pay from the
// acting account's ledger balance, so scripts fund accounts with issue ops
// before trading.
type session struct {
	pool   *pool.Pool
	assets *ledger.MemLedger
	logger *slog.Logger
}

func newSession(p *pool.Pool, assets *ledger.MemLedger, logger *slog.Logger) *session {
	return &session{pool: p, assets: assets, logger: logger.With("component", "session")}
}

// RunScript executes a JSONL script file line by line, stopping at the first
// failing operation.
func (s *session) RunScript(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var op scriptOp
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			return fmt.Errorf("script line %d: %w", lineNo, err)
		}
		if err := s.apply(&op); err != nil {
			return fmt.Errorf("script line %d (%s): %w", lineNo, op.Op, err)
		}
	}
	return scanner.Err()
}

func (s *session) apply(op *scriptOp) error {
	switch op.Op {
	case "issue":
		amount, err := parseAmount("amount", op.Amount)
		if err != nil {
			return err
		}
		s.assets.Issue(common.HexToAddress(op.Asset), common.HexToAddress(op.Account), amount)
		return nil

	case "initialize":
		price, err := parseAmount("sqrtPriceX96", op.SqrtPriceX96)
		if err != nil {
			return err
		}
		return s.pool.Initialize(price)

	case "mint":
		owner := common.HexToAddress(op.Owner)
		liquidity, err := parseAmount("liquidity", op.Liquidity)
		if err != nil {
			return err
		}
		amount0, amount1, err := s.pool.Mint(owner, op.TickLower, op.TickUpper, liquidity,
			s.payFrom(owner), nil)
		if err != nil {
			return err
		}
		s.logger.Info("mint",
			"owner", owner,
			"amount0", human(amount0), "amount1", human(amount1))
		return nil

	case "burn":
		owner := common.HexToAddress(op.Owner)
		liquidity, err := parseAmount("liquidity", op.Liquidity)
		if err != nil {
			return err
		}
		amount0, amount1, err := s.pool.Burn(owner, op.TickLower, op.TickUpper, liquidity)
		if err != nil {
			return err
		}
		s.logger.Info("burn",
			"owner", owner,
			"amount0", human(amount0), "amount1", human(amount1))
		return nil

	case "collect":
		owner := common.HexToAddress(op.Owner)
		recipient := owner
		if op.Recipient != "" {
			recipient = common.HexToAddress(op.Recipient)
		}
		req0, err := parseOptionalAmount("amount0", op.Amount0)
		if err != nil {
			return err
		}
		req1, err := parseOptionalAmount("amount1", op.Amount1)
		if err != nil {
			return err
		}
		got0, got1, err := s.pool.Collect(owner, recipient, op.TickLower, op.TickUpper, req0, req1)
		if err != nil {
			return err
		}
		s.logger.Info("collect",
			"owner", owner,
			"amount0", human(got0), "amount1", human(got1))
		return nil

	case "swap":
		recipient := common.HexToAddress(op.Recipient)
		amount, err := parseAmount("amountSpecified", op.AmountSpecified)
		if err != nil {
			return err
		}
		var limit *big.Int
		if op.SqrtPriceLimitX96 != "" {
			if limit, err = parseAmount("sqrtPriceLimitX96", op.SqrtPriceLimitX96); err != nil {
				return err
			}
		}
		res, err := s.pool.Swap(recipient, op.ZeroForOne, amount, limit,
			s.paySwapFrom(recipient), nil)
		if err != nil {
			return err
		}
		s.logger.Info("swap",
			"recipient", recipient,
			"in", human(res.AmountIn), "out", human(res.AmountOut))
		return nil

	case "flash":
		recipient := common.HexToAddress(op.Recipient)
		amount0, err := parseOptionalAmount("amount0", op.Amount0)
		if err != nil {
			return err
		}
		amount1, err := parseOptionalAmount("amount1", op.Amount1)
		if err != nil {
			return err
		}
		return s.pool.Flash(recipient, amount0, amount1, s.repayFlashFrom(recipient, amount0, amount1), nil)

	case "observe":
		ticks, err := s.pool.Observe(op.SecondsAgos)
		if err != nil {
			return err
		}
		s.logger.Info("observe", "secondsAgos", op.SecondsAgos, "tickCumulatives", ticks)
		return nil

	case "grow":
		return s.pool.IncreaseObservationCardinalityNext(op.Cardinality)

	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

// payFrom builds a mint callback paying both owed amounts from the account.
func (s *session) payFrom(account common.Address) pool.MintCallback {
	asset0, asset1 := s.pool.Assets()
	return func(amount0Owed, amount1Owed *big.Int, _ []byte) error {
		if amount0Owed.Sign() > 0 {
			if err := s.assets.TransferFrom(asset0, account, poolAccount, amount0Owed); err != nil {
				return err
			}
		}
		if amount1Owed.Sign() > 0 {
			return s.assets.TransferFrom(asset1, account, poolAccount, amount1Owed)
		}
		return nil
	}
}

// paySwapFrom builds a swap callback paying whichever side is owed.
func (s *session) paySwapFrom(account common.Address) pool.SwapCallback {
	asset0, asset1 := s.pool.Assets()
	return func(amount0Delta, amount1Delta *big.Int, _ []byte) error {
		if amount0Delta.Sign() > 0 {
			return s.assets.TransferFrom(asset0, account, poolAccount, amount0Delta)
		}
		if amount1Delta.Sign() > 0 {
			return s.assets.TransferFrom(asset1, account, poolAccount, amount1Delta)
		}
		return nil
	}
}

// repayFlashFrom returns the borrowed amounts plus fees.
func (s *session) repayFlashFrom(account common.Address, amount0, amount1 *big.Int) pool.FlashCallback {
	asset0, asset1 := s.pool.Assets()
	return func(fee0, fee1 *big.Int, _ []byte) error {
		owed0 := new(big.Int).Add(amount0, fee0)
		owed1 := new(big.Int).Add(amount1, fee1)
		if owed0.Sign() > 0 {
			if err := s.assets.TransferFrom(asset0, account, poolAccount, owed0); err != nil {
				return err
			}
		}
		if owed1.Sign() > 0 {
			return s.assets.TransferFrom(asset1, account, poolAccount, owed1)
		}
		return nil
	}
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, s)
	}
	return v, nil
}

func parseOptionalAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return parseAmount(field, s)
}

// human renders a raw 18-decimals amount for log output.
func human(raw *big.Int) string {
	return decimal.NewFromBigInt(raw, -18).String()
}
