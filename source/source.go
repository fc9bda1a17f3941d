// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package source implements the home side of the token bridge: it locks
// value for remote bridge endpoints, submits typed messages describing the
// transfer, and releases or re-routes value when authenticated messages
// come back. The per-endpoint ledger is the safety core: no endpoint can
// ever release more than was locked for it.
package source

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/tokenbridge/ledger"
	"github.com/luxfi/tokenbridge/message"
	"github.com/luxfi/tokenbridge/registry"
	"github.com/luxfi/tokenbridge/token"
	"github.com/luxfi/tokenbridge/transport"
)

var (
	ErrInvalidRequest     = errors.New("invalid transfer request")
	ErrUnapprovedFeeToken = errors.New("fee token not allow-listed")
	ErrSourceMismatch     = errors.New("embedded source chain does not match message source")
	ErrReentrant          = errors.New("reentrant call to send path")
)

// SendInput describes a direct two-party transfer request.
type SendInput struct {
	DestinationChainID uint32
	DestinationBridge  common.Address
	Recipient          common.Address
	FeeToken           common.Address
	PrimaryFee         *big.Int
	// SecondaryFee exists for symmetry with remote-side requests and must
	// be zero when sending from this side.
	SecondaryFee     *big.Int
	RequiredGasLimit uint64
}

// SendAndCallInput describes a transfer finalized through a programmable
// call on the destination chain.
type SendAndCallInput struct {
	DestinationChainID uint32
	DestinationBridge  common.Address
	RecipientContract  common.Address
	RecipientPayload   []byte
	RecipientGasLimit  uint64
	FallbackRecipient  common.Address
	FeeToken           common.Address
	PrimaryFee         *big.Int
	SecondaryFee       *big.Int
	RequiredGasLimit   uint64
}

// Config carries the collaborators a TokenSource is built from.
type Config struct {
	// ChainID is this chain's identifier, fixed for the core's lifetime.
	ChainID uint32
	// Address is the bridge's own account, holding custody and fees.
	Address common.Address
	// Owner may mutate the fee-token and relayer allow-lists.
	Owner     common.Address
	DB        database.Database
	Messenger transport.Messenger
	Handler   TokenHandler
	Log       log.Logger
}

// TokenSource is the bridge core. All entry points are all-or-nothing: a
// failed operation leaves the ledger exactly as it found it.
type TokenSource struct {
	chainID   uint32
	address   common.Address
	registry  *registry.Registry
	ledger    *ledger.Ledger
	messenger transport.Messenger
	handler   TokenHandler
	log       log.Logger

	tokenMu sync.RWMutex
	tokens  map[common.Address]token.Token

	// guard serializes the externally callable entry points against
	// reentrancy from fee-token hooks and call-forward recipients. The
	// multi-hop continuation re-enters the internal send logic directly,
	// under the guard already held by the receive path.
	guardMu sync.Mutex
	entered bool
}

var _ transport.Receiver = (*TokenSource)(nil)

// New creates a TokenSource from cfg.
func New(cfg Config) (*TokenSource, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: zero chain ID", ErrInvalidRequest)
	}
	if cfg.DB == nil || cfg.Messenger == nil || cfg.Handler == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidRequest)
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &TokenSource{
		chainID:   cfg.ChainID,
		address:   cfg.Address,
		registry:  registry.New(cfg.Owner, logger),
		ledger:    ledger.New(cfg.DB),
		messenger: cfg.Messenger,
		handler:   cfg.Handler,
		log:       logger,
		tokens:    make(map[common.Address]token.Token),
	}, nil
}

// ChainID returns the local chain identifier.
func (s *TokenSource) ChainID() uint32 { return s.chainID }

// Address returns the bridge's own account.
func (s *TokenSource) Address() common.Address { return s.address }

// Registry exposes the administrative allow-lists.
func (s *TokenSource) Registry() *registry.Registry { return s.registry }

// Balance returns the outstanding balance recorded for an endpoint.
func (s *TokenSource) Balance(ep ledger.Endpoint) *big.Int {
	return s.ledger.Balance(ep)
}

// RegisterToken binds a fee-token address to its implementation.
func (s *TokenSource) RegisterToken(addr common.Address, tok token.Token) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.tokens[addr] = tok
}

// Send locks the supplied amount for the destination endpoint and submits
// a SINGLE_HOP_SEND message. It returns the transport message ID.
func (s *TokenSource) Send(caller common.Address, input SendInput, amount *big.Int) (common.Hash, error) {
	if err := s.enter(); err != nil {
		return common.Hash{}, err
	}
	defer s.exit()

	return s.send(sendParams{
		payer:        caller,
		originSender: caller,
		input:        input,
		amount:       amount,
	})
}

// SendAndCall locks the supplied amount and submits a SINGLE_HOP_CALL
// message finalized by a call to the recipient contract.
func (s *TokenSource) SendAndCall(caller common.Address, input SendAndCallInput, amount *big.Int) (common.Hash, error) {
	if err := s.enter(); err != nil {
		return common.Hash{}, err
	}
	defer s.exit()

	return s.sendAndCall(callParams{
		payer:         caller,
		originSender:  caller,
		originChainID: s.chainID,
		input:         input,
		amount:        amount,
	})
}

// OnMessage handles one authenticated inbound message. The transport
// guarantees (sourceChainID, originSender) attribution; everything else is
// validated here. Any failure leaves the ledger unchanged.
func (s *TokenSource) OnMessage(sourceChainID uint32, originSender common.Address, raw []byte) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.exit()

	msg, err := message.Decode(raw)
	if err != nil {
		return err
	}

	ep := ledger.Endpoint{ChainID: sourceChainID, Bridge: originSender}
	if err := s.ledger.Debit(ep, msg.Amount); err != nil {
		return err
	}

	if err := s.dispatch(sourceChainID, msg); err != nil {
		// The debit must not survive a failed dispatch.
		if restoreErr := s.ledger.Credit(ep, msg.Amount); restoreErr != nil {
			return fmt.Errorf("restoring debit after %v: %w", err, restoreErr)
		}
		return err
	}
	return nil
}

// dispatch routes a debited message by type. The switch is exhaustive over
// the variants Decode accepts.
func (s *TokenSource) dispatch(sourceChainID uint32, msg *message.Message) error {
	switch msg.Type {
	case message.TypeSingleHopSend:
		p := msg.SingleHopSend
		if err := s.handler.Withdraw(p.Recipient, msg.Amount); err != nil {
			return err
		}
		s.log.Info("tokens withdrawn",
			"sourceChainID", sourceChainID,
			"recipient", p.Recipient,
			"amount", msg.Amount)
		return nil

	case message.TypeSingleHopCall:
		p := msg.SingleHopCall
		if p.SourceChainID != sourceChainID {
			return fmt.Errorf("%w: embedded %d, delivered from %d",
				ErrSourceMismatch, p.SourceChainID, sourceChainID)
		}
		if err := s.handler.ForwardCall(p, msg.Amount); err != nil {
			return err
		}
		s.log.Info("call forwarded",
			"sourceChainID", sourceChainID,
			"recipientContract", p.RecipientContract,
			"amount", msg.Amount)
		return nil

	case message.TypeMultiHopSend:
		p := msg.MultiHopSend
		_, err := s.send(sendParams{
			payer:        s.address,
			originSender: p.OriginSender,
			input: SendInput{
				DestinationChainID: p.DestinationChainID,
				DestinationBridge:  p.DestinationBridge,
				Recipient:          p.Recipient,
				FeeToken:           p.SecondaryFeeToken,
				PrimaryFee:         p.SecondaryFee,
				RequiredGasLimit:   p.SecondaryGasLimit,
			},
			amount:   msg.Amount,
			multiHop: true,
		})
		return err

	case message.TypeMultiHopCall:
		p := msg.MultiHopCall
		_, err := s.sendAndCall(callParams{
			payer:        s.address,
			originSender: p.OriginSender,
			// The forwarded call carries the transfer's true origin; the
			// attribution-checked source chain is stamped with this hop's.
			originChainID: sourceChainID,
			input: SendAndCallInput{
				DestinationChainID: p.DestinationChainID,
				DestinationBridge:  p.DestinationBridge,
				RecipientContract:  p.RecipientContract,
				RecipientPayload:   p.RecipientPayload,
				RecipientGasLimit:  p.RecipientGasLimit,
				FallbackRecipient:  p.FallbackRecipient,
				FeeToken:           p.SecondaryFeeToken,
				PrimaryFee:         p.SecondaryFee,
				RequiredGasLimit:   p.SecondaryGasLimit,
			},
			amount:   msg.Amount,
			multiHop: true,
		})
		return err

	default:
		return fmt.Errorf("%w: %d", message.ErrUnknownMessageType, msg.Type)
	}
}

type sendParams struct {
	payer        common.Address
	originSender common.Address
	input        SendInput
	amount       *big.Int
	multiHop     bool
}

func (s *TokenSource) send(p sendParams) (common.Hash, error) {
	if err := s.validateDestination(p.input.DestinationChainID, p.input.DestinationBridge); err != nil {
		return common.Hash{}, err
	}
	if p.input.Recipient == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: zero recipient", ErrInvalidRequest)
	}
	if p.input.RequiredGasLimit == 0 {
		return common.Hash{}, fmt.Errorf("%w: zero required gas limit", ErrInvalidRequest)
	}
	if p.input.SecondaryFee != nil && p.input.SecondaryFee.Sign() != 0 {
		return common.Hash{}, fmt.Errorf("%w: nonzero secondary fee", ErrInvalidRequest)
	}
	if p.amount == nil || p.amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: non-positive amount", ErrInvalidRequest)
	}

	// A multi-hop continuation spends value already locked by the receive
	// step: its fee is carved out of that value rather than pulled from a
	// payer, and no fresh custody is taken. Direct sends charge the caller
	// and deposit through the asset hook.
	var (
		amount = p.amount
		fee    *big.Int
		err    error
	)
	if p.multiHop {
		amount, fee, err = s.deductFee(p.amount, p.input.FeeToken, p.input.PrimaryFee)
		if err != nil {
			return common.Hash{}, err
		}
	} else {
		fee, err = s.chargeFee(p.payer, p.input.FeeToken, p.input.PrimaryFee)
		if err != nil {
			return common.Hash{}, err
		}
		amount, err = s.handler.Deposit(p.payer, p.amount)
		if err != nil {
			return common.Hash{}, s.refundFee(p.payer, p.input.FeeToken, fee, err)
		}
	}

	ep := ledger.Endpoint{ChainID: p.input.DestinationChainID, Bridge: p.input.DestinationBridge}
	if err := s.ledger.Credit(ep, amount); err != nil {
		if !p.multiHop {
			if werr := s.handler.Withdraw(p.payer, amount); werr != nil {
				return common.Hash{}, fmt.Errorf("returning deposit after %v: %w", err, werr)
			}
		}
		return common.Hash{}, s.unwindFee(p.payer, p.input.FeeToken, p.multiHop, fee, err)
	}

	msg := message.NewSingleHopSend(amount, p.input.Recipient)
	id, err := s.submit(msg, p.input.DestinationChainID, p.input.DestinationBridge,
		p.input.FeeToken, fee, p.input.RequiredGasLimit)
	if err != nil {
		return common.Hash{}, s.rollbackSend(ep, amount, p, fee, err)
	}

	event := "tokens sent"
	if p.multiHop {
		event = "tokens routed"
	}
	s.log.Info(event,
		"messageID", id,
		"destinationChainID", p.input.DestinationChainID,
		"destinationBridge", p.input.DestinationBridge,
		"recipient", p.input.Recipient,
		"originSender", p.originSender,
		"amount", amount,
		"fee", fee)
	return id, nil
}

type callParams struct {
	payer         common.Address
	originSender  common.Address
	originChainID uint32
	input         SendAndCallInput
	amount        *big.Int
	multiHop      bool
}

func (s *TokenSource) sendAndCall(p callParams) (common.Hash, error) {
	if err := s.validateDestination(p.input.DestinationChainID, p.input.DestinationBridge); err != nil {
		return common.Hash{}, err
	}
	if p.input.RecipientContract == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: zero recipient contract", ErrInvalidRequest)
	}
	if p.input.RequiredGasLimit == 0 {
		return common.Hash{}, fmt.Errorf("%w: zero required gas limit", ErrInvalidRequest)
	}
	if p.input.RecipientGasLimit == 0 {
		return common.Hash{}, fmt.Errorf("%w: zero recipient gas limit", ErrInvalidRequest)
	}
	if p.input.RecipientGasLimit >= p.input.RequiredGasLimit {
		return common.Hash{}, fmt.Errorf("%w: recipient gas limit %d not below required gas limit %d",
			ErrInvalidRequest, p.input.RecipientGasLimit, p.input.RequiredGasLimit)
	}
	if p.input.FallbackRecipient == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: zero fallback recipient", ErrInvalidRequest)
	}
	if p.input.SecondaryFee != nil && p.input.SecondaryFee.Sign() != 0 {
		return common.Hash{}, fmt.Errorf("%w: nonzero secondary fee", ErrInvalidRequest)
	}
	if p.amount == nil || p.amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("%w: non-positive amount", ErrInvalidRequest)
	}

	var (
		amount = p.amount
		fee    *big.Int
		err    error
	)
	if p.multiHop {
		amount, fee, err = s.deductFee(p.amount, p.input.FeeToken, p.input.PrimaryFee)
		if err != nil {
			return common.Hash{}, err
		}
	} else {
		fee, err = s.chargeFee(p.payer, p.input.FeeToken, p.input.PrimaryFee)
		if err != nil {
			return common.Hash{}, err
		}
		amount, err = s.handler.Deposit(p.payer, p.amount)
		if err != nil {
			return common.Hash{}, s.refundFee(p.payer, p.input.FeeToken, fee, err)
		}
	}

	ep := ledger.Endpoint{ChainID: p.input.DestinationChainID, Bridge: p.input.DestinationBridge}
	if err := s.ledger.Credit(ep, amount); err != nil {
		if !p.multiHop {
			if werr := s.handler.Withdraw(p.payer, amount); werr != nil {
				return common.Hash{}, fmt.Errorf("returning deposit after %v: %w", err, werr)
			}
		}
		return common.Hash{}, s.unwindFee(p.payer, p.input.FeeToken, p.multiHop, fee, err)
	}

	msg := message.NewSingleHopCall(amount, &message.SingleHopCall{
		SourceChainID:     s.chainID,
		OriginChainID:     p.originChainID,
		OriginSender:      p.originSender,
		RecipientContract: p.input.RecipientContract,
		RecipientPayload:  p.input.RecipientPayload,
		RecipientGasLimit: p.input.RecipientGasLimit,
		FallbackRecipient: p.input.FallbackRecipient,
	})
	id, err := s.submit(msg, p.input.DestinationChainID, p.input.DestinationBridge,
		p.input.FeeToken, fee, p.input.RequiredGasLimit)
	if err != nil {
		sp := sendParams{payer: p.payer, multiHop: p.multiHop, input: SendInput{FeeToken: p.input.FeeToken}}
		return common.Hash{}, s.rollbackSend(ep, amount, sp, fee, err)
	}

	event := "tokens sent with call"
	if p.multiHop {
		event = "tokens routed with call"
	}
	s.log.Info(event,
		"messageID", id,
		"destinationChainID", p.input.DestinationChainID,
		"destinationBridge", p.input.DestinationBridge,
		"recipientContract", p.input.RecipientContract,
		"originSender", p.originSender,
		"amount", amount,
		"fee", fee)
	return id, nil
}

func (s *TokenSource) validateDestination(chainID uint32, bridge common.Address) error {
	if chainID == s.chainID {
		return fmt.Errorf("%w: destination chain %d is the local chain", ErrInvalidRequest, chainID)
	}
	if chainID == 0 {
		return fmt.Errorf("%w: zero destination chain", ErrInvalidRequest)
	}
	if bridge == (common.Address{}) {
		return fmt.Errorf("%w: zero destination bridge", ErrInvalidRequest)
	}
	return nil
}

// chargeFee pulls the requested fee from the payer and approves the
// transport's fee account for the amount actually received. A zero request
// bypasses the allow-list entirely.
func (s *TokenSource) chargeFee(payer, feeToken common.Address, requested *big.Int) (*big.Int, error) {
	if requested == nil || requested.Sign() == 0 {
		return new(big.Int), nil
	}
	if requested.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative fee", ErrInvalidRequest)
	}
	if !s.registry.IsFeeToken(feeToken) {
		return nil, fmt.Errorf("%w: %s", ErrUnapprovedFeeToken, feeToken)
	}
	tok, err := s.resolveToken(feeToken)
	if err != nil {
		return nil, err
	}

	received, err := tok.Transfer(payer, s.address, requested)
	if err != nil {
		return nil, fmt.Errorf("charging fee: %w", err)
	}
	tok.Approve(s.address, s.messenger.FeeAccount(), received)
	return received, nil
}

func (s *TokenSource) resolveToken(addr common.Address) (token.Token, error) {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	tok, ok := s.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no registered implementation", ErrUnapprovedFeeToken, addr)
	}
	return tok, nil
}

func (s *TokenSource) submit(msg *message.Message, destChain uint32, destBridge common.Address,
	feeToken common.Address, fee *big.Int, gasLimit uint64,
) (common.Hash, error) {
	raw, err := msg.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return s.messenger.Send(transport.SendInput{
		DestinationChainID: destChain,
		DestinationBridge:  destBridge,
		FeeToken:           feeToken,
		FeeAmount:          fee,
		RequiredGasLimit:   gasLimit,
		AllowedRelayers:    s.registry.Relayers(),
		Message:            raw,
	})
}

// deductFee carves a multi-hop leg's secondary fee out of the in-flight
// amount. The fee stays in bridge custody, with the transport's fee account
// approved to draw it, and the remainder travels on. The fee must leave a
// positive remainder.
func (s *TokenSource) deductFee(amount *big.Int, feeToken common.Address, requested *big.Int) (*big.Int, *big.Int, error) {
	if requested == nil || requested.Sign() == 0 {
		return amount, new(big.Int), nil
	}
	if requested.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: negative fee", ErrInvalidRequest)
	}
	if requested.Cmp(amount) >= 0 {
		return nil, nil, fmt.Errorf("%w: secondary fee %s consumes transfer amount %s",
			ErrInvalidRequest, requested, amount)
	}
	tok, err := s.resolveToken(feeToken)
	if err != nil {
		return nil, nil, err
	}
	tok.Approve(s.address, s.messenger.FeeAccount(), requested)
	return new(big.Int).Sub(amount, requested), new(big.Int).Set(requested), nil
}

// rollbackSend unwinds the ledger credit, custody and fee of a send whose
// transport submission failed, then returns the original error.
func (s *TokenSource) rollbackSend(ep ledger.Endpoint, amount *big.Int, p sendParams, fee *big.Int, cause error) error {
	if err := s.ledger.Debit(ep, amount); err != nil {
		return fmt.Errorf("unwinding credit after %v: %w", cause, err)
	}
	if !p.multiHop {
		if err := s.handler.Withdraw(p.payer, amount); err != nil {
			return fmt.Errorf("returning deposit after %v: %w", cause, err)
		}
	}
	return s.unwindFee(p.payer, p.input.FeeToken, p.multiHop, fee, cause)
}

// unwindFee reverses the fee side effects of a send that cannot proceed,
// then returns the original error. A charged fee is refunded to the payer;
// a deducted fee never left custody, so only the approval is revoked.
func (s *TokenSource) unwindFee(payer, feeToken common.Address, multiHop bool, fee *big.Int, cause error) error {
	if multiHop {
		if fee != nil && fee.Sign() > 0 {
			if tok, err := s.resolveToken(feeToken); err == nil {
				tok.Approve(s.address, s.messenger.FeeAccount(), new(big.Int))
			}
		}
		return cause
	}
	return s.refundFee(payer, feeToken, fee, cause)
}

// refundFee returns a charged fee to the payer and revokes the transport's
// approval, then returns the original error.
func (s *TokenSource) refundFee(payer, feeToken common.Address, fee *big.Int, cause error) error {
	if fee == nil || fee.Sign() == 0 {
		return cause
	}
	tok, err := s.resolveToken(feeToken)
	if err != nil {
		return cause
	}
	tok.Approve(s.address, s.messenger.FeeAccount(), new(big.Int))
	if _, err := tok.Transfer(s.address, payer, fee); err != nil {
		return fmt.Errorf("refunding fee after %v: %w", cause, err)
	}
	return cause
}

func (s *TokenSource) enter() error {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	if s.entered {
		return ErrReentrant
	}
	s.entered = true
	return nil
}

func (s *TokenSource) exit() {
	s.guardMu.Lock()
	s.entered = false
	s.guardMu.Unlock()
}
