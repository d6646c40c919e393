// Package engine is the request fulfillment core: intake of social mention
// requests, the deposit-monitoring worker, and the refund-processing worker,
// glued together by the conversation tracker and two in-process FIFO queues.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"basednames/internal/archive"
	"basednames/internal/chain"
	"basednames/internal/explorer"
	"basednames/internal/names"
	"basednames/internal/social"
	"basednames/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AddressDeriver yields the deposit address for a derivation path.
// *wallet.Deriver is the production implementation.
type AddressDeriver interface {
	AddressFor(path string) (common.Address, error)
}

// Config carries the engine's policy knobs. Zero values fall back to the
// production defaults.
type Config struct {
	MentionQuery           string
	SearchLimit            int
	DepositPollInterval    time.Duration
	RefundPollInterval     time.Duration
	MaxDepositAttempts     int
	RefundGasLimit         uint64
	InternalRefundGasLimit uint64
	RefundBuffer           *big.Int
	InstructionWindow      time.Duration
	// DedupeNames rejects a second conversation asking for a name the same
	// requester already has in flight or registered.
	DedupeNames bool
}

func (c Config) withDefaults() Config {
	if c.MentionQuery == "" {
		c.MentionQuery = "@basednames"
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 100
	}
	if c.DepositPollInterval <= 0 {
		c.DepositPollInterval = 5 * time.Second
	}
	if c.RefundPollInterval <= 0 {
		c.RefundPollInterval = 60 * time.Second
	}
	if c.MaxDepositAttempts <= 0 {
		// 12 checks per minute over one hour
		c.MaxDepositAttempts = 12 * 60
	}
	if c.RefundGasLimit == 0 {
		c.RefundGasLimit = 21000
	}
	if c.InternalRefundGasLimit == 0 {
		c.InternalRefundGasLimit = 500000
	}
	if c.RefundBuffer == nil {
		c.RefundBuffer = big.NewInt(5000000000000)
	}
	if c.InstructionWindow <= 0 {
		c.InstructionWindow = 10 * time.Minute
	}
	return c
}

// Deps are the engine's collaborators.
type Deps struct {
	Chain    chain.Client
	Lookup   explorer.Lookup
	Replier  social.Replier
	Searcher social.Searcher // optional; Sweep errors without one
	Deriver  AddressDeriver
	Archive  archive.Store
	Logger   zerolog.Logger
}

// Engine owns the conversation tracker and both work queues. Create one per
// process and start it with Start; there are no package-level singletons.
type Engine struct {
	cfg      Config
	chain    chain.Client
	lookup   explorer.Lookup
	replier  social.Replier
	searcher social.Searcher
	deriver  AddressDeriver
	store    archive.Store
	tracker  *ConversationTracker
	deposits *fifo[DepositItem]
	refunds  *fifo[RefundItem]
	metrics  *Metrics
	log      zerolog.Logger

	runCtx         context.Context
	depositRunning atomic.Bool
	refundRunning  atomic.Bool

	watermarkMu sync.Mutex
	watermark   time.Time
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if deps.Lookup == nil {
		return nil, fmt.Errorf("explorer lookup is required")
	}
	if deps.Replier == nil {
		return nil, fmt.Errorf("social replier is required")
	}
	if deps.Deriver == nil {
		return nil, fmt.Errorf("address deriver is required")
	}
	if deps.Archive == nil {
		return nil, fmt.Errorf("archive store is required")
	}

	metrics := newMetrics()
	return &Engine{
		cfg:      cfg.withDefaults(),
		chain:    deps.Chain,
		lookup:   deps.Lookup,
		replier:  deps.Replier,
		searcher: deps.Searcher,
		deriver:  deps.Deriver,
		store:    deps.Archive,
		tracker:  NewConversationTracker(),
		deposits: newFifo[DepositItem](metrics.depositQueueDepth),
		refunds:  newFifo[RefundItem](metrics.refundQueueDepth),
		metrics:  metrics,
		log:      deps.Logger.With().Str("component", "engine").Logger(),
		runCtx:   context.Background(),
	}, nil
}

// Start pins the worker lifetime to ctx and kicks both workers. Workers run
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx
	e.KickDeposits()
	e.KickRefunds()
}

func (e *Engine) Metrics() *Metrics { return e.metrics }

// Tracker exposes the conversation map for the operator surface.
func (e *Engine) Tracker() *ConversationTracker { return e.tracker }

// QueueDepths returns the current deposit and refund queue lengths.
func (e *Engine) QueueDepths() (deposits, refunds int) {
	return e.deposits.Len(), e.refunds.Len()
}

// Refunds lists the archive for manual follow-up.
func (e *Engine) Refunds(ctx context.Context) ([]archive.Entry, error) {
	return e.store.List(ctx)
}

// Request is one candidate registration request extracted from the social
// stream.
type Request struct {
	ID             string
	RequesterID    string
	ConversationID string
	Text           string
	Timestamp      time.Time
}

// HandleRequest runs intake for a single inbound message: validate, quote,
// derive a deposit address, post instructions, and enqueue the deposit
// watch. Collaborator failures mark the conversation error_processing and
// drop the request; retry happens only through a new inbound message.
func (e *Engine) HandleRequest(ctx context.Context, req Request) error {
	log := e.log.With().Str("message_id", req.ID).Str("conversation_id", req.ConversationID).Logger()

	state, known := e.tracker.Get(req.ConversationID)
	if known && state.Status.Terminal() {
		log.Debug().Str("status", string(state.Status)).Msg("conversation terminal, skipping")
		e.metrics.incRequest("skipped_terminal")
		return nil
	}
	if known && state.LastProcessedMessageID == req.ID {
		log.Debug().Msg("message already processed, skipping")
		e.metrics.incRequest("skipped_duplicate")
		return nil
	}

	name := names.Extract(req.Text)
	if name == "" {
		log.Info().Msg("no name mention in message")
		if _, err := e.replier.Reply(ctx, neutralReply, social.ReplyTarget{MessageID: req.ID, RequesterID: req.RequesterID}); err != nil {
			log.Warn().Err(err).Msg("neutral reply failed")
		}
		if known {
			e.tracker.Merge(req.ConversationID, StatePatch{LastProcessedMessageID: req.ID})
		}
		e.metrics.incRequest("no_name")
		return nil
	}

	log = log.With().Str("name", name).Logger()

	if !names.Valid(name) {
		e.rejectInvalidName(ctx, log, req, name)
		return nil
	}

	avail, err := e.chain.CheckName(ctx, name)
	if err != nil {
		return e.failProcessing(log, req, fmt.Errorf("check name: %w", err))
	}
	if !avail.Valid {
		// the registrar applies stricter rules than the local pattern
		e.rejectInvalidName(ctx, log, req, name)
		return nil
	}

	unavailable := !avail.Available
	if !unavailable && e.cfg.DedupeNames && e.nameHeldByRequester(req.RequesterID, name, req.ConversationID) {
		log.Info().Msg("requester already holds this name in another conversation")
		unavailable = true
	}
	if unavailable {
		e.tracker.Merge(req.ConversationID, StatePatch{
			Status:                 StatusUnavailableName,
			LastProcessedMessageID: req.ID,
			Name:                   name,
			RequesterID:            req.RequesterID,
			IncrementAttempts:      true,
		})
		if _, err := e.replier.Reply(ctx, unavailableNameReply(name), social.ReplyTarget{MessageID: req.ID, RequesterID: req.RequesterID}); err != nil {
			log.Warn().Err(err).Msg("unavailability reply failed")
		}
		e.metrics.incRequest("unavailable_name")
		return nil
	}

	price := names.PriceFor(name)
	path := wallet.PathFor(req.RequesterID, name)

	address, err := e.deriver.AddressFor(path)
	if err != nil {
		return e.failProcessing(log, req, fmt.Errorf("derive deposit address: %w", err))
	}

	replyID, err := e.replier.Reply(ctx,
		instructionReply(name, price, address, e.cfg.InstructionWindow),
		social.ReplyTarget{MessageID: req.ID, RequesterID: req.RequesterID})
	if err != nil {
		return e.failProcessing(log, req, fmt.Errorf("post instructions: %w", err))
	}

	e.tracker.Merge(req.ConversationID, StatePatch{
		Status:                 StatusInstructionSent,
		LastProcessedMessageID: req.ID,
		Name:                   name,
		RequesterID:            req.RequesterID,
		DepositAddress:         address.Hex(),
		DerivationPath:         path,
		Price:                  price,
		IncrementAttempts:      true,
	})

	e.deposits.Push(DepositItem{
		RequestID:          req.ID,
		RequesterID:        req.RequesterID,
		ConversationID:     req.ConversationID,
		Name:               name,
		DerivationPath:     path,
		DepositAddress:     address,
		Price:              price,
		DepositAttempt:     0,
		InstructionReplyID: replyID,
	})
	e.metrics.incRequest("instruction_sent")
	log.Info().Str("address", address.Hex()).Str("price_wei", price.String()).Msg("instructions posted, watching deposit")

	e.KickDeposits()
	return nil
}

func (e *Engine) rejectInvalidName(ctx context.Context, log zerolog.Logger, req Request, name string) {
	e.tracker.Merge(req.ConversationID, StatePatch{
		Status:                 StatusInvalidName,
		LastProcessedMessageID: req.ID,
		Name:                   name,
		RequesterID:            req.RequesterID,
		IncrementAttempts:      true,
	})
	if _, err := e.replier.Reply(ctx, invalidNameReply(name), social.ReplyTarget{MessageID: req.ID, RequesterID: req.RequesterID}); err != nil {
		log.Warn().Err(err).Msg("rejection reply failed")
	}
	e.metrics.incRequest("invalid_name")
}

func (e *Engine) failProcessing(log zerolog.Logger, req Request, err error) error {
	e.tracker.Merge(req.ConversationID, StatePatch{
		Status:                 StatusProcessingError,
		LastProcessedMessageID: req.ID,
		RequesterID:            req.RequesterID,
		IncrementAttempts:      true,
	})
	e.metrics.incRequest("processing_error")
	log.Error().Err(err).Msg("intake failed")
	return err
}

func (e *Engine) nameHeldByRequester(requesterID, name, excludeConversation string) bool {
	held := false
	e.tracker.Range(func(id string, state ConversationState) bool {
		if id == excludeConversation {
			return true
		}
		if state.RequesterID == requesterID && state.Name == name &&
			(state.Status == StatusInstructionSent || state.Status == StatusResolved) {
			held = true
			return false
		}
		return true
	})
	return held
}

// ErrNoSearcher marks a Sweep attempt on an engine assembled without a
// search client.
var ErrNoSearcher = errors.New("no searcher configured")

// Sweep performs one intake pass over the social stream: search mentions
// newer than the watermark, adapt, and feed HandleRequest. The watermark
// only moves forward.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e.searcher == nil {
		return 0, ErrNoSearcher
	}

	since := e.watermarkTime()
	posts, err := e.searcher.Search(ctx, e.cfg.MentionQuery, e.cfg.SearchLimit, since)
	if err != nil {
		return 0, fmt.Errorf("search mentions: %w", err)
	}

	processed := 0
	for _, post := range posts {
		if post.RequesterID == "" || post.ConversationID == "" || post.Timestamp.IsZero() {
			e.log.Warn().Str("post_id", post.ID).Msg("post missing required fields, skipping")
			continue
		}
		e.advanceWatermark(post.Timestamp)

		err := e.HandleRequest(ctx, Request{
			ID:             post.ID,
			RequesterID:    post.RequesterID,
			ConversationID: post.ConversationID,
			Text:           post.Text,
			Timestamp:      post.Timestamp,
		})
		if err != nil {
			// already logged and recorded against the conversation
			continue
		}
		processed++
	}
	return processed, nil
}

func (e *Engine) watermarkTime() time.Time {
	e.watermarkMu.Lock()
	defer e.watermarkMu.Unlock()
	return e.watermark
}

func (e *Engine) advanceWatermark(ts time.Time) {
	e.watermarkMu.Lock()
	defer e.watermarkMu.Unlock()
	if ts.After(e.watermark) {
		e.watermark = ts
	}
}

// Restart kicks the named worker if it is idle and its queue is non-empty.
// It reports whether a worker was actually started.
func (e *Engine) Restart(queue string) (bool, error) {
	switch queue {
	case "deposits":
		if e.deposits.Len() == 0 {
			return false, nil
		}
		return e.KickDeposits(), nil
	case "refunds":
		if e.refunds.Len() == 0 {
			return false, nil
		}
		return e.KickRefunds(), nil
	default:
		return false, fmt.Errorf("unknown queue %q", queue)
	}
}

// ForceRefund injects a synthetic refund for manual recovery, bypassing
// conversation and deposit bookkeeping entirely.
func (e *Engine) ForceRefund(address, path string) (RefundItem, error) {
	if !common.IsHexAddress(address) {
		return RefundItem{}, fmt.Errorf("invalid address %q", address)
	}
	if path == "" {
		return RefundItem{}, fmt.Errorf("derivation path is required")
	}

	item := RefundItem{
		RequestID:      "forced-" + uuid.NewString(),
		DerivationPath: path,
		DepositAddress: common.HexToAddress(address),
	}
	e.refunds.Push(item)
	e.log.Info().Str("address", address).Str("path", path).Str("request_id", item.RequestID).Msg("manual refund queued")
	e.KickRefunds()
	return item, nil
}
