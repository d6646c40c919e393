package engine

import (
	"context"
	"crypto/sha256"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"basednames/internal/archive"
	"basednames/internal/chain"
	"basednames/internal/explorer"
	"basednames/internal/social"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChain struct {
	mu            sync.Mutex
	avail         chain.Availability
	availErr      error
	balances      []*big.Int
	balanceErr    error
	fees          chain.FeeData
	feesErr       error
	registerRes   chain.RegisterResult
	registerErr   error
	registerCalls []chain.RegisterRequest
	transfers     []chain.TransferRequest
	transferErr   error
}

func (s *stubChain) CheckName(context.Context, string) (chain.Availability, error) {
	return s.avail, s.availErr
}

func (s *stubChain) Balance(context.Context, common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	if len(s.balances) == 0 {
		return big.NewInt(0), nil
	}
	head := s.balances[0]
	if len(s.balances) > 1 {
		s.balances = s.balances[1:]
	}
	return new(big.Int).Set(head), nil
}

func (s *stubChain) FeeData(context.Context) (chain.FeeData, error) {
	return s.fees, s.feesErr
}

func (s *stubChain) Transfer(_ context.Context, req chain.TransferRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, req)
	if s.transferErr != nil {
		return "", s.transferErr
	}
	return "0xtransfer", nil
}

func (s *stubChain) Register(_ context.Context, req chain.RegisterRequest) (chain.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerCalls = append(s.registerCalls, req)
	if s.registerErr != nil {
		return chain.RegisterResult{}, s.registerErr
	}
	return s.registerRes, nil
}

type stubLookup struct {
	normal      *explorer.FundingTx
	normalErr   error
	internal    *explorer.FundingTx
	internalErr error
}

func (s *stubLookup) FindFundingTx(_ context.Context, _ common.Address, internal bool) (*explorer.FundingTx, error) {
	if internal {
		return s.internal, s.internalErr
	}
	return s.normal, s.normalErr
}

type sentReply struct {
	text   string
	target social.ReplyTarget
}

type stubReplier struct {
	mu      sync.Mutex
	err     error
	replies []sentReply
}

func (s *stubReplier) Reply(_ context.Context, text string, target social.ReplyTarget) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.replies = append(s.replies, sentReply{text: text, target: target})
	return "reply-1", nil
}

func (s *stubReplier) sent() []sentReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentReply, len(s.replies))
	copy(out, s.replies)
	return out
}

type stubSearcher struct {
	posts []social.Post
	err   error
}

func (s *stubSearcher) Search(context.Context, string, int, time.Time) ([]social.Post, error) {
	return s.posts, s.err
}

type stubDeriver struct {
	err error
}

func (s stubDeriver) AddressFor(path string) (common.Address, error) {
	if s.err != nil {
		return common.Address{}, s.err
	}
	sum := sha256.Sum256([]byte(path))
	return common.BytesToAddress(sum[:20]), nil
}

type testEngine struct {
	*Engine
	chain   *stubChain
	lookup  *stubLookup
	replier *stubReplier
	store   *archive.MemoryStore
}

func newTestEngine(t *testing.T, cfg Config, mutate func(*stubChain, *stubLookup)) *testEngine {
	t.Helper()

	sc := &stubChain{
		avail: chain.Availability{Valid: true, Available: true},
		fees: chain.FeeData{
			MaxFeePerGas:         big.NewInt(2000),
			MaxPriorityFeePerGas: big.NewInt(500),
		},
		registerRes: chain.RegisterResult{TxHash: "0xreg", ExplorerLink: "https://basescan.org/tx/0xreg"},
	}
	lookup := &stubLookup{}
	if mutate != nil {
		mutate(sc, lookup)
	}

	replier := &stubReplier{}
	store := archive.NewMemoryStore()

	eng, err := New(cfg, Deps{
		Chain:   sc,
		Lookup:  lookup,
		Replier: replier,
		Deriver: stubDeriver{},
		Archive: store,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	// keep the workers inert: steps are driven directly by the tests
	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	eng.runCtx = stopped

	return &testEngine{Engine: eng, chain: sc, lookup: lookup, replier: replier, store: store}
}

func request(id, conv string, text string) Request {
	return Request{
		ID:             id,
		RequesterID:    "user-1",
		ConversationID: conv,
		Text:           text,
		Timestamp:      time.Now(),
	}
}

func TestHandleRequestNameRejectedByChain(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	// extracted labels always satisfy the local pattern, so chain-side
	// validity is the authoritative rejection here
	te.chain.avail = chain.Availability{Valid: false}

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "want che4p.base.eth"))
	require.NoError(t, err)

	state, ok := te.Tracker().Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, StatusInvalidName, state.Status)
	assert.True(t, state.Status.Terminal())

	replies := te.replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].text, "not a valid basename")

	deposits, _ := te.QueueDepths()
	assert.Zero(t, deposits)
}

func TestHandleRequestNoMention(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "gm"))
	require.NoError(t, err)

	replies := te.replier.sent()
	require.Len(t, replies, 1)
	assert.Equal(t, "I'm good", replies[0].text)

	// unknown conversations stay untracked on a no-mention message
	_, ok := te.Tracker().Get("conv-1")
	assert.False(t, ok)

	deposits, _ := te.QueueDepths()
	assert.Zero(t, deposits)
}

func TestHandleRequestUnavailableName(t *testing.T) {
	te := newTestEngine(t, Config{}, func(sc *stubChain, _ *stubLookup) {
		sc.avail = chain.Availability{Valid: true, Available: false}
	})

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "get taken.base.eth"))
	require.NoError(t, err)

	state, ok := te.Tracker().Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, StatusUnavailableName, state.Status)
	assert.Equal(t, "m-1", state.LastProcessedMessageID)

	replies := te.replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].text, "not available")
}

func TestHandleRequestSuccess(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "please get cool.base.eth"))
	require.NoError(t, err)

	state, ok := te.Tracker().Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, StatusInstructionSent, state.Status)
	assert.Equal(t, "cool", state.Name)
	assert.Equal(t, "user-1-cool", state.DerivationPath)
	require.NotNil(t, state.Price)
	assert.Zero(t, state.Price.Cmp(big.NewInt(11000000000000000)))
	assert.Equal(t, 1, state.Attempts)

	replies := te.replier.sent()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].text, "0.011 ETH")
	assert.Contains(t, replies[0].text, state.DepositAddress)

	deposits, _ := te.QueueDepths()
	require.Equal(t, 1, deposits)
	item, ok := te.deposits.Pop()
	require.True(t, ok)
	assert.Equal(t, 0, item.DepositAttempt)
	assert.Equal(t, "reply-1", item.InstructionReplyID)
	assert.Zero(t, item.Price.Cmp(big.NewInt(11000000000000000)))
}

func TestHandleRequestTerminalConversationSkipped(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)
	te.Tracker().Merge("conv-1", StatePatch{Status: StatusResolved, LastProcessedMessageID: "m-0"})

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "again cool.base.eth"))
	require.NoError(t, err)

	assert.Empty(t, te.replier.sent())
	deposits, _ := te.QueueDepths()
	assert.Zero(t, deposits)

	state, _ := te.Tracker().Get("conv-1")
	assert.Equal(t, "m-0", state.LastProcessedMessageID)
}

func TestHandleRequestDuplicateMessageSkipped(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	req := request("m-1", "conv-1", "get cool.base.eth")
	require.NoError(t, te.HandleRequest(context.Background(), req))
	require.NoError(t, te.HandleRequest(context.Background(), req))

	assert.Len(t, te.replier.sent(), 1)
	deposits, _ := te.QueueDepths()
	assert.Equal(t, 1, deposits)
}

func TestHandleRequestCollaboratorFailure(t *testing.T) {
	te := newTestEngine(t, Config{}, func(sc *stubChain, _ *stubLookup) {
		sc.availErr = assert.AnError
	})

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "get cool.base.eth"))
	require.Error(t, err)

	state, ok := te.Tracker().Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, StatusProcessingError, state.Status)

	deposits, _ := te.QueueDepths()
	assert.Zero(t, deposits, "failed requests must not reach the deposit queue")
}

func TestHandleRequestReplyFailureDropsRequest(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)
	te.replier.err = assert.AnError

	err := te.HandleRequest(context.Background(), request("m-1", "conv-1", "get cool.base.eth"))
	require.Error(t, err)

	state, _ := te.Tracker().Get("conv-1")
	assert.Equal(t, StatusProcessingError, state.Status)
	deposits, _ := te.QueueDepths()
	assert.Zero(t, deposits)
}

func TestDedupeNamesPolicy(t *testing.T) {
	t.Run("enabled rejects second conversation", func(t *testing.T) {
		te := newTestEngine(t, Config{DedupeNames: true}, nil)

		require.NoError(t, te.HandleRequest(context.Background(), request("m-1", "conv-1", "get cool.base.eth")))
		require.NoError(t, te.HandleRequest(context.Background(), request("m-2", "conv-2", "get cool.base.eth")))

		second, ok := te.Tracker().Get("conv-2")
		require.True(t, ok)
		assert.Equal(t, StatusUnavailableName, second.Status)

		deposits, _ := te.QueueDepths()
		assert.Equal(t, 1, deposits)
	})

	t.Run("disabled allows second conversation", func(t *testing.T) {
		te := newTestEngine(t, Config{}, nil)

		require.NoError(t, te.HandleRequest(context.Background(), request("m-1", "conv-1", "get cool.base.eth")))
		require.NoError(t, te.HandleRequest(context.Background(), request("m-2", "conv-2", "get cool.base.eth")))

		second, ok := te.Tracker().Get("conv-2")
		require.True(t, ok)
		assert.Equal(t, StatusInstructionSent, second.Status)

		deposits, _ := te.QueueDepths()
		assert.Equal(t, 2, deposits)
	})
}

func TestSweepFeedsIntake(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)
	now := time.Now()
	te.searcher = &stubSearcher{posts: []social.Post{
		{ID: "p-1", RequesterID: "user-1", ConversationID: "conv-1", Text: "get cool.base.eth", Timestamp: now},
		{ID: "p-2", Text: "missing fields", Timestamp: now},
	}}

	processed, err := te.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	state, ok := te.Tracker().Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, StatusInstructionSent, state.Status)
	assert.Equal(t, now, te.watermarkTime())
}

func TestSweepWithoutSearcher(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)
	_, err := te.Sweep(context.Background())
	require.ErrorIs(t, err, ErrNoSearcher)
}

func TestForceRefundBypassesConversations(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	item, err := te.ForceRefund("0x1111111111111111111111111111111111111111", "user-1-cool")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(item.RequestID, "forced-"))

	assert.Zero(t, te.Tracker().Len(), "force refund must not touch conversation state")
	_, refunds := te.QueueDepths()
	assert.Equal(t, 1, refunds)

	// one completed attempt lands exactly one archive entry
	te.refundStep(context.Background())
	entries, err := te.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, item.RequestID, entries[0].RequestID)
}

func TestForceRefundValidation(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	_, err := te.ForceRefund("not-an-address", "path")
	require.Error(t, err)

	_, err = te.ForceRefund("0x1111111111111111111111111111111111111111", "")
	require.Error(t, err)
}

func TestRestart(t *testing.T) {
	te := newTestEngine(t, Config{}, nil)

	started, err := te.Restart("deposits")
	require.NoError(t, err)
	assert.False(t, started, "empty queue must not start a worker")

	te.deposits.Push(DepositItem{RequestID: "r-1", Price: big.NewInt(1)})
	started, err = te.Restart("deposits")
	require.NoError(t, err)
	assert.True(t, started)

	_, err = te.Restart("bogus")
	require.Error(t, err)
}
