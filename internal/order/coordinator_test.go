package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/proxy-trader/internal/chain"
	"github.com/GoPolymarket/proxy-trader/internal/errclass"
	"github.com/GoPolymarket/proxy-trader/internal/session"
	"github.com/GoPolymarket/proxy-trader/internal/stage"
	"github.com/GoPolymarket/proxy-trader/internal/venue"
)

const testOwner = "0x1111111111111111111111111111111111111111"

type fakeQuotes struct {
	mu         sync.Mutex
	getCalls   int
	placeCalls int

	quote    venue.Quote
	getErr   error
	lastReq  venue.QuoteRequest
	place    venue.Placement
	placeErr error

	// blockPlace, when non-nil, parks PlaceOrder until closed.
	blockPlace chan struct{}
}

func (f *fakeQuotes) GetOrder(_ context.Context, req venue.QuoteRequest) (venue.Quote, error) {
	f.mu.Lock()
	f.getCalls++
	f.lastReq = req
	f.mu.Unlock()
	return f.quote, f.getErr
}

func (f *fakeQuotes) PlaceOrder(_ context.Context, _ venue.OrderParams, _ venue.Credentials) (venue.Placement, error) {
	f.mu.Lock()
	f.placeCalls++
	block := f.blockPlace
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.place, f.placeErr
}

type fakeProvider struct {
	simCalls  int
	simErr    error
	waitCalls int
	waitErr   error
	receipt   *types.Receipt
	sendHash  common.Hash
	sendErr   error
}

func (f *fakeProvider) CodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeProvider) Simulate(context.Context, ethereum.CallMsg) ([]byte, error) {
	f.simCalls++
	return nil, f.simErr
}

func (f *fakeProvider) SendRawTransaction(context.Context, []byte) (common.Hash, error) {
	return f.sendHash, f.sendErr
}

func (f *fakeProvider) WaitConfirmed(context.Context, common.Hash, time.Duration) (*types.Receipt, error) {
	f.waitCalls++
	return f.receipt, f.waitErr
}

type countingSigner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSigner) Address() common.Address { return common.HexToAddress(testOwner) }

func (s *countingSigner) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return make([]byte, 65), s.err
}

type fixture struct {
	coord    *Coordinator
	quotes   *fakeQuotes
	provider *fakeProvider
	signer   *countingSigner
	sessions *session.Manager
	machine  *stage.Machine
}

func newFixture(t *testing.T, quotes *fakeQuotes, provider *fakeProvider) *fixture {
	t.Helper()
	sessions, err := session.NewManager(session.Config{})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	// Short enough that tests can wait out the terminal auto-reset, long
	// enough that assertions right after PlaceOrder see the terminal stage.
	machine := stage.NewMachine(150*time.Millisecond, nil)
	t.Cleanup(machine.Close)

	classifier := errclass.NewClassifier(sessions, nil)
	var p chain.Provider
	if provider != nil {
		p = provider
	}
	coord := New(quotes, p, machine, classifier, Config{ConfirmationTimeout: 50 * time.Millisecond}, nil)
	return &fixture{
		coord:    coord,
		quotes:   quotes,
		provider: provider,
		signer:   &countingSigner{},
		sessions: sessions,
		machine:  machine,
	}
}

func liveSession() *session.LinkSession {
	return &session.LinkSession{
		Owner:         testOwner,
		ProxyAddress:  "0x9999999999999999999999999999999999999999",
		Credentials:   venue.Credentials{Key: "k", Secret: "s", Passphrase: "p"},
		IsDeployed:    true,
		HasAllowances: true,
		CreatedAt:     time.Now(),
	}
}

func buyRequest() Request {
	return Request{
		MarketID:   "M1",
		Side:       "BUY",
		AmountUSDC: decimal.NewFromInt(50),
		LimitPrice: decimal.RequireFromString("0.5"),
	}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	quotes := &fakeQuotes{place: venue.Placement{OrderID: "ord-1", Status: "LIVE"}}
	f := newFixture(t, quotes, nil)

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.OrderID != "ord-1" {
		t.Fatalf("expected order id ord-1, got %q", res.OrderID)
	}
	if f.signer.calls != 1 {
		t.Fatalf("expected one signature, got %d", f.signer.calls)
	}
	// New-user scenario: 50 USDC at 0.5 normalizes to 100 shares.
	if !quotes.lastReq.Size.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected normalized size 100, got %s", quotes.lastReq.Size)
	}
	if cur, _ := f.machine.Current(); cur != stage.Completed {
		t.Fatalf("expected completed stage, got %s", cur)
	}
}

func TestPlaceOrderNotLinked(t *testing.T) {
	quotes := &fakeQuotes{}
	f := newFixture(t, quotes, nil)

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), nil, f.signer)
	if !errors.Is(res.Err, ErrWalletNotLinked) {
		t.Fatalf("expected ErrWalletNotLinked for nil session, got %v", res.Err)
	}

	noAllowances := liveSession()
	noAllowances.HasAllowances = false
	res = f.coord.PlaceOrder(context.Background(), buyRequest(), noAllowances, f.signer)
	if !errors.Is(res.Err, ErrWalletNotLinked) {
		t.Fatalf("expected ErrWalletNotLinked without allowances, got %v", res.Err)
	}
	if quotes.getCalls != 0 {
		t.Fatalf("no venue call expected, got %d", quotes.getCalls)
	}
}

func TestPlaceOrderTooSmallBeforeNetwork(t *testing.T) {
	quotes := &fakeQuotes{}
	f := newFixture(t, quotes, nil)

	req := buyRequest()
	req.AmountUSDC = decimal.NewFromInt(1) // 2 shares at 0.5, under the 5-share minimum
	res := f.coord.PlaceOrder(context.Background(), req, liveSession(), f.signer)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Kind != errclass.KindOrderTooSmall {
		t.Fatalf("expected OrderTooSmall, got %s", res.Kind)
	}
	if quotes.getCalls != 0 || quotes.placeCalls != 0 {
		t.Fatalf("expected zero network calls, got get=%d place=%d", quotes.getCalls, quotes.placeCalls)
	}
	if f.signer.calls != 0 {
		t.Fatalf("signer must not be consulted, got %d calls", f.signer.calls)
	}
}

func TestPlaceOrderSimulatedInsufficientFunds(t *testing.T) {
	target := common.HexToAddress("0x4444444444444444444444444444444444444444")
	quotes := &fakeQuotes{quote: venue.Quote{CallTarget: &target, CallData: []byte{0x1}}}
	provider := &fakeProvider{simErr: errors.New("execution reverted: insufficient balance")}
	f := newFixture(t, quotes, provider)

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Kind != errclass.KindInsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %s", res.Kind)
	}
	if f.signer.calls != 0 {
		t.Fatal("signer must never be called when simulation fails")
	}
	if quotes.placeCalls != 0 {
		t.Fatal("order must not be submitted when simulation fails")
	}
}

func TestPlaceOrderSimulationOpaqueFailure(t *testing.T) {
	target := common.HexToAddress("0x4444444444444444444444444444444444444444")
	quotes := &fakeQuotes{quote: venue.Quote{CallTarget: &target}}
	provider := &fakeProvider{simErr: errors.New("revert 0xdeadbeef")}
	f := newFixture(t, quotes, provider)

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	if res.Kind != errclass.KindSimulationFailed {
		t.Fatalf("expected SimulationFailed for unrecognized error, got %s", res.Kind)
	}
}

func TestPlaceOrderSimulationUnsupportedSkips(t *testing.T) {
	target := common.HexToAddress("0x4444444444444444444444444444444444444444")
	quotes := &fakeQuotes{
		quote: venue.Quote{CallTarget: &target},
		place: venue.Placement{OrderID: "ord-2"},
	}
	provider := &fakeProvider{simErr: chain.ErrSimulationUnsupported}
	f := newFixture(t, quotes, provider)

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	if !res.Success {
		t.Fatalf("unsupported simulation must not fail the order: %+v", res)
	}
	if f.signer.calls != 1 {
		t.Fatalf("expected signing to proceed, got %d calls", f.signer.calls)
	}
}

func TestPlaceOrderSoftSuccessOnConfirmationTimeout(t *testing.T) {
	quotes := &fakeQuotes{place: venue.Placement{
		OrderID: "ord-3",
		TxHash:  "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}}
	provider := &fakeProvider{waitErr: chain.ErrConfirmationTimeout}
	f := newFixture(t, quotes, provider)

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	if !res.Success {
		t.Fatalf("confirmation timeout must be a soft success, got %+v", res)
	}
	if res.TxReference == "" {
		t.Fatal("soft success must carry the tx reference")
	}
	if res.Kind != errclass.KindNetworkTimeout {
		t.Fatalf("expected NetworkTimeout kind on soft success, got %s", res.Kind)
	}
	if cur, _ := f.machine.Current(); cur != stage.Completed {
		t.Fatalf("expected completed stage, got %s", cur)
	}
}

func TestPlaceOrderUnauthorizedClearsSession(t *testing.T) {
	quotes := &fakeQuotes{placeErr: errors.New("request failed: 401 unauthorized")}
	f := newFixture(t, quotes, nil)

	sess := liveSession()
	if err := f.sessions.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	res := f.coord.PlaceOrder(context.Background(), buyRequest(), sess, f.signer)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Kind != errclass.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %s", res.Kind)
	}

	cached, err := f.sessions.Load(testOwner)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cached != nil {
		t.Fatal("unauthorized response must invalidate the cached session")
	}
}

func TestPlaceOrderSingleFlight(t *testing.T) {
	block := make(chan struct{})
	quotes := &fakeQuotes{
		place:      venue.Placement{OrderID: "ord-4"},
		blockPlace: block,
	}
	f := newFixture(t, quotes, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var first Result
	go func() {
		defer wg.Done()
		first = f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	}()

	// Wait until the first call is parked inside the venue.
	deadline := time.Now().Add(time.Second)
	for {
		quotes.mu.Lock()
		parked := quotes.placeCalls == 1
		quotes.mu.Unlock()
		if parked {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first order never reached the venue")
		}
		time.Sleep(time.Millisecond)
	}

	second := f.coord.PlaceOrder(context.Background(), buyRequest(), liveSession(), f.signer)
	if !errors.Is(second.Err, ErrOrderInFlight) {
		t.Fatalf("expected ErrOrderInFlight, got %v", second.Err)
	}

	close(block)
	wg.Wait()
	if !first.Success {
		t.Fatalf("first order should have completed: %+v", first)
	}
	if quotes.placeCalls != 1 {
		t.Fatalf("second call must not reach the venue, got %d", quotes.placeCalls)
	}
}

func TestPlaceOrderRetryableAfterFailure(t *testing.T) {
	quotes := &fakeQuotes{placeErr: errors.New("not enough liquidity for size")}
	f := newFixture(t, quotes, nil)

	sess := liveSession()
	res := f.coord.PlaceOrder(context.Background(), buyRequest(), sess, f.signer)
	if res.Kind != errclass.KindLowLiquidity {
		t.Fatalf("expected LowLiquidity, got %s", res.Kind)
	}

	// The failure is request-scoped: the same session retries immediately,
	// without waiting out the terminal stage display.
	quotes.placeErr = nil
	quotes.place = venue.Placement{OrderID: "ord-5"}
	res = f.coord.PlaceOrder(context.Background(), buyRequest(), sess, f.signer)
	if !res.Success {
		t.Fatalf("retry with same session should succeed: %+v", res)
	}
}
