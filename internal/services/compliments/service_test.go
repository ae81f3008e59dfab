package compliments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/waggleapp/backend/internal/domain/enums"
	"github.com/waggleapp/backend/internal/domain/rules"
	pgrepo "github.com/waggleapp/backend/internal/repo/postgres"
	connsvc "github.com/waggleapp/backend/internal/services/connections"
	conssvc "github.com/waggleapp/backend/internal/services/consumables"
)

type swipeStoreStub struct {
	reverseAccept bool
	upserts       int
}

func (s *swipeStoreStub) GetForUpdate(context.Context, pgx.Tx, int64, int64, enums.Lane) (pgrepo.SwipeRecord, error) {
	return pgrepo.SwipeRecord{}, pgrepo.ErrSwipeNotFound
}

func (s *swipeStoreStub) Upsert(_ context.Context, _ pgx.Tx, viewerID, candidateID int64, lane enums.Lane, action enums.SwipeAction, now time.Time) (pgrepo.SwipeRecord, error) {
	s.upserts++
	return pgrepo.SwipeRecord{
		ViewerUserID:    viewerID,
		CandidateUserID: candidateID,
		Lane:            lane,
		Action:          action,
		CreatedAt:       now,
	}, nil
}

func (s *swipeStoreStub) AcceptExists(context.Context, pgx.Tx, int64, int64, enums.Lane) (bool, error) {
	return s.reverseAccept, nil
}

type pendingStoreStub struct {
	rec     *pgrepo.PendingConnectionRecord
	holdOK  bool
	held    int
	lastKey string
}

func (s *pendingStoreStub) GetForUpdate(context.Context, pgx.Tx, rules.PairKey) (pgrepo.PendingConnectionRecord, error) {
	if s.rec == nil {
		return pgrepo.PendingConnectionRecord{}, pgrepo.ErrPendingNotFound
	}
	return *s.rec, nil
}

func (s *pendingStoreStub) HoldMessage(_ context.Context, _ pgx.Tx, _ rules.PairKey, _ int64, _, clientMessageID string) (bool, error) {
	if !s.holdOK {
		return false, nil
	}
	s.held++
	s.lastKey = clientMessageID
	return true, nil
}

type conversationStoreStub struct {
	storedMsg    *pgrepo.MessageRecord
	appendResult bool
	activated    int
	ensured      int
	lastState    enums.ConversationState
	lastReq      *int64
}

func (s *conversationStoreStub) EnsureConversation(_ context.Context, _ pgx.Tx, pair rules.PairKey, lane enums.Lane, state enums.ConversationState, requesterID *int64, _ time.Time) (pgrepo.ConversationRecord, error) {
	s.ensured++
	s.lastState = state
	s.lastReq = requesterID
	return pgrepo.ConversationRecord{ID: 77, UserLowID: pair.Low, UserHighID: pair.High, Lane: lane, State: state}, nil
}

func (s *conversationStoreStub) ActivateConversation(_ context.Context, _ pgx.Tx, pair rules.PairKey, lane enums.Lane, _ time.Time) (pgrepo.ConversationRecord, error) {
	s.activated++
	return pgrepo.ConversationRecord{ID: 88, UserLowID: pair.Low, UserHighID: pair.High, Lane: lane, State: enums.ConversationStateActive}, nil
}

func (s *conversationStoreStub) AppendMessage(context.Context, pgx.Tx, int64, int64, string, string, time.Time) (bool, error) {
	return s.appendResult, nil
}

func (s *conversationStoreStub) FindMessageByClientID(context.Context, pgx.Tx, string) (pgrepo.MessageRecord, error) {
	if s.storedMsg == nil {
		return pgrepo.MessageRecord{}, pgrepo.ErrMessageNotFound
	}
	return *s.storedMsg, nil
}

type chargerStub struct {
	calls int
	err   error
}

func (s *chargerStub) ConsumeInTx(context.Context, pgx.Tx, int64, enums.ConsumableKind) error {
	s.calls++
	return s.err
}

type resolverStub struct {
	outcome connsvc.Outcome
}

func (s resolverStub) ResolveAccept(context.Context, pgx.Tx, int64, int64, enums.Lane, time.Time) (connsvc.Outcome, error) {
	return s.outcome, nil
}

func buildService(swipes *swipeStoreStub, pendings *pendingStoreStub, conversations *conversationStoreStub, charger *chargerStub, resolver Resolver) *Service {
	svc := NewService(nil, swipes, pendings, conversations, charger, resolver, nil, nil, Config{})
	svc.now = func() time.Time { return time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestSendRetryReturnsStoredMessageWithoutCharging(t *testing.T) {
	conversations := &conversationStoreStub{
		storedMsg: &pgrepo.MessageRecord{ID: 5, ConversationID: 42, SenderUserID: 101},
	}
	charger := &chargerStub{}
	swipes := &swipeStoreStub{}
	svc := buildService(swipes, &pendingStoreStub{}, conversations, charger, resolverStub{})

	res, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LaneMatch, "hi there", "msg-1")
	if err != nil {
		t.Fatalf("send retry: %v", err)
	}

	if res.ConversationID == nil || *res.ConversationID != 42 {
		t.Fatalf("expected the original conversation id, got %+v", res)
	}
	if charger.calls != 0 {
		t.Fatalf("a retry must not charge, got %d charges", charger.calls)
	}
	if swipes.upserts != 0 {
		t.Fatalf("a retry must not rewrite the swipe, got %d upserts", swipes.upserts)
	}
}

func TestSendHoldsMessageOnOpenPending(t *testing.T) {
	pendings := &pendingStoreStub{
		rec: &pgrepo.PendingConnectionRecord{
			UserLowID:   101,
			UserHighID:  202,
			PalsUserID:  202,
			MatchUserID: 101,
			Status:      enums.PendingStatusPending,
		},
		holdOK: true,
	}
	charger := &chargerStub{}
	conversations := &conversationStoreStub{}
	svc := buildService(&swipeStoreStub{}, pendings, conversations, charger, resolverStub{})

	res, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LaneMatch, "hi there", "msg-1")
	if err != nil {
		t.Fatalf("send on pending pair: %v", err)
	}

	if !res.CrossLanePending || res.ConversationID != nil {
		t.Fatalf("expected a held cross-lane result, got %+v", res)
	}
	if pendings.held != 1 || pendings.lastKey != "msg-1" {
		t.Fatalf("expected the message to be held once, got %d (%q)", pendings.held, pendings.lastKey)
	}
	if charger.calls != 1 {
		t.Fatalf("holding the first message costs one credit, got %d", charger.calls)
	}
	if conversations.ensured != 0 || conversations.activated != 0 {
		t.Fatalf("no conversation may be touched while pending")
	}
}

func TestSendDifferentMessageWhileHeldReportsAlreadyHeld(t *testing.T) {
	otherID := "msg-1"
	pendings := &pendingStoreStub{
		rec: &pgrepo.PendingConnectionRecord{
			UserLowID:           101,
			UserHighID:          202,
			PalsUserID:          202,
			MatchUserID:         101,
			Status:              enums.PendingStatusPending,
			HeldClientMessageID: &otherID,
		},
		holdOK: false,
	}
	charger := &chargerStub{}
	conversations := &conversationStoreStub{}
	svc := buildService(&swipeStoreStub{}, pendings, conversations, charger, resolverStub{})

	res, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LaneMatch, "second thoughts", "msg-2")
	if err != nil {
		t.Fatalf("send while another message is held: %v", err)
	}

	if !res.CrossLanePending || !res.MessageAlreadyHeld {
		t.Fatalf("a displaced body must be reported, not read as delivered: %+v", res)
	}
	if res.ConversationID != nil {
		t.Fatalf("no conversation may be reported for a dropped body")
	}
	if charger.calls != 0 {
		t.Fatalf("a dropped body must not be charged, got %d", charger.calls)
	}
	if conversations.ensured != 0 || conversations.activated != 0 {
		t.Fatalf("no conversation may be touched while pending")
	}
}

func TestSendRetryOnAlreadyHeldMessageIsFree(t *testing.T) {
	clientID := "msg-1"
	pendings := &pendingStoreStub{
		rec: &pgrepo.PendingConnectionRecord{
			UserLowID:           101,
			UserHighID:          202,
			PalsUserID:          202,
			MatchUserID:         101,
			Status:              enums.PendingStatusPending,
			HeldClientMessageID: &clientID,
		},
	}
	charger := &chargerStub{}
	swipes := &swipeStoreStub{}
	svc := buildService(swipes, pendings, &conversationStoreStub{}, charger, resolverStub{})

	res, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LaneMatch, "hi there", clientID)
	if err != nil {
		t.Fatalf("retry on held message: %v", err)
	}

	if !res.CrossLanePending {
		t.Fatalf("expected cross-lane pending result, got %+v", res)
	}
	if charger.calls != 0 || swipes.upserts != 0 || pendings.held != 0 {
		t.Fatalf("retry must be a pure read: charges=%d upserts=%d holds=%d", charger.calls, swipes.upserts, pendings.held)
	}
}

func TestSendToMutualAcceptActivatesConversation(t *testing.T) {
	swipes := &swipeStoreStub{reverseAccept: true}
	conversations := &conversationStoreStub{appendResult: true}
	charger := &chargerStub{}
	svc := buildService(swipes, &pendingStoreStub{}, conversations, charger, resolverStub{
		outcome: connsvc.Outcome{Matched: true, MatchedLane: enums.LaneMatch},
	})

	res, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LaneMatch, "hi there", "msg-1")
	if err != nil {
		t.Fatalf("send to mutual accept: %v", err)
	}

	if res.ConversationID == nil || *res.ConversationID != 88 {
		t.Fatalf("expected the activated conversation, got %+v", res)
	}
	if conversations.activated != 1 || conversations.ensured != 0 {
		t.Fatalf("mutual pair must activate, not open a request thread")
	}
	if res.Connection == nil || !res.Connection.Matched {
		t.Fatalf("expected a match event, got %+v", res.Connection)
	}
	if charger.calls != 1 {
		t.Fatalf("delivered message costs one credit, got %d", charger.calls)
	}
}

func TestSendOneSidedOpensRequestThread(t *testing.T) {
	conversations := &conversationStoreStub{appendResult: true}
	charger := &chargerStub{}
	svc := buildService(&swipeStoreStub{}, &pendingStoreStub{}, conversations, charger, resolverStub{})

	res, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LanePals, "wanna meet at the park", "msg-1")
	if err != nil {
		t.Fatalf("one-sided send: %v", err)
	}

	if conversations.ensured != 1 || conversations.lastState != enums.ConversationStateRequest {
		t.Fatalf("expected a request-state thread, got state %q", conversations.lastState)
	}
	if conversations.lastReq == nil || *conversations.lastReq != 101 {
		t.Fatalf("the sender must be recorded as the requester, got %v", conversations.lastReq)
	}
	if res.ConversationID == nil || *res.ConversationID != 77 {
		t.Fatalf("unexpected conversation id: %+v", res)
	}
	if charger.calls != 1 {
		t.Fatalf("expected one charge, got %d", charger.calls)
	}
}

func TestSendSkipsChargeWhenMessageAlreadyStored(t *testing.T) {
	conversations := &conversationStoreStub{appendResult: false}
	charger := &chargerStub{}
	svc := buildService(&swipeStoreStub{}, &pendingStoreStub{}, conversations, charger, resolverStub{})

	if _, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LanePals, "hi there", "msg-1"); err != nil {
		t.Fatalf("send with duplicate append: %v", err)
	}

	if charger.calls != 0 {
		t.Fatalf("an unappended message must not charge, got %d", charger.calls)
	}
}

func TestSendMapsEmptyBalanceToNoCompliments(t *testing.T) {
	conversations := &conversationStoreStub{appendResult: true}
	charger := &chargerStub{err: conssvc.ErrInsufficient}
	svc := buildService(&swipeStoreStub{}, &pendingStoreStub{}, conversations, charger, resolverStub{})

	_, err := svc.sendInTx(context.Background(), nil, 101, 202, enums.LanePals, "hi there", "msg-1")
	if !errors.Is(err, ErrNoCompliments) {
		t.Fatalf("expected ErrNoCompliments, got %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	svc := buildService(&swipeStoreStub{}, &pendingStoreStub{}, &conversationStoreStub{}, &chargerStub{}, resolverStub{})

	if _, err := svc.Send(context.Background(), 101, 101, enums.LanePals, "hi", "msg-1"); !errors.Is(err, ErrSelfTarget) {
		t.Fatalf("expected ErrSelfTarget, got %v", err)
	}
	if _, err := svc.Send(context.Background(), 101, 202, enums.LanePals, "   ", "msg-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty body, got %v", err)
	}
	if _, err := svc.Send(context.Background(), 101, 202, enums.LanePals, "hi", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty client id, got %v", err)
	}
}
