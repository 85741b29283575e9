package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/innovfix/onlycare-calls/internal/audit"
	"github.com/innovfix/onlycare-calls/internal/config"
	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
	"github.com/innovfix/onlycare-calls/internal/media"
	"github.com/innovfix/onlycare-calls/internal/metrics"
	"github.com/innovfix/onlycare-calls/internal/model"
	"github.com/innovfix/onlycare-calls/internal/repository"
	"github.com/innovfix/onlycare-calls/internal/util"
)

// DefaultRates is the per-minute price for earners without their own rate.
type DefaultRates map[model.CallKind]int64

type CallService struct {
	store    repository.Store
	billing  *BillingService
	notifier *Notifier
	issuer   media.Issuer
	matcher  *MatchingService
	rates    DefaultRates
	now      func() time.Time
}

func NewCallService(
	store repository.Store,
	billing *BillingService,
	notifier *Notifier,
	issuer media.Issuer,
	matcher *MatchingService,
	rates DefaultRates,
) *CallService {
	return &CallService{
		store:    store,
		billing:  billing,
		notifier: notifier,
		issuer:   issuer,
		matcher:  matcher,
		rates:    rates,
		now:      time.Now,
	}
}

// roles splits two users into payer and earner. ok is false when both share a role.
func roles(a, b *model.User) (payer, earner *model.User, ok bool) {
	switch {
	case a.Gender.IsPayer() && b.Gender.IsEarner():
		return a, b, true
	case b.Gender.IsPayer() && a.Gender.IsEarner():
		return b, a, true
	}
	return nil, nil, false
}

func (s *CallService) rateFor(earner *model.User, kind model.CallKind) int64 {
	if rate, ok := earner.RateFor(kind); ok {
		return rate
	}
	return s.rates[kind]
}

// inTx runs fn in a transaction and converts anything that is not already an
// AppError into INTERNAL_ERROR. The transaction is rolled back either way.
func (s *CallService) inTx(ctx context.Context, op string, fn func(tx repository.Store) error) error {
	err := s.store.WithinTx(ctx, fn)
	if err == nil || apperrors.IsAppError(err) {
		return err
	}
	log.Error().Err(err).Str("op", op).Msg("call transaction failed")
	return apperrors.Wrap(apperrors.ErrCodeInternal, "Call could not be updated", err)
}

func (s *CallService) Initiate(ctx context.Context, callerID, receiverID string, kind model.CallKind) (*model.CallView, error) {
	return s.initiate(ctx, callerID, receiverID, kind, "direct")
}

func (s *CallService) initiate(ctx context.Context, callerID, receiverID string, kind model.CallKind, mode string) (*model.CallView, error) {
	if receiverID == "" {
		return nil, apperrors.MissingRequired("receiverId")
	}
	if callerID == receiverID {
		return nil, apperrors.InvalidRequest("You cannot call yourself")
	}
	if _, ok := s.rates[kind]; !ok {
		return nil, apperrors.InvalidInput("callType", "must be AUDIO or VIDEO")
	}

	callID := uuid.Must(uuid.NewV7()).String()
	cred, err := s.issuer.Issue(media.ChannelName(callID), media.RolePublisher)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not issue media credential", err)
	}

	var call *model.CallSession
	var balanceTime string
	var repaired []string
	err = s.inTx(ctx, "initiate", func(tx repository.Store) error {
		repaired = repaired[:0]
		users, err := tx.Users().LockByIDs(ctx, callerID, receiverID)
		if err != nil {
			return fmt.Errorf("lock users: %w", err)
		}
		caller, receiver := users[callerID], users[receiverID]
		if caller == nil || receiver == nil {
			return apperrors.NotFound("User")
		}

		payer, earner, ok := roles(caller, receiver)
		if !ok {
			return apperrors.InvalidRequest("Calls must be between a caller and a receiver")
		}

		// Only the receiver's block stops the call, and it reads as plain unavailability.
		blocked, err := tx.Users().IsBlocked(ctx, receiverID, callerID)
		if err != nil {
			return fmt.Errorf("check block: %w", err)
		}
		if blocked || !receiver.Active {
			return apperrors.UserUnavailable()
		}

		if !receiver.Online {
			return apperrors.UserOffline()
		}

		busy, fixed, err := resolveBusy(ctx, tx, receiver)
		if err != nil {
			return err
		}
		if fixed {
			repaired = append(repaired, receiver.ID)
		}
		if busy {
			return apperrors.UserBusy()
		}
		callerBusy, fixed, err := resolveBusy(ctx, tx, caller)
		if err != nil {
			return err
		}
		if fixed {
			repaired = append(repaired, caller.ID)
		}
		if callerBusy {
			return apperrors.Conflict("You are already on another call")
		}

		if !receiver.KindEnabled(kind) {
			return apperrors.CallNotAvailable(string(kind))
		}

		rate := s.rateFor(earner, kind)
		now := s.now()
		if caller == earner {
			// An earner may ring a payer who recently marked themselves available,
			// whatever the payer's balance.
			if !payer.AvailableSince(now, config.PayerFreshnessWindow) {
				return apperrors.UserUnavailable()
			}
		} else if payer.CoinBalance < rate {
			return apperrors.InsufficientCoins(rate, payer.CoinBalance)
		}

		call, err = tx.Calls().Create(ctx, model.CreateCallParams{
			ID:          callID,
			CallerID:    callerID,
			ReceiverID:  receiverID,
			Kind:        kind,
			Rate:        rate,
			Credential:  cred.Token,
			ChannelName: cred.Channel,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("create call: %w", err)
		}

		balanceTime = util.FormatBalanceTime(util.BalanceTimeRemaining(payer.CoinBalance, rate, 0))
		return s.notifier.Enqueue(ctx, tx, receiver, model.NotificationPayload{
			Type:        model.EventIncomingCall,
			CallID:      call.ID,
			CallType:    kind,
			CallerID:    caller.ID,
			CallerName:  caller.Name,
			Token:       call.Credential,
			ChannelName: call.ChannelName,
			BalanceTime: balanceTime,
		})
	})
	if err != nil {
		return nil, err
	}
	reportBusyRepairs(ctx, repaired)
	s.notifier.Kick()

	metrics.CallsInitiated.WithLabelValues(string(kind), mode).Inc()
	log.Info().
		Str("callId", call.ID).
		Str("callerId", callerID).
		Str("receiverId", receiverID).
		Str("callType", string(kind)).
		Str("mode", mode).
		Int64("rate", call.Rate).
		Msg("call initiated")

	view := model.NewCallView(call)
	view.BalanceTime = balanceTime
	return &view, nil
}

// InitiateRandom lets a payer ring an earner chosen by the matching engine.
func (s *CallService) InitiateRandom(ctx context.Context, callerID string, kind model.CallKind) (*model.CallView, error) {
	if _, ok := s.rates[kind]; !ok {
		return nil, apperrors.InvalidInput("callType", "must be AUDIO or VIDEO")
	}

	caller, err := s.store.Users().FindByID(ctx, callerID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if caller == nil {
		return nil, apperrors.NotFound("User")
	}
	if !caller.Gender.IsPayer() {
		return nil, apperrors.InvalidRequest("Random calls are only available to callers")
	}

	match, err := s.matcher.FindReceiver(ctx, caller, kind)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Matching failed", err)
	}
	defer match.Release()

	view, err := s.initiate(ctx, callerID, match.ReceiverID, kind, "random")
	if err != nil {
		// The receiver passed revalidation moments ago; losing them now is
		// reported like an empty pool rather than as their individual state.
		if appErr, ok := apperrors.AsAppError(err); ok {
			switch appErr.Code {
			case apperrors.ErrCodeUserBusy, apperrors.ErrCodeUserOffline, apperrors.ErrCodeUserUnavailable, apperrors.ErrCodeCallNotAvailable:
				return nil, apperrors.NoOneAvailable()
			}
		}
		return nil, err
	}
	return view, nil
}

// loadForTransition locks the call and checks the actor. done is true when the
// call is already terminal and its stored state is the answer.
func loadForTransition(ctx context.Context, tx repository.Store, callID, actorID string, allowed func(*model.CallSession, string) bool) (call *model.CallSession, done bool, err error) {
	call, err = tx.Calls().LockByID(ctx, callID)
	if err != nil {
		return nil, false, fmt.Errorf("lock call: %w", err)
	}
	if call == nil {
		return nil, false, apperrors.NotFound("Call")
	}
	if !allowed(call, actorID) {
		return nil, false, apperrors.Forbidden("You cannot perform this action on this call")
	}
	return call, call.Status.IsTerminal(), nil
}

func isReceiver(c *model.CallSession, actorID string) bool { return c.ReceiverID == actorID }
func isCaller(c *model.CallSession, actorID string) bool { return c.CallerID == actorID }
func isParty(c *model.CallSession, actorID string) bool { return c.IsParty(actorID) }

func (s *CallService) Accept(ctx context.Context, callID, actorID string) (*model.CallView, error) {
	var call *model.CallSession
	var balanceTime string
	transitioned := false

	err := s.inTx(ctx, "accept", func(tx repository.Store) error {
		var done bool
		var err error
		call, done, err = loadForTransition(ctx, tx, callID, actorID, isReceiver)
		if err != nil || done {
			return err
		}
		// A repeated accept from the receiver is a no-op.
		if call.Status == model.CallStatusOngoing {
			return nil
		}

		users, err := tx.Users().LockByIDs(ctx, call.CallerID, call.ReceiverID)
		if err != nil {
			return fmt.Errorf("lock users: %w", err)
		}
		caller, receiver := users[call.CallerID], users[call.ReceiverID]
		if caller == nil || receiver == nil {
			return apperrors.NotFound("User")
		}

		for _, id := range []string{call.CallerID, call.ReceiverID} {
			other, err := tx.Calls().HasOngoing(ctx, id, call.ID)
			if err != nil {
				return fmt.Errorf("check ongoing calls: %w", err)
			}
			if other {
				return apperrors.UserBusy()
			}
		}

		now := s.now()
		call.Status = model.CallStatusOngoing
		call.AcceptedAt = &now
		call.StartedAt = &now
		if err := tx.Calls().Update(ctx, call); err != nil {
			return fmt.Errorf("update call: %w", err)
		}
		for _, id := range []string{call.CallerID, call.ReceiverID} {
			if err := tx.Users().SetBusy(ctx, id, true); err != nil {
				return fmt.Errorf("set busy: %w", err)
			}
		}
		transitioned = true

		if payer, _, ok := roles(caller, receiver); ok {
			balanceTime = util.FormatBalanceTime(util.BalanceTimeRemaining(payer.CoinBalance, call.Rate, 0))
		}
		return s.notifier.Enqueue(ctx, tx, caller, model.NotificationPayload{
			Type:        model.EventCallAccepted,
			CallID:      call.ID,
			CallType:    call.Kind,
			Token:       call.Credential,
			ChannelName: call.ChannelName,
			BalanceTime: balanceTime,
		})
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.notifier.Kick()
		metrics.CallTransitions.WithLabelValues(string(model.CallStatusOngoing)).Inc()
		log.Info().Str("callId", call.ID).Str("receiverId", actorID).Msg("call accepted")
	}

	view := model.NewCallView(call)
	view.BalanceTime = balanceTime
	return &view, nil
}

func (s *CallService) Reject(ctx context.Context, callID, actorID string) (*model.CallView, error) {
	return s.terminate(ctx, "reject", callID, actorID, isReceiver, func(tx repository.Store, call *model.CallSession) (*model.NotificationPayload, string, error) {
		// Rejecting after accept still closes a live call, so it is billed like End.
		if call.Status == model.CallStatusOngoing {
			if _, err := s.settleCall(ctx, tx, call); err != nil {
				return nil, "", err
			}
		}
		call.Status = model.CallStatusRejected
		return &model.NotificationPayload{Type: model.EventCallRejected}, call.CallerID, nil
	})
}

func (s *CallService) Cancel(ctx context.Context, callID, actorID, reason string) (*model.CallView, error) {
	return s.terminate(ctx, "cancel", callID, actorID, isCaller, func(tx repository.Store, call *model.CallSession) (*model.NotificationPayload, string, error) {
		if call.Status != model.CallStatusConnecting {
			return nil, "", apperrors.Forbidden("Call has already been answered")
		}
		call.Status = model.CallStatusCancelled
		if reason != "" {
			call.EndReason = &reason
		}
		return &model.NotificationPayload{Type: model.EventCallCancelled, Reason: reason}, call.ReceiverID, nil
	})
}

// End bills the call and closes it. Ending a call that is already terminal
// returns it unchanged, so client retries and simultaneous hang-ups never bill twice.
func (s *CallService) End(ctx context.Context, callID, actorID string, clientDuration *int64) (*model.CallView, error) {
	return s.terminate(ctx, "end", callID, actorID, isParty, func(tx repository.Store, call *model.CallSession) (*model.NotificationPayload, string, error) {
		charge, err := s.settleCall(ctx, tx, call)
		if err != nil {
			return nil, "", err
		}
		if clientDuration != nil {
			call.ClientDurationSeconds = clientDuration
			s.checkDuration(ctx, call, charge.DurationSeconds, *clientDuration)
		}

		call.Status = model.CallStatusEnded
		reason := "ended_by_caller"
		if actorID == call.ReceiverID {
			reason = "ended_by_receiver"
		}
		call.EndReason = &reason

		return &model.NotificationPayload{Type: model.EventCallEnded, Reason: reason}, call.Counterpart(actorID), nil
	})
}

// settleCall bills the time since accept and records duration and coins on
// the call. The caller holds the transaction the terminal update runs in.
func (s *CallService) settleCall(ctx context.Context, tx repository.Store, call *model.CallSession) (Charge, error) {
	users, err := tx.Users().LockByIDs(ctx, call.CallerID, call.ReceiverID)
	if err != nil {
		return Charge{}, fmt.Errorf("lock users: %w", err)
	}
	caller, receiver := users[call.CallerID], users[call.ReceiverID]
	if caller == nil || receiver == nil {
		return Charge{}, apperrors.NotFound("User")
	}
	payer, earner, ok := roles(caller, receiver)
	if !ok {
		return Charge{}, fmt.Errorf("call %s has no payer/earner pair", call.ID)
	}

	charge := ComputeCharge(call.AcceptedAt, s.now(), call.Rate)
	settlement, err := s.billing.Settle(ctx, tx, call.ID, payer.ID, earner.ID, charge.Coins, call.Kind)
	if err != nil {
		return Charge{}, err
	}

	call.DurationSeconds = charge.DurationSeconds
	call.CoinsCharged = settlement.Coins
	return charge, nil
}

func (s *CallService) checkDuration(ctx context.Context, call *model.CallSession, serverSeconds, clientSeconds int64) {
	diff := time.Duration(serverSeconds-clientSeconds) * time.Second
	if diff < 0 {
		diff = -diff
	}
	if diff <= config.DurationDiscrepancyThreshold {
		return
	}
	audit.Log(ctx, audit.Event{
		Type:   audit.EventDurationMismatch,
		CallID: call.ID,
		Details: map[string]interface{}{
			"serverSeconds": serverSeconds,
			"clientSeconds": clientSeconds,
		},
	})
}

type transitionFunc func(tx repository.Store, call *model.CallSession) (notify *model.NotificationPayload, recipientID string, err error)

// terminate runs a transition into a terminal state: the terminal guard, the
// state change, busy release for both parties and the counterpart notification.
func (s *CallService) terminate(ctx context.Context, op, callID, actorID string, allowed func(*model.CallSession, string) bool, apply transitionFunc) (*model.CallView, error) {
	var call *model.CallSession
	transitioned := false

	err := s.inTx(ctx, op, func(tx repository.Store) error {
		var done bool
		var err error
		call, done, err = loadForTransition(ctx, tx, callID, actorID, allowed)
		if err != nil || done {
			return err
		}

		payload, recipientID, err := apply(tx, call)
		if err != nil {
			return err
		}

		now := s.now()
		call.EndedAt = &now
		if err := tx.Calls().Update(ctx, call); err != nil {
			return fmt.Errorf("update call: %w", err)
		}
		if err := releaseBusy(ctx, tx, call.ID, call.CallerID, call.ReceiverID); err != nil {
			return err
		}
		transitioned = true

		recipient, err := tx.Users().FindByID(ctx, recipientID)
		if err != nil {
			return fmt.Errorf("load recipient: %w", err)
		}
		if recipient == nil {
			return nil
		}
		payload.CallID = call.ID
		payload.CallType = call.Kind
		return s.notifier.Enqueue(ctx, tx, recipient, *payload)
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.notifier.Kick()
		metrics.CallTransitions.WithLabelValues(string(call.Status)).Inc()
		log.Info().
			Str("callId", call.ID).
			Str("actorId", actorID).
			Str("status", string(call.Status)).
			Int64("duration", call.DurationSeconds).
			Int64("coinsCharged", call.CoinsCharged).
			Msgf("call %s", op)
	}

	view := model.NewCallView(call)
	return &view, nil
}

// Rate stores the caller's one-time rating and refreshes the receiver's average.
func (s *CallService) Rate(ctx context.Context, callID, actorID string, score int, feedback string) (*model.CallView, error) {
	if score < 1 || score > 5 {
		return nil, apperrors.InvalidInput("rating", "must be between 1 and 5")
	}

	var call *model.CallSession
	err := s.inTx(ctx, "rate", func(tx repository.Store) error {
		var err error
		call, err = tx.Calls().LockByID(ctx, callID)
		if err != nil {
			return fmt.Errorf("lock call: %w", err)
		}
		if call == nil {
			return apperrors.NotFound("Call")
		}
		if call.CallerID != actorID {
			return apperrors.Forbidden("Only the caller can rate this call")
		}
		if call.Status != model.CallStatusEnded {
			return apperrors.InvalidRequest("Only ended calls can be rated")
		}
		if call.Rating != nil {
			return apperrors.Conflict("Call has already been rated")
		}

		call.Rating = &score
		if feedback != "" {
			call.Feedback = &feedback
		}
		if err := tx.Calls().Update(ctx, call); err != nil {
			return fmt.Errorf("update call: %w", err)
		}

		avg, count, err := tx.Calls().AverageRating(ctx, call.ReceiverID)
		if err != nil {
			return fmt.Errorf("average rating: %w", err)
		}
		if err := tx.Users().UpdateRating(ctx, call.ReceiverID, avg, count); err != nil {
			return fmt.Errorf("update rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("callId", callID).Int("rating", score).Msg("call rated")
	view := model.NewCallView(call)
	return &view, nil
}

// Get returns the call as seen by one of its parties. For an ONGOING call the
// balance time is recomputed from the payer's balance and the time already used.
func (s *CallService) Get(ctx context.Context, callID, actorID string) (*model.CallView, error) {
	call, err := s.store.Calls().FindByID(ctx, callID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if call == nil {
		return nil, apperrors.NotFound("Call")
	}
	if !call.IsParty(actorID) {
		return nil, apperrors.Forbidden("You are not a party to this call")
	}

	view := model.NewCallView(call)
	if call.Status == model.CallStatusOngoing && call.AcceptedAt != nil {
		balanceTime, err := s.liveBalanceTime(ctx, call)
		if err != nil {
			return nil, err
		}
		view.BalanceTime = balanceTime
	}
	return &view, nil
}

func (s *CallService) liveBalanceTime(ctx context.Context, call *model.CallSession) (string, error) {
	caller, err := s.store.Users().FindByID(ctx, call.CallerID)
	if err != nil {
		return "", apperrors.Database(err)
	}
	receiver, err := s.store.Users().FindByID(ctx, call.ReceiverID)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if caller == nil || receiver == nil {
		return "", nil
	}
	payer, _, ok := roles(caller, receiver)
	if !ok {
		return "", nil
	}
	elapsed := s.now().Sub(*call.AcceptedAt)
	return util.FormatBalanceTime(util.BalanceTimeRemaining(payer.CoinBalance, call.Rate, elapsed)), nil
}

func (s *CallService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.CallView, error) {
	calls, err := s.store.Calls().ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	views := make([]model.CallView, len(calls))
	for i := range calls {
		views[i] = model.NewCallView(&calls[i])
	}
	return views, nil
}

// ExpireRinging moves calls that rang longer than ringTimeout to MISSED and
// tells both parties. Returns how many calls were expired.
func (s *CallService) ExpireRinging(ctx context.Context, ringTimeout time.Duration, limit int) (int, error) {
	ids, err := s.store.Calls().FindStaleConnecting(ctx, s.now().Add(-ringTimeout), limit)
	if err != nil {
		return 0, fmt.Errorf("find stale calls: %w", err)
	}

	expired := 0
	for _, id := range ids {
		missed, err := s.expire(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("callId", id).Msg("failed to expire ringing call")
			continue
		}
		if missed {
			expired++
		}
	}
	if expired > 0 {
		s.notifier.Kick()
	}
	return expired, nil
}

func (s *CallService) expire(ctx context.Context, callID string) (bool, error) {
	missed := false
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		call, err := tx.Calls().LockByID(ctx, callID)
		if err != nil {
			return fmt.Errorf("lock call: %w", err)
		}
		// Answered or closed since the scan.
		if call == nil || call.Status != model.CallStatusConnecting {
			return nil
		}

		now := s.now()
		reason := "timeout"
		call.Status = model.CallStatusMissed
		call.EndedAt = &now
		call.EndReason = &reason
		if err := tx.Calls().Update(ctx, call); err != nil {
			return fmt.Errorf("update call: %w", err)
		}

		for _, id := range []string{call.CallerID, call.ReceiverID} {
			user, err := tx.Users().FindByID(ctx, id)
			if err != nil {
				return fmt.Errorf("load party: %w", err)
			}
			if user == nil {
				continue
			}
			err = s.notifier.Enqueue(ctx, tx, user, model.NotificationPayload{
				Type:     model.EventCallMissed,
				CallID:   call.ID,
				CallType: call.Kind,
				CallerID: call.CallerID,
				Reason:   reason,
			})
			if err != nil {
				return err
			}
		}
		missed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if missed {
		metrics.CallTransitions.WithLabelValues(string(model.CallStatusMissed)).Inc()
		audit.Log(ctx, audit.Event{Type: audit.EventCallMissed, CallID: callID})
	}
	return missed, nil
}
