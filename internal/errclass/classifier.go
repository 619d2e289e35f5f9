// Package errclass maps raw failures from the signer, the simulator, and the
// venue into a closed taxonomy and decides between local recovery and session
// invalidation.
package errclass

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/chain"
	"github.com/GoPolymarket/proxy-trader/internal/wallet"
)

// Kind is the closed failure taxonomy.
type Kind string

const (
	KindUnknown           Kind = "Unknown"
	KindUserRejected      Kind = "UserRejected"
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindRoutingFailed     Kind = "RoutingFailed"
	KindLowLiquidity      Kind = "LowLiquidity"
	KindOrderTooSmall     Kind = "OrderTooSmall"
	KindSimulationFailed  Kind = "SimulationFailed"
	KindUnauthorized      Kind = "Unauthorized"
	KindSessionExpired    Kind = "SessionExpired"
	KindNetworkTimeout    Kind = "NetworkTimeout"
)

// Classified wraps a raw error with its kind.
type Classified struct {
	Kind Kind
	Err  error
}

func (c *Classified) Error() string {
	if c.Err == nil {
		return string(c.Kind)
	}
	return string(c.Kind) + ": " + c.Err.Error()
}

func (c *Classified) Unwrap() error { return c.Err }

// Wrap attaches a kind to an error.
func Wrap(kind Kind, err error) *Classified {
	return &Classified{Kind: kind, Err: err}
}

// The venue and simulator only expose free-text errors today, so kinds are
// inferred from a narrow substring table. Provider strings like "15020" and
// "SkippedLeg" can change silently between API versions; this table is the
// single place to update when they do.
var substringKinds = []struct {
	needle string
	kind   Kind
}{
	{"user rejected", KindUserRejected},
	{"user denied", KindUserRejected},
	{"request rejected", KindUserRejected},
	{"action_rejected", KindUserRejected},
	{"insufficient funds", KindInsufficientFunds},
	{"insufficient balance", KindInsufficientFunds},
	{"transfer amount exceeds balance", KindInsufficientFunds},
	{"skippedleg", KindRoutingFailed},
	{"no route", KindRoutingFailed},
	{"15020", KindLowLiquidity},
	{"not enough liquidity", KindLowLiquidity},
	{"unauthorized", KindUnauthorized},
	{"invalid api key", KindUnauthorized},
	{"api key not found", KindUnauthorized},
	{"invalid credentials", KindUnauthorized},
	{"401", KindUnauthorized},
	{"session expired", KindSessionExpired},
	{"token expired", KindSessionExpired},
}

// SessionClearer is the slice of the session store the classifier may touch.
// Invalidation on authorization failures is the one session write permitted
// outside the link coordinator.
type SessionClearer interface {
	Clear(owner string) error
}

// Classifier classifies raw errors and invalidates sessions on authorization
// failures.
type Classifier struct {
	sessions SessionClearer
	log      *zap.Logger
}

// NewClassifier creates a Classifier. sessions may be nil when no store is
// wired (classification still works; invalidation becomes a no-op).
func NewClassifier(sessions SessionClearer, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{sessions: sessions, log: log}
}

// Classify maps a raw error to its kind without side effects.
func (c *Classifier) Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var classified *Classified
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, wallet.ErrSignerRejected) {
		return KindUserRejected
	}
	if errors.Is(err, chain.ErrConfirmationTimeout) {
		return KindNetworkTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range substringKinds {
		if strings.Contains(msg, entry.needle) {
			return entry.kind
		}
	}
	return KindUnknown
}

// Handle classifies the error and, for Unauthorized/SessionExpired, clears
// the owner's session so the next attempt forces a re-link.
func (c *Classifier) Handle(owner string, err error) Kind {
	kind := c.Classify(err)
	if (kind == KindUnauthorized || kind == KindSessionExpired) && c.sessions != nil && owner != "" {
		if clearErr := c.sessions.Clear(owner); clearErr != nil {
			c.log.Warn("session invalidation failed",
				zap.String("owner", owner),
				zap.Error(clearErr),
			)
		} else {
			c.log.Info("session invalidated after authorization failure",
				zap.String("owner", owner),
				zap.String("kind", string(kind)),
			)
		}
	}
	return kind
}

// maxVerbatimLen bounds how much raw error text is shown to the user before
// the message is genericized.
const maxVerbatimLen = 140

// UserMessage renders a kind (and its raw cause) as the human-readable text
// the notification sink shows.
func UserMessage(kind Kind, err error) string {
	switch kind {
	case KindUserRejected:
		return "Signature request was declined."
	case KindInsufficientFunds:
		return "Insufficient balance for this trade."
	case KindRoutingFailed, KindLowLiquidity:
		return "The venue could not fill this size. Try a smaller amount."
	case KindOrderTooSmall:
		return "Order is below the venue minimum size."
	case KindSimulationFailed:
		if err != nil {
			return "Pre-flight simulation failed: " + err.Error()
		}
		return "Pre-flight simulation failed."
	case KindUnauthorized, KindSessionExpired:
		return "Trading session is no longer valid. Please relink your wallet."
	case KindNetworkTimeout:
		return "Confirmation timed out. The order may still complete; verify on-chain before retrying."
	default:
		if err != nil {
			msg := err.Error()
			if len(msg) > 0 && len(msg) <= maxVerbatimLen {
				return "Trade failed: " + msg
			}
		}
		return "Trade failed. Please try again."
	}
}
