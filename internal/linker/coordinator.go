// Package linker orchestrates wallet linking: deriving the proxy address,
// provisioning it through the venue linking API, and caching the resulting
// session.
package linker

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/chain"
	"github.com/GoPolymarket/proxy-trader/internal/errclass"
	"github.com/GoPolymarket/proxy-trader/internal/proxyaddr"
	"github.com/GoPolymarket/proxy-trader/internal/session"
	"github.com/GoPolymarket/proxy-trader/internal/stage"
	"github.com/GoPolymarket/proxy-trader/internal/venue"
	"github.com/GoPolymarket/proxy-trader/internal/wallet"
)

// Coordinator drives one link attempt at a time through the stage machine.
type Coordinator struct {
	linkAPI    venue.LinkAPI
	sessions   *session.Manager
	machine    *stage.Machine
	classifier *errclass.Classifier
	provider   chain.Provider // optional; enables deployment verification
	log        *zap.Logger
}

// New creates a link coordinator. provider may be nil when no RPC endpoint is
// wired; deployment is then taken from the venue response alone.
func New(
	linkAPI venue.LinkAPI,
	sessions *session.Manager,
	machine *stage.Machine,
	classifier *errclass.Classifier,
	provider chain.Provider,
	log *zap.Logger,
) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		linkAPI:    linkAPI,
		sessions:   sessions,
		machine:    machine,
		classifier: classifier,
		provider:   provider,
		log:        log,
	}
}

// Link provisions a proxy trading identity for the owner and saves the
// session.
//
// Precondition (caller contract): the caller checked the session store and
// found no live session for this owner. Link does not deduplicate; calling it
// with a live session mints fresh credentials and overwrites the cache.
func (c *Coordinator) Link(ctx context.Context, owner string, signer wallet.Signer) (*session.LinkSession, error) {
	if err := c.machine.Begin(stage.LinkingWallet, "Linking wallet..."); err != nil {
		return nil, err
	}

	sess, err := c.link(ctx, owner, signer)
	if err != nil {
		kind := c.classifier.Handle(owner, err)
		c.machine.Fail(errclass.UserMessage(kind, err))
		return nil, errclass.Wrap(kind, err)
	}

	c.machine.Complete("Wallet linked")
	return sess, nil
}

func (c *Coordinator) link(ctx context.Context, owner string, signer wallet.Signer) (*session.LinkSession, error) {
	proxy, err := proxyaddr.DeriveHex(owner)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("linker: no signer for %s", owner)
	}
	if signer.Address() != common.HexToAddress(owner) {
		return nil, fmt.Errorf("linker: signer %s does not control %s", signer.Address().Hex(), owner)
	}
	c.log.Info("linking wallet",
		zap.String("owner", owner),
		zap.String("proxy", proxy),
	)

	res, err := c.linkAPI.LinkUser(ctx, venue.LinkRequest{
		Owner:             owner,
		ProxyType:         venue.ProxyTypeSafe,
		AutoDeploy:        true,
		AutoSetAllowances: true,
	})
	if err != nil {
		return nil, fmt.Errorf("link user: %w", err)
	}
	if res.ProxyAddress != "" {
		proxy = res.ProxyAddress
	}

	deployed := res.Deployed
	if !deployed && c.provider != nil {
		_ = c.machine.Advance(stage.DeployingProxy, "Verifying proxy deployment...")
		code, codeErr := c.provider.CodeAt(ctx, common.HexToAddress(proxy))
		if codeErr != nil {
			// Deployment check is best-effort; the flag flips to true on a
			// later load once code is observed.
			c.log.Warn("deployment check failed", zap.String("proxy", proxy), zap.Error(codeErr))
		} else {
			deployed = len(code) > 0
		}
	}

	if res.AllowancesSet {
		_ = c.machine.Advance(stage.SettingAllowances, "Setting allowances...")
	}

	sess := &session.LinkSession{
		Owner:         owner,
		ProxyAddress:  proxy,
		Credentials:   res.Credentials,
		IsDeployed:    deployed,
		HasAllowances: res.AllowancesSet,
		CreatedAt:     time.Now(),
	}
	if err := c.sessions.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}
