package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

var ChangePasswordTimeout = 60 * time.Second

// ChangePassword re-encrypts the main wallet and every open escrow wallet
// under the new passphrase through a bounded worker pool. Failures are
// caught per wallet so one failure does not abort the batch; the aggregate
// reports the wallets that could not be rotated.
func (s *Service) ChangePassword(ctx context.Context, newPassword string) error {
	s.mtx.Lock()
	oldPassword := s.password
	clients := make(map[string]ports.WalletClient, len(s.escrow)+1)
	for tradeId, client := range s.escrow {
		clients[EscrowWalletName(tradeId)] = client
	}
	if s.main != nil {
		clients[MainWalletName] = s.main
	}
	s.mtx.Unlock()

	if len(clients) == 0 {
		s.mtx.Lock()
		s.password = newPassword
		s.mtx.Unlock()
		return nil
	}

	var (
		failedMtx sync.Mutex
		failed    []string
	)
	g := &errgroup.Group{}
	g.SetLimit(poolSize(len(clients)))
	for name, client := range clients {
		name, client := name, client
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(ctx, ChangePasswordTimeout)
			defer cancel()
			if err := client.ChangePassword(taskCtx, oldPassword, newPassword); err != nil {
				log.WithError(err).Warnf("failed to change password of wallet %s", name)
				failedMtx.Lock()
				failed = append(failed, name)
				failedMtx.Unlock()
				return nil
			}
			if err := client.Save(taskCtx); err != nil {
				log.WithError(err).Warnf("failed to save wallet %s after password change", name)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ChangePasswordTimeout):
		return fmt.Errorf("password change timed out after %s", ChangePasswordTimeout)
	}

	if len(failed) > 0 {
		return fmt.Errorf(
			"password change failed for %d of %d wallets: %s",
			len(failed), len(clients), strings.Join(failed, ", "),
		)
	}

	s.mtx.Lock()
	s.password = newPassword
	s.mtx.Unlock()
	return nil
}
