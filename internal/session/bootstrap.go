package session

import (
	"context"

	"go.uber.org/zap"
)

// Bootstrap fills in the user id from the token claims when a token is
// present but the user id is not, e.g. after opening a shared link.
// The region claim, if any, is adopted and persisted. It reports whether
// the session changed; an undecodable token leaves everything as is.
func (s *Store) Bootstrap(ctx context.Context) bool {
	s.mu.Lock()
	if s.sess.Token == "" || s.sess.UserID != "" {
		s.mu.Unlock()
		return false
	}
	claims := DecodeClaims(s.sess.Token)
	if claims == nil || claims.Subject == "" {
		s.mu.Unlock()
		s.log.Debug("token carries no usable claims")
		return false
	}
	s.sess.UserID = claims.Subject
	if claims.RegionID != "" {
		s.sess.RegionID = claims.RegionID
	}
	epoch := s.epoch
	s.mu.Unlock()

	s.log.Info("session bootstrapped from token",
		zap.String("user_id", claims.Subject),
		zap.String("region_id", claims.RegionID),
	)
	if claims.RegionID != "" {
		if err := s.persistRegion(ctx, epoch, claims.RegionID); err != nil {
			s.log.Warn("persist region failed", zap.Error(err))
		}
	}
	return true
}
