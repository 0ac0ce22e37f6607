package license

import "context"

const (
	MessageTrialExpired   = "Your trial period has expired. Please activate a license to continue using the application."
	MessageLicenseExpired = "Your license has expired. Please renew your license to continue."
	MessageSuspended      = "Your license has been suspended. Please contact support."
	MessageRevoked        = "Your license has been revoked. Please contact support."
	MessageGeneric        = "A valid license is required to use this application."
)

// ShouldRestrictApplication reports whether requester must be blocked. A
// requester with independent access is never restricted; otherwise a
// missing or invalid current license restricts.
func (s *Service) ShouldRestrictApplication(ctx context.Context, requester *User) (bool, error) {
	if requester.HasValidAccess() {
		return false, nil
	}

	l, err := s.current(ctx)
	if err != nil {
		return false, err
	}
	return l == nil || !l.IsValid(s.clock()), nil
}

// GetRestrictionMessage explains a restriction. The precedence is trial
// expired, license expired, suspended, revoked, then generic. It returns ""
// when nothing is restricted.
func (s *Service) GetRestrictionMessage(ctx context.Context, requester *User) (string, error) {
	restricted, err := s.ShouldRestrictApplication(ctx, requester)
	if err != nil || !restricted {
		return "", err
	}

	if requester.IsTrialExpired() {
		return MessageTrialExpired, nil
	}

	l, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	if l == nil {
		return MessageGeneric, nil
	}

	switch {
	case Classify(l, s.clock()) != Valid:
		return MessageLicenseExpired, nil
	case l.Status == StatusSuspended:
		return MessageSuspended, nil
	case l.Status == StatusRevoked:
		return MessageRevoked, nil
	}
	return MessageGeneric, nil
}
