package signer

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"venuepass/internal/proximity/models"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
)

const testKey = "test-signing-key-0123456789"

type SignerSuite struct {
	suite.Suite
	signer *Signer
	now    time.Time
	token  *models.ProximityToken
}

func TestSignerSuite(t *testing.T) {
	suite.Run(t, new(SignerSuite))
}

func (s *SignerSuite) SetupTest() {
	var err error
	s.signer, err = New(testKey, "venuepass-qr", "venuepass-app", "HS256")
	s.Require().NoError(err)
	s.now = time.Date(2026, 5, 10, 18, 30, 0, 0, time.UTC)
	s.token, err = models.NewCheckinToken(id.TokenID(uuid.New()), id.VenueID(uuid.New()), id.UserID(uuid.New()), 120*time.Second, 1, s.now)
	s.Require().NoError(err)
}

func (s *SignerSuite) TestRoundTrip() {
	opaque, err := s.signer.Issue(s.token)
	s.Require().NoError(err)

	v, err := s.signer.Verify(opaque, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(s.token.ID, v.TokenID)
	s.Equal(s.token.VenueID, v.VenueID)
	s.Equal(models.ScopeCheckin, v.Scope)
	s.Equal(s.token.ValidUntil.Unix(), v.ExpiresAt.Unix())
}

func (s *SignerSuite) TestPayloadClaims() {
	opaque, err := s.signer.Issue(s.token)
	s.Require().NoError(err)

	var claims Claims
	_, _, err = jwt.NewParser().ParseUnverified(opaque, &claims)
	s.Require().NoError(err)
	s.Equal("venuepass-qr", claims.Issuer)
	s.Equal(jwt.ClaimStrings{"venuepass-app"}, claims.Audience)
	s.Equal(TokenType, claims.Type)
	s.Equal("checkin", claims.Scope)
	s.Equal("venue:"+s.token.VenueID.String(), claims.Subject)
	s.Equal(s.token.VenueID.String(), claims.VenueID)
	s.Equal(s.token.ID.String(), claims.ID)
}

func (s *SignerSuite) TestVerifyFailures() {
	opaque, err := s.signer.Issue(s.token)
	s.Require().NoError(err)

	s.Run("expired maps to token expired", func() {
		_, err := s.signer.Verify(opaque, s.now.Add(3*time.Minute))
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	s.Run("garbage is invalid", func() {
		_, err := s.signer.Verify("not-a-token", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("tampered signature is invalid", func() {
		_, err := s.signer.Verify(opaque+"x", s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("wrong key is invalid", func() {
		other, err := New("another-signing-key-987654321", "venuepass-qr", "venuepass-app", "HS256")
		s.Require().NoError(err)
		_, err = other.Verify(opaque, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("wrong audience is invalid", func() {
		other, err := New(testKey, "venuepass-qr", "someone-else", "HS256")
		s.Require().NoError(err)
		_, err = other.Verify(opaque, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("algorithm mismatch is invalid", func() {
		other, err := New(testKey, "venuepass-qr", "venuepass-app", "HS512")
		s.Require().NoError(err)
		_, err = other.Verify(opaque, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})
}

func TestNew_RejectsUnsupportedAlgorithm(t *testing.T) {
	_, err := New(testKey, "iss", "aud", "RS256")
	require.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
