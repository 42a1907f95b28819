package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/server/models"
	"github.com/dmitrijs2005/facegate/internal/server/services"
)

const verificationMethod = "facial-biometric"

func (s *HTTPServer) signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "malformed request body")
	}

	user, err := s.users.Signup(c.Request().Context(), req.Email, req.Password, req.Name)
	if err != nil {
		return s.writeError(c, err)
	}

	s.logger.Info(c.Request().Context(), "user signed up", "user_id", user.ID)
	return ok(c, http.StatusCreated, summarize(user), "account created")
}

func (s *HTTPServer) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "malformed request body")
	}

	session, user, err := s.users.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return s.writeError(c, err)
	}

	return ok(c, http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      summarize(user),
	}, "")
}

func (s *HTTPServer) requestChallenge(c echo.Context) error {
	var req challengeRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "malformed request body")
	}
	if req.Email == "" {
		return fail(c, http.StatusBadRequest, "email is required")
	}

	grant, err := s.biometric.RequestChallenge(c.Request().Context(), services.ChallengeRequest{
		Email:     req.Email,
		Operation: models.Operation(req.Operation),
		Client:    clientInfo(c),
	})
	if err != nil {
		return s.writeError(c, err)
	}

	return ok(c, http.StatusOK, challengeResponse{
		ChallengeToken: grant.Token,
		ExpiresIn:      int(grant.ExpiresIn.Seconds()),
		Operation:      string(grant.Operation),
	}, "challenge issued, please capture your face")
}

func (s *HTTPServer) verify(c echo.Context) error {
	img, err := readImage(c)
	if err != nil {
		return s.writeError(c, err)
	}
	token := c.FormValue("challengeToken")
	email := c.FormValue("email")
	if token == "" || email == "" {
		return fail(c, http.StatusBadRequest, "challengeToken and email are required")
	}

	res, err := s.biometric.Verify(c.Request().Context(), services.VerifyRequest{
		Token:  token,
		Email:  email,
		Image:  img,
		Client: clientInfo(c),
	})
	common.WipeByteArray(img.Data)

	if errors.Is(err, common.ErrAccountLocked) && res != nil && res.LockedUntil != nil {
		minutes := int(math.Ceil(float64(res.RemainingLockSeconds) / 60))
		return c.JSON(http.StatusLocked, lockedResponse{
			Success:          false,
			Message:          fmt.Sprintf("too many failed attempts, locked for %d minute(s)", minutes),
			LockedUntil:      *res.LockedUntil,
			RemainingSeconds: res.RemainingLockSeconds,
			FailedAttempts:   res.FailedAttempts,
		})
	}
	if errors.Is(err, common.ErrVerificationFailed) && res != nil && res.FailedAttempts > 0 {
		_, msg := errorStatus(err)
		return c.JSON(http.StatusUnauthorized, rejectedResponse{
			Success:          false,
			Message:          msg,
			FailedAttempts:   res.FailedAttempts,
			LockedUntil:      res.LockedUntil,
			RemainingSeconds: res.RemainingLockSeconds,
		})
	}
	if err != nil {
		return s.writeError(c, err)
	}

	return ok(c, http.StatusOK, verifyResponse{
		Token:     res.Session.Token,
		ExpiresAt: res.Session.ExpiresAt,
		User:      summarize(res.User),
		Verification: verificationSummary{
			Confidence: res.Confidence,
			Method:     verificationMethod,
		},
	}, "biometric authentication succeeded")
}

func (s *HTTPServer) registerTemplate(c echo.Context) error {
	img, err := readImage(c)
	if err != nil {
		return s.writeError(c, err)
	}

	res, err := s.biometric.RegisterTemplate(c.Request().Context(), services.RegisterRequest{
		UserID: currentUser(c).ID,
		Image:  img,
		Client: clientInfo(c),
	})
	common.WipeByteArray(img.Data)
	if err != nil {
		return s.duplicateOrError(c, err)
	}

	status := http.StatusCreated
	if res.Updated {
		status = http.StatusOK
	}
	return ok(c, status, registerResponse{
		Registered:           true,
		Updated:              res.Updated,
		QualityScore:         res.Template.QualityScore,
		LivenessScore:        res.Template.LivenessScore,
		DuplicateScanSkipped: res.DuplicateScanSkipped,
	}, "facial biometric registered")
}

func (s *HTTPServer) validateFace(c echo.Context) error {
	img, err := readImage(c)
	if err != nil {
		return s.writeError(c, err)
	}

	res, err := s.biometric.ValidateFaceUniqueness(c.Request().Context(), services.ValidateRequest{
		Image:  img,
		Client: clientInfo(c),
	})
	common.WipeByteArray(img.Data)
	if err != nil {
		return s.duplicateOrError(c, err)
	}

	return ok(c, http.StatusOK, validateResponse{
		Valid: true,
		Metrics: faceMetrics{
			QualityScore:  res.QualityScore,
			LivenessScore: res.LivenessScore,
			Confidence:    res.Confidence,
		},
	}, "face validated")
}

func (s *HTTPServer) duplicateOrError(c echo.Context, err error) error {
	var dup *services.DuplicateError
	if !errors.As(err, &dup) {
		return s.writeError(c, err)
	}

	owner := dup.Match.OwnerEmail
	if owner == "" {
		owner = dup.Match.OwnerID
	}
	_, msg := errorStatus(err)
	return c.JSON(http.StatusConflict, duplicateResponse{
		Success:         false,
		Message:         msg,
		IsDuplicate:     true,
		SimilarityScore: math.Round(dup.Match.Similarity*1000) / 10,
		Owner:           owner,
	})
}

func (s *HTTPServer) status(c echo.Context) error {
	st, err := s.biometric.Status(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return s.writeError(c, err)
	}

	return ok(c, http.StatusOK, statusResponse{
		Registered:     st.Registered,
		IsActive:       st.IsActive,
		QualityScore:   st.QualityScore,
		RegisteredAt:   st.RegisteredAt,
		LastUpdated:    st.LastUpdated,
		FailedAttempts: st.FailedAttempts,
		LockedUntil:    st.LockedUntil,
	}, "")
}

func (s *HTTPServer) stats(c echo.Context) error {
	days := 30
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 365 {
			return fail(c, http.StatusBadRequest, "days must be between 1 and 365")
		}
		days = n
	}

	stats, err := s.biometric.Stats(c.Request().Context(), currentUser(c).ID, days)
	if err != nil {
		return s.writeError(c, err)
	}
	if stats == nil {
		stats = []models.AuditStat{}
	}
	return ok(c, http.StatusOK, stats, "")
}

func (s *HTTPServer) deactivate(c echo.Context) error {
	userID := c.Param("userId")
	if err := s.biometric.Deactivate(c.Request().Context(), userID, clientInfo(c)); err != nil {
		return s.writeError(c, err)
	}

	s.logger.Info(c.Request().Context(), "template deactivated",
		"user_id", userID, "by", currentUser(c).ID)
	return c.NoContent(http.StatusNoContent)
}
