package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"ambassadorbonus/internal/domain"
	"ambassadorbonus/internal/models"
	"ambassadorbonus/internal/repository"
)

// Reasons an attachment or capture was skipped.
const (
	ReasonIneligible      = "ineligible_ambassador"
	ReasonSelfReferral    = "self_referral"
	ReasonAlreadyAttached = "already_attached"
	ReasonWindowExpired   = "conversion_window_expired"
	ReasonFraudIPMatch    = "fraud_ip_match"
	ReasonNoCapture       = "no_capture"
	ReasonUnknownCode     = "unknown_code"
	ReasonUnknownMethod   = "unknown_method"
	ReasonAlreadyCaptured = "already_captured"
)

// AttachRequest is one attempt to credit a customer to an ambassador.
type AttachRequest struct {
	CustomerID  uint
	CandidateID uint
	Method      string // domain.MethodLink | domain.MethodCoupon
	OrderID     string
	// CapturedAt is the first-touch time; required for link attachment.
	CapturedAt *time.Time
}

type AttachResult struct {
	Success       bool   `json:"success"`
	AttributionID uint   `json:"attribution_id,omitempty"`
	Renewed       bool   `json:"renewed,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type CaptureResult struct {
	Captured     bool   `json:"captured"`
	AmbassadorID uint   `json:"ambassador_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// AttachmentService resolves and durably records which ambassador a customer
// is attributed to.
type AttachmentService struct {
	users        *repository.UserRepository
	referrals    *repository.ReferralRepository
	attributions *repository.AttributionRepository
	audit        *repository.AuditLogRepository
	settings     SettingsProvider
	eligibility  EligibilityChecker
	now          func() time.Time
	metrics      *EngineMetrics
}

func NewAttachmentService(
	users *repository.UserRepository,
	referrals *repository.ReferralRepository,
	attributions *repository.AttributionRepository,
	audit *repository.AuditLogRepository,
	settings SettingsProvider,
	eligibility EligibilityChecker,
) *AttachmentService {
	return &AttachmentService{
		users:        users,
		referrals:    referrals,
		attributions: attributions,
		audit:        audit,
		settings:     settings,
		eligibility:  eligibility,
		now:          time.Now,
	}
}

func (s *AttachmentService) WithMetrics(m *EngineMetrics) *AttachmentService {
	s.metrics = m
	return s
}

// WithClock replaces the time source.
func (s *AttachmentService) WithClock(now func() time.Time) *AttachmentService {
	s.now = now
	return s
}

// ResolveAndAttach applies the attachment rules in order and writes the
// attribution when all of them pass. Rule failures are reported through the
// result, never as errors.
func (s *AttachmentService) ResolveAndAttach(ctx context.Context, req AttachRequest) (AttachResult, error) {
	snap := s.settings.Snapshot(ctx)
	now := s.now()

	if req.Method != domain.MethodLink && req.Method != domain.MethodCoupon {
		return s.skip(req, ReasonUnknownMethod), nil
	}
	if req.CandidateID == 0 || !s.eligibility.IsEligibleAmbassador(ctx, req.CandidateID) {
		return s.skip(req, ReasonIneligible), nil
	}
	if req.CandidateID == req.CustomerID {
		return s.skip(req, ReasonSelfReferral), nil
	}

	existing, err := s.attributions.GetByCustomer(ctx, req.CustomerID)
	switch {
	case err == nil && existing.ActiveAt(now):
		return s.skip(req, ReasonAlreadyAttached), nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return AttachResult{}, fmt.Errorf("load attribution: %w", err)
	}

	if req.Method == domain.MethodLink {
		if req.CapturedAt == nil {
			return s.skip(req, ReasonNoCapture), nil
		}
		if snap.ConversionWindow > 0 && now.Sub(*req.CapturedAt) > snap.ConversionWindow {
			if err := s.referrals.DeleteVisit(ctx, req.CustomerID); err != nil {
				log.Printf("[attach] discard expired capture customer=%d: %v", req.CustomerID, err)
			}
			return s.skip(req, ReasonWindowExpired), nil
		}
	}

	if snap.FraudIPCheck {
		match, err := s.networkOriginMatches(ctx, req.CustomerID, req.CandidateID)
		if err != nil {
			return AttachResult{}, err
		}
		if match {
			return s.skip(req, ReasonFraudIPMatch), nil
		}
	}

	a := &models.Attribution{
		CustomerID:   req.CustomerID,
		AmbassadorID: req.CandidateID,
		Method:       req.Method,
		OrderID:      req.OrderID,
		AttachedAt:   now,
		ExpiresAt:    now.Add(snap.AttachmentWindow),
	}
	outcome, err := s.attributions.Attach(ctx, a)
	if err != nil {
		return AttachResult{}, fmt.Errorf("attach: %w", err)
	}
	if outcome == repository.AttachNone {
		// Lost the race to a concurrent attach.
		return s.skip(req, ReasonAlreadyAttached), nil
	}

	if req.OrderID != "" {
		err := s.attributions.StampOrder(ctx, &models.OrderAttribution{
			OrderID:      req.OrderID,
			AmbassadorID: req.CandidateID,
			Method:       req.Method,
		})
		if err != nil {
			log.Printf("[attach] stamp order %s: %v", req.OrderID, err)
		}
	}

	if linked, err := s.users.SetParentAmbassadorIfUnset(ctx, req.CustomerID, req.CandidateID); err != nil {
		log.Printf("[attach] link parent customer=%d ambassador=%d: %v", req.CustomerID, req.CandidateID, err)
	} else if linked {
		log.Printf("[attach] customer=%d now counts toward ambassador=%d", req.CustomerID, req.CandidateID)
	}

	action := domain.AuditAttributionCreated
	if outcome == repository.AttachRenewed {
		action = domain.AuditAttributionRenewed
	}
	s.appendAudit(ctx, req.CustomerID, action, map[string]interface{}{
		"ambassador_id": req.CandidateID,
		"method":        req.Method,
		"order_id":      req.OrderID,
		"expires_at":    a.ExpiresAt,
	})
	s.metrics.Attachment(req.Method, "attached")
	log.Printf("[attach] customer=%d ambassador=%d method=%s order=%s", req.CustomerID, req.CandidateID, req.Method, req.OrderID)
	return AttachResult{Success: true, AttributionID: a.ID, Renewed: outcome == repository.AttachRenewed}, nil
}

// AttachFromCapture attempts link attachment from the customer's first-touch capture.
func (s *AttachmentService) AttachFromCapture(ctx context.Context, customerID uint, orderID string) (AttachResult, error) {
	v, err := s.referrals.GetVisit(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return AttachResult{Reason: ReasonNoCapture}, nil
	}
	if err != nil {
		return AttachResult{}, fmt.Errorf("load capture: %w", err)
	}
	captured := v.CapturedAt
	return s.ResolveAndAttach(ctx, AttachRequest{
		CustomerID:  customerID,
		CandidateID: v.AmbassadorID,
		Method:      domain.MethodLink,
		OrderID:     orderID,
		CapturedAt:  &captured,
	})
}

// AttachFromCoupon attempts coupon attachment when code is an ambassador's referral code.
func (s *AttachmentService) AttachFromCoupon(ctx context.Context, customerID uint, code, orderID string) (AttachResult, error) {
	if code == "" {
		return AttachResult{Reason: ReasonUnknownCode}, nil
	}
	rc, err := s.referrals.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return AttachResult{Reason: ReasonUnknownCode}, nil
	}
	if err != nil {
		return AttachResult{}, fmt.Errorf("lookup coupon code: %w", err)
	}
	return s.ResolveAndAttach(ctx, AttachRequest{
		CustomerID:  customerID,
		CandidateID: rc.UserID,
		Method:      domain.MethodCoupon,
		OrderID:     orderID,
	})
}

// CaptureVisit records first-touch referral data for a customer. The first
// capture wins until it falls outside the conversion window.
func (s *AttachmentService) CaptureVisit(ctx context.Context, customerID uint, code, ip string) (CaptureResult, error) {
	rc, err := s.referrals.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return CaptureResult{Reason: ReasonUnknownCode}, nil
	}
	if err != nil {
		return CaptureResult{}, fmt.Errorf("lookup referral code: %w", err)
	}
	if rc.UserID == customerID {
		return CaptureResult{Reason: ReasonSelfReferral}, nil
	}
	snap := s.settings.Snapshot(ctx)
	now := s.now()
	var staleBefore time.Time
	if snap.ConversionWindow > 0 {
		staleBefore = now.Add(-snap.ConversionWindow)
	}
	stored, err := s.referrals.CaptureVisit(ctx, &models.ReferralVisit{
		CustomerID:   customerID,
		AmbassadorID: rc.UserID,
		Code:         rc.Code,
		IP:           ip,
		CapturedAt:   now,
	}, staleBefore)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("capture visit: %w", err)
	}
	if !stored {
		return CaptureResult{Reason: ReasonAlreadyCaptured}, nil
	}
	s.appendAudit(ctx, customerID, domain.AuditVisitCaptured, map[string]interface{}{
		"ambassador_id": rc.UserID,
		"code":          rc.Code,
	})
	return CaptureResult{Captured: true, AmbassadorID: rc.UserID}, nil
}

// networkOriginMatches compares the customer's registration IP with the
// ambassador's last order IP. Missing users or IPs never match.
func (s *AttachmentService) networkOriginMatches(ctx context.Context, customerID, ambassadorID uint) (bool, error) {
	customer, err := s.users.GetByID(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load customer: %w", err)
	}
	ambassador, err := s.users.GetByID(ctx, ambassadorID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load ambassador: %w", err)
	}
	if customer.RegistrationIP == "" || ambassador.LastOrderIP == "" {
		return false, nil
	}
	return customer.RegistrationIP == ambassador.LastOrderIP, nil
}

func (s *AttachmentService) skip(req AttachRequest, reason string) AttachResult {
	s.metrics.Attachment(req.Method, reason)
	return AttachResult{Reason: reason}
}

func (s *AttachmentService) appendAudit(ctx context.Context, customerID uint, action string, meta map[string]interface{}) {
	raw, _ := json.Marshal(meta)
	uid := customerID
	err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     &uid,
		Action:     action,
		Resource:   "attribution",
		ResourceID: strconv.FormatUint(uint64(customerID), 10),
		Metadata:   string(raw),
		CreatedAt:  s.now(),
	})
	if err != nil {
		log.Printf("[attach] audit %s customer=%d: %v", action, customerID, err)
	}
}
