// Package access mediates every human-initiated disclosure of a lab result:
// raw record views, patient result listings, report generation, and signed
// report downloads. Disclosure here is gated, not open: a view or report
// requires a non-empty justification, and the audit event is written before
// the content leaves the service. An audit append failure blocks the
// disclosure rather than the other way around.
package access

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/labsecure/labsecure/internal/audit"
	"github.com/labsecure/labsecure/internal/domain/patient"
	"github.com/labsecure/labsecure/internal/domain/result"
	"github.com/labsecure/labsecure/internal/platform/blob"
	"github.com/labsecure/labsecure/internal/platform/metrics"
)

// ErrJustificationRequired rejects a disclosure attempt with no justification.
var ErrJustificationRequired = errors.New("justification is required for disclosure")

// ReportKey returns the object-store key for a generated report artifact.
func ReportKey(patientID, resultID string) string {
	return fmt.Sprintf("reports/%s/%s.pdf", patientID, resultID)
}

// ViewRequest is a human-initiated read of a single lab result.
type ViewRequest struct {
	ResultID      string
	PatientID     string
	Justification string
	BreakGlass    bool
	SourceIP      string
}

// ReportLink is the short-lived download grant returned after report
// generation.
type ReportLink struct {
	ResultID         string `json:"result_id"`
	URL              string `json:"url"`
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// Service is the access gateway.
type Service struct {
	results  result.Store
	patients patient.Store
	reports  blob.Store
	signer   *TokenSigner
	ledger   *audit.Ledger
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewService creates the access gateway.
func NewService(results result.Store, patients patient.Store, reports blob.Store, signer *TokenSigner, ledger *audit.Ledger, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		results:  results,
		patients: patients,
		reports:  reports,
		signer:   signer,
		ledger:   ledger,
		metrics:  m,
		log:      log.With().Str("component", "access").Logger(),
	}
}

// View discloses a single lab result. The order of checks matters: a missing
// justification or a missing record produces zero disclosure-audit events
// because nothing was disclosed; a successful view writes exactly one
// RESULT_VIEW event before the record is returned.
func (s *Service) View(ctx context.Context, req ViewRequest) (*result.LabResult, error) {
	if strings.TrimSpace(req.Justification) == "" {
		return nil, ErrJustificationRequired
	}

	r, err := s.results.Get(ctx, req.ResultID, req.PatientID)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Record(ctx, &audit.Event{
		Action:        audit.ActionResultView,
		ActorID:       "portal_user:" + req.PatientID,
		PatientID:     req.PatientID,
		ResultID:      req.ResultID,
		Justification: req.Justification,
		BreakGlass:    req.BreakGlass,
		SourceIP:      req.SourceIP,
		Source:        "access_gateway",
	}); err != nil {
		return nil, fmt.Errorf("record disclosure: %w", err)
	}

	s.metrics.IncDisclosure("view", req.BreakGlass)
	return r, nil
}

// ListForPatient discloses the index of a patient's results. The listing is
// audited as RESULT_LIST before it is returned.
func (s *Service) ListForPatient(ctx context.Context, patientID, sourceIP string) ([]*result.LabResult, error) {
	list, err := s.results.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	if err := s.ledger.Record(ctx, &audit.Event{
		Action:    audit.ActionResultList,
		ActorID:   "portal_user:" + patientID,
		PatientID: patientID,
		SourceIP:  sourceIP,
		Details:   fmt.Sprintf("count=%d", len(list)),
		Source:    "access_gateway",
	}); err != nil {
		return nil, fmt.Errorf("record disclosure: %w", err)
	}

	return list, nil
}

// GenerateReport renders a report artifact for a result, stores it, and
// returns a signed one-hour download link. The REPORT_DOWNLOAD audit event is
// written before the link is handed out; the link itself is then
// self-authorizing for its lifetime.
func (s *Service) GenerateReport(ctx context.Context, req ViewRequest) (*ReportLink, error) {
	if strings.TrimSpace(req.Justification) == "" {
		return nil, ErrJustificationRequired
	}

	p, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	r, err := s.results.Get(ctx, req.ResultID, req.PatientID)
	if err != nil {
		return nil, err
	}

	key := ReportKey(req.PatientID, req.ResultID)
	if _, err := s.reports.Put(ctx, key, renderReport(p, r), "application/pdf", map[string]string{
		"result_id":  req.ResultID,
		"patient_id": req.PatientID,
	}); err != nil {
		return nil, fmt.Errorf("store report artifact: %w", err)
	}

	token, err := s.signer.Mint(key, req.PatientID, req.ResultID)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.Record(ctx, &audit.Event{
		Action:        audit.ActionReportDownload,
		ActorID:       "portal_user:" + req.PatientID,
		PatientID:     req.PatientID,
		ResultID:      req.ResultID,
		Justification: req.Justification,
		BreakGlass:    req.BreakGlass,
		SourceIP:      req.SourceIP,
		Details:       "key=" + key,
		Source:        "access_gateway",
	}); err != nil {
		return nil, fmt.Errorf("record disclosure: %w", err)
	}

	s.metrics.IncDisclosure("report", req.BreakGlass)
	return &ReportLink{
		ResultID:         req.ResultID,
		URL:              "/api/v1/reports/download?token=" + token,
		Token:            token,
		ExpiresInSeconds: int(s.signer.ttl / time.Second),
	}, nil
}

// Download exchanges a signed token for the report artifact it grants. The
// disclosure was audited when the link was minted; an expired or forged token
// yields nothing.
func (s *Service) Download(ctx context.Context, token string) (*blob.Object, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	obj, err := s.reports.Get(ctx, claims.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch report artifact: %w", err)
	}
	return obj, nil
}

// RequestErasure flags a record for the next retention sweep. Flagging an
// already-flagged record is a no-op and produces no second audit event.
func (s *Service) RequestErasure(ctx context.Context, resultID, patientID, sourceIP string) error {
	applied, err := s.results.RequestGDPRDelete(ctx, resultID, patientID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := s.ledger.Record(ctx, &audit.Event{
		Action:    audit.ActionDeleteRequested,
		ActorID:   "portal_user:" + patientID,
		PatientID: patientID,
		ResultID:  resultID,
		SourceIP:  sourceIP,
		Source:    "access_gateway",
	}); err != nil {
		s.log.Warn().Err(err).Str("result_id", resultID).Msg("audit append failed")
	}
	return nil
}

// renderReport produces the textual report artifact. The byte format is
// deliberately plain: the compliance value is in the signed-link mechanics
// and the audit trail, not the document styling.
func renderReport(p *patient.Patient, r *result.LabResult) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "LAB RESULT REPORT\n")
	fmt.Fprintf(&b, "=================\n\n")
	fmt.Fprintf(&b, "Patient: %s %s (%s)\n", p.FirstName, p.LastName, p.PatientID)
	fmt.Fprintf(&b, "Result:  %s\n", r.ResultID)
	fmt.Fprintf(&b, "Lab:     %s (%s)\n", r.LabName, r.LabID)
	fmt.Fprintf(&b, "Test:    %s on %s\n\n", r.TestType, r.TestDate)
	for _, entry := range r.Results {
		flag := ""
		if entry.IsAbnormal {
			flag = "  ** ABNORMAL **"
		}
		fmt.Fprintf(&b, "  %-10s %10.2f %-8s ref: %s%s\n", entry.Code, entry.Value, entry.Unit, entry.ReferenceRange, flag)
	}
	if r.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", r.Notes)
	}
	return b.Bytes()
}
