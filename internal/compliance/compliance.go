// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compliance derives named-control-ID requirement lists from
// audit-log counts over a window. It does not judge business-logic
// correctness beyond faithfully counting and labeling what the audit log
// already recorded.
package compliance

import (
	"fmt"
	"time"

	"github.com/shiioo-io/controlplane/internal/audit"
	"github.com/shiioo-io/controlplane/internal/ids"
)

// Framework is a named compliance framework a Requirement belongs to.
type Framework string

const (
	SOC2     Framework = "SOC2"
	GDPR     Framework = "GDPR"
	HIPAA    Framework = "HIPAA"
	ISO27001 Framework = "ISO27001"
	PCIDSS   Framework = "PCI_DSS"
)

// Status is a Requirement's compliance state.
type Status string

const (
	Compliant          Status = "Compliant"
	NonCompliant       Status = "NonCompliant"
	PartiallyCompliant Status = "PartiallyCompliant"
	NotApplicable      Status = "NotApplicable"
)

// Audit categories and actions this checker counts. These are the
// conventions the rest of the control plane is expected to record
// against (see internal/api's audit wiring).
const (
	CategoryAccessControl    = "access_control"
	CategorySecurityEvent    = "security_event"
	CategoryDataAccess       = "data_access"
	CategoryDataModification = "data_modification"

	ActionLoginFailed        = "login_failed"
	ActionUnauthorizedAccess = "unauthorized_access"
	ActionRoleAssigned       = "role_assigned"
	ActionDataDeleted        = "data_deleted"
	ActionSecurityIncident   = "security_incident"
	ActionSecretAccessed     = "secret_accessed"
)

// Requirement is one named control within a Framework.
type Requirement struct {
	ID          string     `json:"id"`
	Framework   Framework  `json:"framework"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Status      Status     `json:"status"`
	Evidence    []string   `json:"evidence,omitempty"`
	Findings    []string   `json:"findings,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

func newRequirement(id string, fw Framework, title, description, category string) *Requirement {
	return &Requirement{ID: id, Framework: fw, Title: title, Description: description, Category: category, Status: NotApplicable}
}

func (r *Requirement) addEvidence(e string)  { r.Evidence = append(r.Evidence, e) }
func (r *Requirement) addFinding(f string)   { r.Findings = append(r.Findings, f) }
func (r *Requirement) setStatus(s Status, now time.Time) {
	r.Status = s
	r.LastChecked = &now
}

// Summary tallies a Report's requirements by status.
type Summary struct {
	TotalRequirements    int     `json:"total_requirements"`
	Compliant            int     `json:"compliant"`
	NonCompliant         int     `json:"non_compliant"`
	PartiallyCompliant   int     `json:"partially_compliant"`
	NotApplicable        int     `json:"not_applicable"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

func summarize(reqs []Requirement) Summary {
	s := Summary{TotalRequirements: len(reqs)}
	for _, r := range reqs {
		switch r.Status {
		case Compliant:
			s.Compliant++
		case NonCompliant:
			s.NonCompliant++
		case PartiallyCompliant:
			s.PartiallyCompliant++
		case NotApplicable:
			s.NotApplicable++
		}
	}
	applicable := s.TotalRequirements - s.NotApplicable
	if applicable > 0 {
		s.CompliancePercentage = (float64(s.Compliant) / float64(applicable)) * 100
	}
	return s
}

// Report is the output of GenerateReport for one framework and window.
type Report struct {
	ID           string        `json:"id"`
	Framework    Framework     `json:"framework"`
	GeneratedAt  time.Time     `json:"generated_at"`
	PeriodStart  time.Time     `json:"period_start"`
	PeriodEnd    time.Time     `json:"period_end"`
	Requirements []Requirement `json:"requirements"`
	Summary      Summary       `json:"summary"`
}

// Checker derives Reports from an audit log.
type Checker struct {
	audit *audit.Log
	now   func() time.Time
}

// New builds a Checker over log.
func New(log *audit.Log) *Checker {
	return &Checker{audit: log, now: time.Now}
}

// SetClock overrides the checker's time source. Test-only seam.
func (c *Checker) SetClock(now func() time.Time) { c.now = now }

// GenerateReport derives a Report for framework over [periodStart, periodEnd].
func (c *Checker) GenerateReport(framework Framework, periodStart, periodEnd time.Time) Report {
	var reqs []Requirement
	switch framework {
	case SOC2:
		reqs = c.checkSOC2(periodStart, periodEnd)
	case GDPR:
		reqs = c.checkGDPR(periodStart, periodEnd)
	case HIPAA:
		reqs = c.checkHIPAA()
	case ISO27001:
		reqs = c.checkISO27001()
	case PCIDSS:
		reqs = c.checkPCIDSS()
	}
	return Report{
		ID:           ids.New(),
		Framework:    framework,
		GeneratedAt:  c.now(),
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Requirements: reqs,
		Summary:      summarize(reqs),
	}
}

func (c *Checker) countByCategoryAction(category, action string, start, end time.Time) int {
	return c.audit.CountByCategoryAction(category, action, start, end)
}

func (c *Checker) countByCategory(category string, start, end time.Time) int {
	return c.audit.CountByCategoryAction(category, "", start, end)
}

func (c *Checker) checkSOC2(start, end time.Time) []Requirement {
	now := c.now()
	var out []Requirement

	cc61 := newRequirement("CC6.1", SOC2, "Logical and Physical Access Controls",
		"The entity implements logical access security software, infrastructure, and architectures over protected information assets to protect them from security events to meet the entity's objectives.",
		"Access Control")
	failedLogins := c.countByCategoryAction(CategoryAccessControl, ActionLoginFailed, start, end)
	if failedLogins > 0 {
		cc61.addEvidence("access control events logged: failed login attempts observed")
	}
	unauthorized := c.countByCategoryAction(CategoryAccessControl, ActionUnauthorizedAccess, start, end)
	switch {
	case unauthorized > 10:
		cc61.addFinding("high number of unauthorized access attempts")
		cc61.setStatus(PartiallyCompliant, now)
	case unauthorized > 0:
		cc61.addEvidence("unauthorized access attempts detected and logged")
		cc61.setStatus(Compliant, now)
	default:
		cc61.setStatus(Compliant, now)
	}
	out = append(out, *cc61)

	cc62 := newRequirement("CC6.2", SOC2, "User Registration and Authorization",
		"Prior to issuing system credentials and granting system access, the entity registers and authorizes new internal and external users whose access is administered by the entity.",
		"Access Control")
	roleAssignments := c.countByCategoryAction(CategoryAccessControl, ActionRoleAssigned, start, end)
	if roleAssignments > 0 {
		cc62.addEvidence("role assignment events logged")
		cc62.setStatus(Compliant, now)
	} else {
		cc62.setStatus(NotApplicable, now)
	}
	out = append(out, *cc62)

	cc72 := newRequirement("CC7.2", SOC2, "Security Event Detection and Monitoring",
		"The entity monitors system components and the operation of those components for anomalies that are indicative of malicious acts, natural disasters, and errors affecting the entity's ability to meet its objectives.",
		"Monitoring")
	securityEvents := c.countByCategory(CategorySecurityEvent, start, end)
	if securityEvents > 0 {
		cc72.addEvidence("security events monitored")
	}
	cc72.setStatus(Compliant, now)
	out = append(out, *cc72)

	cc73 := newRequirement("CC7.3", SOC2, "Audit Log Retention and Review",
		"The entity evaluates security events to determine whether they could or have resulted in a failure of the entity to meet its objectives and, if so, takes actions to prevent or address such failures.",
		"Monitoring")
	total := len(c.audit.Entries())
	if total > 0 {
		cc73.addEvidence("audit log retention: events recorded over period")
		if violations := c.audit.VerifyChain(); len(violations) == 0 {
			cc73.addEvidence("audit log chain integrity verified (tamper-proof)")
			cc73.setStatus(Compliant, now)
		} else {
			cc73.addFinding("audit log chain integrity check failed - possible tampering")
			cc73.setStatus(NonCompliant, now)
		}
	} else {
		cc73.setStatus(Compliant, now)
	}
	out = append(out, *cc73)

	return out
}

func (c *Checker) checkGDPR(start, end time.Time) []Requirement {
	now := c.now()
	var out []Requirement

	art5 := newRequirement("Article 5", GDPR, "Data Processing Principles",
		"Personal data shall be processed lawfully, fairly and in a transparent manner.", "Data Processing")
	if c.countByCategory(CategoryDataAccess, start, end) > 0 {
		art5.addEvidence("data access events logged")
	}
	art5.setStatus(Compliant, now)
	out = append(out, *art5)

	art17 := newRequirement("Article 17", GDPR, "Right to Erasure",
		"The data subject shall have the right to obtain from the controller the erasure of personal data.", "Data Subject Rights")
	deletions := c.countByCategoryAction(CategoryDataModification, ActionDataDeleted, start, end)
	if deletions > 0 {
		art17.addEvidence("data deletion requests processed")
		art17.setStatus(Compliant, now)
	} else {
		art17.setStatus(NotApplicable, now)
	}
	out = append(out, *art17)

	art30 := newRequirement("Article 30", GDPR, "Records of Processing Activities",
		"Each controller shall maintain a record of processing activities under its responsibility.", "Documentation")
	if c.countByCategory(CategoryDataModification, start, end) > 0 {
		art30.addEvidence("data processing activities logged")
	}
	art30.setStatus(Compliant, now)
	out = append(out, *art30)

	art32 := newRequirement("Article 32", GDPR, "Security of Processing",
		"The controller and processor shall implement appropriate technical and organizational measures to ensure a level of security appropriate to the risk.", "Security")
	securityEntries := c.entriesInCategory(CategorySecurityEvent, start, end)
	critical := 0
	for _, e := range securityEntries {
		if e.Severity == audit.SeverityCritical {
			critical++
		}
	}
	switch {
	case critical > 5:
		art32.addFinding("high number of critical security events")
		art32.setStatus(NonCompliant, now)
	case len(securityEntries) == 0:
		art32.addEvidence("no security events detected")
		art32.setStatus(Compliant, now)
	default:
		art32.addEvidence("security events monitored")
		art32.setStatus(Compliant, now)
	}
	out = append(out, *art32)

	art33 := newRequirement("Article 33", GDPR, "Breach Notification",
		"In the case of a personal data breach, the controller shall without undue delay notify the supervisory authority.", "Incident Response")
	if c.countByCategoryAction(CategorySecurityEvent, ActionSecurityIncident, start, end) > 0 {
		art33.addEvidence("security incidents logged")
	}
	art33.setStatus(Compliant, now)
	out = append(out, *art33)

	return out
}

func (c *Checker) entriesInCategory(category string, start, end time.Time) []audit.Entry {
	var out []audit.Entry
	for _, e := range c.audit.EntriesInWindow(start, end) {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

func (c *Checker) checkHIPAA() []Requirement {
	r := newRequirement("HIPAA-1", HIPAA, "Access Control",
		"Implement technical policies and procedures for electronic information systems.", "Administrative Safeguards")
	return []Requirement{*r}
}

func (c *Checker) checkISO27001() []Requirement {
	r := newRequirement("ISO27001-1", ISO27001, "Information Security Policy",
		"A set of policies for information security shall be defined.", "Policy")
	return []Requirement{*r}
}

func (c *Checker) checkPCIDSS() []Requirement {
	r := newRequirement("PCI-DSS-1", PCIDSS, "Install and Maintain Firewall Configuration",
		"Install and maintain a firewall configuration to protect cardholder data.", "Network Security")
	return []Requirement{*r}
}

// SecuritySeverity ranks a SecurityFinding.
type SecuritySeverity string

const (
	SeverityLow      SecuritySeverity = "Low"
	SeverityMedium   SecuritySeverity = "Medium"
	SeverityHigh     SecuritySeverity = "High"
	SeverityCritical SecuritySeverity = "Critical"
)

// SecurityFinding is one anomaly a SecurityScanner's heuristics flagged.
type SecurityFinding struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Severity       SecuritySeverity `json:"severity"`
	Recommendation string           `json:"recommendation"`
}

// SecurityScanReport is the output of SecurityScanner.Scan.
type SecurityScanReport struct {
	ScanID          string            `json:"scan_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Findings        []SecurityFinding `json:"findings"`
	OverallSeverity SecuritySeverity  `json:"overall_severity"`
}

// SecurityScanner runs fixed-threshold anomaly heuristics over recent audit
// log activity: brute force, privilege escalation, data exfiltration, and
// suspicious secret access.
type SecurityScanner struct {
	audit *audit.Log
	now   func() time.Time
}

// NewScanner builds a SecurityScanner over log.
func NewScanner(log *audit.Log) *SecurityScanner {
	return &SecurityScanner{audit: log, now: time.Now}
}

// SetClock overrides the scanner's time source. Test-only seam.
func (s *SecurityScanner) SetClock(now func() time.Time) { s.now = now }

// Scan runs every heuristic and rolls the result up to an overall severity.
func (s *SecurityScanner) Scan() SecurityScanReport {
	now := s.now()
	var findings []SecurityFinding

	if f, ok := s.detectBruteForce(now); ok {
		findings = append(findings, f)
	}
	if f, ok := s.detectPrivilegeEscalation(now); ok {
		findings = append(findings, f)
	}
	if f, ok := s.detectDataExfiltration(now); ok {
		findings = append(findings, f)
	}
	if f, ok := s.detectSuspiciousSecretAccess(now); ok {
		findings = append(findings, f)
	}

	severity := SeverityLow
	for _, f := range findings {
		switch {
		case f.Severity == SeverityCritical:
			severity = SeverityCritical
		case f.Severity == SeverityHigh && severity != SeverityCritical:
			severity = SeverityHigh
		case f.Severity == SeverityMedium && severity != SeverityCritical && severity != SeverityHigh:
			severity = SeverityMedium
		}
	}

	return SecurityScanReport{
		ScanID:          ids.New(),
		Timestamp:       now,
		Findings:        findings,
		OverallSeverity: severity,
	}
}

func (s *SecurityScanner) detectBruteForce(now time.Time) (SecurityFinding, bool) {
	count := s.audit.CountByCategoryAction(CategoryAccessControl, ActionLoginFailed, now.Add(-1*time.Hour), now)
	if count <= 10 {
		return SecurityFinding{}, false
	}
	return SecurityFinding{
		ID:             ids.New(),
		Title:          "Possible Brute Force Attack",
		Description:    fmt.Sprintf("detected %d failed login attempts in the last hour", count),
		Severity:       SeverityHigh,
		Recommendation: "implement rate limiting and account lockout policies",
	}, true
}

func (s *SecurityScanner) detectPrivilegeEscalation(now time.Time) (SecurityFinding, bool) {
	count := s.audit.CountByCategoryAction(CategoryAccessControl, ActionUnauthorizedAccess, now.Add(-24*time.Hour), now)
	if count <= 5 {
		return SecurityFinding{}, false
	}
	return SecurityFinding{
		ID:             ids.New(),
		Title:          "Possible Privilege Escalation",
		Description:    fmt.Sprintf("detected %d unauthorized access attempts in the last 24 hours", count),
		Severity:       SeverityCritical,
		Recommendation: "review user permissions and implement stricter access controls",
	}, true
}

func (s *SecurityScanner) detectDataExfiltration(now time.Time) (SecurityFinding, bool) {
	count := s.audit.CountByCategoryAction(CategoryDataAccess, "", now.Add(-1*time.Hour), now)
	if count <= 100 {
		return SecurityFinding{}, false
	}
	return SecurityFinding{
		ID:             ids.New(),
		Title:          "Possible Data Exfiltration",
		Description:    fmt.Sprintf("detected %d data access events in the last hour", count),
		Severity:       SeverityHigh,
		Recommendation: "investigate data access patterns and implement data loss prevention controls",
	}, true
}

func (s *SecurityScanner) detectSuspiciousSecretAccess(now time.Time) (SecurityFinding, bool) {
	count := s.audit.CountByCategoryAction(CategoryAccessControl, ActionSecretAccessed, now.Add(-30*time.Minute), now)
	if count <= 20 {
		return SecurityFinding{}, false
	}
	return SecurityFinding{
		ID:             ids.New(),
		Title:          "Suspicious Secret Access Pattern",
		Description:    fmt.Sprintf("detected %d secret access events in the last 30 minutes", count),
		Severity:       SeverityMedium,
		Recommendation: "review secret access logs and rotate potentially compromised secrets",
	}, true
}
