package workflow

import "flowgate/internal/domain"

// Abstract operation tokens emitted for external collaborators. The
// engine sequences them and never executes any.
const (
	OpSetResolution    = "set_resolution"
	OpAgreeToSign      = "agree_to_sign"
	OpSignAsAuthor     = "sign_as_author"
	OpReviewerSigs     = "apply_reviewers_signatures"
	OpSignAsApprover   = "sign_as_approver"
	OpSignAsSender     = "sign_as_sender"
	OpTagDocument      = "tag_document"
	OpRemoveTag        = "remove_tag"
	OpSetVersionStatus = "set_version_status"
	OpReturnToReview   = "return_to_review"
	OpSendEmails       = "send_emails"
)

// Operations resolves the ordered operation token list for an action
// fired from the given status.
func (e *Engine) Operations(action string, item domain.Item, status string) ([]string, error) {
	act, ok := e.Table.ByName[action]
	if !ok {
		return nil, &UnknownActionError{Action: action}
	}
	if act.OpsMap == nil {
		return nil, nil
	}
	triage := e.TriageValue(item, act.TriageField)
	byStatus, ok := act.OpsMap[triage]
	if !ok {
		return nil, nil
	}
	if status == "" {
		status = e.CurrentStatus(item)
	}
	raw, ok := byStatus[status]
	if !ok {
		return nil, &MissingEntryError{Action: action, Attr: attrOps, Triage: triage, Status: status}
	}
	return splitList(raw), nil
}

// signingOperation reports whether the list contains any signature
// request.
func signingOperation(ops []string) bool {
	for _, op := range ops {
		switch op {
		case OpSignAsAuthor, OpReviewerSigs, OpSignAsApprover, OpSignAsSender:
			return true
		}
	}
	return false
}
