package api

import (
	"net"
	"net/http"

	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// recordAudit writes one audit event for a mutating operation. Audit
// failures are logged, never surfaced to the client.
func (s *Server) recordAudit(r *http.Request, action audit.Action, resource, resourceID string, opErr error) {
	user := ""
	if id, ok := OwnerFromContext(r.Context()); ok {
		user = id.String()
	}
	s.recordAuditAs(r, user, action, resource, resourceID, opErr)
}

// recordAuditAs is the variant for routes without an authenticated
// context (register, login), where the username stands in.
func (s *Server) recordAuditAs(r *http.Request, user string, action audit.Action, resource, resourceID string, opErr error) {
	ev := audit.NewEvent(user, action)
	ev.Resource = resource
	ev.ResourceID = resourceID
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ev.ClientIP = ip
	} else {
		ev.ClientIP = r.RemoteAddr
	}
	if opErr != nil {
		ev.Failed(opErr)
	}
	if err := s.auditor.Log(ev); err != nil {
		util.Warnf("audit write failed: %v", err)
	}
}
