package policy

import "github.com/rivermint/chatforge/store"

// snapshot is the JSON-serializable attribute projection the Policy Cache
// evaluates authorization checks against: chat owners, assistant owners,
// and the flat share-grant list (spec §4.2).
type snapshot struct {
	ChatOwners      map[string]string `json:"chat_owners"`
	AssistantOwners map[string]string `json:"assistant_owners"`
	ShareGrants     []*store.ShareGrant `json:"share_grants"`
}

func snapshotFromProjection(p *store.PolicyProjection) *snapshot {
	return &snapshot{
		ChatOwners:      p.ChatOwners,
		AssistantOwners: p.AssistantOwners,
		ShareGrants:     p.ShareGrants,
	}
}

func emptySnapshot() *snapshot {
	return &snapshot{ChatOwners: map[string]string{}, AssistantOwners: map[string]string{}}
}

// owner returns the owner id for a resource, and whether one was found.
func (s *snapshot) owner(kind ResourceKind, id string) (string, bool) {
	switch kind {
	case ResourceChat:
		owner, ok := s.ChatOwners[id]
		return owner, ok
	case ResourceAssistant:
		owner, ok := s.AssistantOwners[id]
		return owner, ok
	default:
		return "", false
	}
}

// grantFor finds the highest-privilege grant matching subject on resource,
// directly (subject_kind=user) or via group membership (subject_kind=group
// or org_group, matched against subject.GroupIDs).
func (s *snapshot) grantFor(kind ResourceKind, resourceID string, subject Subject) (store.ShareGrantRole, bool) {
	var found store.ShareGrantRole
	has := false
	rank := func(r store.ShareGrantRole) int {
		switch r {
		case store.ShareGrantRoleOwner:
			return 3
		case store.ShareGrantRoleEditor:
			return 2
		case store.ShareGrantRoleViewer:
			return 1
		default:
			return 0
		}
	}

	var resourceKind store.ShareGrantResourceKind
	switch kind {
	case ResourceChat:
		resourceKind = store.ShareGrantResourceChat
	case ResourceAssistant:
		resourceKind = store.ShareGrantResourceAssistant
	default:
		return "", false
	}

	for _, g := range s.ShareGrants {
		if g.ResourceKind != resourceKind || g.ResourceID != resourceID {
			continue
		}
		if !subjectMatches(g, subject) {
			continue
		}
		if !has || rank(g.Role) > rank(found) {
			found, has = g.Role, true
		}
	}
	return found, has
}

func subjectMatches(g *store.ShareGrant, subject Subject) bool {
	if g.SubjectKind == store.ShareGrantSubjectUser {
		return g.SubjectID == subject.ID
	}
	for _, gid := range subject.GroupIDs {
		if gid == g.SubjectID {
			return true
		}
	}
	return false
}
