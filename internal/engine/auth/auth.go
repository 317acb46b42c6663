package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"incidentline/internal/domain"
)

type Action string

const (
	ActionCreateIncident Action = "incident.create"
	ActionListIncidents  Action = "incident.list"
	ActionListAll        Action = "incident.list_all"
	ActionViewIncident   Action = "incident.view"
	ActionEditIncident   Action = "incident.edit"
	ActionDeleteIncident Action = "incident.delete"
	ActionAddTimeline    Action = "timeline.add"
	ActionSubmitReview   Action = "review.submit"
	ActionCreateShare    Action = "share.create"
	ActionRevokeShare    Action = "share.revoke"
	ActionListEvents     Action = "events.list"
)

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	Action Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Subject and Resource are the request values seen by policy conditions.
// Fields stay plain strings so conditions compare them to literals.
type Subject struct {
	ID   string
	Role string
}

type Resource struct {
	CreatedBy string
	Status    string
}

func ResourceOf(inc domain.Incident) Resource {
	return Resource{CreatedBy: inc.CreatedBy, Status: string(inc.Status)}
}

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, act, cond

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub.Role == p.sub && r.act == p.act && eval(p.cond)
`

const (
	always      = "true"
	ownIncident = "r.obj.CreatedBy == r.sub.ID"
	ownOpen     = "r.obj.CreatedBy == r.sub.ID && r.obj.Status == 'OPEN'"
)

type rule struct {
	role   domain.Role
	action Action
	cond   string
}

var rules = []rule{
	{domain.RoleAdmin, ActionCreateIncident, always},
	{domain.RoleAdmin, ActionListIncidents, always},
	{domain.RoleAdmin, ActionListAll, always},
	{domain.RoleAdmin, ActionViewIncident, always},
	{domain.RoleAdmin, ActionEditIncident, always},
	{domain.RoleAdmin, ActionDeleteIncident, always},
	{domain.RoleAdmin, ActionAddTimeline, always},
	{domain.RoleAdmin, ActionSubmitReview, always},
	{domain.RoleAdmin, ActionCreateShare, always},
	{domain.RoleAdmin, ActionRevokeShare, always},
	{domain.RoleAdmin, ActionListEvents, always},

	{domain.RoleReviewer, ActionCreateIncident, always},
	{domain.RoleReviewer, ActionListIncidents, always},
	{domain.RoleReviewer, ActionListAll, always},
	{domain.RoleReviewer, ActionViewIncident, always},
	{domain.RoleReviewer, ActionEditIncident, always},
	{domain.RoleReviewer, ActionAddTimeline, always},
	{domain.RoleReviewer, ActionSubmitReview, always},

	{domain.RoleReporter, ActionCreateIncident, always},
	{domain.RoleReporter, ActionListIncidents, always},
	{domain.RoleReporter, ActionViewIncident, ownIncident},
	{domain.RoleReporter, ActionEditIncident, ownOpen},
	{domain.RoleReporter, ActionAddTimeline, ownOpen},
}

// Authorizer evaluates the role policy table.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

func New() (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load policy model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	for _, r := range rules {
		if _, err := e.AddPolicy(string(r.role), string(r.action), r.cond); err != nil {
			return nil, fmt.Errorf("add policy %s %s: %w", r.role, r.action, err)
		}
	}
	return &Authorizer{enforcer: e}, nil
}

// MustNew is New for the static policy table, which cannot fail at runtime.
func MustNew() *Authorizer {
	a, err := New()
	if err != nil {
		panic(err)
	}
	return a
}

func (a *Authorizer) Allowed(actor domain.Actor, action Action, res Resource) (bool, error) {
	return a.enforcer.Enforce(Subject{ID: actor.ID, Role: string(actor.Role)}, res, string(action))
}

// Authorize returns ForbiddenError when the policy denies the action.
func (a *Authorizer) Authorize(actor domain.Actor, action Action, res Resource) error {
	ok, err := a.Allowed(actor, action, res)
	if err != nil {
		return fmt.Errorf("evaluate policy %s: %w", action, err)
	}
	if !ok {
		return ForbiddenError{Action: action}
	}
	return nil
}

// Scope returns the creator filter to apply to the actor's listings: empty
// when the actor may list every incident.
func (a *Authorizer) Scope(actor domain.Actor) (string, error) {
	if err := a.Authorize(actor, ActionListIncidents, Resource{}); err != nil {
		return "", err
	}
	all, err := a.Allowed(actor, ActionListAll, Resource{})
	if err != nil {
		return "", err
	}
	if all {
		return "", nil
	}
	return actor.ID, nil
}
