package decision

import "fmt"

// CapabilityTable routes each role to the id of the provider that serves it.
type CapabilityTable map[Role]string

// Decompose creates one SubTask per required role, in request order.
// Roles without a routed provider start Abstained with NoProviderAvailable
// and are never dispatched. Subtask ids are derived from the request id so
// replays of the same request produce the same ids.
func Decompose(req *Request, table CapabilityTable, available func(providerID string) bool) []SubTask {
	tasks := make([]SubTask, 0, len(req.RequiredRoles))
	for i, role := range req.RequiredRoles {
		t := SubTask{
			ID:        fmt.Sprintf("%s/%02d-%s", req.ID, i, role),
			RequestID: req.ID,
			Role:      role,
			Status:    StatusPending,
		}
		providerID := table[role]
		switch {
		case providerID == "":
			t.Abstained(ErrNoProviderAvailable, fmt.Sprintf("no provider routed for role %q", role))
		case available != nil && !available(providerID):
			t.ProviderID = providerID
			t.Abstained(ErrNoProviderAvailable, fmt.Sprintf("provider %q is not registered", providerID))
		default:
			t.ProviderID = providerID
		}
		tasks = append(tasks, t)
	}
	return tasks
}
