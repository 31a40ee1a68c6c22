package catalog

import (
	"github.com/tpodg/staticnet/internal/task"
	"github.com/tpodg/staticnet/internal/task/cloudinit"
	"github.com/tpodg/staticnet/internal/task/netplan"
)

// Builtins returns the step providers in sequence order. Cloud-init must
// be disabled before the netplan file it would regenerate is written.
func Builtins() []task.Spec {
	return []task.Spec{
		cloudinit.Spec(),
		netplan.Spec(),
	}
}
