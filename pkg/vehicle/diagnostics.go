package vehicle

import (
	"context"
	"strings"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/protocol"
)

// DiagnosticsOptions selects the diagnostic items to request. An empty Items list requests
// everything the vehicle advertises.
type DiagnosticsOptions struct {
	Items []string
}

// Diagnostics requests diagnostic data. Requested items are validated against the vehicle's
// advertised set: unsupported items are dropped with a warning, and a request left empty by
// filtering fails without touching the backend. When the vehicle has not advertised a
// supported set (no Refresh yet), the request passes through unfiltered.
func (v *Vehicle) Diagnostics(ctx context.Context, options *DiagnosticsOptions) (*protocol.CommandResult, error) {
	supported := v.SupportedDiagnostics()

	var items []string
	if options != nil {
		items = options.Items
	}
	if len(items) == 0 {
		items = supported
	} else if len(supported) > 0 {
		filtered := make([]string, 0, len(items))
		for _, item := range items {
			if containsFold(supported, item) {
				filtered = append(filtered, item)
			} else {
				log.Warning("Dropping unsupported diagnostic item %q", item)
			}
		}
		if len(filtered) == 0 {
			return nil, &protocol.UnsupportedDiagnosticsError{Requested: items}
		}
		items = filtered
	}

	body := map[string]interface{}{
		"diagnosticsRequest": map[string]interface{}{"diagnosticItem": items},
	}
	return v.exec.ExecuteCommand(ctx, CommandDiagnostics, body)
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
