package panel

import (
	"fmt"
	"time"

	"realityshop/internal/config"
)

// PanelFactory creates a PanelClient based on the configured panel type.
func PanelFactory(d config.ServerDescriptor, timeout time.Duration) (PanelClient, error) {
	switch d.Type {
	case "", "3x-ui", "x-ui_single", "xui":
		return NewXUIClient(d.Host, d.Username, d.Password, timeout), nil
	case "alireza_single":
		return NewAlirezaSingleClient(d.Host, d.Username, d.Password, timeout), nil
	default:
		return nil, fmt.Errorf("server %s: unsupported panel type: %s", d.ID, d.Type)
	}
}
