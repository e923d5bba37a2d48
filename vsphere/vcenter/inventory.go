package vcenter

import (
	"context"
	"sort"

	"github.com/ggoodman/esxi-mcp-server/vsphere"
	"github.com/vmware/govmomi/vim25/mo"
)

func (c *Client) ListDatastores(ctx context.Context) ([]vsphere.Datastore, error) {
	var stores []mo.Datastore
	if err := c.retrieve(ctx, "Datastore", []string{"summary"}, &stores); err != nil {
		return nil, err
	}
	out := make([]vsphere.Datastore, 0, len(stores))
	for _, ds := range stores {
		s := ds.Summary
		out = append(out, vsphere.Datastore{
			Name:        s.Name,
			Type:        s.Type,
			CapacityGB:  vsphere.BytesToGB(s.Capacity),
			FreeSpaceGB: vsphere.BytesToGB(s.FreeSpace),
			Accessible:  s.Accessible,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListNetworks includes standard, distributed and opaque networks.
func (c *Client) ListNetworks(ctx context.Context) ([]string, error) {
	var networks []mo.ManagedEntity
	if err := c.retrieve(ctx, "Network", []string{"name"}, &networks); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(networks))
	for _, n := range networks {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) ListHosts(ctx context.Context) ([]vsphere.HostSummary, error) {
	var hosts []mo.HostSystem
	props := []string{"name", "runtime.connectionState", "runtime.powerState", "overallStatus"}
	if err := c.retrieve(ctx, "HostSystem", props, &hosts); err != nil {
		return nil, err
	}
	out := make([]vsphere.HostSummary, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, vsphere.HostSummary{
			Name:            h.Name,
			ConnectionState: string(h.Runtime.ConnectionState),
			PowerState:      string(h.Runtime.PowerState),
			OverallStatus:   string(h.OverallStatus),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
