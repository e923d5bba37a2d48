// Package vmtools declares the VMware tool catalog and the vmStats resource
// and binds them to a vsphere.Client behind the API-key gate.
package vmtools

import (
	"context"

	"github.com/ggoodman/esxi-mcp-server/auth"
	"github.com/ggoodman/esxi-mcp-server/mcpservice"
	"github.com/ggoodman/esxi-mcp-server/vsphere"
)

type noArgs struct{}

type pingArgs struct {
	Message *string `json:"message,omitempty" jsonschema:"description=Message to echo back,default=pong"`
}

type authenticateArgs struct {
	Key string `json:"key" jsonschema:"description=API key"`
}

type createVMArgs struct {
	Name      string `json:"name"`
	CPU       int    `json:"cpu"`
	Memory    int    `json:"memory"`
	Datastore string `json:"datastore,omitempty"`
	Network   string `json:"network,omitempty"`
}

type cloneVMArgs struct {
	TemplateName string `json:"template_name"`
	NewName      string `json:"new_name"`
}

type nameArgs struct {
	Name string `json:"name"`
}

type vmNameArgs struct {
	Name string `json:"name" jsonschema:"description=Name of the virtual machine"`
}

type vmArgs struct {
	VMName string `json:"vm_name" jsonschema:"description=Name of the virtual machine"`
}

type hostArgs struct {
	HostName string `json:"host_name" jsonschema:"description=Name of the host"`
}

type createVMCustomArgs struct {
	Name            string `json:"name" jsonschema:"description=VM name"`
	CPU             int    `json:"cpu" jsonschema:"description=Number of CPUs"`
	Memory          int    `json:"memory" jsonschema:"description=Memory in MB"`
	DiskSizeGB      int    `json:"disk_size_gb,omitempty" jsonschema:"description=Disk size in GB,default=10"`
	GuestID         string `json:"guest_id,omitempty" jsonschema:"description=Guest OS identifier,default=otherGuest"`
	Datastore       string `json:"datastore,omitempty" jsonschema:"description=Datastore name (optional)"`
	Network         string `json:"network,omitempty" jsonschema:"description=Network name (optional)"`
	ThinProvisioned *bool  `json:"thin_provisioned,omitempty" jsonschema:"description=Use thin provisioning,default=true"`
	Annotation      string `json:"annotation,omitempty" jsonschema:"description=VM annotation/description"`
}

type service struct {
	client vsphere.Client
	gate   *auth.Gate
}

// Register adds the full catalog to reg in its advertised order. Every
// operation except ping and authenticate, and the vmStats resource, is
// rejected until gate allows it.
func Register(reg *mcpservice.Registry, client vsphere.Client, gate *auth.Gate) error {
	s := &service{client: client, gate: gate}
	g := gate

	tools := []mcpservice.Tool{
		mcpservice.NewTool("ping", s.ping,
			mcpservice.WithToolDescription("A simple test tool that echoes back a message. Use this to verify MCP connectivity.")),
		mcpservice.NewTool("authenticate", s.authenticate,
			mcpservice.WithToolDescription("Authenticate using API key to enable privileged operations")),
		mcpservice.NewTool("createVM", guarded(g, s.createVM),
			mcpservice.WithToolDescription("Create a new virtual machine")),
		mcpservice.NewTool("cloneVM", guarded(g, s.cloneVM),
			mcpservice.WithToolDescription("Clone a virtual machine from a template or existing VM")),
		mcpservice.NewTool("deleteVM", guarded(g, s.deleteVM),
			mcpservice.WithToolDescription("Delete a virtual machine")),
		mcpservice.NewTool("powerOn", guarded(g, s.powerOn),
			mcpservice.WithToolDescription("Power on a virtual machine")),
		mcpservice.NewTool("powerOff", guarded(g, s.powerOff),
			mcpservice.WithToolDescription("Power off a virtual machine")),
		mcpservice.NewTool("listVMs", guarded(g, s.listVMs),
			mcpservice.WithToolDescription("List all virtual machines")),
		mcpservice.NewTool("list_vms", guarded(g, s.listVMs),
			mcpservice.WithToolDescription("List all virtual machines")),
		mcpservice.NewTool("get_vm_details", guarded(g, s.vmDetails),
			mcpservice.WithToolDescription("Get detailed information about a specific virtual machine")),
		mcpservice.NewTool("list_templates", guarded(g, s.listTemplates),
			mcpservice.WithToolDescription("List all virtual machine templates")),
		mcpservice.NewTool("list_datastores", guarded(g, s.listDatastores),
			mcpservice.WithToolDescription("List all datastores with their details")),
		mcpservice.NewTool("list_networks", guarded(g, s.listNetworks),
			mcpservice.WithToolDescription("List all networks")),
		mcpservice.NewTool("list_hosts", guarded(g, s.listHosts),
			mcpservice.WithToolDescription("List all ESXi hosts")),
		mcpservice.NewTool("get_host_details", guarded(g, s.hostDetails),
			mcpservice.WithToolDescription("Get detailed information about a specific host")),
		mcpservice.NewTool("get_host_performance_metrics", guarded(g, s.hostMetrics),
			mcpservice.WithToolDescription("Get performance metrics for a specific host")),
		mcpservice.NewTool("get_host_hardware_health", guarded(g, s.hostHealth),
			mcpservice.WithToolDescription("Get hardware health information for a specific host")),
		mcpservice.NewTool("get_host_performance", guarded(g, s.hostPerformance),
			mcpservice.WithToolDescription("Get detailed performance data for a specific host")),
		mcpservice.NewTool("list_performance_counters", guarded(g, s.listCounters),
			mcpservice.WithToolDescription("List all available performance counters")),
		mcpservice.NewTool("get_vm_summary_stats", guarded(g, s.vmSummaryStats),
			mcpservice.WithToolDescription("Get summary statistics for a virtual machine")),
		mcpservice.NewTool("get_vm_performance", guarded(g, s.vmPerformance),
			mcpservice.WithToolDescription("Get performance data for a virtual machine")),
		mcpservice.NewTool("create_vm_custom", guarded(g, s.createVMCustom),
			mcpservice.WithToolDescription("Create a custom virtual machine with advanced configuration options")),
		mcpservice.NewTool("power_on_vm", guarded(g, s.powerOnVM),
			mcpservice.WithToolDescription("Power on a virtual machine")),
		mcpservice.NewTool("power_off_vm", guarded(g, s.powerOffVM),
			mcpservice.WithToolDescription("Power off a virtual machine")),
	}
	if err := reg.Register(tools...); err != nil {
		return err
	}

	return reg.RegisterResource(
		mcpservice.NewResource("vmStats", "vmstats://{vm_name}", guarded(g, s.client.GetVMPerformance),
			mcpservice.WithResourceDescription("Get CPU, memory, storage, network usage of a VM"),
			mcpservice.WithResourceMimeType("application/json")),
	)
}

// Observer returns the gate observer for client: its SetAuthenticated when it
// mirrors the gate's flag, otherwise nil.
func Observer(client vsphere.Client) func(bool) {
	if aware, ok := client.(vsphere.AuthenticationAware); ok {
		return aware.SetAuthenticated
	}
	return nil
}

// guarded wraps a privileged handler so it fails with the gate's error
// before the management client is touched.
func guarded[A, R any](gate *auth.Gate, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, a A) (R, error) {
		if err := gate.Require(ctx); err != nil {
			var zero R
			return zero, err
		}
		return fn(ctx, a)
	}
}

func (s *service) ping(ctx context.Context, a pingArgs) (string, error) {
	msg := "pong"
	if a.Message != nil {
		msg = *a.Message
	}
	return "Ping response: " + msg, nil
}

func (s *service) authenticate(ctx context.Context, a authenticateArgs) (string, error) {
	if err := s.gate.Authenticate(ctx, a.Key); err != nil {
		return "", err
	}
	return "Authentication successful.", nil
}

func (s *service) createVM(ctx context.Context, a createVMArgs) (string, error) {
	spec := vsphere.VMSpec{Name: a.Name, CPU: a.CPU, MemoryMB: a.Memory, DiskSizeGB: vsphere.DefaultDiskSizeGB}
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return s.client.CreateVM(ctx, a.Name, a.CPU, a.Memory, a.Datastore, a.Network)
}

func (s *service) createVMCustom(ctx context.Context, a createVMCustomArgs) (string, error) {
	spec := vsphere.VMSpec{
		Name:            a.Name,
		CPU:             a.CPU,
		MemoryMB:        a.Memory,
		DiskSizeGB:      a.DiskSizeGB,
		GuestID:         a.GuestID,
		Datastore:       a.Datastore,
		Network:         a.Network,
		ThinProvisioned: true,
		Annotation:      a.Annotation,
	}
	if spec.DiskSizeGB <= 0 {
		spec.DiskSizeGB = vsphere.DefaultDiskSizeGB
	}
	if spec.GuestID == "" {
		spec.GuestID = vsphere.DefaultGuestID
	}
	if a.ThinProvisioned != nil {
		spec.ThinProvisioned = *a.ThinProvisioned
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}
	return s.client.CreateVMCustom(ctx, spec)
}

func (s *service) cloneVM(ctx context.Context, a cloneVMArgs) (string, error) {
	return s.client.CloneVM(ctx, a.TemplateName, a.NewName)
}

func (s *service) deleteVM(ctx context.Context, a nameArgs) (string, error) {
	return s.client.DeleteVM(ctx, a.Name)
}

func (s *service) powerOn(ctx context.Context, a nameArgs) (string, error) {
	return s.client.PowerOnVM(ctx, a.Name)
}

func (s *service) powerOff(ctx context.Context, a nameArgs) (string, error) {
	return s.client.PowerOffVM(ctx, a.Name)
}

func (s *service) powerOnVM(ctx context.Context, a vmNameArgs) (string, error) {
	return s.client.PowerOnVM(ctx, a.Name)
}

func (s *service) powerOffVM(ctx context.Context, a vmNameArgs) (string, error) {
	return s.client.PowerOffVM(ctx, a.Name)
}

func (s *service) listVMs(ctx context.Context, _ noArgs) ([]string, error) {
	return s.client.ListVMs(ctx)
}

func (s *service) vmDetails(ctx context.Context, a vmArgs) (*vsphere.VMDetails, error) {
	return s.client.GetVMDetails(ctx, a.VMName)
}

func (s *service) listTemplates(ctx context.Context, _ noArgs) ([]string, error) {
	return s.client.ListTemplates(ctx)
}

func (s *service) listDatastores(ctx context.Context, _ noArgs) ([]vsphere.Datastore, error) {
	return s.client.ListDatastores(ctx)
}

func (s *service) listNetworks(ctx context.Context, _ noArgs) ([]string, error) {
	return s.client.ListNetworks(ctx)
}

func (s *service) listHosts(ctx context.Context, _ noArgs) ([]vsphere.HostSummary, error) {
	return s.client.ListHosts(ctx)
}

func (s *service) hostDetails(ctx context.Context, a hostArgs) (*vsphere.HostDetails, error) {
	return s.client.GetHostDetails(ctx, a.HostName)
}

func (s *service) hostMetrics(ctx context.Context, a hostArgs) (*vsphere.HostMetrics, error) {
	return s.client.GetHostPerformanceMetrics(ctx, a.HostName)
}

func (s *service) hostHealth(ctx context.Context, a hostArgs) (*vsphere.HardwareHealth, error) {
	return s.client.GetHostHardwareHealth(ctx, a.HostName)
}

func (s *service) hostPerformance(ctx context.Context, a hostArgs) (*vsphere.HostPerformance, error) {
	return s.client.GetHostPerformance(ctx, a.HostName)
}

func (s *service) listCounters(ctx context.Context, _ noArgs) ([]vsphere.PerformanceCounter, error) {
	return s.client.ListPerformanceCounters(ctx)
}

func (s *service) vmSummaryStats(ctx context.Context, a vmArgs) (*vsphere.VMSummaryStats, error) {
	return s.client.GetVMSummaryStats(ctx, a.VMName)
}

func (s *service) vmPerformance(ctx context.Context, a vmArgs) (*vsphere.VMPerformance, error) {
	return s.client.GetVMPerformance(ctx, a.VMName)
}
